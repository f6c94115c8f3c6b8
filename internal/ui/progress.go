package ui

import (
	"sync"
	"time"
)

// etaSmoothing weights a new ETA estimate against the previous one.
const etaSmoothing = 0.3

// ProgressTracker holds progress state. It is safe for concurrent use.
type ProgressTracker struct {
	mu         sync.Mutex
	stage      Stage
	current    int
	total      int
	start      time.Time
	stageStart time.Time
	lastETA    time.Duration
	durations  map[Stage]time.Duration
}

// ProgressStats is a snapshot of a tracker.
type ProgressStats struct {
	Stage    Stage
	Current  int
	Total    int
	Progress float64
	ETA      time.Duration
	Elapsed  time.Duration
}

// NewProgressTracker creates a tracker in the loading stage.
func NewProgressTracker() *ProgressTracker {
	now := time.Now()
	return &ProgressTracker{
		stage:      StageLoading,
		start:      now,
		stageStart: now,
		durations:  make(map[Stage]time.Duration),
	}
}

// Observe applies an event, switching stage when it changes.
func (p *ProgressTracker) Observe(event ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if event.Stage != p.stage {
		now := time.Now()
		p.durations[p.stage] += now.Sub(p.stageStart)
		p.stage = event.Stage
		p.stageStart = now
		p.lastETA = 0
	}
	p.current = event.Current
	p.total = event.Total
}

// Stats returns a snapshot.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	var progress float64
	if p.total > 0 {
		progress = min(float64(p.current)/float64(p.total), 1)
	}
	return ProgressStats{
		Stage:    p.stage,
		Current:  p.current,
		Total:    p.total,
		Progress: progress,
		ETA:      p.eta(progress),
		Elapsed:  time.Since(p.start),
	}
}

// StageDuration returns the time spent in a finished stage.
func (p *ProgressTracker) StageDuration(s Stage) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.durations[s]
}

// eta extrapolates the current stage's rate, smoothed against the previous
// estimate. Must be called with p.mu held.
func (p *ProgressTracker) eta(progress float64) time.Duration {
	if progress <= 0 || progress >= 1 {
		return 0
	}
	elapsed := time.Since(p.stageStart)
	raw := time.Duration(float64(elapsed)/progress) - elapsed
	if raw < 0 {
		return 0
	}
	if p.lastETA == 0 {
		p.lastETA = raw
		return raw
	}
	p.lastETA = time.Duration(etaSmoothing*float64(raw) + (1-etaSmoothing)*float64(p.lastETA))
	return p.lastETA
}
