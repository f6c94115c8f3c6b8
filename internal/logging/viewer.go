package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"
)

// Entry is one parsed JSON log line.
type Entry struct {
	Time  time.Time
	Level string
	Msg   string
	Attrs map[string]any
	Raw   string
}

// Tail returns the last n entries of the log at path whose level is at
// least minLevel. Lines that are not JSON are kept verbatim as info.
func Tail(path string, n int, minLevel string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	threshold := parseLevel(minLevel)
	ring := make([]Entry, 0, n)

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		e := ParseLine(sc.Text())
		if parseLevel(e.Level) < threshold {
			continue
		}
		if n > 0 && len(ring) == n {
			ring = append(ring[1:], e)
			continue
		}
		ring = append(ring, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}
	return ring, nil
}

// ParseLine parses one slog JSON line.
func ParseLine(line string) Entry {
	e := Entry{Raw: line, Level: slog.LevelInfo.String()}
	var fields map[string]any
	if err := json.Unmarshal([]byte(line), &fields); err != nil {
		e.Msg = line
		return e
	}
	if v, ok := fields["time"].(string); ok {
		e.Time, _ = time.Parse(time.RFC3339Nano, v)
	}
	if v, ok := fields["level"].(string); ok {
		e.Level = v
	}
	if v, ok := fields["msg"].(string); ok {
		e.Msg = v
	}
	delete(fields, "time")
	delete(fields, "level")
	delete(fields, "msg")
	e.Attrs = fields
	return e
}

// Format renders an entry as "15:04:05.000 LEVEL msg key=value ...".
func (e Entry) Format() string {
	var sb strings.Builder
	if !e.Time.IsZero() {
		sb.WriteString(e.Time.Local().Format("15:04:05.000"))
		sb.WriteByte(' ')
	}
	fmt.Fprintf(&sb, "%-5s %s", strings.ToUpper(e.Level), e.Msg)

	keys := make([]string, 0, len(e.Attrs))
	for k := range e.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, e.Attrs[k])
	}
	return sb.String()
}

// Print writes formatted entries to w.
func Print(w io.Writer, entries []Entry) {
	for _, e := range entries {
		_, _ = fmt.Fprintln(w, e.Format())
	}
}

// Follow calls fn for each entry appended to path after the call, polling
// every interval until ctx is done. A truncated or rotated file is read
// again from the start.
func Follow(ctx context.Context, path string, minLevel string, interval time.Duration, fn func(Entry)) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	offset, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("failed to seek log file: %w", err)
	}

	threshold := parseLevel(minLevel)
	reader := bufio.NewReader(f)
	var partial string

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		for {
			line, err := reader.ReadString('\n')
			offset += int64(len(line))
			if err != nil {
				// Keep an unterminated tail for the next poll.
				partial += line
				break
			}
			line = partial + strings.TrimRight(line, "\r\n")
			partial = ""
			if line == "" {
				continue
			}
			if e := ParseLine(line); parseLevel(e.Level) >= threshold {
				fn(e)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.Size() < offset {
			// Rotated: reopen from the start.
			_ = f.Close()
			if f, err = os.Open(path); err != nil {
				return fmt.Errorf("failed to reopen log file: %w", err)
			}
			reader.Reset(f)
			offset, partial = 0, ""
		}
	}
}
