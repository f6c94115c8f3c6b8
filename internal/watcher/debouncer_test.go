package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitBatch(t *testing.T, d *Debouncer, timeout time.Duration) []FileEvent {
	t.Helper()
	select {
	case batch := <-d.Output():
		return batch
	case <-time.After(timeout):
		t.Fatal("timeout waiting for debounced batch")
		return nil
	}
}

func TestDebouncer_SingleEvent_PassesThrough(t *testing.T) {
	// Given: a debouncer with a short window
	d := NewDebouncer(30 * time.Millisecond)
	defer d.Stop()

	// When: one event is added
	d.Add(FileEvent{Path: "guide.md", Operation: OpCreate})

	// Then: it arrives after the window
	batch := waitBatch(t, d, time.Second)
	require.Len(t, batch, 1)
	assert.Equal(t, "guide.md", batch[0].Path)
	assert.Equal(t, OpCreate, batch[0].Operation)
}

func TestDebouncer_BurstBecomesOneBatch(t *testing.T) {
	// Given: a debouncer
	d := NewDebouncer(80 * time.Millisecond)
	defer d.Stop()

	// When: an editor saves the same file repeatedly and touches another
	for i := 0; i < 5; i++ {
		d.Add(FileEvent{Path: "notes.txt", Operation: OpModify})
		time.Sleep(10 * time.Millisecond)
	}
	d.Add(FileEvent{Path: "a.md", Operation: OpModify})

	// Then: one batch, one event per path, sorted by path
	batch := waitBatch(t, d, time.Second)
	require.Len(t, batch, 2)
	assert.Equal(t, "a.md", batch[0].Path)
	assert.Equal(t, "notes.txt", batch[1].Path)
}

func TestDebouncer_CreateThenDelete_Cancels(t *testing.T) {
	// Given: a debouncer
	d := NewDebouncer(30 * time.Millisecond)
	defer d.Stop()

	// When: a temp file appears and disappears inside the window
	d.Add(FileEvent{Path: "tmp.md", Operation: OpCreate})
	d.Add(FileEvent{Path: "tmp.md", Operation: OpDelete})

	// Then: nothing is emitted
	select {
	case batch := <-d.Output():
		t.Fatalf("unexpected batch: %v", batch)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name  string
		first Operation
		next  Operation
		want  Operation
		keep  bool
	}{
		{"create then modify", OpCreate, OpModify, OpCreate, true},
		{"create then delete", OpCreate, OpDelete, 0, false},
		{"modify then delete", OpModify, OpDelete, OpDelete, true},
		{"delete then create", OpDelete, OpCreate, OpModify, true},
		{"modify then modify", OpModify, OpModify, OpModify, true},
		{"rename then create", OpRename, OpCreate, OpCreate, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queued := FileEvent{Path: "f.md", Operation: tt.first}
			got, keep := merge(tt.first, queued, FileEvent{Path: "f.md", Operation: tt.next})
			assert.Equal(t, tt.keep, keep)
			if keep {
				assert.Equal(t, tt.want, got.Operation)
			}
		})
	}
}

func TestDebouncer_StopIsIdempotentAndDropsPending(t *testing.T) {
	d := NewDebouncer(time.Hour)
	d.Add(FileEvent{Path: "x.md", Operation: OpCreate})

	d.Stop()
	d.Stop()
	d.Add(FileEvent{Path: "y.md", Operation: OpCreate})

	_, ok := <-d.Output()
	assert.False(t, ok, "output should be closed")
}
