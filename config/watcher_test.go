package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewFileWatcher_Defaults(t *testing.T) {
	tmpDir := t.TempDir()
	f := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(f, []byte("key: val"), 0644))

	w, err := NewFileWatcher([]string{f})
	require.NoError(t, err)
	require.NotNil(t, w)

	assert.Equal(t, []string{f}, w.Paths())
	assert.False(t, w.IsRunning())
	assert.Equal(t, 100*time.Millisecond, w.debounceDelay)
}

func TestNewFileWatcher_WithOptions(t *testing.T) {
	tmpDir := t.TempDir()
	f := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(f, []byte("key: val"), 0644))

	w, err := NewFileWatcher([]string{f},
		WithDebounceDelay(500*time.Millisecond),
		WithWatcherLogger(zap.NewNop()),
	)
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, w.debounceDelay)
}

func TestNewFileWatcher_NonExistentPath(t *testing.T) {
	// A missing file is watched for creation, not rejected.
	w, err := NewFileWatcher([]string{"/nonexistent/path/config.yaml"})
	require.NoError(t, err)
	require.NotNil(t, w)
}

func TestFileOp_String(t *testing.T) {
	assert.Equal(t, "CREATE", FileOpCreate.String())
	assert.Equal(t, "WRITE", FileOpWrite.String())
	assert.Equal(t, "REMOVE", FileOpRemove.String())
	assert.Equal(t, "UNKNOWN", FileOp(99).String())
}

func TestFileWatcher_AddPath(t *testing.T) {
	tmpDir := t.TempDir()
	f1 := filepath.Join(tmpDir, "a.yaml")
	f2 := filepath.Join(tmpDir, "b.yaml")
	require.NoError(t, os.WriteFile(f1, []byte("a"), 0644))
	require.NoError(t, os.WriteFile(f2, []byte("b"), 0644))

	w, err := NewFileWatcher([]string{f1})
	require.NoError(t, err)

	require.NoError(t, w.AddPath(f2))
	assert.Len(t, w.Paths(), 2)

	// Adding the same path again is a no-op.
	require.NoError(t, w.AddPath(f2))
	assert.Len(t, w.Paths(), 2)
}

func TestFileWatcher_RemovePath(t *testing.T) {
	tmpDir := t.TempDir()
	f1 := filepath.Join(tmpDir, "a.yaml")
	f2 := filepath.Join(tmpDir, "b.yaml")
	require.NoError(t, os.WriteFile(f1, []byte("a"), 0644))
	require.NoError(t, os.WriteFile(f2, []byte("b"), 0644))

	w, err := NewFileWatcher([]string{f1})
	require.NoError(t, err)
	require.NoError(t, w.AddPath(f2))

	require.NoError(t, w.RemovePath(f2))
	assert.Len(t, w.Paths(), 1)
}

func TestFileWatcher_RemovePath_NotFound(t *testing.T) {
	tmpDir := t.TempDir()
	f := filepath.Join(tmpDir, "a.yaml")
	require.NoError(t, os.WriteFile(f, []byte("a"), 0644))

	w, err := NewFileWatcher([]string{f})
	require.NoError(t, err)

	err = w.RemovePath(filepath.Join(tmpDir, "nonexistent.yaml"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "path not found")
}

func TestFileWatcher_Lifecycle(t *testing.T) {
	tmpDir := t.TempDir()
	f := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(f, []byte("key: val"), 0644))

	w, err := NewFileWatcher([]string{f}, WithDebounceDelay(50*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	assert.False(t, w.IsRunning())

	require.NoError(t, w.Start(ctx))
	assert.True(t, w.IsRunning())

	err = w.Start(ctx)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())

	// Stop when already stopped is a no-op.
	require.NoError(t, w.Stop())
}

func TestFileWatcher_DetectsWrite(t *testing.T) {
	tmpDir := t.TempDir()
	f := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(f, []byte("v1"), 0644))

	w, err := NewFileWatcher([]string{f}, WithDebounceDelay(50*time.Millisecond))
	require.NoError(t, err)

	var mu sync.Mutex
	var events []FileEvent
	w.OnChange(func(evt FileEvent) {
		mu.Lock()
		events = append(events, evt)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() { w.Stop() })

	// Let the watcher baseline the file before modifying it.
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, os.WriteFile(f, []byte("v2"), 0644))

	// One poll interval plus debounce plus margin.
	time.Sleep(2 * time.Second)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(events), 1, "should detect at least one change")
	assert.Equal(t, f, events[0].Path)
	assert.Equal(t, FileOpWrite, events[0].Op)
}

func TestFileWatcher_CoalescesSamePath(t *testing.T) {
	tmpDir := t.TempDir()
	f := filepath.Join(tmpDir, "coalesce.yaml")
	require.NoError(t, os.WriteFile(f, []byte("v0"), 0644))

	w, err := NewFileWatcher([]string{f}, WithDebounceDelay(50*time.Millisecond))
	require.NoError(t, err)

	var mu sync.Mutex
	callCount := 0
	w.OnChange(func(evt FileEvent) {
		mu.Lock()
		callCount++
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() { w.Stop() })

	// Three events inside one debounce window, all for the same path.
	for i := 0; i < 3; i++ {
		w.eventChan <- FileEvent{
			Path:      f,
			Op:        FileOpWrite,
			Timestamp: time.Now(),
		}
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, callCount,
		"events for the same path should be coalesced into a single dispatch")
}

// Floods the dispatcher inside one debounce window. Collection and
// dispatch share a single goroutine, so a burst arriving while the timer
// fires must not race the pending map; run with -race to enforce it.
func TestFileWatcher_RapidEventBurst(t *testing.T) {
	tmpDir := t.TempDir()
	f := filepath.Join(tmpDir, "burst.yaml")
	require.NoError(t, os.WriteFile(f, []byte("v0"), 0644))

	w, err := NewFileWatcher([]string{f}, WithDebounceDelay(10*time.Millisecond))
	require.NoError(t, err)

	var mu sync.Mutex
	var dispatched []FileEvent
	w.OnChange(func(evt FileEvent) {
		mu.Lock()
		dispatched = append(dispatched, evt)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() { w.Stop() })

	for i := 0; i < 50; i++ {
		w.eventChan <- FileEvent{
			Path:      f,
			Op:        FileOpWrite,
			Timestamp: time.Now(),
		}
	}

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(dispatched), 1,
		"the burst should flush as at least one dispatch")
	assert.Equal(t, f, dispatched[0].Path)
}

func TestFileWatcher_ContextCancel(t *testing.T) {
	tmpDir := t.TempDir()
	f := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(f, []byte("v1"), 0644))

	w, err := NewFileWatcher([]string{f})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	assert.True(t, w.IsRunning())

	// Cancelling the context exits the goroutines; the running flag
	// only flips on an explicit Stop.
	cancel()
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())
}
