package taskqueue

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingDrainer struct {
	calls   atomic.Int32
	running atomic.Int32
	overlap atomic.Bool
}

func (d *countingDrainer) DrainAndProcess(_ context.Context, _ string) (DrainResult, error) {
	if d.running.Add(1) > 1 {
		d.overlap.Store(true)
	}
	defer d.running.Add(-1)
	d.calls.Add(1)
	time.Sleep(5 * time.Millisecond)
	return DrainResult{}, nil
}

func TestNewWatcher_Validation(t *testing.T) {
	_, err := NewWatcher(WatcherConfig{Drainer: &countingDrainer{}})
	assert.Error(t, err)
	_, err = NewWatcher(WatcherConfig{Pending: "pending.jsonl"})
	assert.Error(t, err)
}

func TestWatcher_DrainsOnStartAndOnWrite(t *testing.T) {
	dir := t.TempDir()
	pending := filepath.Join(dir, "pending.jsonl")
	drainer := &countingDrainer{}

	w, err := NewWatcher(WatcherConfig{
		Pending:  pending,
		Drainer:  drainer,
		Debounce: 20 * time.Millisecond,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	assert.Equal(t, int32(1), drainer.calls.Load())

	require.NoError(t, appendLines(pending, []string{task(1, "alice", "a")}))
	require.NoError(t, appendLines(pending, []string{task(2, "alice", "b")}))

	assert.Eventually(t, func() bool {
		return drainer.calls.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, drainer.overlap.Load())
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	pending := filepath.Join(dir, "pending.jsonl")
	drainer := &countingDrainer{}

	w, err := NewWatcher(WatcherConfig{
		Pending:  pending,
		Drainer:  drainer,
		Debounce: 10 * time.Millisecond,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, appendLines(filepath.Join(dir, "other.jsonl"), []string{"x"}))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), drainer.calls.Load())
}

func TestWatcher_InvalidSweepSpec(t *testing.T) {
	w, err := NewWatcher(WatcherConfig{
		Pending:   filepath.Join(t.TempDir(), "pending.jsonl"),
		Drainer:   &countingDrainer{},
		SweepSpec: "not a schedule",
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	err = w.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid sweep schedule")
	require.NoError(t, w.Stop())
}

func TestWatcher_EndToEndWithConsumer(t *testing.T) {
	dir := t.TempDir()
	pending := filepath.Join(dir, "pending.jsonl")
	runner := &fakeRunner{}
	replier := &fakeReplier{}
	consumer := newTestConsumer(t, runner, replier)

	var mu sync.Mutex
	handled := 0
	w, err := NewWatcher(WatcherConfig{
		Pending:  pending,
		Drainer:  consumer,
		Debounce: 20 * time.Millisecond,
		OnDrain: func(res DrainResult, _ error) {
			mu.Lock()
			handled += res.Handled
			mu.Unlock()
		},
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))

	require.NoError(t, appendLines(pending, []string{task(1, "alice", "ping")}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return handled == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, w.Wait(ctx))

	replier.mu.Lock()
	defer replier.mu.Unlock()
	assert.Equal(t, []reply{{"alice", "done: ping"}}, replier.replies)
}
