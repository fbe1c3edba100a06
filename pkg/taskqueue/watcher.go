package taskqueue

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	// DefaultDebounce is how long the watcher waits after the last write
	// before draining.
	DefaultDebounce = 200 * time.Millisecond
	// DefaultSweepSpec is the recovery sweep schedule.
	DefaultSweepSpec = "@every 30s"
)

// Drainer drains a pending file.
type Drainer interface {
	DrainAndProcess(ctx context.Context, pending string) (DrainResult, error)
}

// WatcherConfig holds configuration for a Watcher.
type WatcherConfig struct {
	Pending   string
	Drainer   Drainer
	Debounce  time.Duration
	SweepSpec string
	// OnDrain observes every drain outcome.
	OnDrain func(DrainResult, error)
	Logger  zerolog.Logger
}

// Watcher drains a pending file whenever producers write to it, and on a
// periodic sweep that also recovers markers abandoned by crashed consumers.
type Watcher struct {
	pending   string
	drainer   Drainer
	debounce  time.Duration
	sweepSpec string
	onDrain   func(DrainResult, error)
	logger    zerolog.Logger

	watcher *fsnotify.Watcher
	cron    *cron.Cron

	drainMu sync.Mutex
	// requeued is the pending file size a drain left behind by requeueing
	// failed lines. Events that only reflect it are left to the sweep.
	requeued int64

	debounceMu    sync.Mutex
	debounceTimer *time.Timer

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a new watcher. Call Start to begin watching.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Pending == "" {
		return nil, fmt.Errorf("pending file path is required")
	}
	if cfg.Drainer == nil {
		return nil, fmt.Errorf("drainer is required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.SweepSpec == "" {
		cfg.SweepSpec = DefaultSweepSpec
	}

	abs, err := filepath.Abs(cfg.Pending)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve pending path: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Watcher{
		pending:   abs,
		drainer:   cfg.Drainer,
		debounce:  cfg.Debounce,
		sweepSpec: cfg.SweepSpec,
		onDrain:   cfg.OnDrain,
		logger:    cfg.Logger.With().Str("component", "taskqueue_watcher").Logger(),
		watcher:   fw,
		cron:      cron.New(),
		done:      make(chan struct{}),
	}, nil
}

// Start runs an initial drain, then watches the pending file's directory
// and schedules the recovery sweep. It returns once watching has begun.
func (w *Watcher) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	// The pending file is replaced by rename, so watch its directory.
	if err := w.watcher.Add(filepath.Dir(w.pending)); err != nil {
		return fmt.Errorf("failed to watch queue directory: %w", err)
	}

	if _, err := w.cron.AddFunc(w.sweepSpec, w.drain); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", w.sweepSpec, err)
	}

	w.drain()

	go w.eventLoop()
	w.cron.Start()

	w.logger.Info().
		Str("pending", w.pending).
		Str("sweep", w.sweepSpec).
		Msg("Queue watcher started")
	return nil
}

// Stop stops watching and waits for a running drain to finish.
func (w *Watcher) Stop() error {
	var closeErr error
	w.stopOnce.Do(func() {
		close(w.done)
		if w.cancel != nil {
			w.cancel()
		}

		w.debounceMu.Lock()
		if w.debounceTimer != nil {
			w.debounceTimer.Stop()
		}
		w.debounceMu.Unlock()

		<-w.cron.Stop().Done()
		closeErr = w.watcher.Close()

		// Wait out an in-flight drain.
		w.drainMu.Lock()
		w.drainMu.Unlock()

		w.logger.Info().Msg("Queue watcher stopped")
	})
	if closeErr != nil {
		return fmt.Errorf("failed to close watcher: %w", closeErr)
	}
	return nil
}

// Wait blocks until ctx is done or the watcher is stopped, then stops it.
func (w *Watcher) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-w.done:
	}
	return w.Stop()
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.pending {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}

	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounce, w.drainOnEvent)
}

func (w *Watcher) drainOnEvent() {
	w.drainMu.Lock()
	left := w.requeued
	w.drainMu.Unlock()

	if left > 0 && pendingSize(w.pending) == left {
		return
	}
	w.drain()
}

// drain runs one drain. Drains never overlap.
func (w *Watcher) drain() {
	select {
	case <-w.done:
		return
	default:
	}

	w.drainMu.Lock()
	defer w.drainMu.Unlock()

	result, err := w.drainer.DrainAndProcess(w.ctx, w.pending)
	if err != nil {
		w.logger.Error().Err(err).Msg("Drain failed")
	}
	w.requeued = 0
	if result.Requeued > 0 {
		w.requeued = pendingSize(w.pending)
	}
	if w.onDrain != nil {
		w.onDrain(result, err)
	}
}

func pendingSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
