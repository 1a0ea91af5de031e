package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/vibedstudio/studio-agent/internal/logging"
)

// ErrLoopStopped is returned by Do once the loop has exited.
var ErrLoopStopped = errors.New("playback loop stopped")

const taskQueueSize = 64

// Loop is the single goroutine that owns an editor session. Edits arrive as
// tasks between ticks and are never interleaved with a tick, so the session
// needs no locking.
type Loop struct {
	interval time.Duration
	onTick   func(now time.Time)
	logger   *slog.Logger

	tasks   chan func()
	done    chan struct{}
	running atomic.Bool
	ticks   atomic.Int64
}

// NewLoop creates a loop calling onTick every interval.
func NewLoop(interval time.Duration, onTick func(now time.Time), logger *slog.Logger) *Loop {
	if interval <= 0 {
		interval = time.Second / 60
	}
	return &Loop{
		interval: interval,
		onTick:   onTick,
		logger:   logging.WithComponent(logging.OrDiscard(logger), "loop"),
		tasks:    make(chan func(), taskQueueSize),
		done:     make(chan struct{}),
	}
}

// Run processes tasks and ticks until ctx is done. It returns nil on
// cancellation so it composes with errgroup.
func (l *Loop) Run(ctx context.Context) error {
	if l.running.Swap(true) {
		return fmt.Errorf("playback loop already running")
	}
	defer close(l.done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.Info("playback loop started", "interval", l.interval)
	for {
		select {
		case <-ctx.Done():
			l.drain()
			l.logger.Info("playback loop stopped", "ticks", l.ticks.Load())
			return nil
		case fn := <-l.tasks:
			l.safely("task", fn)
		case now := <-ticker.C:
			l.ticks.Add(1)
			if l.onTick != nil {
				l.safely("tick", func() { l.onTick(now) })
			}
		}
	}
}

// drain runs tasks already queued so callers blocked in Do are released.
func (l *Loop) drain() {
	for {
		select {
		case fn := <-l.tasks:
			l.safely("task", fn)
		default:
			return
		}
	}
}

func (l *Loop) safely(kind string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			l.logger.Error("panic in playback loop",
				"kind", kind,
				"panic", rec,
				"stack", string(debug.Stack()),
			)
		}
	}()
	fn()
}

// Do runs fn on the loop goroutine and waits for it. It must not be called
// from the loop goroutine itself.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		fn()
	}
	select {
	case l.tasks <- task:
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		// the task may have run during drain
		select {
		case <-finished:
			return nil
		default:
			return ErrLoopStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Post queues fn without waiting. It reports false when the queue is full or
// the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	default:
		return false
	}
}

// Ticks returns the number of ticks run so far.
func (l *Loop) Ticks() int64 {
	return l.ticks.Load()
}
