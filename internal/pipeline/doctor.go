package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vibedstudio/studio-agent/internal/logging"
)

const defaultCacheTTL = 5 * time.Minute

// CachedDoctor keeps the last toolchain report for a TTL. Concurrent
// refreshes share one ffmpeg run, and readers are never blocked by it.
type CachedDoctor struct {
	runner DoctorRunner
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
	sf     singleflight.Group

	mu     sync.RWMutex
	cached *Capabilities
}

func NewCachedDoctor(runner DoctorRunner, logger *slog.Logger) *CachedDoctor {
	return &CachedDoctor{
		runner: runner,
		ttl:    defaultCacheTTL,
		logger: logging.WithComponent(logging.OrDiscard(logger), "doctor"),
		now:    time.Now,
	}
}

// Get returns the cached report while it is fresh and probes otherwise.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	caps := d.cached
	d.mu.RUnlock()
	if caps != nil && d.now().Sub(caps.ProbedAt) < d.ttl {
		return caps, nil
	}
	return d.Refresh(ctx)
}

// Peek returns the last report without probing. It is nil until a probe
// has succeeded.
func (d *CachedDoctor) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// Refresh probes now. A failed probe falls back to the previous report.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	v, err, shared := d.sf.Do("doctor", func() (any, error) {
		return d.runner.RunDoctor(ctx)
	})
	if err != nil {
		d.logger.Warn("doctor probe failed", "error", err)
		if stale := d.Peek(); stale != nil {
			d.logger.Info("returning stale capabilities", "probed_at", stale.ProbedAt)
			return stale, nil
		}
		return nil, err
	}

	caps := v.(*Capabilities)
	if !shared {
		d.mu.Lock()
		d.cached = caps
		d.mu.Unlock()
		d.logger.Debug("capabilities refreshed", "formats", caps.ExportFormats())
	}
	return caps, nil
}

// Invalidate drops the cached report.
func (d *CachedDoctor) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}
