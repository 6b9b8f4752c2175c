package stats

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/gradeflow/internal/cache"
	"github.com/t77yq/gradeflow/internal/model"
	"github.com/t77yq/gradeflow/internal/provider"
)

// State represents the lifecycle state of the daemon
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
	StatePaused  State = "paused"
)

const (
	minInterval = time.Second
	maxInterval = 60 * time.Second

	defaultInterval         = 5 * time.Second
	defaultRecomputeTimeout = 2 * time.Second
	defaultTopN             = 5
	recentWindow            = 5 * time.Minute

	stopWait = 3 * time.Second
)

// ErrInvalidInterval is returned when the refresh interval is out of range
var ErrInvalidInterval = errors.New("interval must be between 1s and 60s")

// Config defines configuration for the stats daemon
type Config struct {
	Interval         time.Duration
	RecomputeTimeout time.Duration
	TopN             int
}

// Daemon recomputes a dashboard snapshot on a fixed interval in a
// dedicated background goroutine. Published snapshots are replaced with
// an atomic swap, so readers never observe a torn update, and a failed
// recomputation publishes an error-carrying snapshot instead of going
// stale.
type Daemon struct {
	logger   *zap.Logger
	provider provider.DataProvider
	cache    *cache.AggregateCache
	cfg      Config

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	done    chan struct{}
	tracker *recentTracker

	paused   atomic.Bool
	refresh  chan struct{}
	snapshot atomic.Pointer[model.StatsSnapshot]
}

// NewDaemon creates a stats daemon in the Stopped state
func NewDaemon(p provider.DataProvider, c *cache.AggregateCache, logger *zap.Logger, cfg Config) *Daemon {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.RecomputeTimeout <= 0 {
		cfg.RecomputeTimeout = defaultRecomputeTimeout
	}
	if cfg.TopN <= 0 {
		cfg.TopN = defaultTopN
	}

	return &Daemon{
		logger:   logger.Named("stats-daemon"),
		provider: p,
		cache:    c,
		cfg:      cfg,
		state:    StateStopped,
		tracker:  newRecentTracker(recentWindow),
		refresh:  make(chan struct{}, 1),
	}
}

// SetInterval changes the refresh interval; effective on the next Start
func (d *Daemon) SetInterval(interval time.Duration) error {
	if interval < minInterval || interval > maxInterval {
		return ErrInvalidInterval
	}

	d.mu.Lock()
	d.cfg.Interval = interval
	d.mu.Unlock()
	return nil
}

// Start performs one synchronous recomputation, then launches the
// background loop. Idempotent while the daemon is running or paused.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.state != StateStopped {
		d.mu.Unlock()
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	d.state = StateRunning
	d.paused.Store(false)
	interval := d.cfg.Interval
	d.mu.Unlock()

	// First snapshot is published before Start returns, so Snapshot is
	// never empty afterward. The lock is released first: a slow initial
	// recomputation must not block Pause/Stop/CurrentState callers.
	d.recompute(ctx)

	go d.loop(ctx, interval)

	d.logger.Info("Stats daemon started", zap.Duration("interval", interval))
	return nil
}

// Pause suspends periodic recomputation without stopping the loop
func (d *Daemon) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateRunning {
		d.state = StatePaused
		d.paused.Store(true)
		d.logger.Info("Stats daemon paused")
	}
}

// Resume re-enables periodic recomputation
func (d *Daemon) Resume() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StatePaused {
		d.state = StateRunning
		d.paused.Store(false)
		d.logger.Info("Stats daemon resumed")
	}
}

// RefreshNow enqueues an immediate recomputation. Never blocks the
// caller; effective even while paused.
func (d *Daemon) RefreshNow() {
	select {
	case d.refresh <- struct{}{}:
	default:
	}
}

// Snapshot returns the most recently published snapshot
func (d *Daemon) Snapshot() *model.StatsSnapshot {
	return d.snapshot.Load()
}

// CurrentState returns the daemon's lifecycle state
func (d *Daemon) CurrentState() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Stop signals the loop to exit, interrupting a sleeping wait, and joins
// it with a bounded wait
func (d *Daemon) Stop() {
	d.mu.Lock()
	if d.state == StateStopped {
		d.mu.Unlock()
		return
	}
	cancel := d.cancel
	done := d.done
	d.state = StateStopped
	d.mu.Unlock()

	cancel()

	select {
	case <-done:
	case <-time.After(stopWait):
		d.logger.Warn("Timed out waiting for stats loop to exit")
	}

	d.logger.Info("Stats daemon stopped")
}

func (d *Daemon) loop(ctx context.Context, interval time.Duration) {
	defer close(d.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.refresh:
			d.recompute(ctx)
		case <-ticker.C:
			if !d.paused.Load() {
				d.recompute(ctx)
			}
		}
	}
}

// recompute runs one computation cycle under the recompute deadline. A
// timeout or error publishes a snapshot carrying the error; the loop
// keeps its normal cadence.
func (d *Daemon) recompute(ctx context.Context) {
	rctx, cancel := context.WithTimeout(ctx, d.cfg.RecomputeTimeout)
	defer cancel()

	snap, err := d.compute(rctx)
	if err != nil {
		if ctx.Err() != nil {
			// Shutting down; keep the last snapshot.
			return
		}

		base := model.StatsSnapshot{}
		if prev := d.snapshot.Load(); prev != nil {
			base = *prev
		}
		base.GeneratedAt = time.Now()
		base.Error = err.Error()
		d.snapshot.Store(&base)

		d.logger.Warn("Snapshot recomputation failed", zap.Error(err))
		return
	}

	d.snapshot.Store(snap)
}
