package reconcile

import (
	"context"
	"math"
	"time"

	"github.com/kmxconnect/feedsync/internal/log"
	"github.com/kmxconnect/feedsync/internal/xerrors"
)

const (
	// DefaultInterval is how often the scheduled trigger fires.
	DefaultInterval = time.Minute

	// maxBackoff caps the stretched interval after consecutive failures.
	maxBackoff = 5 * time.Minute
)

// CycleRunner is the slice of Reconciler the watcher needs. Extracted so
// tests can drive the loop with a scripted runner.
type CycleRunner interface {
	RunCycle(ctx context.Context) (Outcome, error)
}

type WatcherOptions struct {
	Logger   log.Logger
	Runner   CycleRunner
	Interval time.Duration
	Metrics  CycleMetrics

	// StaleThreshold is how long without a successful cycle before the
	// watcher logs a staleness error. Zero defaults to 30 minutes.
	StaleThreshold time.Duration
}

// Watcher is the scheduled trigger: it re-runs the reconciliation cycle on
// a fixed interval, stretching the interval after consecutive failures.
// Cycle errors are logged and swallowed - a business failure must never
// look like a platform crash.
type Watcher struct {
	runner   CycleRunner
	logger   log.Logger
	interval time.Duration
	metrics  CycleMetrics

	consecutiveErrs int

	staleThreshold time.Duration
	lastSuccessAt  time.Time
	staleLogged    bool

	cycleCount   int64
	publishCount int64
}

func NewWatcher(opts WatcherOptions) *Watcher {
	lg := opts.Logger
	if lg == nil {
		lg = log.Nop()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	staleThreshold := opts.StaleThreshold
	if staleThreshold <= 0 {
		staleThreshold = 30 * time.Minute
	}
	return &Watcher{
		runner:         opts.Runner,
		logger:         lg,
		interval:       interval,
		metrics:        opts.Metrics,
		staleThreshold: staleThreshold,
		lastSuccessAt:  time.Now(),
	}
}

// Run starts the scheduled loop. Blocks until ctx is cancelled.
// Intended to be launched as: go watcher.Run(ctx)
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info(ctx, "sync watcher starting", "interval", w.interval.String())

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "sync watcher stopping",
				"reason", ctx.Err(),
				"cycles", w.cycleCount,
				"publishes", w.publishCount,
			)
			return ctx.Err()
		case <-ticker.C:
			failed := w.tick(ctx)

			if failed {
				w.consecutiveErrs++
				backoff := w.backoffDuration()
				w.logger.Warn(ctx, "sync watcher backing off",
					"consecutive_errors", w.consecutiveErrs,
					"next_cycle_in", backoff.String(),
				)
				ticker.Reset(backoff)
			} else if w.consecutiveErrs > 0 {
				w.logger.Info(ctx, "sync watcher recovered, resuming normal interval",
					"had_consecutive_errors", w.consecutiveErrs,
				)
				w.consecutiveErrs = 0
				ticker.Reset(w.interval)
			}

			w.trackStaleness(ctx, failed)
		}
	}
}

// tick runs one cycle and reports whether it failed.
func (w *Watcher) tick(ctx context.Context) bool {
	w.cycleCount++

	out, err := w.runner.RunCycle(ctx)
	if err != nil {
		w.logger.Error(ctx, err, "scheduled reconciliation failed")
		return true
	}

	w.lastSuccessAt = time.Now()
	switch out.Status {
	case StatusPublished:
		w.publishCount++
		w.logger.Info(ctx, "scheduled reconciliation published",
			"entries", len(out.URLs),
			"revision", out.Revision,
			"total_publishes", w.publishCount,
		)
	default:
		w.logger.Debug(ctx, "scheduled reconciliation skipped, no change",
			"entries", len(out.URLs),
		)
	}
	return false
}

// trackStaleness emits a one-shot structured error when the worker has
// gone too long without a successful cycle, and a recovery line when it
// comes back.
func (w *Watcher) trackStaleness(ctx context.Context, failed bool) {
	if !failed {
		if w.staleLogged {
			w.logger.Info(ctx, "sync watcher staleness recovered")
			w.staleLogged = false
			if w.metrics != nil {
				w.metrics.SetStale(false)
			}
		}
		return
	}
	if time.Since(w.lastSuccessAt) > w.staleThreshold && !w.staleLogged {
		w.logger.Error(ctx,
			xerrors.Newf("last successful cycle was %s ago", time.Since(w.lastSuccessAt).Truncate(time.Second)),
			"published manifest is stale, reconciliation keeps failing",
		)
		w.staleLogged = true
		if w.metrics != nil {
			w.metrics.SetStale(true)
		}
	}
}

// backoffDuration computes exponential backoff capped at maxBackoff.
// consecutiveErrs=1 -> 2x interval, =2 -> 4x, =3 -> 8x, etc.
func (w *Watcher) backoffDuration() time.Duration {
	mult := math.Pow(2, float64(w.consecutiveErrs))
	d := time.Duration(float64(w.interval) * mult)
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}
