// Package reconcile runs the list-compare-publish cycle that keeps the
// published manifest in sync with the content store, and the scheduler
// that re-runs it on an interval.
//
// One cycle walks START -> TOKEN_OBTAINED -> LISTED -> UNCHANGED or
// PUBLISHING -> PUBLISHED; any hard error ends the cycle without touching
// the published manifest, because the conditioned write is the last and
// only mutating step. Re-running a cycle is always safe.
package reconcile

import (
	"context"
	"time"

	"github.com/kmxconnect/feedsync/internal/dropbox"
	"github.com/kmxconnect/feedsync/internal/log"
	"github.com/kmxconnect/feedsync/internal/manifest"
	"github.com/kmxconnect/feedsync/internal/xerrors"
)

// Status classifies how a completed cycle ended. Failures are reported as
// errors, not statuses.
type Status string

const (
	StatusSkipped   Status = "skipped"
	StatusPublished Status = "published"
)

// Outcome is the observable result of one reconciliation cycle. Not
// persisted anywhere; it exists for responses, logs, and metrics.
type Outcome struct {
	Status   Status   `json:"status"`
	Revision string   `json:"revision,omitempty"`
	URLs     []string `json:"urls"`
}

// TokenSource exchanges the long-lived credential for a per-cycle access
// token. Implemented by *dropbox.Client.
type TokenSource interface {
	ObtainAccessToken(ctx context.Context) (string, error)
}

// Lister enumerates the monitored folder and resolves public links.
// Implemented by *dropbox.Client.
type Lister interface {
	ListEntries(ctx context.Context, root, token string) ([]dropbox.Entry, error)
}

// Differ decides whether a candidate differs from the published baseline.
type Differ interface {
	HasChanged(ctx context.Context, candidate []string) bool
}

// Publisher commits a candidate as the new published manifest.
type Publisher interface {
	Publish(ctx context.Context, candidate []string) (manifest.Result, error)
}

// CycleMetrics receives reconciliation observability signals. Implemented
// by the metrics package; nil-safe throughout.
type CycleMetrics interface {
	IncCycles()
	IncCycleOutcome(outcome string)
	ObserveCycleDuration(seconds float64)
	SetListedEntries(n int)
	SetLastSuccess(unixSeconds float64)
	SetStale(stale bool)
}

type Options struct {
	Tokens    TokenSource
	Lister    Lister
	Differ    Differ
	Publisher Publisher

	// Root is the content-store folder to reconcile, e.g. "/videos".
	Root string

	Logger  log.Logger
	Metrics CycleMetrics
}

type Reconciler struct {
	tokens    TokenSource
	lister    Lister
	differ    Differ
	publisher Publisher
	root      string
	logger    log.Logger
	metrics   CycleMetrics
}

func New(opts Options) (*Reconciler, error) {
	if opts.Tokens == nil || opts.Lister == nil || opts.Differ == nil || opts.Publisher == nil {
		return nil, xerrors.New("reconcile: tokens, lister, differ, and publisher are all required")
	}
	if opts.Root == "" {
		return nil, xerrors.New("reconcile: root is required")
	}
	lg := opts.Logger
	if lg == nil {
		lg = log.Nop()
	}
	return &Reconciler{
		tokens:    opts.Tokens,
		lister:    opts.Lister,
		differ:    opts.Differ,
		publisher: opts.Publisher,
		root:      opts.Root,
		logger:    lg,
		metrics:   opts.Metrics,
	}, nil
}

// RunCycle executes one full reconciliation cycle. A fresh access token is
// obtained every run - the worker assumes nothing survives between
// invocations. No step retries internally; retry is the next cycle.
func (r *Reconciler) RunCycle(ctx context.Context) (Outcome, error) {
	start := time.Now()
	if r.metrics != nil {
		r.metrics.IncCycles()
	}

	out, err := r.runCycle(ctx)

	if r.metrics != nil {
		r.metrics.ObserveCycleDuration(time.Since(start).Seconds())
		if err != nil {
			r.metrics.IncCycleOutcome("failed")
		} else {
			r.metrics.IncCycleOutcome(string(out.Status))
			r.metrics.SetLastSuccess(float64(time.Now().Unix()))
		}
	}
	return out, err
}

func (r *Reconciler) runCycle(ctx context.Context) (Outcome, error) {
	token, err := r.tokens.ObtainAccessToken(ctx)
	if err != nil {
		return Outcome{}, xerrors.Wrap(err, "obtain access token")
	}

	entries, err := r.lister.ListEntries(ctx, r.root, token)
	if err != nil {
		return Outcome{}, xerrors.Wrapf(err, "list %s", r.root)
	}
	if r.metrics != nil {
		r.metrics.SetListedEntries(len(entries))
	}

	urls := make([]string, 0, len(entries))
	for _, e := range entries {
		urls = append(urls, e.PublicURL)
	}

	r.logger.Debug(ctx, "storage listed",
		"root", r.root,
		"entries", len(urls),
	)

	if !r.differ.HasChanged(ctx, urls) {
		r.logger.Info(ctx, "manifest unchanged, skipping publish", "entries", len(urls))
		return Outcome{Status: StatusSkipped, URLs: urls}, nil
	}

	res, err := r.publisher.Publish(ctx, urls)
	if err != nil {
		return Outcome{}, xerrors.Wrap(err, "publish manifest")
	}

	r.logger.Info(ctx, "manifest published",
		"entries", len(urls),
		"revision", res.Revision,
	)
	return Outcome{Status: StatusPublished, Revision: res.Revision, URLs: urls}, nil
}
