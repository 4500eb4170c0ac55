package manifest

import (
	"context"
	"fmt"
	"time"

	"github.com/kmxconnect/feedsync/internal/ghstore"
	"github.com/kmxconnect/feedsync/internal/log"
	"github.com/kmxconnect/feedsync/internal/xerrors"
)

type PublisherOptions struct {
	Store  *ghstore.Client
	Path   string
	Logger log.Logger

	// now feeds the commit message timestamp; overridable in tests.
	now func() time.Time
}

// Publisher replaces the published manifest through an optimistic
// read-modify-write: read the current revision marker, write the new
// content conditioned on it. A concurrent writer that got there first
// makes the conditioned write fail; the caller treats that as a failed
// cycle and the next tick reconciles from a fresh listing.
type Publisher struct {
	store *ghstore.Client
	path  string
	log   log.Logger
	now   func() time.Time
}

// Result reports a completed publish; Revision is the new marker returned
// by the store.
type Result struct {
	Revision string
}

func NewPublisher(opts PublisherOptions) (*Publisher, error) {
	if opts.Store == nil {
		return nil, xerrors.New("manifest publisher: store is required")
	}
	if opts.Path == "" {
		return nil, xerrors.New("manifest publisher: path is required")
	}
	lg := opts.Logger
	if lg == nil {
		lg = log.Nop()
	}
	now := opts.now
	if now == nil {
		now = time.Now
	}
	return &Publisher{store: opts.Store, path: opts.Path, log: lg, now: now}, nil
}

// Publish writes candidate as the new manifest.
//
// The metadata read is best-effort: a 404 means this is a create (no
// precondition), and any other read failure is logged and the write
// proceeds without a marker - a genuinely conflicting update will then be
// rejected by the write itself, surfacing as a publish failure rather than
// silently corrupting state.
func (p *Publisher) Publish(ctx context.Context, candidate []string) (Result, error) {
	sha, exists, err := p.store.GetFileSHA(ctx, p.path)
	if err != nil {
		p.log.Warn(ctx, "manifest metadata read failed, publishing without revision marker",
			"path", p.path,
			"error", err,
		)
		sha = ""
	} else if !exists {
		p.log.Info(ctx, "manifest does not exist yet, creating", "path", p.path)
	}

	content, err := Encode(candidate)
	if err != nil {
		return Result{}, xerrors.Wrap(err, "encode manifest")
	}

	message := fmt.Sprintf("feedsync: update %s (%d entries) at %s",
		p.path, len(candidate), p.now().UTC().Format(time.RFC3339))

	newSHA, err := p.store.PutFile(ctx, p.path, content, message, sha)
	if err != nil {
		return Result{}, err
	}
	return Result{Revision: newSHA}, nil
}
