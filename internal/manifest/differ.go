package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/kmxconnect/feedsync/internal/log"
	"github.com/kmxconnect/feedsync/internal/xerrors"
)

// maxManifestBytes bounds how much of the published document we read.
// The manifest is a list of URLs; anything larger than this is garbage.
const maxManifestBytes = 4 << 20

type DifferOptions struct {
	// URL the published manifest is served from.
	URL string

	// UserAgent identifies the worker to whatever CDN fronts the document.
	UserAgent string

	HTTPClient *http.Client
	Logger     log.Logger

	// now is overridable in tests; the cache-busting parameter is derived
	// from it.
	now func() time.Time
}

// Differ fetches the currently published manifest and compares it against
// a candidate. Fetch or parse failures are soft: they log and report
// "changed", so a corrupted or unreachable published copy can never stall
// reconciliation forever.
type Differ struct {
	opts DifferOptions
	http *http.Client
	log  log.Logger
	now  func() time.Time
}

func NewDiffer(opts DifferOptions) (*Differ, error) {
	if opts.URL == "" {
		return nil, xerrors.New("manifest differ: URL is required")
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "feedsync"
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	lg := opts.Logger
	if lg == nil {
		lg = log.Nop()
	}
	now := opts.now
	if now == nil {
		now = time.Now
	}
	return &Differ{opts: opts, http: hc, log: lg, now: now}, nil
}

// HasChanged reports whether candidate differs from the published copy.
// Never returns an error: an unreadable baseline is treated as changed.
func (d *Differ) HasChanged(ctx context.Context, candidate []string) bool {
	published, ok := d.fetchPublished(ctx)
	if !ok {
		return true
	}
	return !Equal(candidate, published)
}

// fetchPublished GETs the manifest with a cache-defeating query parameter
// so a CDN in front of the document cannot serve us a stale baseline.
func (d *Differ) fetchPublished(ctx context.Context) ([]string, bool) {
	u := d.opts.URL
	sep := "?"
	if bytes.ContainsRune([]byte(u), '?') {
		sep = "&"
	}
	u += sep + "cb=" + strconv.FormatInt(d.now().UnixNano(), 10)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		d.log.Warn(ctx, "manifest baseline fetch: bad request, treating as changed", "error", err)
		return nil, false
	}
	req.Header.Set("User-Agent", d.opts.UserAgent)

	resp, err := d.http.Do(req)
	if err != nil {
		d.log.Warn(ctx, "manifest baseline unreachable, treating as changed", "error", err)
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		d.log.Warn(ctx, "manifest baseline fetch failed, treating as changed",
			"status", resp.StatusCode,
		)
		return nil, false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes))
	if err != nil {
		d.log.Warn(ctx, "manifest baseline read failed, treating as changed", "error", err)
		return nil, false
	}

	published, err := decodeStrict(body)
	if err != nil {
		d.log.Warn(ctx, "published manifest has unexpected shape, treating as changed", "error", err)
		return nil, false
	}
	return published, true
}

// decodeStrict accepts only a JSON array of strings. Anything else - an
// object, null, mixed-type array - counts as an unreadable baseline.
func decodeStrict(body []byte) ([]string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, xerrors.New("document is not a JSON array")
	}
	var out []string
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return nil, err
	}
	return out, nil
}
