// Package api exposes the trigger surface: on-demand reconciliation,
// a read-only proxy of the published manifest, and diagnostics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kmxconnect/feedsync/internal/dropbox"
	"github.com/kmxconnect/feedsync/internal/ghstore"
	"github.com/kmxconnect/feedsync/internal/log"
	"github.com/kmxconnect/feedsync/internal/reconcile"
	"github.com/kmxconnect/feedsync/internal/version"
)

// Credentials reports presence (never values) of each required secret,
// for the /debug endpoint.
type Credentials struct {
	DropboxAppKey       bool `json:"dropbox_app_key"`
	DropboxAppSecret    bool `json:"dropbox_app_secret"`
	DropboxRefreshToken bool `json:"dropbox_refresh_token"`
	GitHubToken         bool `json:"github_token"`
	GitHubRepo          bool `json:"github_repo"`
	ManifestURL         bool `json:"manifest_url"`
}

type StoreChecker interface {
	CheckAccess(ctx context.Context, path string) (ghstore.Access, error)
}

type Options struct {
	Runner       reconcile.CycleRunner
	Store        StoreChecker
	Credentials  Credentials
	ManifestURL  string
	ManifestPath string

	HTTPClient *http.Client
	Logger     log.Logger
}

type API struct {
	runner       reconcile.CycleRunner
	store        StoreChecker
	creds        Credentials
	manifestURL  string
	manifestPath string
	http         *http.Client
	logger       log.Logger
}

func New(opts Options) *API {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	lg := opts.Logger
	if lg == nil {
		lg = log.Nop()
	}
	return &API{
		runner:       opts.Runner,
		store:        opts.Store,
		creds:        opts.Credentials,
		manifestURL:  opts.ManifestURL,
		manifestPath: opts.ManifestPath,
		http:         hc,
		logger:       lg,
	}
}

// RegisterRoutes attaches the trigger-surface endpoints to the main router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Get("/fetch", a.handleFetch)
	r.Get("/videos.json", a.handleManifestProxy)
	r.Get("/debug", a.handleDebug)
	r.Get("/debug/store", a.handleStoreCheck)
}

// Liveness answers anything unmatched with a plain-text line, so load
// balancer pokes and stray paths confirm the process is up.
func (a *API) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(version.AppName + " is running\n"))
}

// handleFetch runs a full reconciliation cycle synchronously and answers
// with the resolved URL list. The cycle's own change-check decides whether
// anything was actually published.
func (a *API) handleFetch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	out, err := a.runner.RunCycle(ctx)
	if err != nil {
		a.logger.Error(ctx, err, "on-demand reconciliation failed")
		http.Error(w, "reconciliation failed: "+err.Error(), errorStatus(err))
		return
	}

	urls := out.URLs
	if urls == nil {
		urls = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Sync-Outcome", string(out.Status))
	if out.Revision != "" {
		w.Header().Set("X-Sync-Revision", out.Revision)
	}
	writeJSON(w, urls)
}

// handleManifestProxy serves the currently published manifest without
// triggering reconciliation. CORS-open: the feed player fetches this from
// a different origin.
func (a *API) handleManifestProxy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.manifestURL, nil)
	if err != nil {
		http.Error(w, "manifest proxy: "+err.Error(), http.StatusInternalServerError)
		return
	}
	req.Header.Set("User-Agent", version.AppName+"/"+version.Version)

	resp, err := a.http.Do(req)
	if err != nil {
		a.logger.Error(ctx, err, "manifest proxy fetch failed")
		http.Error(w, "manifest unavailable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		a.logger.Warn(ctx, "manifest proxy got non-200", "status", resp.StatusCode)
		http.Error(w, "manifest unavailable", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, resp.Body)
}

func (a *API) handleDebug(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, a.creds)
}

// handleStoreCheck probes document-store connectivity and permissions.
// Read-only: nothing here mutates the store.
func (a *API) handleStoreCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	access, err := a.store.CheckAccess(ctx, a.manifestPath)
	if err != nil {
		a.logger.Error(ctx, err, "store access check failed")
		http.Error(w, "store check failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, access)
}

// errorStatus maps cycle failures to response codes: upstream-API errors
// are gateway problems, everything else is on us.
func errorStatus(err error) int {
	var authErr *dropbox.AuthError
	var listErr *dropbox.ListError
	var linkErr *dropbox.LinkError
	var pubErr *ghstore.PublishError
	switch {
	case errors.As(err, &authErr),
		errors.As(err, &listErr),
		errors.As(err, &linkErr),
		errors.As(err, &pubErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
