package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kmxconnect/feedsync/internal/health"
	"github.com/kmxconnect/feedsync/internal/httpmw"
	"github.com/kmxconnect/feedsync/internal/log"
)

type Options struct {
	Logger log.Logger
	Port   int

	// APIRoutes registers the application routes on the router.
	APIRoutes func(r chi.Router)

	// Fallback handles any request that matched no route. The service
	// answers unmatched paths with a liveness message rather than 404.
	Fallback http.HandlerFunc

	UseRecoverMW bool
	OnPanic      func()

	MetricsMW   func(http.Handler) http.Handler
	RateLimitMW func(http.Handler) http.Handler

	ClientIPOpts httpmw.ClientIPOptions

	Health    health.Probe
	Readiness health.Probe
}
