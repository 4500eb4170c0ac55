package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kmxconnect/feedsync/internal/api"
	"github.com/kmxconnect/feedsync/internal/cfg"
	"github.com/kmxconnect/feedsync/internal/dropbox"
	"github.com/kmxconnect/feedsync/internal/ghstore"
	"github.com/kmxconnect/feedsync/internal/health"
	"github.com/kmxconnect/feedsync/internal/httpserver"
	"github.com/kmxconnect/feedsync/internal/log"
	"github.com/kmxconnect/feedsync/internal/manifest"
	"github.com/kmxconnect/feedsync/internal/metrics"
	"github.com/kmxconnect/feedsync/internal/opshttp"
	"github.com/kmxconnect/feedsync/internal/otelx"
	"github.com/kmxconnect/feedsync/internal/prof"
	"github.com/kmxconnect/feedsync/internal/ratelimit"
	"github.com/kmxconnect/feedsync/internal/reconcile"
	v "github.com/kmxconnect/feedsync/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("%s %s (commit=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Version, vi.Commit, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	// Fill in config from env vars with prefix FEEDSYNC_, then validate
	cfg.FillFromEnv(flag.CommandLine, "FEEDSYNC_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	lg, err := log.New(log.Options{
		App:        v.AppName,
		Version:    vi.Version,
		Commit:     vi.Commit,
		Level:      lvl,
		JsonFormat: conf.LogJSON,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"enable_sync", conf.EnableSync,
		"sync_interval", conf.SyncInterval.String(),
		"dropbox_root", conf.DropboxRoot,
		"github_repo", conf.GitHubRepo,
		"github_branch", conf.GitHubBranch,
		"manifest_path", conf.ManifestPath,
		"manifest_url", conf.ManifestURL,
	)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
		},
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer func() { stopProf() }()

	// Insecure is fine: we only ever write to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:  conf.EnableTracing,
		Endpoint: conf.OTLPEndpoint,
		Insecure: true,
		Sample:   conf.TraceSample,
		Service:  v.AppName,
		Version:  vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	m := metrics.New()
	m.SetBuildInfo(vi)

	// Upstream clients
	dbx, err := dropbox.NewClient(dropbox.Options{
		AppKey:       conf.DropboxAppKey,
		AppSecret:    conf.DropboxAppSecret,
		RefreshToken: conf.DropboxRefreshToken,
		Logger:       L.With("component", "dropbox"),
	})
	if err != nil {
		L.Error(ctx, err, "failed to create dropbox client")
		os.Exit(1)
	}

	store, err := ghstore.NewClient(ghstore.Options{
		Token:  conf.GitHubToken,
		Repo:   conf.GitHubRepo,
		Branch: conf.GitHubBranch,
		Logger: L.With("component", "ghstore"),
	})
	if err != nil {
		L.Error(ctx, err, "failed to create github store client")
		os.Exit(1)
	}

	differ, err := manifest.NewDiffer(manifest.DifferOptions{
		URL:       conf.ManifestURL,
		UserAgent: v.AppName + "/" + vi.Version,
		Logger:    L.With("component", "differ"),
	})
	if err != nil {
		L.Error(ctx, err, "failed to create manifest differ")
		os.Exit(1)
	}

	publisher, err := manifest.NewPublisher(manifest.PublisherOptions{
		Store:  store,
		Path:   conf.ManifestPath,
		Logger: L.With("component", "publisher"),
	})
	if err != nil {
		L.Error(ctx, err, "failed to create manifest publisher")
		os.Exit(1)
	}

	reconciler, err := reconcile.New(reconcile.Options{
		Tokens:    dbx,
		Lister:    dbx,
		Differ:    differ,
		Publisher: publisher,
		Root:      conf.DropboxRoot,
		Logger:    L.With("component", "reconcile"),
		Metrics:   m,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create reconciler")
		os.Exit(1)
	}

	if conf.EnableSync {
		watcher := reconcile.NewWatcher(reconcile.WatcherOptions{
			Logger:   L.With("component", "watcher"),
			Runner:   reconciler,
			Interval: conf.SyncInterval,
			Metrics:  m,
		})
		go watcher.Run(ctx)
	} else {
		L.Info(ctx, "scheduled sync disabled, cycles run only via /fetch")
	}

	syncAPI := api.New(api.Options{
		Runner: reconciler,
		Store:  store,
		Credentials: api.Credentials{
			DropboxAppKey:       conf.DropboxAppKey != "",
			DropboxAppSecret:    conf.DropboxAppSecret != "",
			DropboxRefreshToken: conf.DropboxRefreshToken != "",
			GitHubToken:         conf.GitHubToken != "",
			GitHubRepo:          conf.GitHubRepo != "",
			ManifestURL:         conf.ManifestURL != "",
		},
		ManifestURL:  conf.ManifestURL,
		ManifestPath: conf.ManifestPath,
		Logger:       L.With("component", "api"),
	})

	var gate health.ShutdownGate
	readiness := health.All(gate.Probe())

	limiter := ratelimit.New(ctx,
		ratelimit.WithOnDenied(func(ip string) {
			m.IncRateLimitDenied()
		}),
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "rate limit triggered", "ip", ip)
		}),
		ratelimit.WithOnCapacity(func() {
			m.IncRateLimitCapacity()
			L.Warn(ctx, "rate limiter visitor map at capacity, rejecting new clients")
		}),
	)

	apiHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		APIRoutes:    syncAPI.RegisterRoutes,
		Fallback:     syncAPI.Liveness,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		RateLimitMW:  limiter.Middleware,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start http listener")
		os.Exit(1)
	}
	defer func() { _ = apiHTTPStop(context.Background()) }()

	opsHTTPStop, err := opshttp.Start(ctx, L, opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      health.Fixed(true, ""),
		Readiness:   readiness,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	<-ctx.Done()

	L.Info(context.Background(), "shutdown signal received")

	// fail readiness first so anything polling us stops sending work
	gate.Set("draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := apiHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}
	stopProf()

	L.Info(context.Background(), "shutdown complete")
}
