// Package cfg holds the application configuration, bound to flags with
// environment-variable fallback. Validation runs eagerly at startup so a
// missing credential fails the process before any network call is made.
package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/kmxconnect/feedsync/internal/log"
)

type App struct {
	LogJSON   bool
	LogLevel  string
	HTTPPort  int
	AdminPort int

	EnablePprof     bool
	EnableTracing   bool
	EnablePyroscope bool
	OTLPEndpoint    string
	TraceSample     float64
	PyroServer      string
	PyroTenantID    string

	// reconciliation
	EnableSync   bool
	SyncInterval time.Duration

	// Dropbox (content store)
	DropboxAppKey       string
	DropboxAppSecret    string
	DropboxRefreshToken string
	DropboxRoot         string

	// GitHub (published manifest document)
	GitHubToken  string
	GitHubRepo   string
	GitHubBranch string
	ManifestPath string

	// Public URL the published manifest is served from (for the differ
	// and the /videos.json proxy).
	ManifestURL string
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")

	fs.BoolVar(&c.EnableSync, "enable-sync", true, "Enable the scheduled reconciliation loop")
	fs.DurationVar(&c.SyncInterval, "sync-interval", time.Minute, "interval between scheduled reconciliation cycles")

	fs.StringVar(&c.DropboxAppKey, "dropbox-app-key", "", "Dropbox app key (prefer env FEEDSYNC_DROPBOX_APP_KEY)")
	fs.StringVar(&c.DropboxAppSecret, "dropbox-app-secret", "", "Dropbox app secret (prefer env FEEDSYNC_DROPBOX_APP_SECRET)")
	fs.StringVar(&c.DropboxRefreshToken, "dropbox-refresh-token", "", "Dropbox OAuth2 refresh token (prefer env FEEDSYNC_DROPBOX_REFRESH_TOKEN)")
	fs.StringVar(&c.DropboxRoot, "dropbox-root", "/videos", "Dropbox folder to list (non-recursive)")

	fs.StringVar(&c.GitHubToken, "github-token", "", "GitHub token with contents write access (prefer env FEEDSYNC_GITHUB_TOKEN)")
	fs.StringVar(&c.GitHubRepo, "github-repo", "", "GitHub repository as owner/name holding the published manifest")
	fs.StringVar(&c.GitHubBranch, "github-branch", "main", "branch the manifest is committed to")
	fs.StringVar(&c.ManifestPath, "manifest-path", "videos.json", "path of the manifest file inside the repository")
	fs.StringVar(&c.ManifestURL, "manifest-url", "", "public URL the published manifest is served from")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value overrides env %s", f.Name, key)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
	}

	if c.SyncInterval < time.Second {
		errs = append(errs, fmt.Errorf("SYNC_INTERVAL must be at least 1s (got %s)", c.SyncInterval))
	}

	// credentials: checked eagerly so a cycle never starts half-configured
	if c.DropboxAppKey == "" {
		errs = append(errs, fmt.Errorf("DROPBOX_APP_KEY is required"))
	}
	if c.DropboxAppSecret == "" {
		errs = append(errs, fmt.Errorf("DROPBOX_APP_SECRET is required"))
	}
	if c.DropboxRefreshToken == "" {
		errs = append(errs, fmt.Errorf("DROPBOX_REFRESH_TOKEN is required"))
	}
	if !strings.HasPrefix(c.DropboxRoot, "/") {
		errs = append(errs, fmt.Errorf("DROPBOX_ROOT must start with / (got %q)", c.DropboxRoot))
	}

	if c.GitHubToken == "" {
		errs = append(errs, fmt.Errorf("GITHUB_TOKEN is required"))
	}
	if c.GitHubRepo == "" {
		errs = append(errs, fmt.Errorf("GITHUB_REPO is required"))
	} else if parts := strings.Split(c.GitHubRepo, "/"); len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		errs = append(errs, fmt.Errorf("GITHUB_REPO must be owner/name (got %q)", c.GitHubRepo))
	}
	if c.ManifestPath == "" {
		errs = append(errs, fmt.Errorf("MANIFEST_PATH is required"))
	}
	if c.ManifestURL == "" {
		errs = append(errs, fmt.Errorf("MANIFEST_URL is required"))
	} else if u, err := url.Parse(c.ManifestURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("MANIFEST_URL must be an absolute URL (got %q)", c.ManifestURL))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
