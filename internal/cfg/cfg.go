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

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/log"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/ratelimit"
)

type App struct {
	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	HTTPPort    int
	AdminPort   int
	TrustedHops int
	SiteDir     string

	EnablePprof     bool
	EnablePyroscope bool
	EnableTracing   bool
	PyroServer      string
	PyroTenantID    string
	OTLPEndpoint    string
	TraceSample     float64

	// sliding-window policies, defaults match ratelimit.ContactForm / ratelimit.GitHubAPI
	ContactInterval    time.Duration
	ContactMaxRequests int
	GitHubInterval     time.Duration
	GitHubMaxRequests  int
	RateLimitRetention time.Duration

	// site-wide token bucket in front of everything
	FloodRate  float64
	FloodBurst int

	RedisAddr             string
	RedisDB               int
	RedisPassword         string
	RedisPasswordSSMParam string

	ContactS3Bucket string
	ContactS3Prefix string
	ContactKMSKeyID string

	GitHubToken         string
	GitHubTokenSSMParam string
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")

	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "number of trusted reverse proxies in front of the server (0..8)")
	fs.StringVar(&c.SiteDir, "site-dir", "", "directory with the exported frontend (empty = embedded seed site)")

	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")

	fs.DurationVar(&c.ContactInterval, "contact-interval", ratelimit.ContactForm.Interval, "contact form rate limit window")
	fs.IntVar(&c.ContactMaxRequests, "contact-max-requests", ratelimit.ContactForm.MaxRequests, "contact form submissions allowed per window per client")
	fs.DurationVar(&c.GitHubInterval, "github-interval", ratelimit.GitHubAPI.Interval, "github api rate limit window")
	fs.IntVar(&c.GitHubMaxRequests, "github-max-requests", ratelimit.GitHubAPI.MaxRequests, "github api calls allowed per window (shared)")
	fs.DurationVar(&c.RateLimitRetention, "ratelimit-retention", ratelimit.DefaultRetention, "max age of any recorded request before it is swept")
	fs.Float64Var(&c.FloodRate, "flood-rate", 10, "per-ip token refill rate (requests/second) for the site-wide guard")
	fs.IntVar(&c.FloodBurst, "flood-burst", 30, "per-ip burst for the site-wide guard")

	fs.StringVar(&c.RedisAddr, "redis-addr", "", "redis host:port, enables shared rate limiting and project storage")
	fs.IntVar(&c.RedisDB, "redis-db", 0, "redis logical database")
	fs.StringVar(&c.RedisPassword, "redis-password", "", "redis password (prefer -redis-password-ssm-param)")
	fs.StringVar(&c.RedisPasswordSSMParam, "redis-password-ssm-param", "", "ssm SecureString parameter holding the redis password")

	fs.StringVar(&c.ContactS3Bucket, "contact-s3-bucket", "", "s3 bucket for contact submissions (empty = log only)")
	fs.StringVar(&c.ContactS3Prefix, "contact-s3-prefix", "contact/submissions", "s3 key prefix for contact submissions")
	fs.StringVar(&c.ContactKMSKeyID, "contact-kms-key-id", "", "KMS key id/arn to encrypt contact submissions with before upload")

	fs.StringVar(&c.GitHubToken, "github-token", "", "github api token (prefer -github-token-ssm-param)")
	fs.StringVar(&c.GitHubTokenSSMParam, "github-token-ssm-param", "", "ssm SecureString parameter holding the github api token")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, ok := os.LookupEnv(key)
		if !ok {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// ContactPolicy returns the contact form window built from config
func (c App) ContactPolicy() ratelimit.Policy {
	return ratelimit.Policy{Interval: c.ContactInterval, MaxRequests: c.ContactMaxRequests}
}

// GitHubPolicy returns the shared github api window built from config
func (c App) GitHubPolicy() ratelimit.Policy {
	return ratelimit.Policy{Interval: c.GitHubInterval, MaxRequests: c.GitHubMaxRequests}
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
	if c.TrustedHops < 0 || c.TrustedHops > 8 {
		errs = append(errs, fmt.Errorf("invalid TRUSTED_HOPS %d (must be 0..8)", c.TrustedHops))
	}
	if c.SiteDir != "" {
		if st, err := os.Stat(c.SiteDir); err != nil || !st.IsDir() {
			errs = append(errs, fmt.Errorf("SITE_DIR %q is not a readable directory", c.SiteDir))
		}
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}
	if c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64) {
		errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}
	// grpc exporter wants host:port, no scheme
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	// the limiter does not validate policies itself, callers must
	if !c.ContactPolicy().Valid() {
		errs = append(errs, fmt.Errorf("CONTACT_INTERVAL and CONTACT_MAX_REQUESTS must be positive (got %s, %d)", c.ContactInterval, c.ContactMaxRequests))
	}
	if !c.GitHubPolicy().Valid() {
		errs = append(errs, fmt.Errorf("GITHUB_INTERVAL and GITHUB_MAX_REQUESTS must be positive (got %s, %d)", c.GitHubInterval, c.GitHubMaxRequests))
	}
	if c.RateLimitRetention < c.ContactInterval || c.RateLimitRetention < c.GitHubInterval {
		errs = append(errs, fmt.Errorf("RATELIMIT_RETENTION %s must be at least as long as every policy interval", c.RateLimitRetention))
	}
	if c.FloodRate <= 0 || c.FloodBurst < 1 {
		errs = append(errs, fmt.Errorf("FLOOD_RATE and FLOOD_BURST must be positive (got %.2f, %d)", c.FloodRate, c.FloodBurst))
	}

	if c.RedisAddr != "" {
		if _, _, err := net.SplitHostPort(c.RedisAddr); err != nil {
			errs = append(errs, fmt.Errorf("REDIS_ADDR must be host:port (got %q): %v", c.RedisAddr, err))
		}
		if c.RedisDB < 0 || c.RedisDB > 15 {
			errs = append(errs, fmt.Errorf("invalid REDIS_DB %d (must be 0..15)", c.RedisDB))
		}
	}
	if c.RedisPassword != "" && c.RedisPasswordSSMParam != "" {
		errs = append(errs, fmt.Errorf("set only one of REDIS_PASSWORD and REDIS_PASSWORD_SSM_PARAM"))
	}
	if c.GitHubToken != "" && c.GitHubTokenSSMParam != "" {
		errs = append(errs, fmt.Errorf("set only one of GITHUB_TOKEN and GITHUB_TOKEN_SSM_PARAM"))
	}
	if c.ContactKMSKeyID != "" && c.ContactS3Bucket == "" {
		errs = append(errs, fmt.Errorf("CONTACT_KMS_KEY_ID requires CONTACT_S3_BUCKET"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// NeedsAWS reports whether any configured feature talks to AWS, so main can skip loading credentials
func (c App) NeedsAWS() bool {
	return c.ContactS3Bucket != "" || c.RedisPasswordSSMParam != "" || c.GitHubTokenSSMParam != ""
}
