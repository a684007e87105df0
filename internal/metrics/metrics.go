package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/version"
)

// results used as label values across the domain counters
const (
	ResultAllowed  = "allowed"
	ResultDenied   = "denied"
	ResultOK       = "ok"
	ResultInvalid  = "invalid"
	ResultError    = "error"
	ResultNotFound = "not_found"
	ResultCacheHit = "cache_hit"
)

type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	inflight       prometheus.Gauge
	reqTotal       *prometheus.CounterVec
	reqDur         *prometheus.HistogramVec
	respBytes      *prometheus.HistogramVec
	errorsTotal    *prometheus.CounterVec
	httpPanicTotal prometheus.Counter
	buildInfo      *prometheus.GaugeVec

	profilingActive prometheus.Gauge

	floodDeniedTotal   prometheus.Counter
	ratelimitChecks    *prometheus.CounterVec
	ratelimitKeys      prometheus.Gauge
	contactTotal       *prometheus.CounterVec
	playgroundProjects prometheus.Gauge
	githubUpstream     *prometheus.CounterVec
}

// New returns a fresh registry with the go/process collectors, http metrics
// and the api counters. Labels are bounded: route patterns, policy names and
// fixed result strings, never keys or client addresses.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		floodDeniedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_flood_limited_total",
			Help: "Total requests rejected by the per-ip flood guard",
		}),
		ratelimitChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_checks_total",
			Help: "Sliding window rate limit decisions by policy and result",
		}, []string{"policy", "result"}),
		ratelimitKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ratelimit_tracked_keys",
			Help: "Keys currently holding request history in the in-process limiter",
		}),
		contactTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contact_submissions_total",
			Help: "Contact form submissions by result",
		}, []string{"result"}),
		playgroundProjects: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "playground_projects",
			Help: "Number of stored playground projects at last list/save/delete",
		}),
		githubUpstream: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "github_upstream_requests_total",
			Help: "GitHub lookups by endpoint and result (cache hits included)",
		}, []string{"endpoint", "result"}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.errorsTotal,
		m.httpPanicTotal,
		m.buildInfo,
		m.profilingActive,
		m.floodDeniedTotal,
		m.ratelimitChecks,
		m.ratelimitKeys,
		m.contactTotal,
		m.playgroundProjects,
		m.githubUpstream,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

func (m *ServerMetrics) Registry() *prometheus.Registry {
	return m.reg
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         vi.AppName,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	m.profilingActive.Set(boolToFloat(active))
}

func (m *ServerMetrics) IncFloodDenied() {
	m.floodDeniedTotal.Inc()
}

// ObserveRateLimit records one sliding window decision for policy.
func (m *ServerMetrics) ObserveRateLimit(policy string, allowed bool) {
	result := ResultAllowed
	if !allowed {
		result = ResultDenied
	}
	m.ratelimitChecks.WithLabelValues(policy, result).Inc()
}

func (m *ServerMetrics) SetRateLimitKeys(n int) {
	m.ratelimitKeys.Set(float64(n))
}

func (m *ServerMetrics) IncContactSubmission(result string) {
	m.contactTotal.WithLabelValues(result).Inc()
}

func (m *ServerMetrics) SetPlaygroundProjects(n int) {
	m.playgroundProjects.Set(float64(n))
}

func (m *ServerMetrics) IncGitHubUpstream(endpoint, result string) {
	m.githubUpstream.WithLabelValues(endpoint, result).Inc()
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
