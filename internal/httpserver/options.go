package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/health"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/log"
)

// RouteRegistrar is implemented by each api package.
type RouteRegistrar interface {
	RegisterRoutes(r chi.Router)
}

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func()
	ClientIPOpts httpmw.ClientIPOptions

	MetricsMW func(http.Handler) http.Handler
	// FloodMW is the per-ip token bucket in front of everything but health checks.
	FloodMW func(http.Handler) http.Handler

	Health    health.Probe
	Readiness health.Probe

	APIs []RouteRegistrar
	// SiteHandler serves every path no api claims.
	SiteHandler http.Handler
}
