package opshttp

import (
	"context"
	"net/http"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/contact"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/health"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/ratelimit"
)

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe
	// RateLimits backs POST /admin/ratelimit/reset. Nil leaves the route unregistered.
	RateLimits ratelimit.Resetter
	// Submissions backs GET /admin/contact/submission. Nil leaves the route unregistered.
	Submissions  SubmissionReader
	UseRecoverMW bool
	OnPanic      func()
	// AllowPublic disables the private-peer check, for tests behind NAT only.
	AllowPublic bool
}

// SubmissionReader loads one stored contact submission by object key.
type SubmissionReader interface {
	Get(ctx context.Context, key string) (contact.Submission, error)
}
