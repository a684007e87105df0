package httpserver

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/health"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/log"
)

// helpers

type routes func(r chi.Router)

func (f routes) RegisterRoutes(r chi.Router) { f(r) }

func pingAPI() RouteRegistrar {
	return routes(func(r chi.Router) {
		r.Get("/api/ping", func(w http.ResponseWriter, r *http.Request) {
			httpmw.WriteJSON(w, http.StatusOK, map[string]string{
				"client": httpmw.ClientIPFromContext(r.Context()),
			})
		})
		r.Get("/api/panic", func(http.ResponseWriter, *http.Request) { panic("boom") })
	})
}

var siteHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, "<h1>site "+r.URL.Path+"</h1>")
})

func defaultOpts() *Options {
	return &Options{
		Logger:       log.Nop(),
		UseRecoverMW: true,
		Health:       health.Up(),
		Readiness:    health.Up(),
		APIs:         []RouteRegistrar{pingAPI()},
		SiteHandler:  siteHandler,
	}
}

func do(h http.Handler, method, target string, mod ...func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for _, m := range mod {
		m(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// denyAll stands in for the flood guard.
func denyAll(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpmw.WriteError(w, http.StatusTooManyRequests, "slow down")
	})
}

// routing

func TestNewHandler_Routing(t *testing.T) {
	h := NewHandler(defaultOpts())
	tests := []struct {
		path   string
		status int
		body   string
	}{
		{"/api/ping", http.StatusOK, `"client"`},
		{"/", http.StatusOK, "site /"},
		{"/projects/audio", http.StatusOK, "site /projects/audio"},
		{"/-/healthy", http.StatusOK, "ok"},
		{"/-/ready", http.StatusOK, "ready"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := do(h, http.MethodGet, tt.path)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if !strings.Contains(rec.Body.String(), tt.body) {
				t.Fatalf("body = %q, want %q", rec.Body.String(), tt.body)
			}
		})
	}
}

func TestNewHandler_MethodNotAllowedFallsToSite(t *testing.T) {
	h := NewHandler(defaultOpts())
	rec := do(h, http.MethodPost, "/api/ping")
	if !strings.Contains(rec.Body.String(), "site /api/ping") {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestNewHandler_NoOptions(t *testing.T) {
	h := NewHandler(&Options{})
	if rec := do(h, http.MethodGet, "/"); rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want chi 404", rec.Code)
	}
}

func TestNewHandler_ReadinessFailure(t *testing.T) {
	opts := defaultOpts()
	opts.Readiness = health.Down("redis down")
	rec := do(NewHandler(opts), http.MethodGet, "/-/ready")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

// middleware

func TestNewHandler_SecurityHeadersEverywhere(t *testing.T) {
	opts := defaultOpts()
	h := NewHandler(opts)
	for _, target := range []string{"/", "/api/ping", "/-/healthy", "/api/panic"} {
		rec := do(h, http.MethodGet, target)
		if rec.Header().Get("X-Frame-Options") != "DENY" {
			t.Fatalf("%s: X-Frame-Options = %q", target, rec.Header().Get("X-Frame-Options"))
		}
		if !strings.Contains(rec.Header().Get("Content-Security-Policy"), "https://api.github.com") {
			t.Fatalf("%s: CSP = %q", target, rec.Header().Get("Content-Security-Policy"))
		}
	}
}

func TestNewHandler_FloodGuardSkipsHealthChecks(t *testing.T) {
	opts := defaultOpts()
	opts.FloodMW = denyAll
	h := NewHandler(opts)

	for _, target := range []string{"/api/ping", "/some/page"} {
		if rec := do(h, http.MethodGet, target); rec.Code != http.StatusTooManyRequests {
			t.Fatalf("%s: status = %d, want 429", target, rec.Code)
		}
	}
	for _, target := range []string{"/-/healthy", "/-/ready"} {
		if rec := do(h, http.MethodGet, target); rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d, want 200", target, rec.Code)
		}
	}
}

func TestNewHandler_RequestID(t *testing.T) {
	h := NewHandler(defaultOpts())
	a := do(h, http.MethodGet, "/").Header().Get("X-Request-Id")
	b := do(h, http.MethodGet, "/").Header().Get("X-Request-Id")
	if a == "" || a == b {
		t.Fatalf("request ids %q %q should be set and unique", a, b)
	}
	got := do(h, http.MethodGet, "/", func(r *http.Request) { r.Header.Set("X-Request-Id", "abc-123") })
	if got.Header().Get("X-Request-Id") != "abc-123" {
		t.Fatalf("inbound id not propagated: %q", got.Header().Get("X-Request-Id"))
	}
}

func TestNewHandler_ClientIPFromTrustedProxy(t *testing.T) {
	opts := defaultOpts()
	opts.ClientIPOpts = httpmw.ClientIPOptions{TrustedHops: 1}
	h := NewHandler(opts)
	rec := do(h, http.MethodGet, "/api/ping", func(r *http.Request) {
		r.RemoteAddr = "10.0.0.5:41234"
		r.Header.Set("X-Forwarded-For", "198.51.100.23")
	})
	if !strings.Contains(rec.Body.String(), "198.51.100.23") {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestNewHandler_RecoverCallsOnPanic(t *testing.T) {
	opts := defaultOpts()
	var panics int
	opts.OnPanic = func() { panics++ }
	rec := do(NewHandler(opts), http.MethodGet, "/api/panic")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if panics != 1 {
		t.Fatalf("OnPanic called %d times", panics)
	}
}

func TestNewHandler_CompressesJSON(t *testing.T) {
	h := NewHandler(defaultOpts())
	rec := do(h, http.MethodGet, "/api/ping", func(r *http.Request) { r.Header.Set("Accept-Encoding", "gzip") })
	if rec.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("Content-Encoding = %q", rec.Header().Get("Content-Encoding"))
	}
}

func TestShouldTrace(t *testing.T) {
	tests := map[string]bool{
		"/":                         true,
		"/api/contact":              true,
		"/-/healthy":                false,
		"/_next/static/chunks/a.js": false,
		"/images/me.webp":           false,
		"/samples/kick.wav":         false,
	}
	for p, want := range tests {
		if got := shouldTrace(p); got != want {
			t.Errorf("shouldTrace(%q) = %v, want %v", p, got, want)
		}
	}
}

// server

func TestNewServer_Timeouts(t *testing.T) {
	srv := NewServer(":0", http.NotFoundHandler())
	if srv.ReadHeaderTimeout != DefaultReadHeaderTimeout || srv.WriteTimeout != DefaultWriteTimeout ||
		srv.IdleTimeout != DefaultIdleTimeout || srv.MaxHeaderBytes != DefaultMaxHeaderBytes {
		t.Fatalf("server = %+v", srv)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestStart_ServeAndStop(t *testing.T) {
	opts := defaultOpts()
	opts.Port = freePort(t)
	stop, err := Start(context.Background(), opts)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	url := fmt.Sprintf("http://127.0.0.1:%d/-/healthy", opts.Port)
	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	if err := stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if _, err := http.Get(url); err == nil {
		t.Fatal("server still accepting after stop")
	}
}

func TestStart_PortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	opts := defaultOpts()
	opts.Port = ln.Addr().(*net.TCPAddr).Port
	if _, err := Start(context.Background(), opts); err == nil {
		t.Fatal("expected listen error")
	}
}
