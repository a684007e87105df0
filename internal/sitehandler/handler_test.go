package sitehandler

import (
	"errors"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
)

func testFallbackFS() fstest.MapFS {
	return fstest.MapFS{
		"maintenance.html": &fstest.MapFile{Data: []byte("<h1>Maintenance</h1>")},
		"404.html":         &fstest.MapFile{Data: []byte("<h1>Fallback 404</h1>")},
	}
}

func testSiteFS() fstest.MapFS {
	return fstest.MapFS{
		"index.html":                         &fstest.MapFile{Data: []byte("<h1>Home</h1>")},
		"about.html":                         &fstest.MapFile{Data: []byte("<h1>About</h1>")},
		"playground/index.html":              &fstest.MapFile{Data: []byte("<h1>Playground</h1>")},
		"404.html":                           &fstest.MapFile{Data: []byte("<h1>Site 404</h1>")},
		"_next/static/chunks/main-abc123.js": &fstest.MapFile{Data: []byte("console.log(1)")},
		"images/headshot.jpg":                &fstest.MapFile{Data: []byte("JPG")},
		"robots.txt":                         &fstest.MapFile{Data: []byte("User-agent: *")},
	}
}

func newTestHandler(t *testing.T, site SiteProvider, fallback fs.FS) *Handler {
	t.Helper()
	h, err := New(Options{Site: site, FallbackFS: fallback})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

func get(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

// New

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"nil site", Options{FallbackFS: testFallbackFS()}},
		{"nil fallback", Options{Site: Static{}}},
		{"missing maintenance", Options{Site: Static{}, FallbackFS: fstest.MapFS{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			if !errors.Is(err, ErrInvalidOptions) {
				t.Fatalf("err = %v, want ErrInvalidOptions", err)
			}
		})
	}
}

// ServeHTTP

func TestServeHTTP_Pages(t *testing.T) {
	h := newTestHandler(t, Static{FS: testSiteFS()}, testFallbackFS())

	tests := []struct {
		target   string
		status   int
		body     string
		cache    string
		location string
	}{
		{"/", http.StatusOK, "Home", "no-cache", ""},
		{"/about", http.StatusOK, "About", "no-cache", ""},
		{"/playground/", http.StatusOK, "Playground", "no-cache", ""},
		{"/playground", http.StatusPermanentRedirect, "", "", "/playground/"},
		{"/_next/static/chunks/main-abc123.js", http.StatusOK, "console.log", "public, max-age=31536000, immutable", ""},
		{"/images/headshot.jpg", http.StatusOK, "JPG", "public, max-age=3600", ""},
		{"/robots.txt", http.StatusOK, "User-agent", "no-cache", ""},
		{"/missing", http.StatusNotFound, "Site 404", "no-store", ""},
		{"/missing.png", http.StatusNotFound, "Site 404", "no-store", ""},
		{"/../etc/passwd", http.StatusNotFound, "Site 404", "no-store", ""},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := get(h, http.MethodGet, tt.target)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.body != "" && !strings.Contains(rec.Body.String(), tt.body) {
				t.Fatalf("body = %q, want %q", rec.Body.String(), tt.body)
			}
			if tt.cache != "" && rec.Header().Get("Cache-Control") != tt.cache {
				t.Fatalf("Cache-Control = %q, want %q", rec.Header().Get("Cache-Control"), tt.cache)
			}
			if tt.location != "" && rec.Header().Get("Location") != tt.location {
				t.Fatalf("Location = %q, want %q", rec.Header().Get("Location"), tt.location)
			}
		})
	}
}

func TestServeHTTP_RedirectKeepsQuery(t *testing.T) {
	h := newTestHandler(t, Static{FS: testSiteFS()}, testFallbackFS())
	rec := get(h, http.MethodGet, "/playground?p=abc")
	if rec.Header().Get("Location") != "/playground/?p=abc" {
		t.Fatalf("Location = %q", rec.Header().Get("Location"))
	}
}

func TestServeHTTP_MethodNotAllowed(t *testing.T) {
	h := newTestHandler(t, Static{FS: testSiteFS()}, testFallbackFS())
	for _, m := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		rec := get(h, m, "/")
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s status = %d", m, rec.Code)
		}
		if rec.Header().Get("Allow") != "GET, HEAD" {
			t.Fatalf("Allow = %q", rec.Header().Get("Allow"))
		}
	}
	if rec := get(h, http.MethodHead, "/"); rec.Code != http.StatusOK {
		t.Fatalf("HEAD status = %d", rec.Code)
	}
}

func TestServeHTTP_Maintenance(t *testing.T) {
	h := newTestHandler(t, Static{}, testFallbackFS())
	rec := get(h, http.MethodGet, "/anything")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Maintenance") {
		t.Fatalf("body = %q", rec.Body.String())
	}
	if rec.Header().Get("Retry-After") != "60" || rec.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("headers = %v", rec.Header())
	}
}

func TestServeHTTP_NotFoundFallbacks(t *testing.T) {
	site := fstest.MapFS{"index.html": &fstest.MapFile{Data: []byte("home")}}

	h := newTestHandler(t, Static{FS: site}, testFallbackFS())
	rec := get(h, http.MethodGet, "/nope")
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), "Fallback 404") {
		t.Fatalf("fallback 404: %d %q", rec.Code, rec.Body.String())
	}

	bare := fstest.MapFS{"maintenance.html": &fstest.MapFile{Data: []byte("m")}}
	h = newTestHandler(t, Static{FS: site}, bare)
	rec = get(h, http.MethodGet, "/nope")
	if rec.Code != http.StatusNotFound || rec.Body.String() != "404 page not found" {
		t.Fatalf("plain 404: %d %q", rec.Code, rec.Body.String())
	}
}

func TestServeHTTP_NotFoundIgnoresConditionalHeaders(t *testing.T) {
	h := newTestHandler(t, Static{FS: testSiteFS()}, testFallbackFS())
	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	req.Header.Set("If-Modified-Since", "Mon, 02 Jan 2099 15:04:05 GMT")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

// providers

func TestFirst_PrefersEarlierProviders(t *testing.T) {
	a := fstest.MapFS{"index.html": &fstest.MapFile{Data: []byte("a")}}
	b := fstest.MapFS{"index.html": &fstest.MapFile{Data: []byte("b")}}

	got, ok := First{Static{}, Static{FS: a}, Static{FS: b}}.Site()
	if !ok {
		t.Fatal("no site")
	}
	data, _ := fs.ReadFile(got, "index.html")
	if string(data) != "a" {
		t.Fatalf("served %q, want a", data)
	}
	if _, ok := (First{nil, Static{}}).Site(); ok {
		t.Fatal("empty providers reported a site")
	}
}

func TestDir_RequiresIndex(t *testing.T) {
	dir := t.TempDir()
	d := NewDir(dir)
	if _, ok := d.Site(); ok {
		t.Fatal("empty dir reported a site")
	}
}
