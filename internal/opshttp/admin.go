package opshttp

import (
	"errors"
	"net"
	"net/http"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/contact"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/log"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/ratelimit"
)

type resetResponse struct {
	Success bool   `json:"success"`
	Key     string `json:"key"`
}

type policyView struct {
	Name        string `json:"name"`
	IntervalMS  int64  `json:"interval_ms"`
	MaxRequests int    `json:"max_requests"`
}

// resetHandler clears one rate limit key, e.g. key=contact-203.0.113.7.
func resetHandler(L log.Logger, rs ratelimit.Resetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			httpmw.MethodNotAllowed(w, r)
			return
		}
		key := r.URL.Query().Get("key")
		if key == "" {
			httpmw.WriteError(w, http.StatusBadRequest, "key is required")
			return
		}
		if err := rs.Reset(r.Context(), key); err != nil {
			L.Error(r.Context(), err, "ratelimit reset failed", "key", key)
			httpmw.WriteError(w, http.StatusInternalServerError, "reset failed")
			return
		}
		L.Info(r.Context(), "ratelimit key reset", "key", key, "peer", r.RemoteAddr)
		httpmw.WriteJSON(w, http.StatusOK, resetResponse{Success: true, Key: key})
	}
}

func policiesHandler(w http.ResponseWriter, _ *http.Request) {
	names := ratelimit.Names()
	out := make([]policyView, 0, len(names))
	for _, n := range names {
		p, _ := ratelimit.Lookup(n)
		out = append(out, policyView{Name: n, IntervalMS: p.Interval.Milliseconds(), MaxRequests: p.MaxRequests})
	}
	httpmw.WriteJSON(w, http.StatusOK, out)
}

// submissionHandler returns a stored submission, key being the object key the
// sink logged at delivery.
func submissionHandler(L log.Logger, sr SubmissionReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			httpmw.MethodNotAllowed(w, r)
			return
		}
		key := r.URL.Query().Get("key")
		if key == "" {
			httpmw.WriteError(w, http.StatusBadRequest, "key is required")
			return
		}
		sub, err := sr.Get(r.Context(), key)
		switch {
		case errors.Is(err, contact.ErrInvalidKey):
			httpmw.WriteError(w, http.StatusBadRequest, "not a submission key")
			return
		case errors.Is(err, contact.ErrNotFound):
			httpmw.WriteError(w, http.StatusNotFound, "submission not found")
			return
		case err != nil:
			L.Error(r.Context(), err, "contact submission lookup failed", "key", key)
			httpmw.WriteError(w, http.StatusInternalServerError, "lookup failed")
			return
		}
		L.Info(r.Context(), "contact submission read", "key", key, "peer", r.RemoteAddr)
		httpmw.WriteJSON(w, http.StatusOK, sub)
	}
}

// privateOnly rejects peers outside private and loopback ranges.
func privateOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ip := net.ParseIP(host)
		if ip == nil || !(ip.IsPrivate() || ip.IsLoopback()) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
