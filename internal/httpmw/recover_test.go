package httpmw

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/log"
)

// spyLogger captures Error and Info calls for assertions.
type spyLogger struct {
	log.Logger
	mu     sync.Mutex
	errors []spyEntry
	infos  []spyEntry
	fields []any
}

type spyEntry struct {
	msg string
	err error
	kv  []any
}

func newSpyLogger() *spyLogger {
	return &spyLogger{Logger: log.Nop()}
}

func (s *spyLogger) With(kv ...any) log.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields = append(s.fields, kv...)
	return s
}

func (s *spyLogger) Info(ctx context.Context, msg string, kv ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.infos = append(s.infos, spyEntry{msg: msg, kv: kv})
}

func (s *spyLogger) Error(ctx context.Context, err error, msg string, kv ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, spyEntry{msg: msg, err: err, kv: kv})
}

func kvValue(kv []any, key string) (any, bool) {
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i] == key {
			return kv[i+1], true
		}
	}
	return nil, false
}

func TestRecover_NoPanic(t *testing.T) {
	spy := newSpyLogger()
	calls := 0
	rec := httptest.NewRecorder()
	Recover(spy, func() { calls++ })(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK || calls != 0 || len(spy.errors) != 0 {
		t.Fatalf("code=%d onPanic=%d errors=%d", rec.Code, calls, len(spy.errors))
	}
}

func TestRecover_PanicValues(t *testing.T) {
	sentinel := errors.New("store exploded")
	tests := []struct {
		name  string
		value any
		check func(t *testing.T, err error)
	}{
		{"error value keeps identity", sentinel, func(t *testing.T, err error) {
			if !errors.Is(err, sentinel) {
				t.Fatalf("err = %v, want sentinel", err)
			}
		}},
		{"string value is wrapped", "nil map write", func(t *testing.T, err error) {
			if err == nil || err.Error() != "panic: nil map write" {
				t.Fatalf("err = %v", err)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spy := newSpyLogger()
			calls := 0
			h := Recover(spy, func() { calls++ })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				panic(tt.value)
			}))

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/playground/projects", nil))

			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("status = %d, want 500", rec.Code)
			}
			if calls != 1 {
				t.Fatalf("onPanic called %d times, want 1", calls)
			}
			if len(spy.errors) != 1 || spy.errors[0].msg != "httpserver panic recovered" {
				t.Fatalf("errors = %+v", spy.errors)
			}
			if v, _ := kvValue(spy.errors[0].kv, "url.path"); v != "/api/playground/projects" {
				t.Fatalf("url.path = %v", v)
			}
			tt.check(t, spy.errors[0].err)
		})
	}
}

func TestRecover_PrefersRequestLogger(t *testing.T) {
	base, reqLogger := newSpyLogger(), newSpyLogger()
	h := Recover(base, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(log.WithContext(r.Context(), reqLogger))
	h.ServeHTTP(httptest.NewRecorder(), r)

	if len(base.errors) != 0 || len(reqLogger.errors) != 1 {
		t.Fatalf("base=%d request=%d, want the request logger used", len(base.errors), len(reqLogger.errors))
	}
}

func TestRecover_ReraisesAbortHandler(t *testing.T) {
	h := Recover(newSpyLogger(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Fatalf("recovered %v, want http.ErrAbortHandler", rec)
		}
	}()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	t.Fatal("expected panic to propagate")
}
