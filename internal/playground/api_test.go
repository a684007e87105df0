package playground

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

type failingStore struct{ err error }

func (f failingStore) List(context.Context) ([]Project, error)        { return nil, f.err }
func (f failingStore) Save(context.Context, Project) (Project, error) { return Project{}, f.err }
func (f failingStore) Delete(context.Context, string) error           { return f.err }

func newTestAPI(t *testing.T, s Store) (http.Handler, *int) {
	t.Helper()
	count := -1
	r := chi.NewRouter()
	NewAPI(s, func(n int) { count = n }).RegisterRoutes(r)
	return r, &count
}

func do(h http.Handler, method, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, projectsPath, nil)
	} else {
		req = httptest.NewRequest(method, projectsPath, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAPI_SaveListDelete(t *testing.T) {
	now := epoch
	s := NewMemoryStore(WithMemoryClock(func() time.Time { return now }), WithMemoryIDs(seqIDs()))
	h, count := newTestAPI(t, s)

	rec := do(h, http.MethodPost, `{"title":"<b>Demo</b>","description":"onclick=alert(1) desc","messages":[{"role":"user","content":"hi"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST status = %d body %s", rec.Code, rec.Body.String())
	}
	var saved saveResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &saved); err != nil {
		t.Fatal(err)
	}
	if !saved.Success || saved.Project.ID != "p1" {
		t.Fatalf("save response = %+v", saved)
	}
	if strings.ContainsAny(saved.Project.Title, "<>") || strings.Contains(saved.Project.Description, "onclick=") {
		t.Fatalf("fields not sanitized: %+v", saved.Project)
	}
	if *count != 1 {
		t.Fatalf("count = %d, want 1", *count)
	}

	now = now.Add(time.Second)
	do(h, http.MethodPost, `{"id":"p9","title":"Other"}`)

	rec = do(h, http.MethodGet, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET status = %d", rec.Code)
	}
	var list []Project
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != "p9" {
		t.Fatalf("list = %+v", list)
	}

	rec = do(h, http.MethodDelete, `{"id":"p1"}`)
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"success":true}` {
		t.Fatalf("DELETE = %d %s", rec.Code, rec.Body.String())
	}
	if *count != 1 {
		t.Fatalf("count after delete = %d", *count)
	}
}

func TestAPI_EmptyListIsArray(t *testing.T) {
	h, _ := newTestAPI(t, NewMemoryStore())
	rec := do(h, http.MethodGet, "")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("body = %q, want []", rec.Body.String())
	}
}

func TestAPI_StoreErrors(t *testing.T) {
	h, _ := newTestAPI(t, failingStore{err: errors.New("redis down")})
	tests := []struct {
		method, body, want string
	}{
		{http.MethodGet, "", "Failed to fetch projects"},
		{http.MethodPost, `{"title":"x"}`, "Failed to save project"},
		{http.MethodDelete, `{"id":"x"}`, "Failed to delete project"},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			rec := do(h, tt.method, tt.body)
			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("status = %d", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.want) {
				t.Fatalf("body = %s, want %q", rec.Body.String(), tt.want)
			}
		})
	}
}

func TestAPI_BadBodies(t *testing.T) {
	h, _ := newTestAPI(t, NewMemoryStore())
	for _, tc := range []struct{ method, body string }{
		{http.MethodPost, `not json`},
		{http.MethodDelete, `{}`},
		{http.MethodDelete, `{"id":`},
	} {
		if rec := do(h, tc.method, tc.body); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s %q: status = %d, want 400", tc.method, tc.body, rec.Code)
		}
	}
}
