package playground

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/log"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/sanitize"
)

// MaxBodyBytes caps a project upload, full message history included.
const MaxBodyBytes = 1 << 20

const projectsPath = "/api/playground/projects"

type API struct {
	store Store
	// onCount receives the project total after every successful call.
	onCount func(n int)
}

func NewAPI(store Store, onCount func(n int)) *API {
	return &API{store: store, onCount: onCount}
}

type saveResponse struct {
	Success bool    `json:"success"`
	Project Project `json:"project"`
}

type deleteRequest struct {
	ID string `json:"id"`
}

type okResponse struct {
	Success bool `json:"success"`
}

func (a *API) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(httpmw.MaxBody(MaxBodyBytes), httpmw.Scope("playground"))
		r.Get(projectsPath, a.list)
		r.Post(projectsPath, a.save)
		r.Delete(projectsPath, a.remove)
	})
}

func (a *API) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projects, err := a.store.List(ctx)
	if err != nil {
		log.FromContext(ctx).Error(ctx, err, "list playground projects failed")
		httpmw.WriteError(w, http.StatusInternalServerError, "Failed to fetch projects")
		return
	}
	if projects == nil {
		projects = []Project{}
	}
	a.count(len(projects))
	httpmw.WriteJSON(w, http.StatusOK, projects)
}

func (a *API) save(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var p Project
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		httpmw.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	p.Title = sanitize.Input(p.Title)
	p.Description = sanitize.Input(p.Description)

	saved, err := a.store.Save(ctx, p)
	if err != nil {
		log.FromContext(ctx).Error(ctx, err, "save playground project failed", "project_id", p.ID)
		httpmw.WriteError(w, http.StatusInternalServerError, "Failed to save project")
		return
	}
	a.recount(r)
	httpmw.WriteJSON(w, http.StatusOK, saveResponse{Success: true, Project: saved})
}

func (a *API) remove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		httpmw.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := a.store.Delete(ctx, req.ID); err != nil {
		log.FromContext(ctx).Error(ctx, err, "delete playground project failed", "project_id", req.ID)
		httpmw.WriteError(w, http.StatusInternalServerError, "Failed to delete project")
		return
	}
	a.recount(r)
	httpmw.WriteJSON(w, http.StatusOK, okResponse{Success: true})
}

func (a *API) count(n int) {
	if a.onCount != nil {
		a.onCount(n)
	}
}

// recount refreshes the gauge after a write. A failed read only costs the update.
func (a *API) recount(r *http.Request) {
	if a.onCount == nil {
		return
	}
	if projects, err := a.store.List(r.Context()); err == nil {
		a.onCount(len(projects))
	}
}
