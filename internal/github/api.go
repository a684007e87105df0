package github

import (
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/log"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/ratelimit"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/sanitize"
)

// github's own rules are narrower, this only has to keep paths well formed.
var segment = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,100}$`)

var ErrInvalidRepoURL = errors.New("github: invalid repository url")

// ParseRepoURL splits https://github.com/<owner>/<repo> into its two segments.
// A trailing slash or .git suffix is tolerated, anything else is rejected.
func ParseRepoURL(raw string) (owner, repo string, err error) {
	if !sanitize.GitHubURL(raw) {
		return "", "", ErrInvalidRepoURL
	}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.RawQuery != "" || u.Fragment != "" || u.User != nil || u.Port() != "" {
		return "", "", ErrInvalidRepoURL
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 2 {
		return "", "", ErrInvalidRepoURL
	}
	owner, repo = parts[0], strings.TrimSuffix(parts[1], ".git")
	if !segment.MatchString(owner) || !segment.MatchString(repo) || owner == "." || owner == ".." || repo == "." || repo == ".." {
		return "", "", ErrInvalidRepoURL
	}
	return owner, repo, nil
}

type API struct {
	client     *Client
	retryAfter string
}

func NewAPI(c *Client) *API {
	return &API{client: c, retryAfter: strconv.Itoa(c.opts.Policy.RetryAfter())}
}

func (a *API) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(httpmw.Scope("github"))
		r.Get("/api/github/repo", a.repo)
		r.Get("/api/github/releases", a.releases)
	})
}

func (a *API) repo(w http.ResponseWriter, r *http.Request) {
	owner, name, err := ParseRepoURL(r.URL.Query().Get("url"))
	if err != nil {
		httpmw.WriteError(w, http.StatusBadRequest, "Invalid GitHub URL")
		return
	}
	stats, err := a.client.RepoStats(r.Context(), owner, name)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	httpmw.WriteJSON(w, http.StatusOK, stats)
}

func (a *API) releases(w http.ResponseWriter, r *http.Request) {
	owner, name, err := ParseRepoURL(r.URL.Query().Get("url"))
	if err != nil {
		httpmw.WriteError(w, http.StatusBadRequest, "Invalid GitHub URL")
		return
	}
	rels, err := a.client.Releases(r.Context(), owner, name)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	httpmw.WriteJSON(w, http.StatusOK, rels)
}

func (a *API) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrRateLimited):
		w.Header().Set("Retry-After", a.retryAfter)
		httpmw.WriteError(w, http.StatusTooManyRequests, ratelimit.TooManyRequestsMessage)
	case errors.Is(err, ErrNotFound):
		httpmw.WriteError(w, http.StatusNotFound, "Repository not found")
	default:
		ctx := r.Context()
		log.FromContext(ctx).Error(ctx, err, "github upstream request failed")
		httpmw.WriteError(w, http.StatusBadGateway, "GitHub is unavailable")
	}
}
