package contact

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/log"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/ratelimit"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/sanitize"
)

// MaxBodyBytes caps a contact request body.
const MaxBodyBytes = 16 << 10

const (
	msgInvalidBody = "Invalid request body"
	msgServerError = "An error occurred. Please try again."
	msgSent        = "Message sent successfully!"
)

type Options struct {
	Sink    Sink
	Limiter ratelimit.Checker
	// Policy defaults to ratelimit.ContactForm.
	Policy ratelimit.Policy
	// Profanity defaults to sanitize.Profane.
	Profanity sanitize.ProfanityChecker
	// OnResult receives metrics.ResultOK, ResultInvalid or ResultError per submission.
	OnResult func(result string)
	// OnRateLimit is passed through to the route's ratelimit.Guard.
	OnRateLimit func(purpose string, allowed bool)
	Now         func() time.Time
	NewID       func() string
}

type API struct {
	opts Options
}

type successBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func NewAPI(opts Options) *API {
	if opts.Sink == nil {
		opts.Sink = LogSink{}
	}
	if !opts.Policy.Valid() {
		opts.Policy = ratelimit.ContactForm
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &API{opts: opts}
}

func (a *API) RegisterRoutes(r chi.Router) {
	mw := []func(http.Handler) http.Handler{httpmw.MaxBody(MaxBodyBytes), httpmw.Scope("contact")}
	if a.opts.Limiter != nil {
		guard := ratelimit.Guard(a.opts.Limiter, ratelimit.PurposeContact, a.opts.Policy,
			ratelimit.GuardOptions{OnDecision: a.opts.OnRateLimit})
		mw = append([]func(http.Handler) http.Handler{guard}, mw...)
	}
	r.With(mw...).Post("/api/contact", a.submit)
	r.Get("/api/contact", httpmw.MethodNotAllowed)
}

func (a *API) submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	L := log.FromContext(ctx)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.result(metrics.ResultInvalid)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpmw.WriteError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		httpmw.WriteError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	sub, err := Clean(req)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			a.result(metrics.ResultInvalid)
			httpmw.WriteError(w, http.StatusBadRequest, verr.Reason)
			return
		}
		a.result(metrics.ResultError)
		httpmw.WriteError(w, http.StatusInternalServerError, msgServerError)
		return
	}

	sub.ID = a.opts.NewID()
	sub.ReceivedAt = a.opts.Now().UTC()
	sub.ClientIP = httpmw.ClientIPFromContext(ctx)
	sub.Flagged = a.profane(sub.Name) || a.profane(sub.Message)

	if err := a.opts.Sink.Deliver(ctx, sub); err != nil {
		L.Error(ctx, err, "contact delivery failed", "submission_id", sub.ID)
		a.result(metrics.ResultError)
		httpmw.WriteError(w, http.StatusInternalServerError, msgServerError)
		return
	}

	a.result(metrics.ResultOK)
	httpmw.WriteJSON(w, http.StatusOK, successBody{Success: true, Message: msgSent})
}

func (a *API) profane(s string) bool {
	if a.opts.Profanity != nil {
		return sanitize.ProfaneWith(a.opts.Profanity, s)
	}
	return sanitize.Profane(s)
}

func (a *API) result(res string) {
	if a.opts.OnResult != nil {
		a.opts.OnResult(res)
	}
}
