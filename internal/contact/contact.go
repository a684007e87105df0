// Package contact implements the contact form api: rate limited, sanitized
// and validated submissions delivered to a Sink (structured log or S3).
package contact

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/sanitize"
)

// Request is the json body posted by the contact page.
type Request struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

// Submission is a sanitized, validated request ready for delivery.
type Submission struct {
	ID         string    `json:"id"`
	ReceivedAt time.Time `json:"received_at"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Message    string    `json:"message"`
	ClientIP   string    `json:"client_ip,omitempty"`
	// Flagged marks messages the profanity filter matched. They are kept for review, not dropped.
	Flagged bool `json:"flagged"`
}

// Sink delivers a submission somewhere durable or observable.
type Sink interface {
	Deliver(ctx context.Context, s Submission) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, s Submission) error

func (f SinkFunc) Deliver(ctx context.Context, s Submission) error { return f(ctx, s) }

// ValidationError is a user facing reason a submission was refused.
type ValidationError struct{ Reason string }

func (e *ValidationError) Error() string { return e.Reason }

const (
	minNameRunes    = 2
	minMessageRunes = 10
)

// Validation messages, returned verbatim to the browser.
const (
	ErrMsgName    = "Name must be at least 2 characters"
	ErrMsgEmail   = "Invalid email address"
	ErrMsgMessage = "Message must be at least 10 characters"
)

// Clean sanitizes r and validates the result. The first failing field wins,
// in name, email, message order.
func Clean(r Request) (Submission, error) {
	s := Submission{
		Name:    sanitize.Input(r.Name),
		Email:   sanitize.Email(r.Email),
		Message: sanitize.Input(r.Message),
	}
	switch {
	case utf8.RuneCountInString(s.Name) < minNameRunes:
		return Submission{}, &ValidationError{Reason: ErrMsgName}
	case s.Email == "":
		return Submission{}, &ValidationError{Reason: ErrMsgEmail}
	case utf8.RuneCountInString(s.Message) < minMessageRunes:
		return Submission{}, &ValidationError{Reason: ErrMsgMessage}
	}
	return s, nil
}
