package ratelimit

import (
	"context"
	"net/http"
	"strconv"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/httpmw"
)

// TooManyRequestsMessage is the body of every 429 from this package.
const TooManyRequestsMessage = "Too many requests. Please try again later."

// Checker is satisfied by *Window and *Redis.
type Checker interface {
	Allow(ctx context.Context, key string, p Policy) bool
}

// Resetter clears a key, for the admin override.
type Resetter interface {
	Reset(ctx context.Context, key string) error
}

// WindowResetter adapts a Window to Resetter.
type WindowResetter struct{ W *Window }

func (r WindowResetter) Reset(_ context.Context, key string) error {
	r.W.Reset(key)
	return nil
}

type GuardOptions struct {
	// Shared uses the purpose alone as the key, one budget for every client.
	Shared bool
	// OnDecision is called after every check, metrics hook in here.
	OnDecision func(purpose string, allowed bool)
}

// Guard checks purpose's policy before next and answers 429 with Retry-After
// when the window is full. The client comes from httpmw.ClientIP, which must
// run earlier in the chain.
func Guard(c Checker, purpose string, p Policy, opts GuardOptions) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(p.RetryAfter())
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := purpose
			if !opts.Shared {
				key = Key(purpose, httpmw.ClientIPFromContext(r.Context()))
			}
			allowed := c.Allow(r.Context(), key, p)
			if opts.OnDecision != nil {
				opts.OnDecision(purpose, allowed)
			}
			if !allowed {
				w.Header().Set("Retry-After", retryAfter)
				httpmw.WriteError(w, http.StatusTooManyRequests, TooManyRequestsMessage)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
