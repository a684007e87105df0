package ratelimit

import (
	"sort"
	"time"
)

// DefaultRetention is how long any accepted request is remembered, whatever
// the policy interval. It must be at least as long as the longest interval.
const DefaultRetention = time.Hour

// Policy is a window length and the number of requests accepted within any
// trailing window of that length. The limiter trusts callers to pass positive
// values; see Valid.
type Policy struct {
	Interval    time.Duration
	MaxRequests int
}

// Valid reports whether both fields are positive.
func (p Policy) Valid() bool {
	return p.Interval > 0 && p.MaxRequests > 0
}

// RetryAfter is the longest a rejected caller could have to wait, in whole
// seconds, for use in a Retry-After header.
func (p Policy) RetryAfter() int {
	s := int((p.Interval + time.Second - 1) / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}

var (
	// ContactForm allows 3 contact submissions per minute per client.
	ContactForm = Policy{Interval: time.Minute, MaxRequests: 3}
	// GitHubAPI allows 50 upstream github calls per hour, shared by all clients.
	GitHubAPI = Policy{Interval: time.Hour, MaxRequests: 50}
	// AudioEvents allows 10 audio events per second per client.
	AudioEvents = Policy{Interval: time.Second, MaxRequests: 10}
)

// purposes, also used as key prefixes and metric labels
const (
	PurposeContact   = "contact"
	PurposeGitHubAPI = "github-api"
	PurposeAudio     = "audio"
)

// Policies maps a purpose to its default policy.
var Policies = map[string]Policy{
	PurposeContact:   ContactForm,
	PurposeGitHubAPI: GitHubAPI,
	PurposeAudio:     AudioEvents,
}

// Lookup returns the named policy.
func Lookup(name string) (Policy, bool) {
	p, ok := Policies[name]
	return p, ok
}

// Names returns the known policy names, sorted.
func Names() []string {
	out := make([]string, 0, len(Policies))
	for k := range Policies {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Key builds the conventional "<purpose>-<client>" key.
func Key(purpose, client string) string {
	return purpose + "-" + client
}
