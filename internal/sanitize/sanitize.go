// Package sanitize cleans user supplied text before it is validated, stored
// or echoed back. It strips markup-ish input rather than escaping it: nothing
// here renders html, the goal is that a stored contact message or project
// title can never carry a script into the frontend.
package sanitize

import (
	"net/url"
	"regexp"
	"strings"

	goaway "github.com/TwiN/go-away"
	"golang.org/x/text/unicode/norm"
)

const (
	// MaxInputRunes caps free text fields.
	MaxInputRunes = 1000
	// MaxEmailLen is the RFC 5321 path limit.
	MaxEmailLen = 254
)

var (
	angleBrackets = strings.NewReplacer("<", "", ">", "")
	jsScheme      = regexp.MustCompile(`(?i)javascript:`)
	eventHandler  = regexp.MustCompile(`(?i)on\w+\s*=`)
	emailShape    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// Input normalizes s to NFKC, so fullwidth "＜" and friends cannot slip past
// the filters, trims it, removes angle brackets, javascript: and inline event
// handler prefixes, and truncates to MaxInputRunes.
func Input(s string) string {
	if s == "" {
		return ""
	}
	s = norm.NFKC.String(s)
	s = strings.TrimSpace(s)
	s = angleBrackets.Replace(s)
	s = stripNested(s)
	return truncateRunes(s, MaxInputRunes)
}

// stripNested repeats the scheme and handler removal until nothing changes,
// otherwise "javajavascript:script:" collapses into "javascript:".
func stripNested(s string) string {
	for {
		out := eventHandler.ReplaceAllString(jsScheme.ReplaceAllString(s, ""), "")
		if out == s {
			return out
		}
		s = out
	}
}

// Email returns the trimmed, lowercased address, or "" if it does not look like one.
func Email(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) > MaxEmailLen {
		s = truncateRunes(s, MaxEmailLen)
	}
	if !emailShape.MatchString(s) {
		return ""
	}
	return s
}

// EmailDomain returns the part after the @, for logs that must not carry the address.
func EmailDomain(email string) string {
	if i := strings.LastIndexByte(email, '@'); i >= 0 {
		return email[i+1:]
	}
	return ""
}

// URL returns the re-serialized url when it is absolute http or https, otherwise "".
func URL(s string) string {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil || u.Host == "" {
		return ""
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return ""
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String()
}

// GitHubURL reports whether s is an https url on github.com.
func GitHubURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	return u.Scheme == "https" && u.Hostname() == "github.com"
}

// ProfanityChecker is satisfied by *goaway.ProfanityDetector.
type ProfanityChecker interface {
	IsProfane(s string) bool
}

var defaultDetector ProfanityChecker = goaway.NewProfanityDetector()

// Profane reports whether s contains profanity according to the default dictionary.
func Profane(s string) bool {
	return ProfaneWith(defaultDetector, s)
}

// ProfaneWith checks s with c, a nil checker never flags.
func ProfaneWith(c ProfanityChecker, s string) bool {
	if c == nil || s == "" {
		return false
	}
	return c.IsProfane(s)
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
