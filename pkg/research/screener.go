package research

import (
	"fmt"
	"regexp"
	"strings"
)

// Substrings rejected regardless of configured patterns: major social
// platforms, the search engine itself, and auth flow pages that never contain
// research content.
var defaultDenySubstrings = []string{
	"facebook.com",
	"instagram.com",
	"twitter.com",
	"x.com/",
	"tiktok.com",
	"linkedin.com",
	"pinterest.com",
	"duckduckgo.com",
	"signup",
	"login",
	"register",
	"signin",
}

// Screener decides whether a result URL is worth fetching. It is stateless
// after construction and safe for concurrent use.
type Screener struct {
	allow []*regexp.Regexp
	deny  []*regexp.Regexp
}

// NewScreener compiles the optional allow and deny pattern lists. When the
// allow list is non-empty a URL must match at least one allow pattern before
// any other rule is consulted.
func NewScreener(allowPatterns, denyPatterns []string) (*Screener, error) {
	s := &Screener{}
	for _, p := range allowPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid allow pattern %q: %w", p, err)
		}
		s.allow = append(s.allow, re)
	}
	for _, p := range denyPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid deny pattern %q: %w", p, err)
		}
		s.deny = append(s.deny, re)
	}
	return s, nil
}

// IsAllowed applies allow-list, built-in deny substrings, then deny patterns.
func (s *Screener) IsAllowed(rawURL string) bool {
	if len(s.allow) > 0 {
		matched := false
		for _, re := range s.allow {
			if re.MatchString(rawURL) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	lower := strings.ToLower(rawURL)
	for _, sub := range defaultDenySubstrings {
		if strings.Contains(lower, sub) {
			return false
		}
	}

	for _, re := range s.deny {
		if re.MatchString(rawURL) {
			return false
		}
	}
	return true
}
