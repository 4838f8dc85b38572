// Package platform finds wine lists hosted off-site on dedicated platforms
// (Binwise, Star Wine List and the like) when the restaurant has no usable
// website of its own.
package platform

import (
	"net/url"
	"strings"
)

// Matcher recognizes URLs on known wine list hosting platforms. Domains
// are matched as substrings of the host so both "hub.binwise.com" and
// regional variants of a platform hit.
type Matcher struct {
	domains []string
}

func NewMatcher(domains []string) *Matcher {
	lowered := make([]string, 0, len(domains))
	for _, d := range domains {
		lowered = append(lowered, strings.ToLower(strings.TrimSpace(d)))
	}
	return &Matcher{domains: lowered}
}

// Match reports whether the URL lives on a known platform.
func (m *Matcher) Match(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Host)
	target := host
	if target == "" {
		target = strings.ToLower(raw)
	}
	for _, d := range m.domains {
		if strings.Contains(target, d) {
			return true
		}
	}
	return false
}

// Domains returns the configured platform domains.
func (m *Matcher) Domains() []string {
	return m.domains
}
