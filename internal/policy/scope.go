package policy

import (
	"net/url"
	"strings"
)

// Scope restricts the crawl to the seed's host, optionally admitting its
// subdomains.
type Scope struct {
	host       string
	subdomains bool
}

// NewScope derives the domain scope from the seed URL.
func NewScope(seed *url.URL, includeSubdomains bool) *Scope {
	return &Scope{
		host:       strings.ToLower(seed.Hostname()),
		subdomains: includeSubdomains,
	}
}

// Allows reports whether host falls inside the crawl scope.
func (s *Scope) Allows(host string) bool {
	if s == nil {
		return true
	}
	host = strings.ToLower(host)
	if host == s.host {
		return true
	}
	if !s.subdomains {
		return false
	}
	return strings.HasSuffix(host, "."+s.host)
}
