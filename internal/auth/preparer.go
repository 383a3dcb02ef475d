package auth

import (
	"regexp"
	"strings"
)

var listSeparator = regexp.MustCompile(`[,\s]+`)

// PreparerPolicy decides which authenticated users act as preparers. A
// configured domain takes precedence over the explicit allow-list.
type PreparerPolicy struct {
	domain string
	emails map[string]struct{}
}

// NewPreparerPolicy builds a policy from the raw configuration values. domain
// may carry a leading "@"; emails is comma or whitespace separated.
func NewPreparerPolicy(domain, emails string) PreparerPolicy {
	p := PreparerPolicy{
		domain: strings.TrimPrefix(NormalizeEmail(domain), "@"),
		emails: make(map[string]struct{}),
	}
	for _, e := range listSeparator.Split(emails, -1) {
		if e = NormalizeEmail(e); e != "" {
			p.emails[e] = struct{}{}
		}
	}
	return p
}

// Domain returns the configured preparer domain without the "@".
func (p PreparerPolicy) Domain() string { return p.domain }

// Configured reports whether any preparer can ever be admitted.
func (p PreparerPolicy) Configured() bool {
	return p.domain != "" || len(p.emails) > 0
}

// Allows reports whether email belongs to a preparer.
func (p PreparerPolicy) Allows(email string) bool {
	email = NormalizeEmail(email)
	if email == "" {
		return false
	}
	if p.domain != "" {
		return strings.HasSuffix(email, "@"+p.domain)
	}
	_, ok := p.emails[email]
	return ok
}
