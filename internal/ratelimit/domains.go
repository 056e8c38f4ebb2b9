package ratelimit

import "strings"

// temporaryEmailDomains lists known disposable email providers. Accounts
// registered through these get the severe tier.
var temporaryEmailDomains = map[string]struct{}{
	"10minutemail.com":  {},
	"dispostable.com":   {},
	"fakeinbox.com":     {},
	"getnada.com":       {},
	"guerrillamail.com": {},
	"mailcatch.com":     {},
	"maildrop.cc":       {},
	"mailinator.com":    {},
	"mintemail.com":     {},
	"mohmal.com":        {},
	"sharklasers.com":   {},
	"spamgourmet.com":   {},
	"temp-mail.org":     {},
	"tempmail.com":      {},
	"throwawaymail.com": {},
	"trashmail.com":     {},
	"yopmail.com":       {},
}

// DomainClassifier answers static set-membership questions about account
// email domains.
type DomainClassifier struct {
	blocked   map[string]struct{}
	temporary map[string]struct{}
}

// NewDomainClassifier constructs a classifier with the built-in disposable
// domain set plus the operator-supplied blocked domains.
func NewDomainClassifier(blockedDomains []string) *DomainClassifier {
	blocked := make(map[string]struct{}, len(blockedDomains))
	for _, domain := range blockedDomains {
		domain = strings.ToLower(strings.TrimSpace(domain))
		if domain != "" {
			blocked[domain] = struct{}{}
		}
	}
	return &DomainClassifier{blocked: blocked, temporary: temporaryEmailDomains}
}

// IsBlockedDomain reports whether the email's domain is on the blocked list.
func (c *DomainClassifier) IsBlockedDomain(email string) bool {
	if c == nil {
		return false
	}
	_, ok := c.blocked[emailDomain(email)]
	return ok
}

// IsTemporaryEmailDomain reports whether the email's domain is a known
// disposable provider.
func (c *DomainClassifier) IsTemporaryEmailDomain(email string) bool {
	if c == nil {
		return false
	}
	_, ok := c.temporary[emailDomain(email)]
	return ok
}

func emailDomain(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(email[at+1:]))
}
