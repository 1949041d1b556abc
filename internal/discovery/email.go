package discovery

import (
	"regexp"
	"strings"
)

var emailRe = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)

var placeholderDomains = map[string]bool{
	"example.com":    true,
	"example.org":    true,
	"domain.com":     true,
	"email.com":      true,
	"yourdomain.com": true,
	"yoursite.com":   true,
	"test.com":       true,
}

var systemDomainMarkers = []string{"sentry", "wixpress", "godaddy.com", "squarespace.com", "cloudflare"}

var noContactLocals = []string{"noreply", "no-reply", "no_reply", "donotreply", "do-not-reply", "mailer-daemon", "postmaster"}

var assetSuffixes = []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".ico", ".css", ".js"}

// ExtractEmail returns the first plausible contact address in text, or "".
func ExtractEmail(text string) string {
	for _, m := range emailRe.FindAllString(text, -1) {
		candidate := strings.ToLower(strings.Trim(m, ".-_"))
		if plausibleContact(candidate) {
			return candidate
		}
	}
	return ""
}

func plausibleContact(addr string) bool {
	at := strings.LastIndexByte(addr, '@')
	if at <= 0 || at == len(addr)-1 {
		return false
	}
	local, domain := addr[:at], addr[at+1:]

	for _, suffix := range assetSuffixes {
		if strings.HasSuffix(domain, suffix) {
			return false
		}
	}
	for _, l := range noContactLocals {
		if strings.Contains(local, l) {
			return false
		}
	}
	if placeholderDomains[domain] {
		return false
	}
	for _, marker := range systemDomainMarkers {
		if strings.Contains(domain, marker) {
			return false
		}
	}
	// hex-looking local parts are tracking ids, not people
	if len(local) >= 24 && strings.Trim(local, "0123456789abcdef") == "" {
		return false
	}
	return true
}
