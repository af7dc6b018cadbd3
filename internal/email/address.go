package email

import (
	"regexp"
	"strings"
)

var (
	angleAddrRegex = regexp.MustCompile(`<(.+?)>`)
	addrShapeRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// BareAddress strips an optional display name, returning the part inside
// angle brackets. Inputs without brackets are returned unchanged.
func BareAddress(s string) string {
	if m := angleAddrRegex.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

// NormalizeAddress returns the bare, lowercased, trimmed address.
func NormalizeAddress(s string) string {
	return strings.ToLower(strings.TrimSpace(BareAddress(s)))
}

// ValidAddress reports whether s (with or without a display name) has the
// basic local@domain.tld shape.
func ValidAddress(s string) bool {
	return addrShapeRegex.MatchString(BareAddress(s))
}

// Domain returns the part after the first '@' of the bare address, or "".
func Domain(s string) string {
	addr := BareAddress(s)
	_, domain, found := strings.Cut(addr, "@")
	if !found {
		return ""
	}
	return domain
}
