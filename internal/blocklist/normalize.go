// Package blocklist manages the persisted set of blocked domains.
package blocklist

import (
	"errors"
	"strings"
)

var (
	// ErrEmptyInput is returned when the input is blank after trimming.
	ErrEmptyInput = errors.New("domain is empty")
	// ErrInvalidDomain is returned when the input does not reduce to a domain.
	ErrInvalidDomain = errors.New("not a valid domain")
)

// Normalize canonicalizes a user-supplied domain string: lowercase, no
// scheme, no leading "www.", no path, at least one dot. The transform is
// purely syntactic (no DNS lookups, no IDN handling) and idempotent.
func Normalize(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrEmptyInput
	}

	s = strings.ToLower(s)
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "www.")

	// Drop path and query.
	if i := strings.Index(s, "/"); i >= 0 {
		s = s[:i]
	}

	s = strings.TrimSpace(s)
	if !strings.Contains(s, ".") {
		return "", ErrInvalidDomain
	}

	return s, nil
}
