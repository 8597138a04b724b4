package domain

import (
	"regexp"
	"strings"
)

var slugSeparators = regexp.MustCompile(`[^a-z0-9]+`)

// Slug normalizes a free-text name into a store key: lower-cased, trimmed,
// runs of non-alphanumerics collapsed to a single dash, edge dashes
// stripped, with a fixed placeholder when nothing survives.
//
// The transformation is lossy: "ACME Ltd." and "acme ltd" share a key.
// That matches the keys already written by earlier versions of this
// system, so existing store trees stay addressable; callers must not rely
// on distinct names mapping to distinct keys.
func Slug(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = slugSeparators.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "item"
	}
	return s
}
