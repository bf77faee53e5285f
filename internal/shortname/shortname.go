// Package shortname derives URL-safe slugs from work item names.
package shortname

import (
	"fmt"
	"strings"

	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/types"
)

// Generate returns the deterministic slug for a name: lowercased, runs of
// non-alphanumerics collapsed to single hyphens, trimmed, and truncated to
// the shortname limit. An all-symbol name degrades to "item".
func Generate(name string) string {
	var b strings.Builder
	lastHyphen := true // suppress a leading hyphen
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}

	slug := strings.TrimRight(b.String(), "-")
	if len(slug) > types.MaxShortnameLength {
		slug = strings.TrimRight(slug[:types.MaxShortnameLength], "-")
	}
	if slug == "" {
		slug = "item"
	}
	return slug
}

// Disambiguate returns base if it is free among taken, otherwise the first
// base-N (N >= 2) that is. The numeric suffix displaces trailing slug
// characters when the result would exceed the shortname limit.
func Disambiguate(base string, taken map[string]bool) string {
	if !taken[base] {
		return base
	}
	for n := 2; ; n++ {
		suffix := fmt.Sprintf("-%d", n)
		candidate := base
		if len(candidate)+len(suffix) > types.MaxShortnameLength {
			candidate = strings.TrimRight(candidate[:types.MaxShortnameLength-len(suffix)], "-")
		}
		candidate += suffix
		if !taken[candidate] {
			return candidate
		}
	}
}
