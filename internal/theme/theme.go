// Package theme derives the short kebab-case name that keys every artifact a
// generation run produces. The name comes from a text-generation model when
// one is configured and degrades to a deterministic slug of the prompt when
// not, so a bare installation still produces stable storage paths.
package theme

import (
	"fmt"
	"strings"
	"time"
)

// maxSlugLen bounds the fallback slug so storage keys stay short.
const maxSlugLen = 20

// Sanitize normalizes raw text into a storage-safe theme: lowercase, with
// every character outside [a-z0-9-] replaced by a hyphen, hyphen runs
// collapsed, and leading or trailing hyphens removed. Sanitize is idempotent,
// so a value that is already a theme passes through unchanged.
func Sanitize(raw string) string {
	lowered := strings.ToLower(raw)
	var b strings.Builder
	b.Grow(len(lowered))
	lastHyphen := false
	for _, r := range lowered {
		valid := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if valid {
			b.WriteRune(r)
			lastHyphen = false
			continue
		}
		if !lastHyphen {
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	return strings.Trim(b.String(), "-")
}

// Slugify builds a bounded theme directly from prompt text. Used when no
// text-generation model is configured.
func Slugify(prompt string) string {
	slug := Sanitize(prompt)
	if len(slug) > maxSlugLen {
		slug = strings.Trim(slug[:maxSlugLen], "-")
	}
	if slug == "" {
		slug = "world"
	}
	return slug
}

// NewRunID builds the execution handle for one generation run. The theme
// stays stable across retries of the same scene; the timestamp makes each
// submission unique.
func NewRunID(theme string, now time.Time) string {
	return fmt.Sprintf("%s-%d", theme, now.Unix())
}
