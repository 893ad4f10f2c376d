// Package dedup implements the three-layer duplicate suppression engine:
// boilerplate filtering, content fingerprinting, and the global cross-job
// admission check.
package dedup

import (
	"regexp"
	"strings"
)

// Boilerplate fragments that repeat across pages of the same site. They are
// stripped before hashing so near-duplicate pages differing only in chrome
// are still recognized as duplicates.
var boilerplatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:accept|allow|manage|decline)\s+(?:all\s+)?cookies?\b[^.\n]*`),
	regexp.MustCompile(`(?i)\bthis (?:web)?site uses cookies\b[^.\n]*`),
	regexp.MustCompile(`(?i)\bsubscribe to our newsletter\b[^.\n]*`),
	regexp.MustCompile(`(?i)\bsign up (?:for|to) (?:our )?(?:newsletter|emails|updates)\b[^.\n]*`),
	regexp.MustCompile(`(?i)\bfree (?:uk |us )?(?:shipping|delivery) on (?:all )?orders?\b[^.\n]*`),
	regexp.MustCompile(`(?i)\badd(?:ed)? to (?:cart|basket|bag|wishlist)\b`),
	regexp.MustCompile(`(?i)\ball rights reserved\b.*`),
	regexp.MustCompile(`(?i)(?:copyright\s*)?(?:©|\(c\))\s*\d{4}[^.\n]*`),
	regexp.MustCompile(`(?i)\b(?:terms (?:of (?:service|use)|and conditions)|privacy policy|refund policy)\b`),
	regexp.MustCompile(`(?i)\bskip to (?:main )?content\b`),
	regexp.MustCompile(`(?i)\bpowered by \w+\b`),
	regexp.MustCompile(`(?i)\bmy account\b|\bview cart\b|\bcheckout\b|\blog ?in\b|\bsign ?in\b`),
	regexp.MustCompile(`(?i)\bfollow us on\b[^.\n]*`),
}

var multiSpace = regexp.MustCompile(`[ \t]{2,}`)

// StripBoilerplate removes known repeating fragments from text. The result
// preserves line structure so chunk boundaries remain stable.
func StripBoilerplate(text string) string {
	for _, pattern := range boilerplatePatterns {
		text = pattern.ReplaceAllString(text, " ")
	}
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(multiSpace.ReplaceAllString(line, " "))
		if line == "" {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}
