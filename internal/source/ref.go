// Package source handles the bioRxiv side of the pipeline: recognizing
// paper references, deriving the stable identifier and cache key, and
// fetching metadata plus raw JATS full text.
package source

import (
	"regexp"
	"strings"
)

// refPattern matches bioRxiv content URLs. The captured group is the
// 10.1101/... DOI; a trailing version suffix ("v2") and ".full" style
// suffixes are tolerated but not part of the identifier.
var refPattern = regexp.MustCompile(
	`^https?://(?:www\.)?biorxiv\.org/content/(10\.1101/[0-9]{4}\.[0-9]{2}\.[0-9]{2}\.[0-9]+)(?:v[0-9]+)?(?:[./].*)?$`,
)

// IsSupportedReference reports whether ref looks like a bioRxiv paper URL.
func IsSupportedReference(ref string) bool {
	return refPattern.MatchString(strings.TrimSpace(ref))
}

// ExtractDOI pulls the stable 10.1101/... identifier out of a reference.
// Returns "" when the reference does not carry one; callers must treat
// that as "cannot proceed", not retry.
func ExtractDOI(ref string) string {
	m := refPattern.FindStringSubmatch(strings.TrimSpace(ref))
	if m == nil {
		return ""
	}
	return m[1]
}

// CacheKey derives the document-store key for a DOI. The key is namespaced
// by source and substitutes the DOI's path separator so it stays a single
// key segment; distinct DOIs always map to distinct keys.
func CacheKey(doi string) string {
	return "papers/biorxiv/" + strings.ReplaceAll(doi, "/", "_")
}
