// Package highlight injects glossary term references into rewritten prose.
//
// Matching is whole-word and case-insensitive, longest term first, and runs
// in two passes: matched spans are first claimed with opaque placeholder
// tokens, then every placeholder is resolved to the final marker. Claiming
// spans up front means a shorter term can never match inside a span a longer
// term already owns, and no matcher ever runs over inserted markup.
package highlight

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/calewis/plainread/internal/paper"
)

// tokenRe matches the placeholder tokens inserted during the first pass.
// NUL delimiters cannot occur in document text.
var tokenRe = regexp.MustCompile("\x00([0-9]+)\x00")

type claim struct {
	termID  string
	matched string // original casing from the text, preserved in the marker
}

// Apply rewrites text so every occurrence of a glossary term becomes an
// interactive marker carrying the term ID. Empty text or an empty glossary
// returns the input unchanged. Terms absent from the text are a no-op.
func Apply(text string, terms paper.Glossary) string {
	if text == "" || len(terms) == 0 {
		return text
	}

	type entry struct {
		id   string
		term string
	}
	entries := make([]entry, 0, len(terms))
	for id, t := range terms {
		if t.Term == "" {
			continue
		}
		entries = append(entries, entry{id: id, term: t.Term})
	}
	// Longest first so "cell wall" claims its span before "cell" runs.
	// Ties break on ID to keep output deterministic across map iteration.
	sort.Slice(entries, func(i, j int) bool {
		if len(entries[i].term) != len(entries[j].term) {
			return len(entries[i].term) > len(entries[j].term)
		}
		return entries[i].id < entries[j].id
	})

	var claims []claim
	out := text
	for _, e := range entries {
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(e.term) + `\b`)
		if err != nil {
			continue
		}
		out = replaceOutsideTokens(out, re, func(m string) string {
			claims = append(claims, claim{termID: e.id, matched: m})
			return "\x00" + strconv.Itoa(len(claims)-1) + "\x00"
		})
	}

	if len(claims) == 0 {
		return text
	}

	return tokenRe.ReplaceAllStringFunc(out, func(tok string) string {
		idx, err := strconv.Atoi(tok[1 : len(tok)-1])
		if err != nil || idx < 0 || idx >= len(claims) {
			return tok
		}
		c := claims[idx]
		return fmt.Sprintf(`<span class="term-ref" data-term-id="%s">%s</span>`, c.termID, c.matched)
	})
}

// replaceOutsideTokens applies re only to the stretches of s between
// placeholder tokens. A claimed span stays opaque to later matchers, so a
// term whose text happens to look like a token payload (a bare number, say)
// can never match inside one. Claimed span edges always fall on word
// boundaries, so matching each stretch independently is equivalent to
// matching the unclaimed text as a whole.
func replaceOutsideTokens(s string, re *regexp.Regexp, fn func(string) string) string {
	locs := tokenRe.FindAllStringIndex(s, -1)
	if locs == nil {
		return re.ReplaceAllStringFunc(s, fn)
	}
	var b strings.Builder
	last := 0
	for _, loc := range locs {
		b.WriteString(re.ReplaceAllStringFunc(s[last:loc[0]], fn))
		b.WriteString(s[loc[0]:loc[1]])
		last = loc[1]
	}
	b.WriteString(re.ReplaceAllStringFunc(s[last:], fn))
	return b.String()
}
