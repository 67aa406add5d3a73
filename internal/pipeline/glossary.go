package pipeline

import (
	"fmt"
	"strings"

	"github.com/calewis/plainread/internal/paper"
	"github.com/calewis/plainread/internal/rewrite"
)

// glossaryAcc accumulates the document-wide glossary during the paragraph
// walk. Candidates equal under case-insensitive comparison collapse onto
// one entry; the first occurrence's casing and explanation win. IDs are
// sequential within one run.
type glossaryAcc struct {
	terms   paper.Glossary
	byLower map[string]string // lowercased term -> id
	next    int
}

func newGlossaryAcc() *glossaryAcc {
	return &glossaryAcc{
		terms:   make(paper.Glossary),
		byLower: make(map[string]string),
	}
}

// add returns the glossary ID for a candidate, minting a new entry when no
// case-insensitive match exists yet.
func (g *glossaryAcc) add(c rewrite.Candidate) string {
	lower := strings.ToLower(c.Term)
	if id, ok := g.byLower[lower]; ok {
		return id
	}
	id := fmt.Sprintf("t%d", g.next)
	g.next++
	g.byLower[lower] = id
	g.terms[id] = paper.Term{Term: c.Term, Simple: c.Simple}
	return id
}
