// Package parser converts raw JATS markup into the flat, ordered block
// sequence the rest of the pipeline works with. Arbitrary section nesting is
// flattened to two heading levels; short fragments, reference sections and
// figures without a locatable image are dropped.
package parser

import (
	"bytes"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/calewis/plainread/internal/paper"
)

// Options tunes parsing. Zero values pick the defaults below.
type Options struct {
	// MinParagraphChars drops paragraph fragments shorter than this after
	// markup stripping (running heads, stray labels, empty captions).
	MinParagraphChars int

	// ImageBase resolves relative graphic references.
	ImageBase string
}

const (
	defaultMinParagraphChars = 40
	defaultImageBase         = "https://www.biorxiv.org/content/"
)

// NoteText is appended as a fixed trailing block when only the abstract is
// available.
const NoteText = "The full text of this paper is not available yet. " +
	"Only the abstract has been rewritten; check back once the complete " +
	"version has been released."

var (
	// bracketCitationRe matches inline bibliographic markers like [1], [1,2]
	// or [3-5] so prose reads cleanly once they are removed.
	bracketCitationRe = regexp.MustCompile(`\[[0-9]+(?:\s*[,\x{2013}-]\s*[0-9]+)*\]`)

	whitespaceRe = regexp.MustCompile(`\s+`)
	tagRe        = regexp.MustCompile(`<[^>]*>`)

	// captionTagRe renames caption tags before parsing. The HTML parser
	// ignores <caption> start and end tags outside tables, so the element
	// would vanish from the tree; a name it does not recognize survives
	// as an ordinary selectable element.
	captionTagRe = regexp.MustCompile(`(?i)<(/?)caption([\s/>])`)
)

// ParseFullText converts JATS markup into an ordered block sequence. When
// abstract is non-empty it is prepended under a synthetic "Abstract" heading
// regardless of whether the body repeats it. An empty result is a valid
// outcome meaning the structure was not recognized; the caller decides how
// to surface that.
func ParseFullText(raw []byte, abstract string, opts Options) ([]paper.Block, error) {
	raw = captionTagRe.ReplaceAll(raw, []byte("<${1}fig-caption${2}"))
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse markup: %w", err)
	}

	b := newBuilder(opts)

	if a := CollapseWhitespace(StripMarkup(abstract)); a != "" {
		b.addHeading(2, "Abstract")
		b.addParagraph(a)
	}

	topSections := doc.Find("sec").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.ParentsFiltered("sec").Length() == 0 &&
			s.ParentsFiltered("front").Length() == 0 &&
			s.ParentsFiltered("floats-group").Length() == 0
	})

	if topSections.Length() > 0 {
		topSections.Each(func(_ int, sec *goquery.Selection) {
			b.walkSection(sec, 0)
		})
	} else {
		// No recognizable section structure; scan body paragraphs directly.
		doc.Find("p").FilterFunction(func(_ int, s *goquery.Selection) bool {
			return s.ParentsFiltered("front").Length() == 0 &&
				s.ParentsFiltered("fig").Length() == 0 &&
				s.ParentsFiltered("fig-caption").Length() == 0 &&
				s.ParentsFiltered("floats-group").Length() == 0 &&
				s.ParentsFiltered("abstract").Length() == 0 &&
				s.ParentsFiltered("ref-list").Length() == 0
		}).Each(func(_ int, p *goquery.Selection) {
			b.addParagraphSelection(p)
		})
	}

	// Figures are often grouped away from the body; sweep any not already
	// captured during the section walk.
	doc.Find("floats-group fig").Each(func(_ int, fig *goquery.Selection) {
		b.addFigure(fig)
	})

	return b.blocks, nil
}

// ParseAbstractOnly builds the degraded block sequence used when full text
// is unavailable: the abstract split on blank lines under an "Abstract"
// heading, followed by a fixed note explaining the limitation.
func ParseAbstractOnly(abstract string) []paper.Block {
	b := newBuilder(Options{})

	b.addHeading(2, "Abstract")
	for _, part := range strings.Split(abstract, "\n\n") {
		text := CollapseWhitespace(StripMarkup(part))
		if text == "" {
			continue
		}
		b.addParagraph(text)
	}
	b.addHeading(2, "Note")
	b.addParagraph(NoteText)

	return b.blocks
}

// StripMarkup removes tags and decodes common entities, yielding the plain
// text used for length thresholds and as rewrite-model input.
func StripMarkup(s string) string {
	s = tagRe.ReplaceAllString(s, " ")
	return html.UnescapeString(s)
}

// CollapseWhitespace trims and squeezes whitespace runs to single spaces.
func CollapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// StripCitations removes inline bracket citation markers, keeping the
// surrounding prose intact.
func StripCitations(s string) string {
	return bracketCitationRe.ReplaceAllString(s, " ")
}

type builder struct {
	opts     Options
	blocks   []paper.Block
	paraSeq  int
	figSeq   int
	seenFigs map[string]bool
}

func newBuilder(opts Options) *builder {
	if opts.MinParagraphChars <= 0 {
		opts.MinParagraphChars = defaultMinParagraphChars
	}
	if opts.ImageBase == "" {
		opts.ImageBase = defaultImageBase
	}
	return &builder{opts: opts, seenFigs: make(map[string]bool)}
}

var refSectionTitles = map[string]bool{
	"references":   true,
	"reference":    true,
	"bibliography": true,
	"works cited":  true,
}

// walkSection emits a heading for the section (unless it is a references
// section or untitled) and processes its direct children in document order.
// Depth 0 means no ancestor section: level 2; any deeper nesting flattens
// to level 3.
func (b *builder) walkSection(sec *goquery.Selection, depth int) {
	title := headingText(sec.ChildrenFiltered("title").First())
	if refSectionTitles[strings.ToLower(title)] {
		return
	}
	if title != "" {
		level := 2
		if depth > 0 {
			level = 3
		}
		b.addHeading(level, title)
	}

	sec.Children().Each(func(_ int, ch *goquery.Selection) {
		switch goquery.NodeName(ch) {
		case "p":
			b.addParagraphSelection(ch)
		case "fig":
			b.addFigure(ch)
		case "sec":
			b.walkSection(ch, depth+1)
		}
	})
}

func (b *builder) addHeading(level int, text string) {
	b.blocks = append(b.blocks, paper.Heading(level, text))
}

func (b *builder) addParagraph(htmlText string) {
	id := fmt.Sprintf("p%d", b.paraSeq)
	b.paraSeq++
	b.blocks = append(b.blocks, paper.Paragraph(id, htmlText))
}

// addParagraphSelection extracts a paragraph element, stripping citation
// cross-references and dropping fragments below the length threshold.
func (b *builder) addParagraphSelection(p *goquery.Selection) {
	clean := p.Clone()
	clean.Find(`xref[ref-type="bibr"]`).Remove()

	inner, err := clean.Html()
	if err != nil {
		return
	}
	inner = CollapseWhitespace(StripCitations(inner))
	text := CollapseWhitespace(StripMarkup(inner))
	if len(text) < b.opts.MinParagraphChars {
		return
	}
	b.addParagraph(inner)
}

// addFigure emits a figure block if the element carries a locatable image.
// Figures already captured (matched by their source id attribute) and
// figures without a graphic reference are skipped.
func (b *builder) addFigure(fig *goquery.Selection) {
	if srcID, ok := fig.Attr("id"); ok && srcID != "" {
		if b.seenFigs[srcID] {
			return
		}
		b.seenFigs[srcID] = true
	}

	href := graphicHref(fig)
	if href == "" {
		return
	}

	caption := ""
	if capSel := fig.ChildrenFiltered("fig-caption").First(); capSel.Length() > 0 {
		clean := capSel.Clone()
		clean.Find(`xref[ref-type="bibr"]`).Remove()
		if inner, err := clean.Html(); err == nil {
			caption = CollapseWhitespace(inner)
		}
	}
	label := headingText(fig.ChildrenFiltered("label").First())

	id := fmt.Sprintf("f%d", b.figSeq)
	b.figSeq++
	b.blocks = append(b.blocks, paper.Figure(id, b.resolveImage(href), caption, label))
}

func (b *builder) resolveImage(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return strings.TrimRight(b.opts.ImageBase, "/") + "/" + strings.TrimLeft(href, "/")
}

// graphicHref finds the image reference on a figure's graphic element.
// JATS uses xlink:href; plain href appears in the wild too.
func graphicHref(fig *goquery.Selection) string {
	g := fig.Find("graphic").First()
	if g.Length() == 0 {
		return ""
	}
	if href, ok := g.Attr("xlink:href"); ok && href != "" {
		return href
	}
	if href, ok := g.Attr("href"); ok && href != "" {
		return href
	}
	return ""
}

// headingText extracts display text from a title or label element. Titles
// are RCDATA under the HTML parser, so any nested markup survives as
// literal tags and is stripped here.
func headingText(s *goquery.Selection) string {
	if s == nil || s.Length() == 0 {
		return ""
	}
	return CollapseWhitespace(StripMarkup(s.Text()))
}
