// Package render produces the server-side HTML rendition of a processed
// paper: rewritten paragraphs with glossary markers injected, figures
// resolved back through their source blocks, and the glossary itself.
package render

import (
	"fmt"
	"html"
	"net/url"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	ghtml "github.com/yuin/goldmark/renderer/html"

	"github.com/calewis/plainread/internal/highlight"
	"github.com/calewis/plainread/internal/paper"
)

// Options controls rendering. The zero value is usable.
type Options struct {
	// ImageProxyPath prefixes figure image URLs so the browser loads them
	// through the allow-listed proxy instead of the source host directly.
	ImageProxyPath string
}

const defaultImageProxyPath = "/api/image?src="

// md renders rewritten prose. Unsafe raw HTML is enabled because term
// markers are injected before conversion and must pass through untouched.
var md = goldmark.New(
	goldmark.WithRendererOptions(ghtml.WithUnsafe()),
)

// PlainHTML renders the plain-language rendition of a paper as a standalone
// HTML document.
func PlainHTML(p *paper.Paper, opts Options) (string, error) {
	if opts.ImageProxyPath == "" {
		opts.ImageProxyPath = defaultImageProxyPath
	}

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&b, "<title>%s</title>\n", html.EscapeString(p.Title))
	b.WriteString("</head>\n<body>\n<article>\n")
	fmt.Fprintf(&b, "<h1>%s</h1>\n", html.EscapeString(p.Title))
	if len(p.Authors) > 0 {
		fmt.Fprintf(&b, "<p class=\"authors\">%s</p>\n", html.EscapeString(strings.Join(p.Authors, ", ")))
	}

	for _, pb := range p.Plain.Blocks {
		switch pb.Kind {
		case paper.KindHeading:
			fmt.Fprintf(&b, "<h%d>%s</h%d>\n", pb.Level, html.EscapeString(pb.Text), pb.Level)

		case paper.KindParagraph:
			marked := highlight.Apply(pb.Text, p.Plain.Terms)
			var out strings.Builder
			if err := md.Convert([]byte(marked), &out); err != nil {
				return "", fmt.Errorf("render paragraph %s: %w", pb.ID, err)
			}
			b.WriteString(out.String())

		case paper.KindFigure:
			src := p.BlockByID(pb.ID)
			if src == nil {
				continue
			}
			writeFigure(&b, src, opts.ImageProxyPath)

		default:
			return "", fmt.Errorf("unknown block kind %q", pb.Kind)
		}
	}

	writeGlossary(&b, p.Plain.Terms)
	b.WriteString("</article>\n</body>\n</html>\n")
	return b.String(), nil
}

func writeFigure(b *strings.Builder, src *paper.Block, proxyPath string) {
	fmt.Fprintf(b, "<figure id=%q>\n", src.ID)
	fmt.Fprintf(b, "<img src=\"%s%s\" alt=%q>\n",
		proxyPath, url.QueryEscape(src.ImageURL), html.EscapeString(src.Label))
	if src.Label != "" || src.CaptionHTML != "" {
		b.WriteString("<figcaption>")
		if src.Label != "" {
			fmt.Fprintf(b, "<strong>%s</strong> ", html.EscapeString(src.Label))
		}
		// Caption HTML is source-fidelity markup carried through the parser.
		b.WriteString(src.CaptionHTML)
		b.WriteString("</figcaption>\n")
	}
	b.WriteString("</figure>\n")
}

// writeGlossary emits the term definitions the markers point at, in ID
// order so output is stable.
func writeGlossary(b *strings.Builder, terms paper.Glossary) {
	if len(terms) == 0 {
		return
	}
	ids := make([]string, 0, len(terms))
	for id := range terms {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if len(ids[i]) != len(ids[j]) {
			return len(ids[i]) < len(ids[j])
		}
		return ids[i] < ids[j]
	})

	b.WriteString("<section class=\"glossary\">\n<h2>Glossary</h2>\n<dl>\n")
	for _, id := range ids {
		t := terms[id]
		fmt.Fprintf(b, "<dt id=\"term-%s\">%s</dt>\n", id, html.EscapeString(t.Term))
		fmt.Fprintf(b, "<dd>%s</dd>\n", html.EscapeString(t.Simple))
	}
	b.WriteString("</dl>\n</section>\n")
}
