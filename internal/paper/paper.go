// Package paper defines the document model shared by the parser, the
// rewrite pipeline and the API: source-fidelity Blocks, their rewritten
// PlainBlock counterparts, the glossary, and the cached Paper aggregate.
package paper

import (
	"encoding/json"
	"fmt"
)

// BlockKind discriminates the Block/PlainBlock variants.
type BlockKind string

const (
	KindHeading   BlockKind = "heading"
	KindParagraph BlockKind = "paragraph"
	KindFigure    BlockKind = "figure"
)

// Block is one unit of the original document, in source order.
// Exactly one variant's fields are populated, selected by Kind.
type Block struct {
	Kind BlockKind `json:"kind"`

	// Heading
	Level int    `json:"level,omitempty"` // 2 for top-level sections, 3 for nested
	Text  string `json:"text,omitempty"`

	// Paragraph / Figure
	ID string `json:"id,omitempty"`

	// Paragraph
	HTML string `json:"html,omitempty"`

	// Figure
	ImageURL    string `json:"image_url,omitempty"`
	CaptionHTML string `json:"caption_html,omitempty"`
	Label       string `json:"label,omitempty"`
}

// Heading builds a heading block.
func Heading(level int, text string) Block {
	return Block{Kind: KindHeading, Level: level, Text: text}
}

// Paragraph builds a paragraph block.
func Paragraph(id, html string) Block {
	return Block{Kind: KindParagraph, ID: id, HTML: html}
}

// Figure builds a figure block.
func Figure(id, imageURL, captionHTML, label string) Block {
	return Block{Kind: KindFigure, ID: id, ImageURL: imageURL, CaptionHTML: captionHTML, Label: label}
}

// Validate checks that the block carries a known kind and the fields that
// kind requires. Decoded JSON goes through this before the pipeline trusts it.
func (b Block) Validate() error {
	switch b.Kind {
	case KindHeading:
		if b.Level != 2 && b.Level != 3 {
			return fmt.Errorf("heading level must be 2 or 3, got %d", b.Level)
		}
	case KindParagraph:
		if b.ID == "" {
			return fmt.Errorf("paragraph block missing id")
		}
	case KindFigure:
		if b.ID == "" {
			return fmt.Errorf("figure block missing id")
		}
		if b.ImageURL == "" {
			return fmt.Errorf("figure block %s missing image url", b.ID)
		}
	default:
		return fmt.Errorf("unknown block kind %q", b.Kind)
	}
	return nil
}

// PlainBlock is the rewritten counterpart to a Block: same order, same ID
// where applicable. Figures carry only the ID; their visual payload is
// resolved from the source Block at render time.
type PlainBlock struct {
	Kind BlockKind `json:"kind"`

	// Heading (copied verbatim from the source block)
	Level int    `json:"level,omitempty"`
	Text  string `json:"text,omitempty"`

	// Paragraph / Figure
	ID string `json:"id,omitempty"`

	// Paragraph
	TermIDs []string `json:"term_ids,omitempty"` // first-mention order
}

// Term is one glossary entry: the exact-case display term plus its
// plain-English explanation.
type Term struct {
	Term   string `json:"term"`
	Simple string `json:"simple"`
	More   string `json:"more,omitempty"`
}

// Glossary maps generated term IDs ("t0", "t1", ...) to terms.
type Glossary map[string]Term

// PlainDoc is the rewritten rendition of a paper: one PlainBlock per source
// Block plus the document-wide glossary.
type PlainDoc struct {
	Blocks []PlainBlock `json:"blocks"`
	Terms  Glossary     `json:"terms"`
}

// Paper is the cached aggregate for one processed document. It is built once
// per successful pipeline run and treated as immutable afterwards; a forced
// recompute overwrites it wholesale.
type Paper struct {
	ID        string   `json:"id"` // stable identifier (the DOI)
	SourceRef string   `json:"source_ref"`
	Title     string   `json:"title"`
	Authors   []string `json:"authors"`
	License   string   `json:"license,omitempty"`
	Blocks    []Block  `json:"blocks"`
	Plain     PlainDoc `json:"plain"`
}

// Decode parses a serialized Paper and validates every block, rejecting
// payloads whose shape does not match the model.
func Decode(data []byte) (*Paper, error) {
	var p Paper
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode paper: %w", err)
	}
	for i, b := range p.Blocks {
		if err := b.Validate(); err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
	}
	if len(p.Plain.Blocks) != len(p.Blocks) {
		return nil, fmt.Errorf("plain blocks (%d) do not match source blocks (%d)",
			len(p.Plain.Blocks), len(p.Blocks))
	}
	return &p, nil
}

// Encode serializes a Paper for the document store.
func (p *Paper) Encode() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode paper: %w", err)
	}
	return data, nil
}

// BlockByID returns the source block with the given ID, or nil. Used at
// render time to resolve figure payloads from their PlainBlock pointers.
func (p *Paper) BlockByID(id string) *Block {
	for i := range p.Blocks {
		switch p.Blocks[i].Kind {
		case KindParagraph, KindFigure:
			if p.Blocks[i].ID == id {
				return &p.Blocks[i]
			}
		case KindHeading:
			// headings have no ID
		}
	}
	return nil
}
