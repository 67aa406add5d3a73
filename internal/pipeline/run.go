// Package pipeline drives one end-to-end run: cache check, fetch, parse,
// sequential per-paragraph rewrite with glossary accumulation, cache write.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/calewis/plainread/internal/docstore"
	"github.com/calewis/plainread/internal/paper"
	"github.com/calewis/plainread/internal/parser"
	"github.com/calewis/plainread/internal/rewrite"
	"github.com/calewis/plainread/internal/source"
)

var (
	// ErrInvalidReference means the input is not a supported paper URL.
	// Rejected before any network I/O.
	ErrInvalidReference = errors.New("not a supported paper reference")

	// ErrUnavailable means metadata could not be fetched; the caller may
	// suggest trying again later.
	ErrUnavailable = errors.New("paper is not available right now")

	// ErrUnsupportedStructure means content was fetched but produced no
	// blocks. Distinct from ErrUnavailable: retrying will not help.
	ErrUnsupportedStructure = errors.New("paper structure is not supported")
)

// Source fetches metadata and raw markup for a paper. Satisfied by
// *source.Client and by test fakes.
type Source interface {
	FetchMetadata(ctx context.Context, doi string) (*source.Metadata, error)
	FetchFullText(ctx context.Context, ref string) ([]byte, error)
}

// Runner executes pipeline runs. Each run is strictly sequential: the
// glossary and progress accounting are fold state with no concurrent merge
// rule, and one rewrite call is in flight at a time per document.
type Runner struct {
	src        Source
	rewriter   rewrite.Rewriter
	store      docstore.Store
	log        *slog.Logger
	parserOpts parser.Options
}

func NewRunner(src Source, rw rewrite.Rewriter, store docstore.Store, log *slog.Logger, parserOpts parser.Options) *Runner {
	return &Runner{
		src:        src,
		rewriter:   rw,
		store:      store,
		log:        log,
		parserOpts: parserOpts,
	}
}

// Run processes one reference. The cache is consulted first unless force is
// set; a forced run unconditionally overwrites the cached entry. The
// returned paper is immutable from the caller's point of view.
func (r *Runner) Run(ctx context.Context, ref string, force bool, report Reporter) (*paper.Paper, error) {
	if report == nil {
		report = func(Event) {}
	}

	doi := source.ExtractDOI(ref)
	if doi == "" {
		return nil, ErrInvalidReference
	}
	key := source.CacheKey(doi)
	log := r.log.With("doi", doi)

	if !force {
		cached, err := r.store.GetPaper(ctx, key)
		if err != nil {
			log.Warn("cache lookup failed, recomputing", "error", err)
		}
		if cached != nil {
			log.Info("cache hit")
			report(progress(StageComplete, "Loaded from cache", pctComplete))
			return cached, nil
		}
	}

	report(progress(StageFetching, "Fetching paper metadata", pctFetchStart))
	meta, err := r.src.FetchMetadata(ctx, doi)
	if err != nil {
		log.Warn("metadata fetch failed", "error", err)
	}
	if meta == nil {
		return nil, ErrUnavailable
	}
	report(progress(StageFetching, "Fetching full text", pctFetchMeta))

	raw, err := r.src.FetchFullText(ctx, ref)
	if err != nil {
		// Treated the same as "full text not offered": degrade to abstract.
		log.Warn("full text fetch failed, using abstract", "error", err)
		raw = nil
	}

	report(progress(StageParsing, "Reading paper structure", pctParseStart))
	blocks, err := r.parse(raw, meta, log)
	if err != nil {
		return nil, err
	}
	report(progress(StageParsing, "Structure recognized", pctRewriteStart))

	plainBlocks, glossary, err := r.rewriteBlocks(ctx, blocks, report, log)
	if err != nil {
		return nil, err
	}

	report(progress(StageSaving, "Saving the rewritten paper", pctSaving))
	p := &paper.Paper{
		ID:        doi,
		SourceRef: ref,
		Title:     meta.Title,
		Authors:   meta.Authors,
		License:   meta.License,
		Blocks:    blocks,
		Plain: paper.PlainDoc{
			Blocks: plainBlocks,
			Terms:  glossary,
		},
	}
	if err := r.store.PutPaper(ctx, key, p); err != nil {
		// The result is still valid; only idempotency is lost.
		log.Error("cache write failed", "error", err)
	}

	report(progress(StageComplete, "Done", pctComplete))
	log.Info("pipeline complete", "blocks", len(blocks), "terms", len(glossary))
	return p, nil
}

// parse picks the full-text or abstract-only path and enforces the
// zero-blocks hard stop.
func (r *Runner) parse(raw []byte, meta *source.Metadata, log *slog.Logger) ([]paper.Block, error) {
	if raw == nil {
		if meta.Abstract == "" {
			return nil, ErrUnsupportedStructure
		}
		log.Info("full text unavailable, abstract-only fallback")
		return parser.ParseAbstractOnly(meta.Abstract), nil
	}

	blocks, err := parser.ParseFullText(raw, meta.Abstract, r.parserOpts)
	if err != nil {
		log.Warn("full text parse failed", "error", err)
		blocks = nil
	}
	if len(blocks) == 0 {
		return nil, ErrUnsupportedStructure
	}
	return blocks, nil
}

// rewriteBlocks walks the block sequence in order, rewriting paragraphs one
// at a time. A failed rewrite degrades that paragraph to its stripped
// original text with no terms; it never aborts the run.
func (r *Runner) rewriteBlocks(ctx context.Context, blocks []paper.Block, report Reporter, log *slog.Logger) ([]paper.PlainBlock, paper.Glossary, error) {
	total := 0
	for _, b := range blocks {
		if b.Kind == paper.KindParagraph {
			total++
		}
	}

	acc := newGlossaryAcc()
	plain := make([]paper.PlainBlock, 0, len(blocks))
	done := 0

	for _, b := range blocks {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		switch b.Kind {
		case paper.KindHeading:
			plain = append(plain, paper.PlainBlock{Kind: paper.KindHeading, Level: b.Level, Text: b.Text})

		case paper.KindFigure:
			plain = append(plain, paper.PlainBlock{Kind: paper.KindFigure, ID: b.ID})

		case paper.KindParagraph:
			text := parser.CollapseWhitespace(parser.StripMarkup(b.HTML))
			res, err := r.rewriter.Rewrite(ctx, text)
			if err != nil {
				if ctx.Err() != nil {
					return nil, nil, ctx.Err()
				}
				log.Warn("rewrite degraded", "paragraph", b.ID, "error", err)
				res = &rewrite.Result{Plain: text}
			}

			var termIDs []string
			seen := make(map[string]bool)
			for _, cand := range res.Terms {
				id := acc.add(cand)
				if !seen[id] {
					seen[id] = true
					termIDs = append(termIDs, id)
				}
			}
			plain = append(plain, paper.PlainBlock{
				Kind:    paper.KindParagraph,
				ID:      b.ID,
				Text:    res.Plain,
				TermIDs: termIDs,
			})

			done++
			report(Event{
				Stage:       StageRewriting,
				Message:     "Rewriting in plain language",
				Progress:    rewritePct(done, total),
				SubProgress: subProgress(done, total),
			})

		default:
			return nil, nil, fmt.Errorf("unknown block kind %q", b.Kind)
		}
	}

	return plain, acc.terms, nil
}
