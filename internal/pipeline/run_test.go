package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/calewis/plainread/internal/paper"
	"github.com/calewis/plainread/internal/parser"
	"github.com/calewis/plainread/internal/rewrite"
	"github.com/calewis/plainread/internal/source"
)

const (
	testRef = "https://www.biorxiv.org/content/10.1101/2023.01.15.524098v2"
	testDOI = "10.1101/2023.01.15.524098"
)

type fakeSource struct {
	metaCalls int
	textCalls int
	meta      *source.Metadata
	metaErr   error
	raw       []byte
	rawErr    error
}

func (f *fakeSource) FetchMetadata(ctx context.Context, doi string) (*source.Metadata, error) {
	f.metaCalls++
	return f.meta, f.metaErr
}

func (f *fakeSource) FetchFullText(ctx context.Context, ref string) ([]byte, error) {
	f.textCalls++
	return f.raw, f.rawErr
}

type fakeRewriter struct {
	calls int
	fn    func(text string) (*rewrite.Result, error)
}

func (f *fakeRewriter) Rewrite(ctx context.Context, text string) (*rewrite.Result, error) {
	f.calls++
	if f.fn != nil {
		return f.fn(text)
	}
	return &rewrite.Result{Plain: "plain: " + text}, nil
}

type fakeStore struct {
	papers   map[string]*paper.Paper
	getCalls int
	putCalls int
	getErr   error
	putErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{papers: make(map[string]*paper.Paper)}
}

func (f *fakeStore) GetPaper(ctx context.Context, key string) (*paper.Paper, error) {
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.papers[key], nil
}

func (f *fakeStore) PutPaper(ctx context.Context, key string, p *paper.Paper) error {
	f.putCalls++
	if f.putErr != nil {
		return f.putErr
	}
	f.papers[key] = p
	return nil
}

func testRunner(src Source, rw rewrite.Rewriter, store *fakeStore) *Runner {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRunner(src, rw, store, log, parser.Options{MinParagraphChars: 10})
}

func testMeta() *source.Metadata {
	return &source.Metadata{
		DOI:      testDOI,
		Title:    "A Study of Things",
		Authors:  []string{"Doe, J."},
		Abstract: "We looked at many things.\n\nThen we looked again.",
	}
}

func twoParagraphJATS() []byte {
	return []byte(`<article><body>
	<sec><title>Results</title>
	<p>First paragraph about the protein under study.</p>
	<p>Second paragraph about the same protein, measured again.</p>
	</sec></body></article>`)
}

func TestRun_InvalidReferenceBeforeAnyIO(t *testing.T) {
	src := &fakeSource{}
	store := newFakeStore()
	r := testRunner(src, &fakeRewriter{}, store)

	_, err := r.Run(context.Background(), "https://example.com/not-a-paper", false, nil)
	if !errors.Is(err, ErrInvalidReference) {
		t.Fatalf("expected ErrInvalidReference, got %v", err)
	}
	if src.metaCalls != 0 || src.textCalls != 0 {
		t.Errorf("fetch calls before validation: meta=%d text=%d", src.metaCalls, src.textCalls)
	}
	if store.getCalls != 0 {
		t.Errorf("cache consulted before validation: %d", store.getCalls)
	}
}

func TestRun_CacheHitShortCircuits(t *testing.T) {
	src := &fakeSource{}
	rw := &fakeRewriter{}
	store := newFakeStore()
	cached := &paper.Paper{ID: testDOI, Title: "Cached"}
	store.papers[source.CacheKey(testDOI)] = cached

	r := testRunner(src, rw, store)
	var events []Event
	got, err := r.Run(context.Background(), testRef, false, func(e Event) { events = append(events, e) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != cached {
		t.Error("expected the cached paper back")
	}
	if src.metaCalls != 0 || src.textCalls != 0 || rw.calls != 0 {
		t.Error("cache hit must not fetch or rewrite")
	}
	if len(events) != 1 || events[0].Stage != StageComplete || events[0].Progress != 100 {
		t.Errorf("expected a single complete event, got %+v", events)
	}
}

func TestRun_ForceBypassesCache(t *testing.T) {
	src := &fakeSource{meta: testMeta(), raw: twoParagraphJATS()}
	store := newFakeStore()
	store.papers[source.CacheKey(testDOI)] = &paper.Paper{ID: testDOI, Title: "Stale"}

	r := testRunner(src, &fakeRewriter{}, store)
	got, err := r.Run(context.Background(), testRef, true, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if src.metaCalls != 1 {
		t.Errorf("expected a fresh fetch, meta calls = %d", src.metaCalls)
	}
	if got.Title != "A Study of Things" {
		t.Errorf("expected recomputed paper, got %q", got.Title)
	}
	if stored := store.papers[source.CacheKey(testDOI)]; stored != got {
		t.Error("forced run must overwrite the cache entry")
	}
}

func TestRun_MetadataMissIsUnavailable(t *testing.T) {
	src := &fakeSource{meta: nil}
	r := testRunner(src, &fakeRewriter{}, newFakeStore())

	_, err := r.Run(context.Background(), testRef, false, nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestRun_MetadataTransientFailureIsUnavailable(t *testing.T) {
	src := &fakeSource{meta: nil, metaErr: errors.New("rate limited")}
	r := testRunner(src, &fakeRewriter{}, newFakeStore())

	_, err := r.Run(context.Background(), testRef, false, nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestRun_FullTextMissFallsBackToAbstract(t *testing.T) {
	src := &fakeSource{meta: testMeta(), raw: nil}
	r := testRunner(src, &fakeRewriter{}, newFakeStore())

	got, err := r.Run(context.Background(), testRef, false, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var headings []string
	for _, b := range got.Blocks {
		if b.Kind == paper.KindHeading {
			headings = append(headings, b.Text)
		}
	}
	if len(headings) != 2 || headings[0] != "Abstract" || headings[1] != "Note" {
		t.Errorf("fallback headings = %v, want [Abstract Note]", headings)
	}
	if len(got.Blocks) == 0 {
		t.Fatal("fallback must produce a non-empty block sequence")
	}
}

func TestRun_ZeroBlocksIsUnsupportedStructure(t *testing.T) {
	src := &fakeSource{
		meta: &source.Metadata{DOI: testDOI, Title: "T"},
		raw:  []byte(`<article><body></body></article>`),
	}
	r := testRunner(src, &fakeRewriter{}, newFakeStore())

	_, err := r.Run(context.Background(), testRef, false, nil)
	if !errors.Is(err, ErrUnsupportedStructure) {
		t.Fatalf("expected ErrUnsupportedStructure, got %v", err)
	}
}

func TestRun_GlossaryDedupAcrossParagraphs(t *testing.T) {
	meta := testMeta()
	meta.Abstract = ""
	rw := &fakeRewriter{fn: func(text string) (*rewrite.Result, error) {
		if strings.Contains(text, "First") {
			return &rewrite.Result{
				Plain: "Simple first text about Protein X.",
				Terms: []rewrite.Candidate{{Term: "Protein X", Simple: "a protein"}},
			}, nil
		}
		return &rewrite.Result{
			Plain: "Simple second text about protein x.",
			Terms: []rewrite.Candidate{{Term: "protein x", Simple: "same protein, other casing"}},
		}, nil
	}}
	src := &fakeSource{meta: meta, raw: twoParagraphJATS()}
	r := testRunner(src, rw, newFakeStore())

	got, err := r.Run(context.Background(), testRef, false, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(got.Plain.Terms) != 1 {
		t.Fatalf("expected one deduplicated glossary entry, got %d: %+v", len(got.Plain.Terms), got.Plain.Terms)
	}
	term := got.Plain.Terms["t0"]
	if term.Term != "Protein X" {
		t.Errorf("first occurrence's casing must win, got %q", term.Term)
	}
	if term.Simple != "a protein" {
		t.Errorf("first occurrence's explanation must win, got %q", term.Simple)
	}

	var paraTerms [][]string
	for _, pb := range got.Plain.Blocks {
		if pb.Kind == paper.KindParagraph {
			paraTerms = append(paraTerms, pb.TermIDs)
		}
	}
	if len(paraTerms) != 2 {
		t.Fatalf("expected 2 rewritten paragraphs, got %d", len(paraTerms))
	}
	for i, ids := range paraTerms {
		if len(ids) != 1 || ids[0] != "t0" {
			t.Errorf("paragraph %d term ids = %v, want [t0]", i, ids)
		}
	}
}

func TestRun_RewriteFailureDegradesParagraph(t *testing.T) {
	meta := testMeta()
	meta.Abstract = ""
	rw := &fakeRewriter{fn: func(text string) (*rewrite.Result, error) {
		if strings.Contains(text, "First") {
			return nil, errors.New("model unavailable")
		}
		return &rewrite.Result{Plain: "Rewritten fine."}, nil
	}}
	src := &fakeSource{meta: meta, raw: twoParagraphJATS()}
	r := testRunner(src, rw, newFakeStore())

	got, err := r.Run(context.Background(), testRef, false, nil)
	if err != nil {
		t.Fatalf("a single paragraph failure must not abort the run: %v", err)
	}

	var paras []paper.PlainBlock
	for _, pb := range got.Plain.Blocks {
		if pb.Kind == paper.KindParagraph {
			paras = append(paras, pb)
		}
	}
	if len(paras) != 2 {
		t.Fatalf("expected 2 paragraphs, got %d", len(paras))
	}
	if !strings.Contains(paras[0].Text, "First paragraph about the protein") {
		t.Errorf("degraded paragraph must keep the stripped original, got %q", paras[0].Text)
	}
	if len(paras[0].TermIDs) != 0 {
		t.Errorf("degraded paragraph must have no terms, got %v", paras[0].TermIDs)
	}
	if paras[1].Text != "Rewritten fine." {
		t.Errorf("other paragraphs unaffected, got %q", paras[1].Text)
	}
}

func TestRun_PlainBlocksMirrorSourceBlocks(t *testing.T) {
	src := &fakeSource{meta: testMeta(), raw: twoParagraphJATS()}
	r := testRunner(src, &fakeRewriter{}, newFakeStore())

	got, err := r.Run(context.Background(), testRef, false, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Plain.Blocks) != len(got.Blocks) {
		t.Fatalf("plain blocks %d != source blocks %d", len(got.Plain.Blocks), len(got.Blocks))
	}
	for i := range got.Blocks {
		if got.Blocks[i].Kind != got.Plain.Blocks[i].Kind {
			t.Errorf("block %d: kind %q vs plain %q", i, got.Blocks[i].Kind, got.Plain.Blocks[i].Kind)
		}
		if got.Blocks[i].Kind == paper.KindParagraph && got.Blocks[i].ID != got.Plain.Blocks[i].ID {
			t.Errorf("block %d: id %q vs plain %q", i, got.Blocks[i].ID, got.Plain.Blocks[i].ID)
		}
	}
}

func TestRun_ProgressIsMonotonic(t *testing.T) {
	src := &fakeSource{meta: testMeta(), raw: twoParagraphJATS()}
	r := testRunner(src, &fakeRewriter{}, newFakeStore())

	var events []Event
	_, err := r.Run(context.Background(), testRef, false, func(e Event) { events = append(events, e) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) < 5 {
		t.Fatalf("expected a full event sequence, got %d events", len(events))
	}

	last := -1
	for i, e := range events {
		if e.Progress < last {
			t.Errorf("event %d: progress %d dropped below %d", i, e.Progress, last)
		}
		last = e.Progress
	}

	final := events[len(events)-1]
	if final.Stage != StageComplete || final.Progress != 100 {
		t.Errorf("final event = %+v, want complete at 100", final)
	}

	var rewriting []Event
	for _, e := range events {
		if e.Stage == StageRewriting {
			rewriting = append(rewriting, e)
		}
	}
	// testMeta's abstract adds one synthetic paragraph on top of the two
	// body paragraphs.
	if len(rewriting) != 3 {
		t.Fatalf("expected 3 rewriting events, got %d", len(rewriting))
	}
	for i, e := range rewriting {
		want := fmt.Sprintf("%d of 3", i+1)
		if e.SubProgress != want {
			t.Errorf("rewriting event %d: sub progress %q, want %q", i, e.SubProgress, want)
		}
		if e.Progress < 25 || e.Progress > 95 {
			t.Errorf("rewriting event %d: progress %d outside band", i, e.Progress)
		}
	}
}

func TestRun_CacheWriteFailureIsNotFatal(t *testing.T) {
	src := &fakeSource{meta: testMeta(), raw: twoParagraphJATS()}
	store := newFakeStore()
	store.putErr = errors.New("store down")
	r := testRunner(src, &fakeRewriter{}, store)

	got, err := r.Run(context.Background(), testRef, false, nil)
	if err != nil {
		t.Fatalf("cache write failure must not fail the run: %v", err)
	}
	if got == nil {
		t.Fatal("expected a paper despite the failed write")
	}
}
