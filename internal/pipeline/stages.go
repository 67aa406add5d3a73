package pipeline

import (
	"fmt"

	"github.com/calewis/plainread/internal/paper"
)

// Stage names one phase of a pipeline run. Stages always advance in the
// order declared here and their percentages never decrease.
type Stage string

const (
	StageFetching  Stage = "fetching"  // 0–15%
	StageParsing   Stage = "parsing"   // 15–25%
	StageRewriting Stage = "rewriting" // 25–95%, linear in paragraphs done
	StageSaving    Stage = "saving"    // 95–100%
	StageComplete  Stage = "complete"  // 100%
)

const (
	pctFetchStart   = 0
	pctFetchMeta    = 8
	pctParseStart   = 15
	pctRewriteStart = 25
	pctRewriteEnd   = 95
	pctSaving       = 95
	pctComplete     = 100
)

// Event is one entry on the progress stream: either a progress update or
// the single terminal event (Status "ready" with the paper, or "error").
type Event struct {
	Stage       Stage  `json:"stage,omitempty"`
	Message     string `json:"message,omitempty"`
	Progress    int    `json:"progress"`
	SubProgress string `json:"sub_progress,omitempty"`

	Status string       `json:"status,omitempty"`
	Paper  *paper.Paper `json:"paper,omitempty"`
}

// Terminal reports whether this event closes the stream.
func (e Event) Terminal() bool {
	return e.Status != ""
}

// Reporter receives progress events. It is a pure sink; a nil Reporter is
// valid and makes the run silent.
type Reporter func(Event)

func progress(stage Stage, message string, pct int) Event {
	return Event{Stage: stage, Message: message, Progress: pct}
}

// rewritePct maps processed-paragraph fraction onto the rewriting band.
func rewritePct(done, total int) int {
	if total <= 0 {
		return pctRewriteEnd
	}
	return pctRewriteStart + (pctRewriteEnd-pctRewriteStart)*done/total
}

func subProgress(done, total int) string {
	return fmt.Sprintf("%d of %d", done, total)
}
