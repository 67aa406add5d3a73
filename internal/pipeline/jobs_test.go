package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/calewis/plainread/internal/paper"
)

func TestJob_EventReplayAndTail(t *testing.T) {
	job := newJob("j1", testRef, testDOI)

	job.Report(progress(StageFetching, "Fetching paper metadata", 0))
	job.Report(progress(StageParsing, "Reading paper structure", 15))

	events, changed, done := job.EventsSince(0)
	if done {
		t.Error("job still running, done must be false")
	}
	if len(events) != 2 {
		t.Fatalf("replay returned %d events, want 2", len(events))
	}
	if events[0].Stage != StageFetching || events[1].Stage != StageParsing {
		t.Errorf("replay out of order: %+v", events)
	}

	select {
	case <-changed:
		t.Fatal("changed closed before any new event")
	default:
	}

	job.Report(progress(StageRewriting, "Rewriting in plain language", 60))
	select {
	case <-changed:
	default:
		t.Fatal("changed not closed after append")
	}

	events, _, _ = job.EventsSince(2)
	if len(events) != 1 || events[0].Stage != StageRewriting {
		t.Errorf("tail events = %+v, want the single rewriting event", events)
	}
}

func TestJob_FinishReady(t *testing.T) {
	job := newJob("j1", testRef, testDOI)
	job.Report(progress(StageSaving, "Saving the rewritten paper", 95))

	p := &paper.Paper{ID: testDOI, Title: "T"}
	job.Finish(p, nil)

	events, _, done := job.EventsSince(0)
	if !done {
		t.Error("finished job must report done")
	}
	last := events[len(events)-1]
	if !last.Terminal() || last.Status != "ready" || last.Paper != p || last.Progress != 100 {
		t.Errorf("terminal event = %+v", last)
	}
	if job.Result() != p {
		t.Error("Result must return the finished paper")
	}

	snap := job.Snapshot()
	if snap.Status != StatusReady {
		t.Errorf("snapshot status = %q, want ready", snap.Status)
	}
	if snap.Progress != 100 {
		t.Errorf("snapshot progress = %d, want 100", snap.Progress)
	}
}

func TestJob_FinishError(t *testing.T) {
	job := newJob("j1", testRef, testDOI)
	job.Report(progress(StageRewriting, "Rewriting in plain language", 60))

	job.Finish(nil, errors.New("paper structure is not supported"))

	events, _, done := job.EventsSince(0)
	if !done {
		t.Error("failed job must report done")
	}
	last := events[len(events)-1]
	if last.Status != "error" || last.Message != "paper structure is not supported" {
		t.Errorf("terminal event = %+v", last)
	}
	// The terminal error inherits the last reported percentage rather than
	// jumping to 100.
	if last.Progress != 60 {
		t.Errorf("terminal progress = %d, want 60", last.Progress)
	}
	if job.Result() != nil {
		t.Error("Result must be nil for a failed job")
	}

	snap := job.Snapshot()
	if snap.Status != StatusFailed || snap.Error == "" {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.Stage != StageRewriting || snap.Message != "Rewriting in plain language" {
		t.Errorf("snapshot must keep the last non-terminal stage, got %+v", snap)
	}
}

func TestJobStore_CreateAndGet(t *testing.T) {
	store := NewJobStore(time.Hour)

	a := store.Create(testRef, testDOI)
	b := store.Create(testRef, testDOI)
	if a.ID == b.ID {
		t.Error("two jobs for the same reference must get distinct IDs")
	}
	if store.Get(a.ID) != a || store.Get(b.ID) != b {
		t.Error("Get must return the registered jobs")
	}
	if store.Get("nope") != nil {
		t.Error("unknown ID must return nil")
	}
}

func TestJobStore_ActiveFindsRunningRun(t *testing.T) {
	store := NewJobStore(time.Hour)

	job := store.Create(testRef, testDOI)
	if got := store.Active(testDOI); got != job {
		t.Fatalf("Active = %v, want the running job", got)
	}
	if got := store.Active("10.1101/2020.01.01.000001"); got != nil {
		t.Errorf("Active for another DOI = %v, want nil", got)
	}

	job.Finish(&paper.Paper{ID: testDOI}, nil)
	if got := store.Active(testDOI); got != nil {
		t.Errorf("finished job must not count as active, got %v", got)
	}
}

func TestJobStore_CleanupEvictsIdleJobs(t *testing.T) {
	store := NewJobStore(50 * time.Millisecond)

	job := store.Create(testRef, testDOI)
	time.Sleep(60 * time.Millisecond)

	store.Cleanup()
	if store.Get(job.ID) != nil {
		t.Error("idle job past the TTL must be evicted")
	}

	fresh := store.Create(testRef, testDOI)
	store.Cleanup()
	if store.Get(fresh.ID) == nil {
		t.Error("a just-created job must survive cleanup")
	}
}
