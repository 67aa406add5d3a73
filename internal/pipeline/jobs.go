package pipeline

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/calewis/plainread/internal/paper"
)

// JobStatus is the coarse state of one pipeline run.
type JobStatus string

const (
	StatusRunning JobStatus = "running"
	StatusReady   JobStatus = "ready"
	StatusFailed  JobStatus = "failed"
)

// Job tracks one pipeline run so HTTP clients can stream or poll it. Every
// progress event is kept in order; streamers replay history and then tail,
// so a client that reconnects mid-run misses nothing.
type Job struct {
	mu sync.Mutex

	ID  string
	Ref string
	DOI string

	status  JobStatus
	events  []Event
	changed chan struct{} // closed and replaced on every append

	result *paper.Paper
	errMsg string

	CreatedAt time.Time
	updatedAt time.Time
}

func newJob(id, ref, doi string) *Job {
	now := time.Now()
	return &Job{
		ID:        id,
		Ref:       ref,
		DOI:       doi,
		status:    StatusRunning,
		changed:   make(chan struct{}),
		CreatedAt: now,
		updatedAt: now,
	}
}

// Report appends a progress event. Used as the run's Reporter.
func (j *Job) Report(e Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.appendLocked(e)
}

// Finish records the terminal outcome and appends the terminal event.
func (j *Job) Finish(p *paper.Paper, runErr error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if runErr != nil {
		j.status = StatusFailed
		j.errMsg = runErr.Error()
		j.appendLocked(Event{Status: "error", Message: j.errMsg, Progress: lastPctLocked(j.events)})
		return
	}
	j.status = StatusReady
	j.result = p
	j.appendLocked(Event{Status: "ready", Paper: p, Progress: pctComplete})
}

func (j *Job) appendLocked(e Event) {
	j.events = append(j.events, e)
	j.updatedAt = time.Now()
	close(j.changed)
	j.changed = make(chan struct{})
}

func lastPctLocked(events []Event) int {
	if len(events) == 0 {
		return 0
	}
	return events[len(events)-1].Progress
}

// EventsSince returns events after index from, a channel that is closed on
// the next append, and whether the job has already reached its terminal
// event. Streamers loop on this until done.
func (j *Job) EventsSince(from int) (events []Event, changed <-chan struct{}, done bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if from < len(j.events) {
		events = append(events, j.events[from:]...)
	}
	return events, j.changed, j.status != StatusRunning
}

// JobSnapshot is a read-only, JSON-safe copy of job state for polling.
type JobSnapshot struct {
	ID          string    `json:"job_id"`
	Ref         string    `json:"ref"`
	DOI         string    `json:"doi"`
	Status      JobStatus `json:"status"`
	Stage       Stage     `json:"stage,omitempty"`
	Message     string    `json:"message,omitempty"`
	Progress    int       `json:"progress"`
	SubProgress string    `json:"sub_progress,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Snapshot returns the job's current state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	snap := JobSnapshot{
		ID:     j.ID,
		Ref:    j.Ref,
		DOI:    j.DOI,
		Status: j.status,
		Error:  j.errMsg,
	}
	// The terminal event owns the final percentage; the preceding event
	// only contributes stage context.
	terminal := false
	for i := len(j.events) - 1; i >= 0; i-- {
		e := j.events[i]
		if e.Terminal() {
			snap.Progress = e.Progress
			terminal = true
			continue
		}
		snap.Stage = e.Stage
		snap.Message = e.Message
		snap.SubProgress = e.SubProgress
		if !terminal {
			snap.Progress = e.Progress
		}
		break
	}
	return snap
}

// Result returns the finished paper, or nil while running or failed.
func (j *Job) Result() *paper.Paper {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
// Finished jobs linger for the TTL so late pollers still get an answer.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

// Create registers a new running job for a reference.
func (s *JobStore) Create(ref, doi string) *Job {
	id := jobID(ref)
	job := newJob(id, ref, doi)
	s.mu.Lock()
	s.jobs[id] = job
	s.mu.Unlock()
	return job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Active returns a still-running job for the same DOI, if any, so repeated
// requests attach to the run already in flight instead of double-billing
// the rewrite capability.
func (s *JobStore) Active(doi string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.DOI == doi && j.Snapshot().Status == StatusRunning {
			return j
		}
	}
	return nil
}

// Cleanup removes jobs idle past the TTL.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		job.mu.Lock()
		idle := now.Sub(job.updatedAt)
		job.mu.Unlock()
		if idle > s.ttl {
			delete(s.jobs, id)
		}
	}
}

func jobID(ref string) string {
	h := sha256.Sum256(fmt.Appendf(nil, "%s-%d", ref, time.Now().UnixNano()))
	return fmt.Sprintf("%x", h[:])[:20]
}
