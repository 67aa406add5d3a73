package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/calewis/plainread/internal/paper"
	"github.com/calewis/plainread/internal/pipeline"
	"github.com/calewis/plainread/internal/render"
	"github.com/calewis/plainread/internal/source"
)

type startRunRequest struct {
	Ref   string `json:"ref"`
	Force bool   `json:"force"`
}

// handleStartRun validates the reference and starts (or attaches to) a
// pipeline run. Validation happens before any network I/O.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if !source.IsSupportedReference(req.Ref) {
		jsonError(w, pipeline.ErrInvalidReference.Error(), http.StatusBadRequest)
		return
	}
	doi := source.ExtractDOI(req.Ref)

	// Attach to a run already in flight for the same paper instead of
	// paying for the rewrite twice.
	if !req.Force {
		if active := s.jobs.Active(doi); active != nil {
			s.writeJobAccepted(w, active)
			return
		}
	}

	job := s.jobs.Create(req.Ref, doi)

	// The run is detached from the request context: a client that drops
	// its stream can reconnect or poll, and the result still lands in the
	// cache.
	go func() {
		p, err := s.runner.Run(context.Background(), job.Ref, req.Force, job.Report)
		if err != nil {
			s.log.Error("pipeline run failed", "job_id", job.ID, "doi", job.DOI, "error", err)
		}
		job.Finish(p, userFacing(err))
	}()

	s.writeJobAccepted(w, job)
}

func (s *Server) writeJobAccepted(w http.ResponseWriter, job *pipeline.Job) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"job_id":     job.ID,
		"doi":        job.DOI,
		"events_url": fmt.Sprintf("/api/papers/%s/events", job.ID),
		"poll_url":   fmt.Sprintf("/api/papers/%s/status", job.ID),
	})
}

// handleRunEvents streams a job's progress as server-sent events. History
// is replayed first, so reconnecting clients see every event; exactly one
// terminal event ends the stream.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	job := s.jobs.Get(chi.URLParam(r, "jobID"))
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonError(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	idx := 0
	for {
		events, changed, done := job.EventsSince(idx)
		for _, e := range events {
			data, err := json.Marshal(e)
			if err != nil {
				s.log.Error("marshal event", "error", err)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
		}
		idx += len(events)
		flusher.Flush()

		if done {
			return
		}
		select {
		case <-changed:
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	job := s.jobs.Get(chi.URLParam(r, "jobID"))
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job.Snapshot())
}

// handleGetPaper serves a processed paper straight from the cache.
func (s *Server) handleGetPaper(w http.ResponseWriter, r *http.Request) {
	p, ok := s.cachedPaper(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(p)
}

// handleGetPaperHTML serves the rendered plain-language rendition.
func (s *Server) handleGetPaperHTML(w http.ResponseWriter, r *http.Request) {
	p, ok := s.cachedPaper(w, r)
	if !ok {
		return
	}
	page, err := render.PlainHTML(p, render.Options{})
	if err != nil {
		s.log.Error("render failed", "doi", p.ID, "error", err)
		jsonError(w, "failed to render paper", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(page))
}

func (s *Server) cachedPaper(w http.ResponseWriter, r *http.Request) (*paper.Paper, bool) {
	doi := r.URL.Query().Get("doi")
	if doi == "" {
		jsonError(w, "doi query parameter is required", http.StatusBadRequest)
		return nil, false
	}
	p, err := s.store.GetPaper(r.Context(), source.CacheKey(doi))
	if err != nil {
		s.log.Error("cache read failed", "doi", doi, "error", err)
		jsonError(w, "failed to load paper", http.StatusInternalServerError)
		return nil, false
	}
	if p == nil {
		jsonError(w, "paper not processed yet", http.StatusNotFound)
		return nil, false
	}
	return p, true
}

// userFacing maps pipeline failures onto the messages clients see. The
// taxonomy errors keep their specific wording; anything unanticipated
// becomes a generic failure so internals never leak.
func userFacing(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pipeline.ErrInvalidReference),
		errors.Is(err, pipeline.ErrUnavailable),
		errors.Is(err, pipeline.ErrUnsupportedStructure):
		return err
	default:
		return errors.New("something went wrong while processing this paper")
	}
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
