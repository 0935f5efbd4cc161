package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/MimeLyc/contextual-book-translator/internal/jobs"
)

// handleJobStream pushes the job list as server-sent events. With a run
// query parameter only that run's jobs are sent.
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	runID := r.URL.Query().Get("run")
	send := func() bool {
		payload, err := json.Marshal(s.jobList(runID))
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send() {
		return
	}

	ticker := time.NewTicker(s.streamEvery)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if !send() {
				return
			}
		}
	}
}

func (s *Server) jobList(runID string) []*jobs.Job {
	all := s.svc.Jobs()
	if runID == "" {
		return all
	}
	out := make([]*jobs.Job, 0, len(all))
	for _, job := range all {
		if job.RunID == runID {
			out = append(out, job)
		}
	}
	return out
}
