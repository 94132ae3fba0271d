package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// WorkflowEvents streams a job's progress events as server-sent events.
// The stream carries no history: a late subscriber only sees events going
// forward, and the status endpoint is the fallback for point-in-time
// state. The stream closes after the job's terminal event.
func (a *App) WorkflowEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}
	job, err := a.Workflows.GetStatus(r.Context(), jobID)
	if err != nil {
		a.workflowError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		a.error(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if job.Status.Terminal() {
		// Nothing further will ever fire; close immediately.
		fmt.Fprintf(w, ": job already %s\n\n", job.Status)
		flusher.Flush()
		return
	}

	events, cancel := a.Workflows.Subscribe(jobID)
	defer cancel()

	// The job can reach a terminal state between the status read and the
	// subscription. The terminal event then lands on the old topic and this
	// channel never closes, so re-check once after subscribing.
	job, err = a.Workflows.GetStatus(r.Context(), jobID)
	if err != nil {
		a.workflowError(w, err)
		return
	}
	if job.Status.Terminal() {
		fmt.Fprintf(w, ": job already %s\n\n", job.Status)
		flusher.Flush()
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
			if ev.Terminal() {
				return
			}
		}
	}
}
