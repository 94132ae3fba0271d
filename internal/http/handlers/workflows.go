package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"mediaforge/internal/domain"
	"mediaforge/internal/workflow"
)

type startWorkflowRequest struct {
	UserID    string           `json:"user_id"`
	ProjectID string           `json:"project_id,omitempty"`
	Config    domain.JobConfig `json:"config"`
}

type startWorkflowResponse struct {
	JobID                    string `json:"job_id"`
	Status                   string `json:"status"`
	EstimatedCostCredits     int    `json:"estimated_cost_credits"`
	EstimatedDurationSeconds int    `json:"estimated_duration_seconds"`
}

type jobResponse struct {
	JobID           string            `json:"job_id"`
	UserID          string            `json:"user_id"`
	ProjectID       string            `json:"project_id,omitempty"`
	WorkflowType    string            `json:"workflow_type"`
	Status          string            `json:"status"`
	ProgressPercent int               `json:"progress_percent"`
	CostDeducted    int               `json:"cost_deducted"`
	ResultRefs      domain.ResultRefs `json:"result_refs"`
	PausedFrom      string            `json:"paused_from,omitempty"`
	Error           string            `json:"error,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	StartedAt       *time.Time        `json:"started_at,omitempty"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
}

func toJobResponse(job *domain.Job) jobResponse {
	resp := jobResponse{
		JobID:           job.ID,
		UserID:          job.UserID,
		ProjectID:       job.ProjectID,
		WorkflowType:    string(job.Type),
		Status:          string(job.Status),
		ProgressPercent: job.ProgressPercent,
		CostDeducted:    job.TotalCostCredits,
		ResultRefs:      job.ResultRefs,
		Error:           job.ErrorMessage,
		CreatedAt:       job.CreatedAt,
		StartedAt:       job.StartedAt,
		CompletedAt:     job.CompletedAt,
	}
	if job.Pause != nil {
		resp.PausedFrom = string(job.Pause.PausedFromStatus)
	}
	return resp
}

// StartWorkflow admits a new workflow behind the credit gate.
func (a *App) StartWorkflow(w http.ResponseWriter, r *http.Request) {
	var req startWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	res, err := a.Workflows.StartWorkflow(r.Context(), workflow.StartInput{
		UserID:    req.UserID,
		ProjectID: req.ProjectID,
		Config:    req.Config,
	})
	if err != nil {
		a.workflowError(w, err)
		return
	}
	a.json(w, http.StatusAccepted, startWorkflowResponse{
		JobID:                    res.JobID,
		Status:                   string(domain.JobStatusQueued),
		EstimatedCostCredits:     res.EstimatedCostCredits,
		EstimatedDurationSeconds: res.EstimatedDurationSeconds,
	})
}

// WorkflowStatus returns the job's last durably committed state.
func (a *App) WorkflowStatus(w http.ResponseWriter, r *http.Request) {
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
	a.json(w, http.StatusOK, toJobResponse(job))
}

// ListWorkflows returns a user's recent jobs.
func (a *App) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "user_id required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	jobs, err := a.Workflows.ListByUser(r.Context(), userID, limit)
	if err != nil {
		a.workflowError(w, err)
		return
	}
	items := make([]jobResponse, 0, len(jobs))
	for i := range jobs {
		items = append(items, toJobResponse(&jobs[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

// PauseWorkflow pauses a running job at its next step boundary.
func (a *App) PauseWorkflow(w http.ResponseWriter, r *http.Request) {
	a.control(w, r, a.Workflows.Pause)
}

// ResumeWorkflow returns a paused job to its recorded step.
func (a *App) ResumeWorkflow(w http.ResponseWriter, r *http.Request) {
	a.control(w, r, a.Workflows.Resume)
}

// CancelWorkflow requests cooperative cancellation.
func (a *App) CancelWorkflow(w http.ResponseWriter, r *http.Request) {
	a.control(w, r, a.Workflows.Cancel)
}

func (a *App) control(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, jobID string) (*domain.Job, error)) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}
	job, err := op(r.Context(), jobID)
	if err != nil {
		a.workflowError(w, err)
		return
	}
	a.json(w, http.StatusOK, toJobResponse(job))
}

func (a *App) workflowError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidConfig):
		a.error(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, domain.ErrInsufficientCredits):
		a.error(w, http.StatusPaymentRequired, "insufficient_credits", "not enough credits for this workflow")
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "job not found")
	case errors.Is(err, domain.ErrIllegalTransition):
		a.error(w, http.StatusConflict, "illegal_transition", err.Error())
	default:
		a.Logger.Error().Err(err).Msg("handlers: workflow request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
