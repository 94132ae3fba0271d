package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"mediaforge/internal/domain"
	"mediaforge/internal/infra"
	"mediaforge/internal/workflow"
)

// WorkflowService is the orchestrator surface the HTTP layer depends on.
type WorkflowService interface {
	StartWorkflow(ctx context.Context, in workflow.StartInput) (*workflow.StartResult, error)
	Pause(ctx context.Context, jobID string) (*domain.Job, error)
	Resume(ctx context.Context, jobID string) (*domain.Job, error)
	Cancel(ctx context.Context, jobID string) (*domain.Job, error)
	GetStatus(ctx context.Context, jobID string) (*domain.Job, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.Job, error)
	Subscribe(jobID string) (<-chan domain.ProgressEvent, func())
}

// App carries handler dependencies.
type App struct {
	Workflows WorkflowService
	Logger    infra.Logger
}

func NewApp(workflows WorkflowService, logger infra.Logger) *App {
	return &App{Workflows: workflows, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]any{
		"error":   errCode,
		"message": message,
	})
}
