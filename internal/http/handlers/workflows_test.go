package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mediaforge/internal/domain"
	"mediaforge/internal/http/handlers"
	"mediaforge/internal/http/httpapi"
	"mediaforge/internal/workflow"
)

// fakeService scripts the orchestrator surface.
type fakeService struct {
	startRes  *workflow.StartResult
	startErr  error
	lastInput workflow.StartInput

	job    *domain.Job
	jobErr error

	list    []domain.Job
	listErr error

	events chan domain.ProgressEvent

	// when set, Subscribe swaps the job in, modelling a job that reaches a
	// terminal state between the status read and the subscription
	jobAfterSubscribe *domain.Job
}

func (f *fakeService) StartWorkflow(ctx context.Context, in workflow.StartInput) (*workflow.StartResult, error) {
	f.lastInput = in
	return f.startRes, f.startErr
}

func (f *fakeService) Pause(ctx context.Context, jobID string) (*domain.Job, error) {
	return f.job, f.jobErr
}

func (f *fakeService) Resume(ctx context.Context, jobID string) (*domain.Job, error) {
	return f.job, f.jobErr
}

func (f *fakeService) Cancel(ctx context.Context, jobID string) (*domain.Job, error) {
	return f.job, f.jobErr
}

func (f *fakeService) GetStatus(ctx context.Context, jobID string) (*domain.Job, error) {
	return f.job, f.jobErr
}

func (f *fakeService) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Job, error) {
	return f.list, f.listErr
}

func (f *fakeService) Subscribe(jobID string) (<-chan domain.ProgressEvent, func()) {
	if f.jobAfterSubscribe != nil {
		f.job = f.jobAfterSubscribe
	}
	return f.events, func() {}
}

func newTestRouter(svc *fakeService) http.Handler {
	logger := zerolog.Nop()
	return httpapi.NewRouter(handlers.NewApp(svc, logger), 0)
}

func doJSON(t *testing.T, router http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	decoded := map[string]any{}
	if rec.Body.Len() > 0 && strings.Contains(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("response is not valid JSON: %v\n%s", err, rec.Body.String())
		}
	}
	return rec, decoded
}

func sampleJob() *domain.Job {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &domain.Job{
		ID:               "job-1",
		UserID:           "alice",
		ProjectID:        "proj-1",
		Type:             domain.WorkflowComplete,
		Status:           domain.JobStatusGeneratingVideo,
		Config:           domain.JobConfig{Complete: &domain.CompleteConfig{Prompt: "a lighthouse"}},
		TotalCostCredits: 20,
		ProgressPercent:  50,
		ResultRefs:       domain.ResultRefs{EnhancedPrompt: "enhanced: a lighthouse", ImageURL: "https://cdn.test/i.png"},
		CreatedAt:        now,
		StartedAt:        &now,
	}
}

func TestStartWorkflowAccepted(t *testing.T) {
	svc := &fakeService{startRes: &workflow.StartResult{
		JobID:                    "job-1",
		EstimatedCostCredits:     20,
		EstimatedDurationSeconds: 171,
	}}
	router := newTestRouter(svc)

	body := `{"user_id":"alice","project_id":"proj-1","config":{"complete":{"prompt":"a lighthouse"}}}`
	rec, resp := doJSON(t, router, http.MethodPost, "/v1/workflows", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202\n%s", rec.Code, rec.Body.String())
	}
	if resp["job_id"] != "job-1" {
		t.Fatalf("job_id = %v, want job-1", resp["job_id"])
	}
	if resp["status"] != "QUEUED" {
		t.Fatalf("status = %v, want QUEUED", resp["status"])
	}
	if resp["estimated_cost_credits"] != float64(20) {
		t.Fatalf("estimated_cost_credits = %v, want 20", resp["estimated_cost_credits"])
	}
	if svc.lastInput.UserID != "alice" {
		t.Fatalf("service received user %q, want alice", svc.lastInput.UserID)
	}
	if svc.lastInput.Config.Complete == nil || svc.lastInput.Config.Complete.Prompt != "a lighthouse" {
		t.Fatalf("service received config %#v", svc.lastInput.Config)
	}
}

func TestStartWorkflowErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"invalid config", domain.ErrInvalidConfig, http.StatusBadRequest, "validation_error"},
		{"insufficient credits", domain.ErrInsufficientCredits, http.StatusPaymentRequired, "insufficient_credits"},
		{"internal", context.DeadlineExceeded, http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&fakeService{startErr: tt.err})
			body := `{"user_id":"alice","config":{"complete":{"prompt":"x"}}}`
			rec, resp := doJSON(t, router, http.MethodPost, "/v1/workflows", body)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if resp["error"] != tt.wantErr {
				t.Fatalf("error = %v, want %s", resp["error"], tt.wantErr)
			}
		})
	}
}

func TestStartWorkflowRejectsMalformedBody(t *testing.T) {
	router := newTestRouter(&fakeService{})
	rec, resp := doJSON(t, router, http.MethodPost, "/v1/workflows", `{"user_id":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if resp["error"] != "bad_request" {
		t.Fatalf("error = %v, want bad_request", resp["error"])
	}
}

func TestWorkflowStatus(t *testing.T) {
	svc := &fakeService{job: sampleJob()}
	router := newTestRouter(svc)

	rec, resp := doJSON(t, router, http.MethodGet, "/v1/workflows/job-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if resp["job_id"] != "job-1" || resp["status"] != "GENERATING_VIDEO" {
		t.Fatalf("unexpected body: %v", resp)
	}
	if resp["progress_percent"] != float64(50) {
		t.Fatalf("progress_percent = %v, want 50", resp["progress_percent"])
	}
	if resp["cost_deducted"] != float64(20) {
		t.Fatalf("cost_deducted = %v, want 20", resp["cost_deducted"])
	}
	refs, ok := resp["result_refs"].(map[string]any)
	if !ok || refs["image_url"] != "https://cdn.test/i.png" {
		t.Fatalf("result_refs = %v", resp["result_refs"])
	}
}

func TestWorkflowStatusNotFound(t *testing.T) {
	router := newTestRouter(&fakeService{jobErr: domain.ErrNotFound})
	rec, resp := doJSON(t, router, http.MethodGet, "/v1/workflows/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if resp["error"] != "not_found" {
		t.Fatalf("error = %v, want not_found", resp["error"])
	}
}

func TestPauseWorkflowConflict(t *testing.T) {
	router := newTestRouter(&fakeService{jobErr: domain.ErrIllegalTransition})
	rec, resp := doJSON(t, router, http.MethodPost, "/v1/workflows/job-1/pause", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if resp["error"] != "illegal_transition" {
		t.Fatalf("error = %v, want illegal_transition", resp["error"])
	}
}

func TestPauseWorkflowReturnsPausedJob(t *testing.T) {
	job := sampleJob()
	job.Status = domain.JobStatusPaused
	job.Pause = &domain.PauseMetadata{PausedFromStatus: domain.JobStatusGeneratingVideo, PausedAt: time.Now().UTC()}
	router := newTestRouter(&fakeService{job: job})

	rec, resp := doJSON(t, router, http.MethodPost, "/v1/workflows/job-1/pause", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if resp["status"] != "PAUSED" {
		t.Fatalf("status = %v, want PAUSED", resp["status"])
	}
	if resp["paused_from"] != "GENERATING_VIDEO" {
		t.Fatalf("paused_from = %v, want GENERATING_VIDEO", resp["paused_from"])
	}
}

func TestListWorkflows(t *testing.T) {
	job := sampleJob()
	router := newTestRouter(&fakeService{list: []domain.Job{*job}})

	rec, resp := doJSON(t, router, http.MethodGet, "/v1/workflows?user_id=alice&limit=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	items, ok := resp["items"].([]any)
	if !ok || len(items) != 1 {
		t.Fatalf("items = %v, want one entry", resp["items"])
	}

	rec, _ = doJSON(t, router, http.MethodGet, "/v1/workflows", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status without user_id = %d, want 400", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(&fakeService{})
	rec, resp := doJSON(t, router, http.MethodGet, "/v1/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if resp["status"] != "ok" {
		t.Fatalf("body = %v, want status ok", resp)
	}
}

func TestWorkflowEventsStreamsUntilTerminal(t *testing.T) {
	events := make(chan domain.ProgressEvent, 4)
	events <- domain.ProgressEvent{JobID: "job-1", Type: domain.EventProgress, Step: domain.StepGenerateVideo, ProgressPercent: 50}
	events <- domain.ProgressEvent{JobID: "job-1", Type: domain.EventWorkflowComplete, ProgressPercent: 100}
	svc := &fakeService{job: sampleJob(), events: events}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/v1/workflows/job-1/events", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "event: progress\n") {
		t.Fatalf("body missing progress frame:\n%s", body)
	}
	if !strings.Contains(body, "event: workflow_complete\n") {
		t.Fatalf("body missing terminal frame:\n%s", body)
	}
	if !strings.Contains(body, `"progress_percent":100`) {
		t.Fatalf("body missing terminal payload:\n%s", body)
	}
}

func TestWorkflowEventsTerminalRaceDoesNotHang(t *testing.T) {
	done := sampleJob()
	done.Status = domain.JobStatusCompleted
	// never written to and never closed: the terminal event already fired on
	// a topic that no longer exists
	events := make(chan domain.ProgressEvent)
	svc := &fakeService{job: sampleJob(), events: events, jobAfterSubscribe: done}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/v1/workflows/job-1/events", nil)
	rec := httptest.NewRecorder()

	finished := make(chan struct{})
	go func() {
		router.ServeHTTP(rec, req)
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return for a job that completed before the subscription")
	}
	if !strings.Contains(rec.Body.String(), ": job already COMPLETED") {
		t.Fatalf("body = %q, want closing comment", rec.Body.String())
	}
}

func TestWorkflowEventsTerminalJobClosesImmediately(t *testing.T) {
	job := sampleJob()
	job.Status = domain.JobStatusCompleted
	router := newTestRouter(&fakeService{job: job})

	req := httptest.NewRequest(http.MethodGet, "/v1/workflows/job-1/events", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), ": job already COMPLETED") {
		t.Fatalf("body = %q, want closing comment", rec.Body.String())
	}
}
