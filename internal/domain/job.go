package domain

import "time"

// WorkflowType enumerates the supported generation pipelines.
type WorkflowType string

const (
	WorkflowComplete       WorkflowType = "complete"
	WorkflowImageOnly      WorkflowType = "image_only"
	WorkflowVideoFromImage WorkflowType = "video_from_image"
)

// JobStatus enumerates job lifecycle states. The running states double as
// step markers: a job sitting in GENERATING_IMAGE is executing exactly that
// step, or was interrupted while doing so.
type JobStatus string

const (
	JobStatusQueued          JobStatus = "QUEUED"
	JobStatusEnhancingPrompt JobStatus = "ENHANCING_PROMPT"
	JobStatusGeneratingImage JobStatus = "GENERATING_IMAGE"
	JobStatusUploadingImage  JobStatus = "UPLOADING_IMAGE"
	JobStatusGeneratingVideo JobStatus = "GENERATING_VIDEO"
	JobStatusUploadingVideo  JobStatus = "UPLOADING_VIDEO"
	JobStatusFinalizing      JobStatus = "FINALIZING"
	JobStatusPaused          JobStatus = "PAUSED"
	JobStatusCompleted       JobStatus = "COMPLETED"
	JobStatusFailed          JobStatus = "FAILED"
	JobStatusCancelled       JobStatus = "CANCELLED"
)

// Terminal reports whether no further transition is permitted from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Running reports whether s is one of the active step states.
func (s JobStatus) Running() bool {
	switch s {
	case JobStatusEnhancingPrompt, JobStatusGeneratingImage, JobStatusUploadingImage,
		JobStatusGeneratingVideo, JobStatusUploadingVideo, JobStatusFinalizing:
		return true
	}
	return false
}

// PauseMetadata records the state a paused job resumes into. Present only
// while the job status is PAUSED.
type PauseMetadata struct {
	PausedFromStatus JobStatus `json:"paused_from_status"`
	PausedAt         time.Time `json:"paused_at"`
}

// ResultRefs collects step outputs as the pipeline progresses.
type ResultRefs struct {
	EnhancedPrompt    string            `json:"enhanced_prompt,omitempty"`
	ImageURL          string            `json:"image_url,omitempty"`
	VideoURL          string            `json:"video_url,omitempty"`
	ActualCostCredits int               `json:"actual_cost_credits,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// SetMeta records a metadata key, allocating the map on first use.
func (r *ResultRefs) SetMeta(key, value string) {
	if r.Metadata == nil {
		r.Metadata = map[string]string{}
	}
	r.Metadata[key] = value
}

// Job encapsulates one multi-step content-generation request.
type Job struct {
	ID               string
	UserID           string
	ProjectID        string
	Type             WorkflowType
	Status           JobStatus
	Config           JobConfig
	TotalCostCredits int
	ProgressPercent  int
	ResultRefs       ResultRefs
	Pause            *PauseMetadata
	RefundPending    bool
	ErrorMessage     string
	CreatedAt        time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
	UpdatedAt        time.Time
}
