package domain

import (
	"fmt"
	"time"
)

// StepID identifies one externally-backed unit of work within a pipeline.
type StepID string

const (
	StepEnhancePrompt StepID = "enhance_prompt"
	StepGenerateImage StepID = "generate_image"
	StepUploadImage   StepID = "upload_image"
	StepGenerateVideo StepID = "generate_video"
	StepUploadVideo   StepID = "upload_video"
	StepFinalize      StepID = "finalize"
)

// ProviderKind names the external capability a step calls out to.
type ProviderKind string

const (
	ProviderPrompt   ProviderKind = "prompt"
	ProviderImage    ProviderKind = "image"
	ProviderVideo    ProviderKind = "video"
	ProviderStorage  ProviderKind = "storage"
	ProviderInternal ProviderKind = "internal"
)

// StepDefinition is the static description of one pipeline step. The
// estimated cost drives the admission-time debit; the estimated duration is
// surfaced to callers only.
type StepDefinition struct {
	ID                   StepID
	Status               JobStatus
	Provider             ProviderKind
	EstimatedDuration    time.Duration
	EstimatedCostCredits int
}

var (
	stepEnhancePrompt = StepDefinition{ID: StepEnhancePrompt, Status: JobStatusEnhancingPrompt, Provider: ProviderPrompt, EstimatedDuration: 5 * time.Second, EstimatedCostCredits: 2}
	stepGenerateImage = StepDefinition{ID: StepGenerateImage, Status: JobStatusGeneratingImage, Provider: ProviderImage, EstimatedDuration: 30 * time.Second, EstimatedCostCredits: 8}
	stepUploadImage   = StepDefinition{ID: StepUploadImage, Status: JobStatusUploadingImage, Provider: ProviderStorage, EstimatedDuration: 5 * time.Second}
	stepGenerateVideo = StepDefinition{ID: StepGenerateVideo, Status: JobStatusGeneratingVideo, Provider: ProviderVideo, EstimatedDuration: 120 * time.Second, EstimatedCostCredits: 10}
	stepUploadVideo   = StepDefinition{ID: StepUploadVideo, Status: JobStatusUploadingVideo, Provider: ProviderStorage, EstimatedDuration: 10 * time.Second}
	stepFinalize      = StepDefinition{ID: StepFinalize, Status: JobStatusFinalizing, Provider: ProviderInternal, EstimatedDuration: time.Second}
)

var stepSequences = map[WorkflowType][]StepDefinition{
	WorkflowComplete:       {stepEnhancePrompt, stepGenerateImage, stepUploadImage, stepGenerateVideo, stepUploadVideo, stepFinalize},
	WorkflowImageOnly:      {stepEnhancePrompt, stepGenerateImage, stepUploadImage, stepFinalize},
	WorkflowVideoFromImage: {stepUploadImage, stepGenerateVideo, stepUploadVideo, stepFinalize},
}

// StepsFor returns the ordered step sequence for a workflow type.
func StepsFor(t WorkflowType) ([]StepDefinition, error) {
	steps, ok := stepSequences[t]
	if !ok {
		return nil, fmt.Errorf("%w: unknown workflow type %q", ErrInvalidConfig, t)
	}
	out := make([]StepDefinition, len(steps))
	copy(out, steps)
	return out, nil
}

// EstimateCost totals the estimated credit cost across steps.
func EstimateCost(steps []StepDefinition) int {
	total := 0
	for _, s := range steps {
		total += s.EstimatedCostCredits
	}
	return total
}

// EstimateDuration totals the estimated wall-clock duration across steps.
func EstimateDuration(steps []StepDefinition) time.Duration {
	var total time.Duration
	for _, s := range steps {
		total += s.EstimatedDuration
	}
	return total
}
