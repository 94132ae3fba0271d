package workflow

import (
	"fmt"

	"mediaforge/internal/domain"
)

// Legal reports whether a job of workflow type t may transition from one
// status to another. The running-state edges follow the step sequence for
// t; PAUSED is reversible into any running state of the sequence; FAILED
// and CANCELLED are reachable from every non-terminal state except that a
// QUEUED job can only be cancelled, never failed (admission rejections are
// not jobs).
func Legal(t domain.WorkflowType, from, to domain.JobStatus) bool {
	if from.Terminal() {
		return false
	}
	steps, err := domain.StepsFor(t)
	if err != nil {
		return false
	}
	switch {
	case to == domain.JobStatusCancelled:
		return true
	case to == domain.JobStatusFailed:
		return from.Running()
	case to == domain.JobStatusPaused:
		return from.Running()
	case from == domain.JobStatusQueued:
		return to == steps[0].Status
	case from == domain.JobStatusPaused:
		return statusInSequence(steps, to)
	case from.Running():
		idx := sequenceIndex(steps, from)
		if idx < 0 {
			return false
		}
		if idx == len(steps)-1 {
			return to == domain.JobStatusCompleted
		}
		return to == steps[idx+1].Status
	}
	return false
}

// CanPause reports whether a pause command is legal in status s.
func CanPause(s domain.JobStatus) bool { return s.Running() }

// CanResume reports whether a resume command is legal in status s.
func CanResume(s domain.JobStatus) bool { return s == domain.JobStatusPaused }

// CanCancel reports whether a cancel command is legal in status s.
func CanCancel(s domain.JobStatus) bool {
	return s == domain.JobStatusQueued || s == domain.JobStatusPaused || s.Running()
}

// Progress maps a status to the percent of pipeline steps already
// completed when a job enters that status.
func Progress(t domain.WorkflowType, s domain.JobStatus) int {
	switch s {
	case domain.JobStatusQueued:
		return 0
	case domain.JobStatusCompleted:
		return 100
	}
	steps, err := domain.StepsFor(t)
	if err != nil {
		return 0
	}
	idx := sequenceIndex(steps, s)
	if idx < 0 {
		return 0
	}
	return idx * 100 / len(steps)
}

func sequenceIndex(steps []domain.StepDefinition, s domain.JobStatus) int {
	for i, step := range steps {
		if step.Status == s {
			return i
		}
	}
	return -1
}

func statusInSequence(steps []domain.StepDefinition, s domain.JobStatus) bool {
	return sequenceIndex(steps, s) >= 0
}

// resumeTarget validates the recorded pause metadata against the job's
// sequence and returns the status to re-enter.
func resumeTarget(job *domain.Job) (domain.JobStatus, error) {
	if job.Pause == nil {
		return "", fmt.Errorf("%w: paused job %s has no pause metadata", domain.ErrIllegalTransition, job.ID)
	}
	steps, err := domain.StepsFor(job.Type)
	if err != nil {
		return "", err
	}
	if !statusInSequence(steps, job.Pause.PausedFromStatus) {
		return "", fmt.Errorf("%w: paused-from status %s not in %s pipeline", domain.ErrIllegalTransition, job.Pause.PausedFromStatus, job.Type)
	}
	return job.Pause.PausedFromStatus, nil
}
