package video

import "context"

// GenerateRequest carries everything the video step needs. Either Prompt
// or SourceImageURL must be set; both may be.
type GenerateRequest struct {
	Prompt          string
	SourceImageURL  string
	AspectRatio     string
	DurationSeconds int
	RequestID       string
}

// Asset is a generated video clip.
type Asset struct {
	URL             string
	StorageKey      string
	Format          string
	DurationSeconds int
	Data            []byte
	CostCredits     int
}

// Generator produces one video per request.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*Asset, error)
}
