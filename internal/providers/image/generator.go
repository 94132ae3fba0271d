package image

import "context"

// GenerateRequest carries everything the image step needs.
type GenerateRequest struct {
	Prompt      string
	AspectRatio string
	Style       string
	Quality     string
	RequestID   string
}

// Asset is a generated image. Data is populated when the provider returns
// bytes inline; URL when it returns a hosted reference. CostCredits is the
// provider-reported actual cost, zero when not reported.
type Asset struct {
	URL         string
	StorageKey  string
	Format      string
	Width       int
	Height      int
	Data        []byte
	CostCredits int
}

// Generator produces one image per request.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*Asset, error)
}
