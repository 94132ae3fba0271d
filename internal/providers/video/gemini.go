package video

import (
	"context"

	"mediaforge/internal/providers/genai"
)

// GeminiGenerator adapts the shared Gemini client to the video contract.
type GeminiGenerator struct {
	client *genai.Client
}

func NewGeminiGenerator(client *genai.Client) *GeminiGenerator {
	return &GeminiGenerator{client: client}
}

func (g *GeminiGenerator) Generate(ctx context.Context, req GenerateRequest) (*Asset, error) {
	asset, err := g.client.GenerateVideo(ctx, genai.VideoRequest{
		Prompt:          req.Prompt,
		SourceImageURL:  req.SourceImageURL,
		AspectRatio:     req.AspectRatio,
		DurationSeconds: req.DurationSeconds,
		RequestID:       req.RequestID,
	})
	if err != nil {
		return nil, err
	}
	return &Asset{
		URL:             asset.URL,
		StorageKey:      asset.StorageKey,
		Format:          asset.Format,
		DurationSeconds: asset.DurationSeconds,
		Data:            asset.Data,
		CostCredits:     asset.CostCredits,
	}, nil
}

var _ Generator = (*GeminiGenerator)(nil)
