package image

import (
	"context"

	"mediaforge/internal/providers/genai"
)

// GeminiGenerator adapts the shared Gemini client to the image contract.
type GeminiGenerator struct {
	client *genai.Client
}

func NewGeminiGenerator(client *genai.Client) *GeminiGenerator {
	return &GeminiGenerator{client: client}
}

func (g *GeminiGenerator) Generate(ctx context.Context, req GenerateRequest) (*Asset, error) {
	asset, err := g.client.GenerateImage(ctx, genai.ImageRequest{
		Prompt:      req.Prompt,
		AspectRatio: req.AspectRatio,
		Style:       req.Style,
		Quality:     req.Quality,
		RequestID:   req.RequestID,
	})
	if err != nil {
		return nil, err
	}
	return &Asset{
		URL:         asset.URL,
		StorageKey:  asset.StorageKey,
		Format:      asset.Format,
		Width:       asset.Width,
		Height:      asset.Height,
		Data:        asset.Data,
		CostCredits: asset.CostCredits,
	}, nil
}

var _ Generator = (*GeminiGenerator)(nil)
