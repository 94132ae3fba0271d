package prompt

import (
	"context"

	"mediaforge/internal/providers/genai"
)

// GeminiEnhancer rewrites prompts through the shared Gemini client.
type GeminiEnhancer struct {
	client *genai.Client
}

func NewGeminiEnhancer(client *genai.Client) *GeminiEnhancer {
	return &GeminiEnhancer{client: client}
}

func (g *GeminiEnhancer) Enhance(ctx context.Context, req EnhanceRequest) (*EnhanceResult, error) {
	text, err := g.client.EnhanceText(ctx, genai.TextRequest{
		Prompt:    req.Prompt,
		Locale:    req.Locale,
		RequestID: req.RequestID,
	})
	if err != nil {
		return nil, err
	}
	return &EnhanceResult{Text: text, Provider: g.client.Model()}, nil
}

var _ Enhancer = (*GeminiEnhancer)(nil)
