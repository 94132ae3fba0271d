package prompt

import (
	"context"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// EnhanceRequest carries the raw prompt to rewrite.
type EnhanceRequest struct {
	Prompt    string
	Locale    string
	RequestID string
}

// EnhanceResult is the rewritten prompt plus the provider that produced it.
type EnhanceResult struct {
	Text     string
	Provider string
}

// Enhancer rewrites a user prompt into a richer generation prompt.
type Enhancer interface {
	Enhance(ctx context.Context, req EnhanceRequest) (*EnhanceResult, error)
}

const staticProviderName = "static"

// StaticEnhancer applies a deterministic template. It serves development
// environments and acts as the configured enhancer when no model provider
// is available.
type StaticEnhancer struct{}

func NewStaticEnhancer() *StaticEnhancer {
	return &StaticEnhancer{}
}

func (s *StaticEnhancer) Enhance(ctx context.Context, req EnhanceRequest) (*EnhanceResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := cases.Title(language.Und)
	subject := strings.TrimSpace(req.Prompt)
	if subject == "" {
		subject = "Untitled Scene"
	}
	text := c.String(subject) + ", professional studio photography, soft natural light, shallow depth of field"
	return &EnhanceResult{Text: text, Provider: staticProviderName}, nil
}

var _ Enhancer = (*StaticEnhancer)(nil)
