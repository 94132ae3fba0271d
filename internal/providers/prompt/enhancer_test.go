package prompt

import (
	"context"
	"strings"
	"testing"
)

func TestStaticEnhancerTitlesSubject(t *testing.T) {
	e := NewStaticEnhancer()
	res, err := e.Enhance(context.Background(), EnhanceRequest{Prompt: "a lighthouse at dusk"})
	if err != nil {
		t.Fatalf("Enhance returned error: %v", err)
	}
	if !strings.HasPrefix(res.Text, "A Lighthouse At Dusk") {
		t.Fatalf("Text = %q, want title-cased subject prefix", res.Text)
	}
	if !strings.Contains(res.Text, "studio photography") {
		t.Fatalf("Text = %q, want template detail appended", res.Text)
	}
	if res.Provider != "static" {
		t.Fatalf("Provider = %q, want static", res.Provider)
	}
}

func TestStaticEnhancerDefaultsEmptyPrompt(t *testing.T) {
	e := NewStaticEnhancer()
	res, err := e.Enhance(context.Background(), EnhanceRequest{Prompt: "   "})
	if err != nil {
		t.Fatalf("Enhance returned error: %v", err)
	}
	if !strings.HasPrefix(res.Text, "Untitled Scene") {
		t.Fatalf("Text = %q, want fallback subject", res.Text)
	}
}

func TestStaticEnhancerHonorsCancelledContext(t *testing.T) {
	e := NewStaticEnhancer()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Enhance(ctx, EnhanceRequest{Prompt: "x"}); err == nil {
		t.Fatal("Enhance succeeded with a cancelled context")
	}
}
