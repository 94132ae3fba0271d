package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mediaforge/internal/domain"
)

func testLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func newRemoteClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(Options{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Model:   "gemini-test",
		Logger:  testLogger(),
	})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	return c
}

func TestNewClientRequiresLogger(t *testing.T) {
	if _, err := NewClient(Options{}); err == nil {
		t.Fatal("NewClient succeeded without a logger")
	}
}

func TestSyntheticModeWithoutAPIKey(t *testing.T) {
	c, err := NewClient(Options{Logger: testLogger()})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	if !c.Synthetic() {
		t.Fatal("Synthetic() = false, want true without an API key")
	}

	text, err := c.EnhanceText(context.Background(), TextRequest{Prompt: "a lighthouse"})
	if err != nil {
		t.Fatalf("EnhanceText returned error: %v", err)
	}
	if !strings.HasPrefix(text, "a lighthouse, ") {
		t.Fatalf("EnhanceText = %q, want original subject preserved", text)
	}

	req := ImageRequest{Prompt: "a lighthouse", AspectRatio: "16:9", RequestID: "job-1"}
	a1, err := c.GenerateImage(context.Background(), req)
	if err != nil {
		t.Fatalf("GenerateImage returned error: %v", err)
	}
	a2, err := c.GenerateImage(context.Background(), req)
	if err != nil {
		t.Fatalf("GenerateImage returned error: %v", err)
	}
	if string(a1.Data) != string(a2.Data) || a1.StorageKey != a2.StorageKey {
		t.Fatal("synthetic image assets are not deterministic for equal requests")
	}
	if a1.Format != "image/png" {
		t.Fatalf("Format = %q, want image/png", a1.Format)
	}
	if a1.Width != 1280 || a1.Height != 720 {
		t.Fatalf("dimensions = %dx%d, want 1280x720 for 16:9", a1.Width, a1.Height)
	}

	other, err := c.GenerateImage(context.Background(), ImageRequest{Prompt: "a fox", AspectRatio: "16:9", RequestID: "job-2"})
	if err != nil {
		t.Fatalf("GenerateImage returned error: %v", err)
	}
	if string(other.Data) == string(a1.Data) {
		t.Fatal("different requests produced identical synthetic assets")
	}

	v, err := c.GenerateVideo(context.Background(), VideoRequest{Prompt: "a lighthouse", RequestID: "job-1"})
	if err != nil {
		t.Fatalf("GenerateVideo returned error: %v", err)
	}
	if v.Format != "video/mp4" {
		t.Fatalf("video Format = %q, want video/mp4", v.Format)
	}
	if v.DurationSeconds != 8 {
		t.Fatalf("DurationSeconds = %d, want default 8", v.DurationSeconds)
	}
}

func TestEnhanceTextRemote(t *testing.T) {
	c := newRemoteClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("key query = %q, want test-key", r.URL.Query().Get("key"))
		}
		if !strings.Contains(r.URL.Path, "gemini-test:generateContent") {
			t.Errorf("path = %q, want model endpoint", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"  A lighthouse, golden hour  "}]}}]}`))
	})

	text, err := c.EnhanceText(context.Background(), TextRequest{Prompt: "a lighthouse"})
	if err != nil {
		t.Fatalf("EnhanceText returned error: %v", err)
	}
	if text != "A lighthouse, golden hour" {
		t.Fatalf("EnhanceText = %q, want trimmed candidate text", text)
	}
}

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"quota"}}`, domain.ErrProviderTransient},
		{"server error", http.StatusBadGateway, "upstream sad", domain.ErrProviderTransient},
		{"bad request", http.StatusBadRequest, `{"error":{"message":"bad key"}}`, domain.ErrProviderTerminal},
		{"forbidden", http.StatusForbidden, "", domain.ErrProviderTerminal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newRemoteClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			_, err := c.EnhanceText(context.Background(), TextRequest{Prompt: "x"})
			if !errors.Is(err, tt.want) {
				t.Fatalf("EnhanceText error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestTimeoutClassifiedTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)
	c, err := NewClient(Options{
		APIKey:     "test-key",
		BaseURL:    srv.URL,
		Logger:     testLogger(),
		HTTPClient: &http.Client{Timeout: 20 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	if _, err := c.EnhanceText(context.Background(), TextRequest{Prompt: "x"}); !errors.Is(err, domain.ErrProviderTransient) {
		t.Fatalf("EnhanceText error = %v, want ErrProviderTransient", err)
	}
}

func TestGenerateImageRemoteDecodesInlineData(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n")
	payload := base64.StdEncoding.EncodeToString(png)
	c := newRemoteClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"inlineData":{"mimeType":"image/png","data":"` + payload + `"}}]}}]}`))
	})
	asset, err := c.GenerateImage(context.Background(), ImageRequest{Prompt: "a lighthouse", RequestID: "job-1"})
	if err != nil {
		t.Fatalf("GenerateImage returned error: %v", err)
	}
	if !bytes.Equal(asset.Data, png) {
		t.Fatalf("asset.Data = %q, want raw PNG bytes", asset.Data)
	}
	if asset.Format != "image/png" {
		t.Fatalf("Format = %q, want image/png", asset.Format)
	}
}

func TestGenerateImageBadBase64Terminal(t *testing.T) {
	c := newRemoteClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"inlineData":{"mimeType":"image/png","data":"!!not-base64!!"}}]}}]}`))
	})
	_, err := c.GenerateImage(context.Background(), ImageRequest{Prompt: "x"})
	if !errors.Is(err, domain.ErrProviderTerminal) {
		t.Fatalf("GenerateImage error = %v, want ErrProviderTerminal", err)
	}
}

func TestGenerateImageSafetyBlockTerminal(t *testing.T) {
	c := newRemoteClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"parts":[]},"finishReason":"SAFETY"}]}`))
	})
	_, err := c.GenerateImage(context.Background(), ImageRequest{Prompt: "x"})
	if !errors.Is(err, domain.ErrProviderTerminal) {
		t.Fatalf("GenerateImage error = %v, want ErrProviderTerminal", err)
	}
}

func TestGenerateImageMissingAssetTransient(t *testing.T) {
	c := newRemoteClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"no image here"}]}}]}`))
	})
	_, err := c.GenerateImage(context.Background(), ImageRequest{Prompt: "x"})
	if !errors.Is(err, domain.ErrProviderTransient) {
		t.Fatalf("GenerateImage error = %v, want ErrProviderTransient", err)
	}
}

func TestNormalizeAspect(t *testing.T) {
	tests := []struct {
		aspect string
		w, h   int
	}{
		{"16:9", 1280, 720},
		{"9:16", 720, 1280},
		{"4:3", 1024, 768},
		{"", 1024, 1024},
		{"5:7", 1024, 1024},
	}
	for _, tt := range tests {
		w, h := normalizeAspect(tt.aspect)
		if w != tt.w || h != tt.h {
			t.Fatalf("normalizeAspect(%q) = %dx%d, want %dx%d", tt.aspect, w, h, tt.w, tt.h)
		}
	}
}
