package genai

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"mediaforge/internal/domain"
	"mediaforge/internal/infra"
)

// Options controls how the Gemini client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client provides a lightweight facade over Gemini so that providers can
// focus on translating domain requests to API calls. When no API key is
// configured the client produces deterministic synthetic assets, which
// keeps workers fully operational in local and CI environments while
// preserving the extension points for real API calls.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *infra.Logger
}

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel   = "gemini-2.5-flash"
)

// NewClient validates options and builds a client.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimSpace(opts.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	if opts.Logger == nil {
		return nil, errors.New("genai: logger is required")
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		logger:     opts.Logger,
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// Synthetic reports whether the client fabricates assets locally.
func (c *Client) Synthetic() bool {
	return c.apiKey == ""
}

// TextRequest asks for a text completion, used for prompt enhancement.
type TextRequest struct {
	Prompt    string
	Locale    string
	RequestID string
}

// ImageRequest represents the information required to generate one image.
type ImageRequest struct {
	Prompt      string
	AspectRatio string
	Style       string
	Quality     string
	RequestID   string
}

// VideoRequest represents the information required to generate a video.
type VideoRequest struct {
	Prompt          string
	SourceImageURL  string
	AspectRatio     string
	DurationSeconds int
	RequestID       string
}

// ImageAsset is the normalized representation of a generated image.
type ImageAsset struct {
	StorageKey  string
	URL         string
	Format      string
	Width       int
	Height      int
	Data        []byte
	CostCredits int
}

// VideoAsset is the normalized representation of a generated video.
type VideoAsset struct {
	StorageKey      string
	URL             string
	Format          string
	DurationSeconds int
	Data            []byte
	CostCredits     int
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
	FileData   *geminiFileData   `json:"fileData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiFileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri,omitempty"`
}

type geminiGenerateContentRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiGenerateContentResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// EnhanceText rewrites a raw prompt into a richer generation prompt.
func (c *Client) EnhanceText(ctx context.Context, req TextRequest) (string, error) {
	if c.Synthetic() {
		return c.syntheticText(req), nil
	}
	payload := geminiGenerateContentRequest{
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{{
				Text: buildEnhancePrompt(req),
			}},
		}},
	}
	var resp geminiGenerateContentResponse
	if err := c.invoke(ctx, "/models/"+c.model+":generateContent", payload, &resp); err != nil {
		return "", err
	}
	text := firstText(resp)
	if text == "" {
		return "", fmt.Errorf("%w: empty enhancement response", domain.ErrProviderTransient)
	}
	return strings.TrimSpace(text), nil
}

// GenerateImage produces one image for the request.
func (c *Client) GenerateImage(ctx context.Context, req ImageRequest) (*ImageAsset, error) {
	if c.Synthetic() {
		return c.syntheticImage(req), nil
	}
	payload := geminiGenerateContentRequest{
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{{
				Text: buildImagePrompt(req),
			}},
		}},
	}
	var resp geminiGenerateContentResponse
	if err := c.invoke(ctx, "/models/"+c.model+":generateContent", payload, &resp); err != nil {
		return nil, err
	}
	asset, err := c.decodeInlineAsset(resp)
	if err != nil {
		return nil, err
	}
	width, height := normalizeAspect(req.AspectRatio)
	return &ImageAsset{
		StorageKey: syntheticStorageKey("image", c.model, req.RequestID),
		Format:     asset.mime,
		Width:      width,
		Height:     height,
		Data:       asset.data,
	}, nil
}

// GenerateVideo produces one video clip for the request.
func (c *Client) GenerateVideo(ctx context.Context, req VideoRequest) (*VideoAsset, error) {
	if c.Synthetic() {
		return c.syntheticVideo(req), nil
	}
	parts := []geminiPart{{Text: buildVideoPrompt(req)}}
	if req.SourceImageURL != "" {
		parts = append(parts, geminiPart{FileData: &geminiFileData{MimeType: "image/png", FileURI: req.SourceImageURL}})
	}
	payload := geminiGenerateContentRequest{
		Contents: []geminiContent{{Role: "user", Parts: parts}},
	}
	var resp geminiGenerateContentResponse
	if err := c.invoke(ctx, "/models/"+c.model+":generateContent", payload, &resp); err != nil {
		return nil, err
	}
	asset, err := c.decodeInlineAsset(resp)
	if err != nil {
		return nil, err
	}
	return &VideoAsset{
		StorageKey:      syntheticStorageKey("video", c.model, req.RequestID),
		Format:          asset.mime,
		DurationSeconds: req.DurationSeconds,
		Data:            asset.data,
	}, nil
}

func (c *Client) syntheticText(req TextRequest) string {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		prompt = "untitled scene"
	}
	return fmt.Sprintf("%s, cinematic lighting, rich detail, high dynamic range", prompt)
}

func (c *Client) syntheticImage(req ImageRequest) *ImageAsset {
	seed := deterministicSeed(req.RequestID, req.Prompt, req.AspectRatio)
	width, height := normalizeAspect(req.AspectRatio)
	asset := &ImageAsset{
		StorageKey: syntheticStorageKey("image", c.model, seed),
		Format:     "image/png",
		Width:      width,
		Height:     height,
		Data:       []byte("synthetic-png:" + seed),
	}
	c.logger.Debug().
		Str("request_id", req.RequestID).
		Str("model", c.model).
		Msg("genai: generated synthetic image asset")
	return asset
}

func (c *Client) syntheticVideo(req VideoRequest) *VideoAsset {
	seed := deterministicSeed(req.RequestID, req.Prompt, req.SourceImageURL)
	duration := req.DurationSeconds
	if duration <= 0 {
		duration = 8
	}
	asset := &VideoAsset{
		StorageKey:      syntheticStorageKey("video", c.model, seed),
		Format:          "video/mp4",
		DurationSeconds: duration,
		Data:            []byte("synthetic-mp4:" + seed),
	}
	c.logger.Debug().
		Str("request_id", req.RequestID).
		Str("model", c.model).
		Msg("genai: generated synthetic video asset")
	return asset
}

func (c *Client) invoke(ctx context.Context, path string, payload any, out any) error {
	endpoint := strings.TrimRight(c.baseURL, "/") + path
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	q := req.URL.Query()
	q.Set("key", c.apiKey)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return classifyStatusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode gemini response: %v", domain.ErrProviderTransient, err)
	}
	return nil
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: gemini request timed out", domain.ErrProviderTransient)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: gemini request timed out", domain.ErrProviderTransient)
	}
	return fmt.Errorf("%w: invoke gemini: %v", domain.ErrProviderTransient, err)
}

func classifyStatusError(resp *http.Response) error {
	msg := ""
	var apiErr geminiErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error.Message != "" {
		msg = apiErr.Error.Message
	} else {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg = strings.TrimSpace(string(data))
	}
	kind := domain.ErrProviderTransient
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
	case resp.StatusCode >= http.StatusInternalServerError:
	default:
		// 4xx other than rate limiting: bad credentials, malformed
		// requests, safety rejections. Retrying cannot fix these.
		kind = domain.ErrProviderTerminal
	}
	if msg == "" {
		return fmt.Errorf("%w: gemini status %d", kind, resp.StatusCode)
	}
	return fmt.Errorf("%w: gemini status %d: %s", kind, resp.StatusCode, msg)
}

type inlineAsset struct {
	mime string
	data []byte
}

func (c *Client) decodeInlineAsset(resp geminiGenerateContentResponse) (inlineAsset, error) {
	for _, cand := range resp.Candidates {
		if strings.EqualFold(cand.FinishReason, "SAFETY") {
			return inlineAsset{}, fmt.Errorf("%w: generation blocked by content policy", domain.ErrProviderTerminal)
		}
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil && part.InlineData.Data != "" {
				raw, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
				if err != nil {
					return inlineAsset{}, fmt.Errorf("%w: inline asset is not valid base64: %v", domain.ErrProviderTerminal, err)
				}
				return inlineAsset{
					mime: part.InlineData.MimeType,
					data: raw,
				}, nil
			}
		}
	}
	return inlineAsset{}, fmt.Errorf("%w: response carried no inline asset", domain.ErrProviderTransient)
}

func firstText(resp geminiGenerateContentResponse) string {
	for _, cand := range resp.Candidates {
		for _, part := range cand.Content.Parts {
			if part.Text != "" {
				return part.Text
			}
		}
	}
	return ""
}

func buildEnhancePrompt(req TextRequest) string {
	var sb strings.Builder
	sb.WriteString("Rewrite the following prompt for a photorealistic generation model. ")
	sb.WriteString("Keep the subject, add lighting, composition and mood detail. ")
	if req.Locale != "" {
		sb.WriteString("Respond in locale " + req.Locale + ". ")
	}
	sb.WriteString("Prompt: " + req.Prompt)
	return sb.String()
}

func buildImagePrompt(req ImageRequest) string {
	parts := []string{req.Prompt}
	if req.Style != "" {
		parts = append(parts, "style: "+req.Style)
	}
	if req.AspectRatio != "" {
		parts = append(parts, "aspect ratio "+req.AspectRatio)
	}
	if req.Quality != "" {
		parts = append(parts, req.Quality+" quality")
	}
	return strings.Join(parts, ", ")
}

func buildVideoPrompt(req VideoRequest) string {
	parts := []string{req.Prompt}
	if req.SourceImageURL != "" {
		parts = append(parts, "animate the attached image")
	}
	if req.DurationSeconds > 0 {
		parts = append(parts, fmt.Sprintf("duration %d seconds", req.DurationSeconds))
	}
	return strings.Join(parts, ", ")
}

func normalizeAspect(aspect string) (int, int) {
	switch aspect {
	case "16:9":
		return 1280, 720
	case "9:16":
		return 720, 1280
	case "4:3":
		return 1024, 768
	case "3:4":
		return 768, 1024
	default:
		return 1024, 1024
	}
}

func deterministicSeed(values ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(values, "|")))
	return hex.EncodeToString(sum[:8])
}

func syntheticStorageKey(kind, model, seed string) string {
	return fmt.Sprintf("%s/%s/%s", kind, model, seed)
}
