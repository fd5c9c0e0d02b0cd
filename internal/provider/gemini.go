package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"pinyinbot/internal/domain"
)

const geminiDefaultModel = "gemini-1.5-flash"

// Gemini implements domain.VisionProvider on the Google Generative AI SDK.
// The SDK client is created on first use and shared by later requests.
type Gemini struct {
	apiKey    string
	model     string
	maxTokens int
	opts      []option.ClientOption
	logger    *slog.Logger

	mu     sync.Mutex
	client *genai.Client
}

type GeminiConfig struct {
	APIKey        string
	Model         string
	MaxTokens     int
	ClientOptions []option.ClientOption // extra options, e.g. option.WithEndpoint
	Logger        *slog.Logger
}

func NewGemini(cfg GeminiConfig) *Gemini {
	if cfg.Model == "" {
		cfg.Model = geminiDefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gemini{
		apiKey:    strings.TrimSpace(cfg.APIKey),
		model:     strings.TrimSpace(cfg.Model),
		maxTokens: cfg.MaxTokens,
		opts:      cfg.ClientOptions,
		logger:    cfg.Logger,
	}
}

func (g *Gemini) Name() string  { return "gemini" }
func (g *Gemini) Model() string { return g.model }

func (g *Gemini) Healthy(ctx context.Context) error {
	if g.apiKey == "" {
		return domain.Errorf(domain.ErrConfiguration, "gemini: no API key configured")
	}
	return nil
}

func (g *Gemini) Translate(ctx context.Context, req domain.TranslateRequest) (*domain.TranslateResponse, error) {
	if err := g.Healthy(ctx); err != nil {
		return nil, err
	}
	model := req.Model
	if model == "" {
		model = g.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = g.maxTokens
	}

	cl, err := g.sdkClient(ctx)
	if err != nil {
		return nil, &domain.Error{Kind: domain.ErrCompletionAPI, Message: "gemini client", Err: err}
	}

	m := cl.GenerativeModel(model)
	m.SetMaxOutputTokens(int32(maxTokens))
	m.SetTemperature(0)

	start := time.Now()
	resp, err := m.GenerateContent(ctx,
		&genai.Blob{MIMEType: req.Image.MediaType, Data: req.Image.Data},
		genai.Text(req.Prompt),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("gemini request: %w", ctx.Err())
		}
		gerr := classifyGeminiError(err)
		g.logger.Warn("gemini error response", "status", gerr.Status, "kind", gerr.Kind, "message", gerr.Message)
		return nil, gerr
	}

	text := firstText(resp)
	if text == "" {
		return nil, domain.Errorf(domain.ErrMalformedResponse, "gemini response has no text content")
	}

	out := &domain.TranslateResponse{
		Text:      text,
		Model:     model,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if len(resp.Candidates) > 0 {
		out.StopReason = resp.Candidates[0].FinishReason.String()
	}
	if resp.UsageMetadata != nil {
		out.Usage = domain.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out, nil
}

// sdkClient returns the shared SDK client, creating it if needed. A failed
// creation is retried on the next call.
func (g *Gemini) sdkClient(ctx context.Context) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		return g.client, nil
	}
	opts := append([]option.ClientOption{option.WithAPIKey(g.apiKey)}, g.opts...)
	cl, err := genai.NewClient(context.WithoutCancel(ctx), opts...)
	if err != nil {
		return nil, err
	}
	g.client = cl
	return cl, nil
}

// Close releases the SDK client, if one was created.
func (g *Gemini) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client == nil {
		return nil
	}
	err := g.client.Close()
	g.client = nil
	return err
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}

// classifyGeminiError extracts the HTTP status from SDK errors and applies
// the same kind mapping as the Claude provider.
func classifyGeminiError(err error) *domain.Error {
	status := http.StatusBadGateway
	msg := err.Error()

	var gerr *googleapi.Error
	var aerr *apierror.APIError
	switch {
	case errors.As(err, &gerr):
		status = gerr.Code
		if gerr.Message != "" {
			msg = gerr.Message
		}
	case errors.As(err, &aerr) && aerr.HTTPCode() > 0:
		status = aerr.HTTPCode()
	}

	kind := domain.ErrCompletionAPI
	switch {
	case status == http.StatusTooManyRequests || strings.Contains(msg, "RESOURCE_EXHAUSTED"):
		kind = domain.ErrRateLimited
	case status == http.StatusRequestEntityTooLarge || isImageSizeRejection(msg):
		kind = domain.ErrImageTooLarge
	}
	return &domain.Error{Kind: kind, Status: status, Message: msg, Err: err}
}
