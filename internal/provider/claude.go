package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"pinyinbot/internal/domain"
)

const (
	claudeAPIBase      = "https://api.anthropic.com"
	claudeAPIVersion   = "2023-06-01"
	claudeDefaultModel = "claude-3-5-sonnet-20240620"
	defaultMaxTokens   = 1024
	defaultHTTPTimeout = 60 * time.Second
	maxErrorBodyBytes  = 64 << 10
)

// Claude implements domain.VisionProvider for the Anthropic Messages API.
type Claude struct {
	apiKey     string
	apiBase    string
	apiVersion string
	model      string
	maxTokens  int
	client     *http.Client
	logger     *slog.Logger
}

type ClaudeConfig struct {
	APIKey     string
	APIBase    string
	APIVersion string
	Model      string
	MaxTokens  int
	Client     *http.Client // optional; defaults to NewHTTPClient
	Logger     *slog.Logger
}

// NewClaude creates a new Claude provider.
func NewClaude(cfg ClaudeConfig) *Claude {
	if cfg.APIBase == "" {
		cfg.APIBase = claudeAPIBase
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = claudeAPIVersion
	}
	if cfg.Model == "" {
		cfg.Model = claudeDefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Client == nil {
		cfg.Client = NewHTTPClient(defaultHTTPTimeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Claude{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		apiBase:    strings.TrimRight(cfg.APIBase, "/"),
		apiVersion: cfg.APIVersion,
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		client:     cfg.Client,
		logger:     cfg.Logger,
	}
}

func (c *Claude) Name() string  { return "claude" }
func (c *Claude) Model() string { return c.model }

// Healthy reports a configuration error when no API key is set. It does
// not touch the network.
func (c *Claude) Healthy(ctx context.Context) error {
	if c.apiKey == "" {
		return domain.Errorf(domain.ErrConfiguration, "claude: no API key configured")
	}
	return nil
}

type claudeRequest struct {
	Model     string      `json:"model"`
	MaxTokens int         `json:"max_tokens"`
	Messages  []claudeMsg `json:"messages"`
}

type claudeMsg struct {
	Role    string          `json:"role"`
	Content []claudeContent `json:"content"`
}

type claudeContent struct {
	Type   string             `json:"type"` // "image" | "text"
	Text   string             `json:"text,omitempty"`
	Source *claudeImageSource `json:"source,omitempty"`
}

type claudeImageSource struct {
	Type      string `json:"type"` // always "base64"
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type claudeResponse struct {
	Model      string          `json:"model"`
	Content    []claudeContent `json:"content"`
	StopReason string          `json:"stop_reason"`
	Usage      domain.Usage    `json:"usage"`
}

type claudeErrorResponse struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Translate sends one image and the prompt in a single user turn and
// returns the first text block of the answer.
func (c *Claude) Translate(ctx context.Context, req domain.TranslateRequest) (*domain.TranslateResponse, error) {
	if err := c.Healthy(ctx); err != nil {
		return nil, err
	}
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	body := claudeRequest{
		Model:     model,
		MaxTokens: maxTokens,
		Messages: []claudeMsg{{
			Role: "user",
			Content: []claudeContent{
				{
					Type: "image",
					Source: &claudeImageSource{
						Type:      "base64",
						MediaType: req.Image.MediaType,
						Data:      base64.StdEncoding.EncodeToString(req.Image.Data),
					},
				},
				{Type: "text", Text: req.Prompt},
			},
		}},
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/v1/messages", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", c.apiVersion)

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("claude request: %w", ctx.Err())
		}
		return nil, &domain.Error{
			Kind:    domain.ErrCompletionAPI,
			Status:  http.StatusBadGateway,
			Message: "claude request failed",
			Err:     err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		apiErr := classifyClaudeError(resp.StatusCode, respBody)
		c.logger.Warn("claude error response",
			"status", resp.StatusCode,
			"kind", apiErr.Kind,
			"message", apiErr.Message,
		)
		return nil, apiErr
	}

	var cr claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, &domain.Error{Kind: domain.ErrMalformedResponse, Message: "decode claude response", Err: err}
	}

	text, ok := firstTextBlock(cr.Content)
	if !ok {
		return nil, domain.Errorf(domain.ErrMalformedResponse, "claude response has no text content (stop_reason=%q)", cr.StopReason)
	}

	if cr.Model == "" {
		cr.Model = model
	}
	return &domain.TranslateResponse{
		Text:       text,
		Model:      cr.Model,
		StopReason: cr.StopReason,
		Usage:      cr.Usage,
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

func firstTextBlock(blocks []claudeContent) (string, bool) {
	for _, b := range blocks {
		if b.Type == "text" {
			return b.Text, true
		}
	}
	return "", false
}

// classifyClaudeError maps an error response to a tagged error. Size and
// rate-limit rejections get their own kinds so callers can give specific
// guidance.
func classifyClaudeError(status int, body []byte) *domain.Error {
	msg := strings.TrimSpace(string(body))
	var errType string
	var er claudeErrorResponse
	if json.Unmarshal(body, &er) == nil && er.Error.Message != "" {
		msg = er.Error.Message
		errType = er.Error.Type
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	kind := domain.ErrCompletionAPI
	switch {
	case status == http.StatusTooManyRequests || errType == "rate_limit_error":
		kind = domain.ErrRateLimited
	case status == http.StatusRequestEntityTooLarge || errType == "request_too_large" || isImageSizeRejection(msg):
		kind = domain.ErrImageTooLarge
	}
	return &domain.Error{Kind: kind, Status: status, Message: msg}
}

func isImageSizeRejection(msg string) bool {
	m := strings.ToLower(msg)
	if strings.Contains(m, "image_too_large") {
		return true
	}
	if !strings.Contains(m, "image") {
		return false
	}
	return strings.Contains(m, "too large") ||
		strings.Contains(m, "exceeds") ||
		strings.Contains(m, "maximum allowed size")
}
