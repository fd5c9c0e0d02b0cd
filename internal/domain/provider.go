package domain

import "context"

// VisionProvider is the interface every completion backend implements.
// Translate submits exactly one request and never retries.
type VisionProvider interface {
	Translate(ctx context.Context, req TranslateRequest) (*TranslateResponse, error)
	Name() string
	Model() string
	Healthy(ctx context.Context) error
}

// TranslateRequest is one image plus the instruction sent with it.
type TranslateRequest struct {
	Image     Image
	Prompt    string
	Model     string // optional: override the provider's default model
	MaxTokens int
}

type TranslateResponse struct {
	Text       string
	Model      string
	StopReason string
	Usage      Usage
	LatencyMs  int64
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
