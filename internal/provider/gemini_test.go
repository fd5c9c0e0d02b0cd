package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"

	"pinyinbot/internal/domain"
)

func TestGemini_MissingKey(t *testing.T) {
	g := NewGemini(GeminiConfig{Logger: testLogger()})
	_, err := g.Translate(context.Background(), domain.TranslateRequest{Image: testImage(), Prompt: "p"})
	if domain.KindOf(err) != domain.ErrConfiguration {
		t.Fatalf("kind = %q, want configuration", domain.KindOf(err))
	}
	if g.Model() != geminiDefaultModel {
		t.Errorf("model = %q", g.Model())
	}
}

func TestGemini_ReusesClient(t *testing.T) {
	g := NewGemini(GeminiConfig{APIKey: "test-key", Logger: testLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	first, err := g.sdkClient(ctx)
	if err != nil {
		t.Fatalf("sdkClient: %v", err)
	}
	cancel()
	second, err := g.sdkClient(context.Background())
	if err != nil {
		t.Fatalf("sdkClient: %v", err)
	}
	if first != second {
		t.Error("client was recreated between calls")
	}

	if err := g.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	third, err := g.sdkClient(context.Background())
	if err != nil {
		t.Fatalf("sdkClient after Close: %v", err)
	}
	if third == first {
		t.Error("Close did not drop the client")
	}
	_ = g.Close()
}

func TestClassifyGeminiError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantKind   domain.ErrorKind
		wantStatus int
	}{
		{"quota", &googleapi.Error{Code: 429, Message: "Resource has been exhausted"}, domain.ErrRateLimited, 429},
		{"wrapped quota", fmt.Errorf("generate: %w", &googleapi.Error{Code: 429}), domain.ErrRateLimited, 429},
		{"payload", &googleapi.Error{Code: 413, Message: "request payload size exceeds the limit"}, domain.ErrImageTooLarge, 413},
		{"bad key", &googleapi.Error{Code: 400, Message: "API key not valid"}, domain.ErrCompletionAPI, 400},
		{"transport", errors.New("connection reset"), domain.ErrCompletionAPI, 502},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyGeminiError(tt.err)
			if got.Kind != tt.wantKind || got.Status != tt.wantStatus {
				t.Errorf("got kind=%q status=%d, want %q %d", got.Kind, got.Status, tt.wantKind, tt.wantStatus)
			}
		})
	}
}

func TestFirstText(t *testing.T) {
	if firstText(nil) != "" {
		t.Error("nil response should give empty text")
	}
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: nil},
			{Content: &genai.Content{Parts: []genai.Part{genai.Text("山 (shān)")}}},
		},
	}
	if got := firstText(resp); got != "山 (shān)" {
		t.Errorf("firstText = %q", got)
	}
}
