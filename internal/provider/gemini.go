package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/hitoshi/chronique/internal/model"
)

// GeminiClient はGemini generateContent APIのクライアント。
type GeminiClient struct {
	baseURL string
	client  *http.Client
}

var _ Completer = (*GeminiClient)(nil)

// NewGeminiClient はGeminiClientを生成する。baseURLが空の場合は公式APIを使用する。
func NewGeminiClient(client *http.Client, baseURL string) *GeminiClient {
	return &GeminiClient{baseURL: baseURL, client: client}
}

// Complete はプロンプトを単一のユーザーターンとして送信する。
func (c *GeminiClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	cfg := &genai.ClientConfig{
		APIKey:     req.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: c.client,
	}
	if c.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: c.baseURL}
	}
	api, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return "", &model.ProviderError{Provider: "gemini", Model: req.Model, Err: fmt.Errorf("failed to create Gemini client: %w", err)}
	}

	resp, err := api.Models.GenerateContent(ctx, req.Model, genai.Text(req.Prompt), &genai.GenerateContentConfig{
		MaxOutputTokens: int32(req.MaxTokens),
	})
	if err != nil {
		return "", &model.ProviderError{Provider: "gemini", Model: req.Model, StatusCode: geminiStatus(err), Err: err}
	}

	out := strings.TrimSpace(resp.Text())
	if out == "" {
		return "", &model.ProviderError{Provider: "gemini", Model: req.Model, Err: ErrEmptyCompletion}
	}
	return out, nil
}

func geminiStatus(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return apiErrPtr.Code
	}
	return 0
}
