package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hitoshi/chronique/internal/model"
)

// DeepSeekBaseURL はDeepSeekのOpenAI互換APIのベースURL。
const DeepSeekBaseURL = "https://api.deepseek.com/v1"

// OpenAIClient はOpenAI互換のChat Completions APIのクライアント。
// OpenAIとDeepSeekで共用する。
type OpenAIClient struct {
	providerKey string
	baseURL     string
	client      *http.Client
}

var _ Completer = (*OpenAIClient)(nil)

// NewOpenAIClient はOpenAIClientを生成する。baseURLが空の場合はOpenAIの公式APIを使用する。
func NewOpenAIClient(providerKey string, client *http.Client, baseURL string) *OpenAIClient {
	return &OpenAIClient{providerKey: providerKey, baseURL: baseURL, client: client}
}

// Complete はプロンプトを単一のユーザーメッセージとして送信する。
// APIキーは呼び出しごとに異なり得るため、クライアントはリクエストごとに構築する。
func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	cfg := openai.DefaultConfig(req.APIKey)
	if c.baseURL != "" {
		cfg.BaseURL = c.baseURL
	}
	if c.client != nil {
		cfg.HTTPClient = c.client
	}
	api := openai.NewClientWithConfig(cfg)

	resp, err := api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
	})
	if err != nil {
		return "", c.wrapError(req.Model, err)
	}

	if len(resp.Choices) == 0 {
		return "", &model.ProviderError{Provider: c.providerKey, Model: req.Model, Err: ErrEmptyCompletion}
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", &model.ProviderError{Provider: c.providerKey, Model: req.Model, Err: ErrEmptyCompletion}
	}
	return out, nil
}

func (c *OpenAIClient) wrapError(modelKey string, err error) error {
	pe := &model.ProviderError{Provider: c.providerKey, Model: modelKey, Err: err}

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		pe.StatusCode = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		pe.StatusCode = reqErr.HTTPStatusCode
	}
	return pe
}
