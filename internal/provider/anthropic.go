package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hitoshi/chronique/internal/model"
)

// AnthropicClient はAnthropic Messages APIのクライアント。
type AnthropicClient struct {
	baseURL string
	client  *http.Client
}

var _ Completer = (*AnthropicClient)(nil)

// NewAnthropicClient はAnthropicClientを生成する。baseURLが空の場合は公式APIを使用する。
func NewAnthropicClient(client *http.Client, baseURL string) *AnthropicClient {
	return &AnthropicClient{baseURL: baseURL, client: client}
}

// Complete はプロンプトをユーザーメッセージとして送信する。
// SDKによる自動リトライは行わない。
func (c *AnthropicClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	opts := []option.RequestOption{
		option.WithAPIKey(req.APIKey),
		option.WithMaxRetries(0),
	}
	if c.baseURL != "" {
		opts = append(opts, option.WithBaseURL(c.baseURL))
	}
	if c.client != nil {
		opts = append(opts, option.WithHTTPClient(c.client))
	}
	api := anthropic.NewClient(opts...)

	msg, err := api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	})
	if err != nil {
		pe := &model.ProviderError{Provider: "claude", Model: req.Model, Err: err}
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			pe.StatusCode = apiErr.StatusCode
		}
		return "", pe
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	out := strings.TrimSpace(text.String())
	if out == "" {
		return "", &model.ProviderError{Provider: "claude", Model: req.Model, Err: ErrEmptyCompletion}
	}
	return out, nil
}
