package provider

import (
	"context"
	"errors"
)

// Completer はプロンプトを1回送信して生成テキストを返すLLMクライアント。
// 応答テキストは前後の空白を除去して返す。
// 通信失敗、2xx以外の応答、空の応答はすべて*model.ProviderErrorを返す。
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// CompletionRequest は1回の生成リクエストを表す。
type CompletionRequest struct {
	Model     string
	Prompt    string
	MaxTokens int
	APIKey    string
}

// ErrEmptyCompletion はプロバイダが空の応答を返したことを表す。
var ErrEmptyCompletion = errors.New("empty completion")
