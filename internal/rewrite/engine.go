package rewrite

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/chronique/internal/metrics"
	"github.com/hitoshi/chronique/internal/model"
	"github.com/hitoshi/chronique/internal/provider"
)

// maxTokens は1回の生成で要求する最大トークン数。
const maxTokens = 2000

// Resolver は有効なLLMプロバイダを解決する。
type Resolver interface {
	ResolveActive() (*provider.Resolved, error)
}

// Engine は元記事をフランス語の記事に書き直す。
type Engine struct {
	resolver Resolver
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
}

// NewEngine はEngineを生成する。metricsはnilでもよい。
func NewEngine(resolver Resolver, m metrics.MetricsCollector, logger *slog.Logger) *Engine {
	return &Engine{resolver: resolver, metrics: m, logger: logger}
}

// Rewrite は呼び出しごとに有効なプロバイダを解決し、生成を1回だけ行う。
// 返す結果には使用したプロバイダとモデルが設定される。
// 解決失敗は*model.ConfigError、呼び出し失敗は*model.ProviderError、
// 応答の解釈失敗やtitleFrが空の場合は*model.RewriteParseErrorを返す。
func (e *Engine) Rewrite(ctx context.Context, item model.SourceItem) (*model.RewriteResult, error) {
	resolved, err := e.resolver.ResolveActive()
	if err != nil {
		return nil, err
	}

	e.logger.Info("記事を書き直します",
		slog.String("provider", resolved.ProviderKey),
		slog.String("model", resolved.Model),
		slog.String("source_title", item.SourceTitle),
	)

	start := time.Now()
	text, err := resolved.Client.Complete(ctx, provider.CompletionRequest{
		Model:     resolved.Model,
		Prompt:    BuildPrompt(item),
		MaxTokens: maxTokens,
		APIKey:    resolved.APIKey,
	})
	if e.metrics != nil {
		e.metrics.RecordProviderCall(resolved.ProviderKey, time.Since(start), err == nil)
	}
	if err != nil {
		e.logger.Error("LLMの呼び出しに失敗しました",
			slog.String("provider", resolved.ProviderKey),
			slog.String("model", resolved.Model),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	result, err := ParseResponse(text)
	if err != nil {
		e.logger.Error("LLMの応答を解析できませんでした",
			slog.String("provider", resolved.ProviderKey),
			slog.String("excerpt", truncateRunes(text, parseExcerptLimit)),
		)
		return nil, err
	}
	if strings.TrimSpace(result.TitleFr) == "" {
		return nil, &model.RewriteParseError{Excerpt: truncateRunes(text, parseExcerptLimit), Err: ErrMissingTitle}
	}

	result.LLMProvider = resolved.ProviderKey
	result.LLMModel = resolved.Model

	e.logger.Info("記事を書き直しました",
		slog.String("provider", resolved.ProviderKey),
		slog.String("model", resolved.Model),
		slog.String("title_fr", result.TitleFr),
	)
	return result, nil
}
