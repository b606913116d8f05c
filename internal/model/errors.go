// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, article, llm, pipeline, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeArticleNotFound   = "ARTICLE_NOT_FOUND"
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeProviderConfig    = "PROVIDER_CONFIG"
	ErrCodePipelineRunning   = "PIPELINE_RUNNING"
	ErrCodeInvalidTransition = "INVALID_STATUS_TRANSITION"
)

// NewArticleNotFoundError は記事未検出エラーを生成する。
func NewArticleNotFoundError(key string) *APIError {
	return &APIError{
		Code:     ErrCodeArticleNotFound,
		Message:  fmt.Sprintf("Article introuvable : %s", key),
		Category: "article",
		Action:   "Vérifiez l'adresse de l'article.",
	}
}

// NewInvalidRequestError はリクエスト不正エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("Requête invalide : %s", reason),
		Category: "validation",
		Action:   "Corrigez la requête puis réessayez.",
	}
}

// NewUnauthorizedError は管理トークン不一致エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Non autorisé.",
		Category: "auth",
		Action:   "Fournissez un jeton d'administration valide dans l'en-tête X-Admin-Token.",
	}
}

// NewProviderConfigError はプロバイダ設定エラーをAPIエラーに変換する。
func NewProviderConfigError(err *ConfigError) *APIError {
	return &APIError{
		Code:     ErrCodeProviderConfig,
		Message:  err.Error(),
		Category: "llm",
		Action:   "Choisissez un fournisseur connu et configurez sa clé API.",
	}
}

// NewPipelineRunningError はパイプライン実行中エラーを生成する。
func NewPipelineRunningError() *APIError {
	return &APIError{
		Code:     ErrCodePipelineRunning,
		Message:  "Un pipeline est déjà en cours d'exécution.",
		Category: "pipeline",
		Action:   "Attendez la fin de l'exécution en cours.",
	}
}

// NewInvalidTransitionError は不正なステータス遷移エラーを生成する。
func NewInvalidTransitionError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTransition,
		Message:  "Un article publié ne peut pas repasser en brouillon.",
		Category: "article",
		Action:   "Aucune action nécessaire.",
	}
}

// ErrInvalidStatusTransition は published→draft のような逆方向の遷移を表す。
var ErrInvalidStatusTransition = errors.New("invalid article status transition")

// ErrArticleNotFound は更新対象の記事が存在しないことを表す。
var ErrArticleNotFound = errors.New("article not found")

// FetchError はフィードの取得またはパースの失敗を表す。
// パイプライン実行全体を中断する唯一の致命的エラー。
type FetchError struct {
	Stage string // fetch, parse, dedup
	URL   string
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("feed %s failed for %s: %v", e.Stage, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ConfigError はプロバイダ設定の誤り（未知のキー、APIキー未設定）を表す。
type ConfigError struct {
	ProviderKey   string
	ValidKeys     []string // 未知のプロバイダの場合に設定される
	MissingEnvKey string   // APIキー未設定の場合に設定される
}

func (e *ConfigError) Error() string {
	if e.MissingEnvKey != "" {
		return fmt.Sprintf("missing API key for provider %q: set %s", e.ProviderKey, e.MissingEnvKey)
	}
	return fmt.Sprintf("unknown provider %q: valid values are %s", e.ProviderKey, strings.Join(e.ValidKeys, ", "))
}

// ProviderError はLLMプロバイダ呼び出しの失敗を表す。
type ProviderError struct {
	Provider   string
	Model      string
	StatusCode int // HTTPステータス（取得できた場合）
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s/%s returned status %d: %v", e.Provider, e.Model, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s/%s call failed: %v", e.Provider, e.Model, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// RewriteParseError はLLMの応答をリライト結果として解釈できなかったことを表す。
// Excerptには診断用に応答の先頭部分のみを保持する。
type RewriteParseError struct {
	Excerpt string
	Err     error
}

func (e *RewriteParseError) Error() string {
	return fmt.Sprintf("invalid rewrite response: %v", e.Err)
}

func (e *RewriteParseError) Unwrap() error { return e.Err }

// PersistenceConflict はslugまたはsource_urlの一意制約違反を表す。
type PersistenceConflict struct {
	Field string // slug または source_url
	Value string
	Err   error
}

func (e *PersistenceConflict) Error() string {
	return fmt.Sprintf("article with %s %q already exists", e.Field, e.Value)
}

func (e *PersistenceConflict) Unwrap() error { return e.Err }
