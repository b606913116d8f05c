package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/chronique/internal/model"
)

// ErrSelectionNotPersisted は選択の切り替えはメモリ上で有効になったが、
// 永続化に失敗したことを表す。
var ErrSelectionNotPersisted = errors.New("provider selection applied but not persisted")

// Resolved は解決済みの有効なプロバイダを表す。
type Resolved struct {
	ProviderKey string
	Model       string
	Config      model.ProviderConfig
	APIKey      string
	Client      Completer
}

// Registry はカタログ、有効な選択、APIクライアントを束ねる。
type Registry struct {
	selection *SelectionStore
	persister SelectionPersister
	clients   map[string]Completer
	lookupEnv func(string) (string, bool)
	logger    *slog.Logger
}

// NewRegistry はRegistryを生成する。lookupEnvには通常os.LookupEnvを渡す。
func NewRegistry(
	selection *SelectionStore,
	persister SelectionPersister,
	clients map[string]Completer,
	lookupEnv func(string) (string, bool),
	logger *slog.Logger,
) *Registry {
	return &Registry{
		selection: selection,
		persister: persister,
		clients:   clients,
		lookupEnv: lookupEnv,
		logger:    logger,
	}
}

// ResolveActive は現在の選択をプロバイダ定義、モデル、APIキー、クライアントに解決する。
// 未選択の場合はFallbackProviderKeyを使用し、モデル未指定の場合はデフォルトモデルを使用する。
func (r *Registry) ResolveActive() (*Resolved, error) {
	return r.resolve(r.current())
}

func (r *Registry) resolve(sel model.ActiveSelection) (*Resolved, error) {
	key := strings.ToLower(strings.TrimSpace(sel.ProviderKey))
	if key == "" {
		key = FallbackProviderKey
	}

	cfg, ok := Lookup(key)
	if !ok {
		return nil, &model.ConfigError{ProviderKey: key, ValidKeys: SortedKeys()}
	}

	apiKey, ok := r.lookupEnv(cfg.CredentialEnvKey)
	if !ok || strings.TrimSpace(apiKey) == "" {
		return nil, &model.ConfigError{ProviderKey: key, MissingEnvKey: cfg.CredentialEnvKey}
	}

	modelKey := strings.TrimSpace(sel.ModelKey)
	if modelKey == "" {
		modelKey = cfg.DefaultModel
	}

	client, ok := r.clients[key]
	if !ok {
		return nil, fmt.Errorf("no client registered for provider %q", key)
	}

	return &Resolved{
		ProviderKey: key,
		Model:       modelKey,
		Config:      cfg,
		APIKey:      apiKey,
		Client:      client,
	}, nil
}

// SwitchActive は有効なプロバイダとモデルを切り替える。
// 未知のプロバイダやAPIキー未設定の場合は選択を変更せず*model.ConfigErrorを返す。
// カタログにないモデルキーも受け付ける。
// 切り替え後に永続化に失敗した場合はErrSelectionNotPersistedをラップして返す。
func (r *Registry) SwitchActive(_ context.Context, providerKey, modelKey string) (*Resolved, error) {
	next := model.ActiveSelection{
		ProviderKey: strings.ToLower(strings.TrimSpace(providerKey)),
		ModelKey:    strings.TrimSpace(modelKey),
	}

	resolved, err := r.resolve(next)
	if err != nil {
		return nil, err
	}
	next.ProviderKey = resolved.ProviderKey

	prev := r.selection.Swap(next)
	r.logger.Info("LLMプロバイダを切り替えました",
		slog.String("from_provider", prev.ProviderKey),
		slog.String("from_model", prev.ModelKey),
		slog.String("provider", resolved.ProviderKey),
		slog.String("model", resolved.Model),
	)

	if r.persister != nil {
		if err := r.persister.Persist(next); err != nil {
			r.logger.Warn("LLMプロバイダ選択の永続化に失敗しました",
				slog.String("provider", resolved.ProviderKey),
				slog.String("error", err.Error()),
			)
			return resolved, fmt.Errorf("%w: %v", ErrSelectionNotPersisted, err)
		}
	}

	return resolved, nil
}

// current は現在の選択を返す。
func (r *Registry) current() model.ActiveSelection {
	return r.selection.Load()
}

// ProvidersInfo はプロバイダ一覧APIの応答。
type ProvidersInfo struct {
	Active    *ActiveInfo    `json:"active"`
	Providers []ProviderInfo `json:"providers"`
}

// ActiveInfo は有効なプロバイダの情報。
type ActiveInfo struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Name     string `json:"name"`
}

// ProviderInfo はカタログ内の1プロバイダの情報。APIキーの値は含まない。
type ProviderInfo struct {
	Key          string      `json:"key"`
	Name         string      `json:"name"`
	HasAPIKey    bool        `json:"hasApiKey"`
	DefaultModel string      `json:"defaultModel"`
	Models       []ModelInfo `json:"models"`
}

// ModelInfo はモデルの情報。
type ModelInfo struct {
	Key       string `json:"key"`
	Name      string `json:"name"`
	IsDefault bool   `json:"isDefault"`
}

// Info はカタログと現在の選択を返す。
// 現在の選択が解決できない場合、Activeはnilになる。
func (r *Registry) Info() ProvidersInfo {
	info := ProvidersInfo{Providers: make([]ProviderInfo, 0, len(catalogOrder))}

	if resolved, err := r.ResolveActive(); err == nil {
		info.Active = &ActiveInfo{
			Provider: resolved.ProviderKey,
			Model:    resolved.Model,
			Name:     resolved.Config.DisplayName,
		}
	}

	for _, key := range catalogOrder {
		cfg := catalog[key]
		apiKey, ok := r.lookupEnv(cfg.CredentialEnvKey)
		p := ProviderInfo{
			Key:          cfg.Key,
			Name:         cfg.DisplayName,
			HasAPIKey:    ok && strings.TrimSpace(apiKey) != "",
			DefaultModel: cfg.DefaultModel,
		}
		for _, mk := range modelKeys(cfg) {
			p.Models = append(p.Models, ModelInfo{
				Key:       mk,
				Name:      cfg.Models[mk],
				IsDefault: mk == cfg.DefaultModel,
			})
		}
		info.Providers = append(info.Providers, p)
	}

	return info
}
