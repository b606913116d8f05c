package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/chronique/internal/middleware"
	"github.com/hitoshi/chronique/internal/model"
	"github.com/hitoshi/chronique/internal/provider"
)

// maxBodySize はリクエストボディの最大サイズ。
const maxBodySize = 16 << 10

// ProviderRegistry はLLMハンドラーが必要とするプロバイダ操作。
type ProviderRegistry interface {
	Info() provider.ProvidersInfo
	SwitchActive(ctx context.Context, providerKey, modelKey string) (*provider.Resolved, error)
}

// LLMHandler はLLMプロバイダAPIのHTTPハンドラー。
type LLMHandler struct {
	registry ProviderRegistry
	logger   *slog.Logger
}

// NewLLMHandler はLLMHandlerを生成する。
func NewLLMHandler(registry ProviderRegistry, logger *slog.Logger) *LLMHandler {
	return &LLMHandler{registry: registry, logger: logger}
}

type switchRequest struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type switchResponse struct {
	Message   string               `json:"message"`
	Active    *provider.ActiveInfo `json:"active"`
	Persisted bool                 `json:"persisted"`
}

// ListProviders はプロバイダ一覧と現在の選択を返す。
// GET /api/llm/providers
func (h *LLMHandler) ListProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.Info())
}

// SwitchProvider は有効なプロバイダとモデルを切り替える。
// POST /api/llm/switch {"provider": "gemini", "model": "gemini-1.5-pro"}
func (h *LLMHandler) SwitchProvider(w http.ResponseWriter, r *http.Request) {
	var req switchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("corps JSON invalide"))
		return
	}
	if strings.TrimSpace(req.Provider) == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError(`champ "provider" requis`))
		return
	}

	resolved, err := h.registry.SwitchActive(r.Context(), req.Provider, req.Model)
	persisted := true
	if err != nil {
		if !errors.Is(err, provider.ErrSelectionNotPersisted) || resolved == nil {
			handleServiceError(w, h.logger, err)
			return
		}
		// メモリ上の切り替えは有効
		persisted = false
	}

	message := "Fournisseur changé avec succès."
	if !persisted {
		message = "Fournisseur changé, mais la sauvegarde dans le fichier .env a échoué."
	}
	writeJSON(w, http.StatusOK, switchResponse{
		Message: message,
		Active: &provider.ActiveInfo{
			Provider: resolved.ProviderKey,
			Model:    resolved.Model,
			Name:     resolved.Config.DisplayName,
		},
		Persisted: persisted,
	})
}
