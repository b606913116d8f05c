package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/chronique/internal/provider"
)

// healthCheckTimeout はデータベース疎通確認のタイムアウト。
const healthCheckTimeout = 2 * time.Second

// Pinger はデータベースの疎通を確認する。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// ActiveProviderInfo は有効なプロバイダ情報を返す。
type ActiveProviderInfo interface {
	Info() provider.ProvidersInfo
}

// HealthHandler はヘルスチェックのHTTPハンドラー。
type HealthHandler struct {
	db       Pinger
	registry ActiveProviderInfo
	logger   *slog.Logger
	now      func() time.Time
}

// NewHealthHandler はHealthHandlerを生成する。dbがnilの場合は疎通確認を行わない。
func NewHealthHandler(db Pinger, registry ActiveProviderInfo, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{db: db, registry: registry, logger: logger, now: time.Now}
}

type healthResponse struct {
	Status    string               `json:"status"`
	Timestamp time.Time            `json:"timestamp"`
	Message   string               `json:"message"`
	Database  string               `json:"database,omitempty"`
	LLM       *provider.ActiveInfo `json:"llm"`
}

// Health はサービスの稼働状況を返す。データベースに接続できない場合は503を返す。
// GET /api/health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Timestamp: h.now().UTC(),
		Message:   "La Chronique du Ciel - Backend opérationnel",
		LLM:       h.registry.Info().Active,
	}
	status := http.StatusOK

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			h.logger.Error("データベースに接続できません", slog.String("error", err.Error()))
			resp.Status = "degraded"
			resp.Database = "unreachable"
			status = http.StatusServiceUnavailable
		} else {
			resp.Database = "ok"
		}
	}

	writeJSON(w, status, resp)
}
