package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/chronique/internal/metrics"
	"github.com/hitoshi/chronique/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	AdminToken        string
	Metrics           metrics.MetricsCollector
	MetricsHandler    http.Handler
	Logger            *slog.Logger

	Articles *ArticleHandler
	LLM      *LLMHandler
	Pipeline *PipelineHandler
	Health   *HealthHandler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → RateLimit(General)
//
// 管理用エンドポイントにはさらに RateLimit(Admin) → AdminToken を適用する。
// /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.Metrics))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// --- 公開API ---
		r.Get("/health", deps.Health.Health)
		r.Get("/articles", deps.Articles.ListArticles)
		r.Get("/articles/{slug}", deps.Articles.GetArticle)
		r.Get("/llm/providers", deps.LLM.ListProviders)

		// --- 管理API ---
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.AdminMiddleware())
			r.Use(middleware.NewAdminTokenMiddleware(deps.AdminToken, deps.Logger))

			r.Post("/llm/switch", deps.LLM.SwitchProvider)
			r.Post("/pipeline/run", deps.Pipeline.RunPipeline)
			r.Post("/articles/{id}/publish", deps.Articles.PublishArticle)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, messageResponse{Message: "Ressource introuvable."})
	})

	return r
}
