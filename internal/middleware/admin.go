package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/hitoshi/chronique/internal/model"
)

// AdminTokenHeader は管理トークンを渡すリクエストヘッダー名。
const AdminTokenHeader = "X-Admin-Token"

// NewAdminTokenMiddleware は管理用エンドポイントを保護するミドルウェアを返す。
// ヘッダーの値はtokenと定数時間で比較する。tokenが空の場合はすべて拒否する。
func NewAdminTokenMiddleware(token string, logger *slog.Logger) func(next http.Handler) http.Handler {
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get(AdminTokenHeader))
			if len(expected) == 0 || subtle.ConstantTimeCompare(got, expected) != 1 {
				logger.Warn("管理トークンが一致しません",
					slog.String("path", r.URL.Path),
					slog.String("remote_ip", clientIP(r)),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
