package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func newTestRateLimiter(t *testing.T, cfg RateLimiterConfig) *RateLimiter {
	t.Helper()
	var buf bytes.Buffer
	rl := NewRateLimiter(cfg, newTestLogger(&buf))
	t.Cleanup(rl.Stop)
	return rl
}

func requestFrom(ip string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/articles", nil)
	req.RemoteAddr = ip + ":40000"
	return req
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitMiddleware_AllowsRequestsWithinLimit(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfig{
		GeneralRate: 2, GeneralBurst: 5,
		AdminRate: 1, AdminBurst: 1,
		CleanupInterval: time.Minute,
	})
	handler := rl.GeneralMiddleware()(okHandler())

	// バースト内の5リクエストは全て通る
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestFrom("198.51.100.1"))
		if w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}
}

func TestRateLimitMiddleware_Returns429WithRetryAfter(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfig{
		GeneralRate: 0.5, GeneralBurst: 1,
		AdminRate: 1, AdminBurst: 1,
		CleanupInterval: time.Minute,
	})
	handler := rl.GeneralMiddleware()(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("198.51.100.2"))
	if w.Code != http.StatusOK {
		t.Fatalf("1回目は通るべき: %d", w.Code)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("198.51.100.2"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil || retryAfter != 2 {
		t.Errorf("Retry-After = %q, want 2", w.Header().Get("Retry-After"))
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Code != "RATE_LIMIT_EXCEEDED" {
		t.Errorf("code = %q", body.Code)
	}
}

func TestRateLimitMiddleware_IndependentPerIP(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfig{
		GeneralRate: 1, GeneralBurst: 1,
		AdminRate: 1, AdminBurst: 1,
		CleanupInterval: time.Minute,
	})
	handler := rl.GeneralMiddleware()(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), requestFrom("198.51.100.3"))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("198.51.100.4"))
	if w.Code != http.StatusOK {
		t.Errorf("別IPのリミットは独立であるべき: %d", w.Code)
	}
	if rl.GeneralLimiterCount() != 2 {
		t.Errorf("GeneralLimiterCount = %d, want 2", rl.GeneralLimiterCount())
	}
}

func TestRateLimitMiddleware_AdminIndependentOfGeneral(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfig{
		GeneralRate: 1, GeneralBurst: 10,
		AdminRate: 0.1, AdminBurst: 1,
		CleanupInterval: time.Minute,
	})
	general := rl.GeneralMiddleware()(okHandler())
	admin := rl.AdminMiddleware()(okHandler())

	admin.ServeHTTP(httptest.NewRecorder(), requestFrom("198.51.100.5"))

	w := httptest.NewRecorder()
	admin.ServeHTTP(w, requestFrom("198.51.100.5"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("管理操作のバースト超過は429であるべき: %d", w.Code)
	}

	w = httptest.NewRecorder()
	general.ServeHTTP(w, requestFrom("198.51.100.5"))
	if w.Code != http.StatusOK {
		t.Errorf("API全般のリミットは管理操作と独立であるべき: %d", w.Code)
	}
	if rl.AdminLimiterCount() != 1 {
		t.Errorf("AdminLimiterCount = %d, want 1", rl.AdminLimiterCount())
	}
}

func TestRateLimiter_CleanupEvictsStaleEntries(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfig{
		GeneralRate: 1, GeneralBurst: 1,
		AdminRate: 1, AdminBurst: 1,
		CleanupInterval: time.Hour,
	})
	rl.GeneralMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), requestFrom("198.51.100.6"))

	rl.general.evict(time.Now().Add(3*time.Hour), 2*time.Hour)

	if rl.GeneralLimiterCount() != 0 {
		t.Errorf("期限切れのエントリは削除されるべき: %d", rl.GeneralLimiterCount())
	}
}

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig(60)
	if cfg.GeneralRate != 1 || cfg.GeneralBurst != 60 {
		t.Errorf("cfg = %+v", cfg)
	}
	if fallback := DefaultRateLimiterConfig(0); fallback.GeneralBurst != 120 {
		t.Errorf("0以下の場合は120 req/minになるべき: %+v", fallback)
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	var buf bytes.Buffer
	rl := NewRateLimiter(DefaultRateLimiterConfig(120), newTestLogger(&buf))
	rl.Stop()
	rl.Stop()
}
