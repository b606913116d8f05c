package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/chronique/internal/middleware"
	"github.com/hitoshi/chronique/internal/model"
	"github.com/hitoshi/chronique/internal/repository"
)

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// --- GET /api/articles テスト ---

func TestArticleHandler_ListArticles_Success(t *testing.T) {
	var gotQuery repository.ArticleQuery
	store := &mockArticleStore{
		listPublishedFn: func(ctx context.Context, q repository.ArticleQuery) ([]*model.Article, int, error) {
			gotQuery = q
			return []*model.Article{publishedArticle("a"), publishedArticle("b")}, 21, nil
		},
	}
	h := NewArticleHandler(store, store, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/articles?page=2&limit=10&tag=airbus", nil)
	w := httptest.NewRecorder()
	h.ListArticles(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotQuery.Page != 2 || gotQuery.Limit != 10 || gotQuery.Tag != "airbus" {
		t.Errorf("query = %+v", gotQuery)
	}

	var resp articleListResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Articles) != 2 || resp.Articles[0].Slug != "a" {
		t.Errorf("articles = %+v", resp.Articles)
	}
	if resp.Pagination.Total != 21 || resp.Pagination.TotalPages != 3 || resp.Pagination.Page != 2 {
		t.Errorf("pagination = %+v", resp.Pagination)
	}
}

func TestArticleHandler_ListArticles_DefaultsAndClamp(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantPage  int
		wantLimit int
	}{
		{name: "既定値", query: "", wantPage: 1, wantLimit: 10},
		{name: "上限を超えるlimitは切り詰め", query: "?limit=500", wantPage: 1, wantLimit: 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got repository.ArticleQuery
			store := &mockArticleStore{
				listPublishedFn: func(ctx context.Context, q repository.ArticleQuery) ([]*model.Article, int, error) {
					got = q
					return nil, 0, nil
				},
			}
			h := NewArticleHandler(store, store, discardLogger())

			w := httptest.NewRecorder()
			h.ListArticles(w, httptest.NewRequest(http.MethodGet, "/api/articles"+tt.query, nil))

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d", w.Code)
			}
			if got.Page != tt.wantPage || got.Limit != tt.wantLimit {
				t.Errorf("query = %+v", got)
			}

			var resp articleListResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Articles == nil {
				t.Error("記事がない場合も空配列を返すべき")
			}
		})
	}
}

func TestArticleHandler_ListArticles_InvalidParams(t *testing.T) {
	h := NewArticleHandler(&mockArticleStore{}, &mockArticleStore{}, discardLogger())

	for _, q := range []string{"?page=0", "?page=abc", "?limit=-1"} {
		w := httptest.NewRecorder()
		h.ListArticles(w, httptest.NewRequest(http.MethodGet, "/api/articles"+q, nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want %d", q, w.Code, http.StatusBadRequest)
		}
	}
}

func TestArticleHandler_ListArticles_StoreError(t *testing.T) {
	store := &mockArticleStore{
		listPublishedFn: func(ctx context.Context, q repository.ArticleQuery) ([]*model.Article, int, error) {
			return nil, 0, errors.New("connection refused")
		},
	}
	h := NewArticleHandler(store, store, discardLogger())

	w := httptest.NewRecorder()
	h.ListArticles(w, httptest.NewRequest(http.MethodGet, "/api/articles", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

// --- GET /api/articles/{slug} テスト ---

func TestArticleHandler_GetArticle(t *testing.T) {
	store := &mockArticleStore{
		findBySlugFn: func(ctx context.Context, slug string) (*model.Article, error) {
			if slug == "l-a350-d-air-france" {
				return publishedArticle(slug), nil
			}
			return nil, nil
		},
	}
	h := NewArticleHandler(store, store, discardLogger())

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/api/articles/l-a350-d-air-france", nil), "slug", "l-a350-d-air-france")
	w := httptest.NewRecorder()
	h.GetArticle(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp articleDetailResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.ContentFr != "<p>Texte</p>" || resp.Status != "published" || resp.LLMProvider != "claude" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.ImageURL != nil {
		t.Errorf("画像がない場合はnullであるべき: %v", *resp.ImageURL)
	}
}

func TestArticleHandler_GetArticle_NotFound(t *testing.T) {
	h := NewArticleHandler(&mockArticleStore{}, &mockArticleStore{}, discardLogger())

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/api/articles/absent", nil), "slug", "absent")
	w := httptest.NewRecorder()
	h.GetArticle(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Code != model.ErrCodeArticleNotFound {
		t.Errorf("code = %q", body.Code)
	}
}

// --- POST /api/articles/{id}/publish テスト ---

func TestArticleHandler_PublishArticle(t *testing.T) {
	fixed := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	var gotStatus model.ArticleStatus
	var gotAt *time.Time

	store := &mockArticleStore{
		updateStatusFn: func(ctx context.Context, id string, status model.ArticleStatus, publishedAt *time.Time) error {
			gotStatus = status
			gotAt = publishedAt
			return nil
		},
		findByIDFn: func(ctx context.Context, id string) (*model.Article, error) {
			a := publishedArticle("brouillon")
			a.ID = id
			return a, nil
		},
	}
	h := NewArticleHandler(store, store, discardLogger())
	h.now = func() time.Time { return fixed }

	req := withURLParam(httptest.NewRequest(http.MethodPost, "/api/articles/id-1/publish", nil), "id", "id-1")
	w := httptest.NewRecorder()
	h.PublishArticle(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotStatus != model.ArticleStatusPublished || gotAt == nil || !gotAt.Equal(fixed) {
		t.Errorf("UpdateStatus(%q, %v)", gotStatus, gotAt)
	}
}

func TestArticleHandler_PublishArticle_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "存在しない記事", err: model.ErrArticleNotFound, want: http.StatusNotFound},
		{name: "不正な遷移", err: model.ErrInvalidStatusTransition, want: http.StatusConflict},
		{name: "ストアのエラー", err: errors.New("db down"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockArticleStore{
				updateStatusFn: func(ctx context.Context, id string, status model.ArticleStatus, publishedAt *time.Time) error {
					return tt.err
				},
			}
			h := NewArticleHandler(store, store, discardLogger())

			req := withURLParam(httptest.NewRequest(http.MethodPost, "/api/articles/x/publish", nil), "id", "x")
			w := httptest.NewRecorder()
			h.PublishArticle(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}
