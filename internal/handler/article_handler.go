package handler

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/chronique/internal/middleware"
	"github.com/hitoshi/chronique/internal/model"
	"github.com/hitoshi/chronique/internal/repository"
)

// ページネーションの既定値
const (
	defaultPage  = 1
	defaultLimit = 10
	maxLimit     = 50
)

// ArticleReader は記事ハンドラーが必要とする読み取り操作。
type ArticleReader interface {
	FindBySlug(ctx context.Context, slug string) (*model.Article, error)
	ListPublished(ctx context.Context, q repository.ArticleQuery) ([]*model.Article, int, error)
}

// ArticlePublisher は下書き記事を公開する操作。
type ArticlePublisher interface {
	UpdateStatus(ctx context.Context, id string, status model.ArticleStatus, publishedAt *time.Time) error
	FindByID(ctx context.Context, id string) (*model.Article, error)
}

// ArticleHandler は記事APIのHTTPハンドラー。
type ArticleHandler struct {
	reader    ArticleReader
	publisher ArticlePublisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewArticleHandler はArticleHandlerを生成する。
func NewArticleHandler(reader ArticleReader, publisher ArticlePublisher, logger *slog.Logger) *ArticleHandler {
	return &ArticleHandler{reader: reader, publisher: publisher, logger: logger, now: time.Now}
}

// --- レスポンス型 ---

// articleSummaryResponse は記事一覧の要素。本文は含まない。
type articleSummaryResponse struct {
	ID          string     `json:"id"`
	Slug        string     `json:"slug"`
	TitleFr     string     `json:"titleFr"`
	SummaryFr   string     `json:"summaryFr"`
	MetaDescFr  string     `json:"metaDescFr"`
	Tags        []string   `json:"tags"`
	ImageURL    *string    `json:"imageUrl"`
	PublishedAt *time.Time `json:"publishedAt"`
	SourceURL   string     `json:"sourceUrl"`
}

// articleDetailResponse は記事詳細。
type articleDetailResponse struct {
	articleSummaryResponse
	ContentFr       string     `json:"contentFr"`
	SourceTitle     string     `json:"sourceTitle"`
	SourcePublished *time.Time `json:"sourcePublished"`
	Status          string     `json:"status"`
	LLMProvider     string     `json:"llmProvider"`
	LLMModel        string     `json:"llmModel"`
	CreatedAt       time.Time  `json:"createdAt"`
}

type paginationResponse struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"totalPages"`
}

type articleListResponse struct {
	Articles   []articleSummaryResponse `json:"articles"`
	Pagination paginationResponse       `json:"pagination"`
}

func toSummary(a *model.Article) articleSummaryResponse {
	tags := a.Tags
	if tags == nil {
		tags = []string{}
	}
	var imageURL *string
	if a.ImageURL != "" {
		imageURL = &a.ImageURL
	}
	return articleSummaryResponse{
		ID:          a.ID,
		Slug:        a.Slug,
		TitleFr:     a.TitleFr,
		SummaryFr:   a.SummaryFr,
		MetaDescFr:  a.MetaDescFr,
		Tags:        tags,
		ImageURL:    imageURL,
		PublishedAt: a.PublishedAt,
		SourceURL:   a.SourceURL,
	}
}

func toDetail(a *model.Article) articleDetailResponse {
	var sourcePublished *time.Time
	if !a.SourcePublished.IsZero() {
		sourcePublished = &a.SourcePublished
	}
	return articleDetailResponse{
		articleSummaryResponse: toSummary(a),
		ContentFr:              a.ContentFr,
		SourceTitle:            a.SourceTitle,
		SourcePublished:        sourcePublished,
		Status:                 string(a.Status),
		LLMProvider:            a.LLMProvider,
		LLMModel:               a.LLMModel,
		CreatedAt:              a.CreatedAt,
	}
}

// ListArticles は公開済み記事の一覧を返す。
// GET /api/articles?page=1&limit=10&tag=airbus
func (h *ArticleHandler) ListArticles(w http.ResponseWriter, r *http.Request) {
	page, err := positiveIntParam(r, "page", defaultPage)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("page doit être un entier positif"))
		return
	}
	limit, err := positiveIntParam(r, "limit", defaultLimit)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("limit doit être un entier positif"))
		return
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	q := repository.ArticleQuery{
		Page:  page,
		Limit: limit,
		Tag:   strings.TrimSpace(r.URL.Query().Get("tag")),
	}

	articles, total, err := h.reader.ListPublished(r.Context(), q)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	resp := articleListResponse{
		Articles: make([]articleSummaryResponse, 0, len(articles)),
		Pagination: paginationResponse{
			Total:      total,
			Page:       page,
			Limit:      limit,
			TotalPages: int(math.Ceil(float64(total) / float64(limit))),
		},
	}
	for _, a := range articles {
		resp.Articles = append(resp.Articles, toSummary(a))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetArticle はslugで記事詳細を返す。
// GET /api/articles/{slug}
func (h *ArticleHandler) GetArticle(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")

	article, err := h.reader.FindBySlug(r.Context(), slug)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	if article == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewArticleNotFoundError(slug))
		return
	}

	writeJSON(w, http.StatusOK, toDetail(article))
}

// PublishArticle は下書き記事を公開する。公開済みの記事には何もしない。
// POST /api/articles/{id}/publish
func (h *ArticleHandler) PublishArticle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	now := h.now()

	if err := h.publisher.UpdateStatus(r.Context(), id, model.ArticleStatusPublished, &now); err != nil {
		if errors.Is(err, model.ErrArticleNotFound) {
			middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewArticleNotFoundError(id))
			return
		}
		handleServiceError(w, h.logger, err)
		return
	}

	article, err := h.publisher.FindByID(r.Context(), id)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	if article == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewArticleNotFoundError(id))
		return
	}

	h.logger.Info("記事を公開しました",
		slog.String("article_id", article.ID),
		slog.String("slug", article.Slug),
	)
	writeJSON(w, http.StatusOK, toDetail(article))
}

// positiveIntParam はクエリパラメータを正の整数として読み取る。未指定の場合はdefを返す。
func positiveIntParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return 0, errors.New("invalid " + name)
	}
	return v, nil
}
