package handler

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/hitoshi/chronique/internal/model"
	"github.com/hitoshi/chronique/internal/provider"
	"github.com/hitoshi/chronique/internal/repository"
)

// --- モック定義 ---

// mockArticleStore はArticleReaderとArticlePublisherのモック実装。
type mockArticleStore struct {
	findBySlugFn    func(ctx context.Context, slug string) (*model.Article, error)
	findByIDFn      func(ctx context.Context, id string) (*model.Article, error)
	listPublishedFn func(ctx context.Context, q repository.ArticleQuery) ([]*model.Article, int, error)
	updateStatusFn  func(ctx context.Context, id string, status model.ArticleStatus, publishedAt *time.Time) error
}

func (m *mockArticleStore) FindBySlug(ctx context.Context, slug string) (*model.Article, error) {
	if m.findBySlugFn != nil {
		return m.findBySlugFn(ctx, slug)
	}
	return nil, nil
}

func (m *mockArticleStore) FindByID(ctx context.Context, id string) (*model.Article, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockArticleStore) ListPublished(ctx context.Context, q repository.ArticleQuery) ([]*model.Article, int, error) {
	if m.listPublishedFn != nil {
		return m.listPublishedFn(ctx, q)
	}
	return nil, 0, nil
}

func (m *mockArticleStore) UpdateStatus(ctx context.Context, id string, status model.ArticleStatus, publishedAt *time.Time) error {
	if m.updateStatusFn != nil {
		return m.updateStatusFn(ctx, id, status, publishedAt)
	}
	return nil
}

// mockRegistry はProviderRegistryのモック実装。
type mockRegistry struct {
	info     provider.ProvidersInfo
	switchFn func(ctx context.Context, providerKey, modelKey string) (*provider.Resolved, error)
}

func (m *mockRegistry) Info() provider.ProvidersInfo {
	return m.info
}

func (m *mockRegistry) SwitchActive(ctx context.Context, providerKey, modelKey string) (*provider.Resolved, error) {
	if m.switchFn != nil {
		return m.switchFn(ctx, providerKey, modelKey)
	}
	return nil, nil
}

// mockRunner はPipelineRunnerのモック実装。
type mockRunner struct {
	err   error
	calls int
}

func (m *mockRunner) RunInBackground(_ context.Context) error {
	m.calls++
	return m.err
}

// mockPinger はPingerのモック実装。
type mockPinger struct {
	err error
}

func (m *mockPinger) PingContext(_ context.Context) error {
	return m.err
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func publishedArticle(slug string) *model.Article {
	published := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	return &model.Article{
		ID:          "id-" + slug,
		Slug:        slug,
		SourceURL:   "https://simpleflying.com/" + slug,
		SourceTitle: "Source " + slug,
		TitleFr:     "Titre " + slug,
		SummaryFr:   "Résumé",
		ContentFr:   "<p>Texte</p>",
		MetaDescFr:  "Méta",
		Tags:        []string{"airbus"},
		Status:      model.ArticleStatusPublished,
		PublishedAt: &published,
		LLMProvider: "claude",
		LLMModel:    "claude-sonnet-4-6",
		CreatedAt:   published,
	}
}
