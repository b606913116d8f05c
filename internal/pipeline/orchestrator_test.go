package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/chronique/internal/feed"
	"github.com/hitoshi/chronique/internal/model"
	"github.com/hitoshi/chronique/internal/provider"
	"github.com/hitoshi/chronique/internal/rewrite"
	"github.com/hitoshi/chronique/internal/security"
	"github.com/hitoshi/chronique/internal/slug"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// memoryStore はArticleRepositoryのうちパイプラインが利用する操作のインメモリ実装。
type memoryStore struct {
	mu       sync.Mutex
	articles []*model.Article
	// beforeCreate は保存直前に呼ばれる。並行プロセスによる割り込みの再現に使う。
	beforeCreate func(a *model.Article)
}

func (s *memoryStore) FindBySourceURL(_ context.Context, sourceURL string) (*model.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.articles {
		if a.SourceURL == sourceURL {
			return a, nil
		}
	}
	return nil, nil
}

func (s *memoryStore) FindBySlug(_ context.Context, sl string) (*model.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.articles {
		if a.Slug == sl {
			return a, nil
		}
	}
	return nil, nil
}

func (s *memoryStore) Create(_ context.Context, a *model.Article) error {
	if s.beforeCreate != nil {
		s.beforeCreate(a)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.articles {
		if existing.SourceURL == a.SourceURL {
			return &model.PersistenceConflict{Field: "source_url", Value: a.SourceURL}
		}
		if existing.Slug == a.Slug {
			return &model.PersistenceConflict{Field: "slug", Value: a.Slug}
		}
	}
	a.ID = "id-" + a.Slug
	s.articles = append(s.articles, a)
	return nil
}

// stubFetcher は固定の元記事を返すSourceFetcher。
type stubFetcher struct {
	items []model.SourceItem
	err   error
	// block が設定されている場合、Fetchはblockが閉じられるまで待機する。
	started chan struct{}
	block   chan struct{}
}

func (f *stubFetcher) Fetch(_ context.Context) ([]model.SourceItem, error) {
	if f.started != nil {
		close(f.started)
	}
	if f.block != nil {
		<-f.block
	}
	return f.items, f.err
}

// countingPacer は待機回数を数えるPacer。
type countingPacer struct {
	calls int
	err   error
}

func (p *countingPacer) Wait(_ context.Context) error {
	p.calls++
	return p.err
}

// scriptedCompleter は呼び出しごとにタイトルを変えた応答を返すCompleter。
type scriptedCompleter struct {
	name     string
	fail     map[int]bool
	calls    int
	onCall   func()
	response func(n int) string
}

func (c *scriptedCompleter) Complete(_ context.Context, _ provider.CompletionRequest) (string, error) {
	c.calls++
	if c.onCall != nil {
		c.onCall()
	}
	if c.fail[c.calls] {
		return "", &model.ProviderError{Provider: c.name, StatusCode: 500, Err: errors.New("boom")}
	}
	if c.response != nil {
		return c.response(c.calls), nil
	}
	return `{"titleFr":"L'A350 d'Air France","summaryFr":"Résumé","contentFr":"<p>Texte</p><script>alert(1)</script>","metaDescFr":"Méta","tags":["airbus"]}`, nil
}

type fixture struct {
	store    *memoryStore
	fetcher  *stubFetcher
	pacer    *countingPacer
	registry *provider.Registry
	claude   *scriptedCompleter
	openai   *scriptedCompleter
	orch     *Orchestrator
	logs     *bytes.Buffer
}

func newFixture(items []model.SourceItem) *fixture {
	f := &fixture{
		store:   &memoryStore{},
		fetcher: &stubFetcher{items: items},
		pacer:   &countingPacer{},
		claude:  &scriptedCompleter{name: "claude"},
		openai:  &scriptedCompleter{name: "openai"},
		logs:    &bytes.Buffer{},
	}
	logger := newTestLogger(f.logs)
	env := map[string]string{"ANTHROPIC_API_KEY": "sk-ant", "OPENAI_API_KEY": "sk-oa"}
	f.registry = provider.NewRegistry(
		provider.NewSelectionStore(model.ActiveSelection{}),
		nil,
		map[string]provider.Completer{"claude": f.claude, "openai": f.openai},
		func(k string) (string, bool) { v, ok := env[k]; return v, ok },
		logger,
	)
	f.orch = NewOrchestrator(Deps{
		Fetcher:   f.fetcher,
		Filter:    feed.NewDeduplicator(f.store),
		Rewriter:  rewrite.NewEngine(f.registry, nil, logger),
		Sanitizer: security.NewContentSanitizer(),
		Slugs:     slug.NewAllocator(f.store),
		Articles:  f.store,
		Pacer:     f.pacer,
		Logger:    logger,
	})
	return f
}

func item(url, title string) model.SourceItem {
	return model.SourceItem{
		SourceURL:       url,
		SourceTitle:     title,
		SourcePublished: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC),
		RawContent:      "Air France takes delivery of a new A350.",
		ImageURL:        "https://img.example.com/a350.jpg",
	}
}

func TestOrchestrator_Run_EndToEnd(t *testing.T) {
	f := newFixture([]model.SourceItem{
		item("https://simpleflying.com/a", "A"),
		item("https://simpleflying.com/b", "B"),
	})
	// bは保存済み
	f.store.articles = append(f.store.articles, &model.Article{SourceURL: "https://simpleflying.com/b", Slug: "old"})

	before := time.Now()
	summary, err := f.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if summary.Candidates != 1 || summary.Succeeded != 1 || summary.Failed != 0 {
		t.Errorf("summary = %+v", summary)
	}
	if f.claude.calls != 1 {
		t.Errorf("保存済み記事はLLMに送らないべき: calls = %d", f.claude.calls)
	}
	if f.pacer.calls != 0 {
		t.Errorf("1件のみの場合は待機しないべき: pacer = %d", f.pacer.calls)
	}

	saved, _ := f.store.FindBySourceURL(context.Background(), "https://simpleflying.com/a")
	if saved == nil {
		t.Fatal("記事が保存されるべき")
	}
	if saved.Status != model.ArticleStatusPublished {
		t.Errorf("Status = %q, want published", saved.Status)
	}
	if saved.PublishedAt == nil || saved.PublishedAt.Before(before) {
		t.Errorf("PublishedAt = %v", saved.PublishedAt)
	}
	if saved.Slug != "l-a350-d-air-france" {
		t.Errorf("Slug = %q", saved.Slug)
	}
	if strings.Contains(saved.ContentFr, "script") || !strings.Contains(saved.ContentFr, "<p>Texte</p>") {
		t.Errorf("本文はサニタイズされるべき: %q", saved.ContentFr)
	}
	if saved.LLMProvider != "claude" || saved.LLMModel != "claude-sonnet-4-6" {
		t.Errorf("LLM = %s/%s", saved.LLMProvider, saved.LLMModel)
	}
	if saved.ImageURL != "https://img.example.com/a350.jpg" || saved.SourceTitle != "A" {
		t.Errorf("元記事の情報が引き継がれるべき: %+v", saved)
	}
}

func TestOrchestrator_Run_EmptyAfterDedup(t *testing.T) {
	f := newFixture([]model.SourceItem{item("https://simpleflying.com/a", "A")})
	f.store.articles = append(f.store.articles, &model.Article{SourceURL: "https://simpleflying.com/a", Slug: "a"})

	summary, err := f.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Candidates != 0 || summary.Succeeded != 0 || summary.Failed != 0 {
		t.Errorf("summary = %+v", summary)
	}
	if f.claude.calls != 0 {
		t.Error("LLMは呼ばれないべき")
	}
}

func TestOrchestrator_Run_PacingBetweenItems(t *testing.T) {
	f := newFixture([]model.SourceItem{
		item("https://x/1", "1"), item("https://x/2", "2"), item("https://x/3", "3"), item("https://x/4", "4"),
	})

	summary, err := f.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.pacer.calls != 3 {
		t.Errorf("待機はK-1回であるべき: %d", f.pacer.calls)
	}
	if summary.Succeeded != 4 {
		t.Errorf("summary = %+v", summary)
	}

	// 同じタイトルから連番のslugが割り当てられる
	want := []string{"l-a350-d-air-france", "l-a350-d-air-france-1", "l-a350-d-air-france-2", "l-a350-d-air-france-3"}
	for i, a := range f.store.articles {
		if a.Slug != want[i] {
			t.Errorf("articles[%d].Slug = %q, want %q", i, a.Slug, want[i])
		}
	}
}

func TestOrchestrator_Run_ItemFailuresAreIsolated(t *testing.T) {
	f := newFixture([]model.SourceItem{
		item("https://x/1", "1"), item("https://x/2", "2"), item("https://x/3", "3"),
	})
	f.claude.fail = map[int]bool{2: true}

	summary, err := f.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("記事ごとの失敗は実行全体のエラーにならないべき: %v", err)
	}
	if summary.Candidates != 3 || summary.Succeeded != 2 || summary.Failed != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if got, _ := f.store.FindBySourceURL(context.Background(), "https://x/2"); got != nil {
		t.Error("失敗した記事は保存されないべき")
	}
}

func TestOrchestrator_Run_InvalidResponseCountsAsFailed(t *testing.T) {
	f := newFixture([]model.SourceItem{item("https://x/1", "1"), item("https://x/2", "2")})
	f.claude.response = func(n int) string {
		if n == 1 {
			return "Je ne peux pas."
		}
		return `{"titleFr":"Deuxième"}`
	}

	summary, err := f.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Succeeded != 1 || summary.Failed != 1 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestOrchestrator_Run_ConflictCountsAsFailed(t *testing.T) {
	f := newFixture([]model.SourceItem{item("https://x/1", "1"), item("https://x/2", "2")})
	// 重複除外の後、保存の直前に別プロセスが同じ元記事を保存した状況
	var once sync.Once
	f.store.beforeCreate = func(a *model.Article) {
		once.Do(func() {
			f.store.mu.Lock()
			f.store.articles = append(f.store.articles, &model.Article{SourceURL: a.SourceURL, Slug: "concurrent"})
			f.store.mu.Unlock()
		})
	}

	summary, err := f.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Succeeded != 1 || summary.Failed != 1 {
		t.Errorf("一意制約違反は失敗として数えるべき: %+v", summary)
	}
}

func TestOrchestrator_Run_HotSwapBetweenItems(t *testing.T) {
	f := newFixture([]model.SourceItem{item("https://x/1", "1"), item("https://x/2", "2")})
	f.claude.onCall = func() {
		if _, err := f.registry.SwitchActive(context.Background(), "openai", "gpt-4o-mini"); err != nil {
			t.Errorf("SwitchActive failed: %v", err)
		}
	}

	summary, err := f.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Succeeded != 2 {
		t.Fatalf("summary = %+v", summary)
	}
	if f.claude.calls != 1 || f.openai.calls != 1 {
		t.Errorf("実行中の切り替えは次の記事から反映されるべき: claude=%d openai=%d", f.claude.calls, f.openai.calls)
	}

	first, _ := f.store.FindBySourceURL(context.Background(), "https://x/1")
	second, _ := f.store.FindBySourceURL(context.Background(), "https://x/2")
	if first.LLMProvider != "claude" || second.LLMProvider != "openai" || second.LLMModel != "gpt-4o-mini" {
		t.Errorf("first=%s/%s second=%s/%s", first.LLMProvider, first.LLMModel, second.LLMProvider, second.LLMModel)
	}
}

func TestOrchestrator_Run_FetchErrorIsFatal(t *testing.T) {
	f := newFixture(nil)
	f.fetcher.err = &model.FetchError{Stage: "fetch", URL: "https://simpleflying.com/feed/", Err: errors.New("503")}

	summary, err := f.orch.Run(context.Background())
	var fetchErr *model.FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if summary != nil {
		t.Errorf("summary should be nil: %+v", summary)
	}
}

func TestOrchestrator_Run_PacerCancellationStopsRun(t *testing.T) {
	f := newFixture([]model.SourceItem{item("https://x/1", "1"), item("https://x/2", "2")})
	f.pacer.err = context.Canceled

	summary, err := f.orch.Run(context.Background())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if summary == nil || summary.Succeeded != 1 {
		t.Errorf("中断までの集計が返るべき: %+v", summary)
	}
}

func TestOrchestrator_RunLock(t *testing.T) {
	f := newFixture([]model.SourceItem{item("https://x/1", "1")})
	f.fetcher.started = make(chan struct{})
	f.fetcher.block = make(chan struct{})

	if err := f.orch.RunInBackground(context.Background()); err != nil {
		t.Fatalf("RunInBackground failed: %v", err)
	}
	<-f.fetcher.started

	if _, err := f.orch.Run(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("実行中のRunはErrRunInProgressを返すべき: %v", err)
	}
	if err := f.orch.RunInBackground(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("実行中のRunInBackgroundはErrRunInProgressを返すべき: %v", err)
	}

	close(f.fetcher.block)
	f.orch.Wait()

	if got, _ := f.store.FindBySourceURL(context.Background(), "https://x/1"); got == nil {
		t.Error("バックグラウンド実行で記事が保存されるべき")
	}

	// 完了後は再び実行できる
	f.fetcher.started = nil
	f.fetcher.block = nil
	if _, err := f.orch.Run(context.Background()); err != nil {
		t.Errorf("完了後のRunは成功するべき: %v", err)
	}
}

func TestDelayPacer_Wait(t *testing.T) {
	p := NewDelayPacer(10 * time.Millisecond)
	start := time.Now()
	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Error("指定時間待機するべき")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewDelayPacer(time.Hour).Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("キャンセルされたら直ちに戻るべき: %v", err)
	}
}
