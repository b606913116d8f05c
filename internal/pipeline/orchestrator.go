// Package pipeline はフィード取得から記事公開までの処理を実行する。
// 取り込み、重複除外、書き直し、サニタイズ、slug割り当て、保存を順に行う。
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/chronique/internal/metrics"
	"github.com/hitoshi/chronique/internal/model"
)

// ErrRunInProgress は別の実行が進行中であることを表す。
var ErrRunInProgress = errors.New("pipeline run already in progress")

// SourceFetcher はフィードから元記事を取得する。
type SourceFetcher interface {
	Fetch(ctx context.Context) ([]model.SourceItem, error)
}

// SourceFilter は保存済みの元記事を除外する。
type SourceFilter interface {
	Filter(ctx context.Context, items []model.SourceItem) ([]model.SourceItem, error)
}

// Rewriter は元記事を書き直す。
type Rewriter interface {
	Rewrite(ctx context.Context, item model.SourceItem) (*model.RewriteResult, error)
}

// Sanitizer は書き直されたHTMLを無害化する。
type Sanitizer interface {
	Sanitize(html string) string
}

// SlugAllocator は未使用のslugを割り当てる。
type SlugAllocator interface {
	Allocate(ctx context.Context, title string) (string, error)
}

// ArticleCreator は記事を保存する。
type ArticleCreator interface {
	Create(ctx context.Context, a *model.Article) error
}

// Deps はOrchestratorが利用するコンポーネント。
type Deps struct {
	Fetcher   SourceFetcher
	Filter    SourceFilter
	Rewriter  Rewriter
	Sanitizer Sanitizer
	Slugs     SlugAllocator
	Articles  ArticleCreator
	Pacer     Pacer
	Metrics   metrics.MetricsCollector
	Logger    *slog.Logger
}

// Orchestrator はパイプライン1回分の実行を制御する。
// 同一プロセス内では同時に1つの実行のみを許可する。
type Orchestrator struct {
	fetcher   SourceFetcher
	filter    SourceFilter
	rewriter  Rewriter
	sanitizer Sanitizer
	slugs     SlugAllocator
	articles  ArticleCreator
	pacer     Pacer
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	now       func() time.Time

	runMu sync.Mutex
	bg    sync.WaitGroup
}

// NewOrchestrator はOrchestratorを生成する。PacerとMetricsはnilでもよい。
func NewOrchestrator(d Deps) *Orchestrator {
	pacer := d.Pacer
	if pacer == nil {
		pacer = NewDelayPacer(0)
	}
	return &Orchestrator{
		fetcher:   d.Fetcher,
		filter:    d.Filter,
		rewriter:  d.Rewriter,
		sanitizer: d.Sanitizer,
		slugs:     d.Slugs,
		articles:  d.Articles,
		pacer:     pacer,
		metrics:   d.Metrics,
		logger:    d.Logger,
		now:       time.Now,
	}
}

// Run はパイプラインを1回実行し、結果の集計を返す。
// 取得と重複除外の失敗は実行全体のエラーとなる。
// 記事ごとの失敗は集計に数えるだけで、残りの記事の処理は継続する。
// 別の実行が進行中の場合は直ちにErrRunInProgressを返す。
func (o *Orchestrator) Run(ctx context.Context) (*model.RunSummary, error) {
	if !o.runMu.TryLock() {
		o.recordRun(metrics.RunSkipped)
		return nil, ErrRunInProgress
	}
	defer o.runMu.Unlock()
	return o.run(ctx)
}

// RunInBackground は実行ロックを取得したうえで、パイプラインを別goroutineで実行する。
// 別の実行が進行中の場合はErrRunInProgressを返す。
func (o *Orchestrator) RunInBackground(ctx context.Context) error {
	if !o.runMu.TryLock() {
		o.recordRun(metrics.RunSkipped)
		return ErrRunInProgress
	}

	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		defer o.runMu.Unlock()
		if _, err := o.run(ctx); err != nil {
			o.logger.Error("バックグラウンド実行に失敗しました",
				slog.String("error", err.Error()),
			)
		}
	}()
	return nil
}

// Wait はバックグラウンド実行の終了を待つ。
func (o *Orchestrator) Wait() {
	o.bg.Wait()
}

func (o *Orchestrator) run(ctx context.Context) (*model.RunSummary, error) {
	summary := &model.RunSummary{StartedAt: o.now()}
	o.logger.Info("パイプラインを開始します")

	fetchStart := time.Now()
	items, err := o.fetcher.Fetch(ctx)
	if o.metrics != nil {
		o.metrics.RecordFetchLatency(time.Since(fetchStart))
	}
	if err != nil {
		return nil, o.fail(err)
	}
	if o.metrics != nil {
		o.metrics.RecordFetchSuccess()
	}

	fresh, err := o.filter.Filter(ctx, items)
	if err != nil {
		return nil, o.fail(err)
	}

	summary.Candidates = len(fresh)
	if len(fresh) == 0 {
		summary.FinishedAt = o.now()
		o.recordRun(metrics.RunCompleted)
		o.logger.Info("新しい記事はありません",
			slog.Int("fetched", len(items)),
		)
		return summary, nil
	}

	o.logger.Info("新しい記事を処理します",
		slog.Int("fetched", len(items)),
		slog.Int("candidates", len(fresh)),
	)

	for i, item := range fresh {
		if i > 0 {
			if err := o.pacer.Wait(ctx); err != nil {
				summary.FinishedAt = o.now()
				o.recordRun(metrics.RunFailed)
				o.logger.Warn("パイプラインを中断しました",
					slog.Int("processed", i),
					slog.Int("candidates", len(fresh)),
					slog.String("error", err.Error()),
				)
				return summary, err
			}
		}

		if err := o.processItem(ctx, item); err != nil {
			summary.Failed++
			continue
		}
		summary.Succeeded++
	}

	summary.FinishedAt = o.now()
	o.recordRun(metrics.RunCompleted)
	o.logger.Info("パイプラインが完了しました",
		slog.Int("candidates", summary.Candidates),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("failed", summary.Failed),
		slog.Duration("duration", summary.FinishedAt.Sub(summary.StartedAt)),
	)
	return summary, nil
}

// processItem は1件の元記事を書き直して公開状態で保存する。
func (o *Orchestrator) processItem(ctx context.Context, item model.SourceItem) error {
	rewritten, err := o.rewriter.Rewrite(ctx, item)
	if err != nil {
		o.recordItem(metrics.ItemRewrite)
		o.logItemError("記事の書き直しに失敗しました", item, err)
		return err
	}

	slug, err := o.slugs.Allocate(ctx, rewritten.TitleFr)
	if err != nil {
		o.recordItem(metrics.ItemFailed)
		o.logItemError("slugの割り当てに失敗しました", item, err)
		return err
	}

	publishedAt := o.now()
	article := &model.Article{
		Slug:            slug,
		SourceURL:       item.SourceURL,
		SourceTitle:     item.SourceTitle,
		SourcePublished: item.SourcePublished,
		TitleFr:         rewritten.TitleFr,
		SummaryFr:       rewritten.SummaryFr,
		ContentFr:       o.sanitizer.Sanitize(rewritten.ContentFr),
		MetaDescFr:      rewritten.MetaDescFr,
		Tags:            rewritten.Tags,
		ImageURL:        item.ImageURL,
		Status:          model.ArticleStatusPublished,
		PublishedAt:     &publishedAt,
		LLMProvider:     rewritten.LLMProvider,
		LLMModel:        rewritten.LLMModel,
	}

	if err := o.articles.Create(ctx, article); err != nil {
		var conflict *model.PersistenceConflict
		if errors.As(err, &conflict) {
			o.recordItem(metrics.ItemConflict)
		} else {
			o.recordItem(metrics.ItemFailed)
		}
		o.logItemError("記事の保存に失敗しました", item, err)
		return err
	}

	o.recordItem(metrics.ItemPublished)
	o.logger.Info("記事を公開しました",
		slog.String("article_id", article.ID),
		slog.String("slug", article.Slug),
		slog.String("source_url", item.SourceURL),
	)
	return nil
}

func (o *Orchestrator) fail(err error) error {
	var fetchErr *model.FetchError
	if errors.As(err, &fetchErr) && o.metrics != nil {
		o.metrics.RecordFetchFailure(fetchErr.Stage)
	}
	o.recordRun(metrics.RunFailed)
	o.logger.Error("パイプラインの実行に失敗しました",
		slog.String("error", err.Error()),
	)
	return err
}

func (o *Orchestrator) logItemError(msg string, item model.SourceItem, err error) {
	o.logger.Error(msg,
		slog.String("source_url", item.SourceURL),
		slog.String("source_title", item.SourceTitle),
		slog.String("error", err.Error()),
	)
}

func (o *Orchestrator) recordRun(outcome string) {
	if o.metrics != nil {
		o.metrics.RecordRun(outcome)
	}
}

func (o *Orchestrator) recordItem(outcome string) {
	if o.metrics != nil {
		o.metrics.RecordItem(outcome)
	}
}
