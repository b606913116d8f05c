// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/chronique/internal/model"
)

// ArticleQuery は公開記事一覧の取得条件を表す。
type ArticleQuery struct {
	Page  int    // 1始まり
	Limit int    // 1ページあたりの件数
	Tag   string // 空の場合は絞り込まない
}

// Offset はPageとLimitから読み飛ばす件数を返す。
func (q ArticleQuery) Offset() int {
	if q.Page < 1 {
		return 0
	}
	return (q.Page - 1) * q.Limit
}

// ArticleRepository は記事データの永続化インターフェース。
// 記事は削除されない。
type ArticleRepository interface {
	// FindBySourceURL は元記事URLで記事を検索する。見つからない場合はnilを返す。
	FindBySourceURL(ctx context.Context, sourceURL string) (*model.Article, error)

	// FindBySlug はslugで記事を検索する。見つからない場合はnilを返す。
	FindBySlug(ctx context.Context, slug string) (*model.Article, error)

	// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Article, error)

	// Create は記事を作成する。IDが空の場合は採番する。
	// slugまたはsource_urlが既存記事と重複する場合は*model.PersistenceConflictを返す。
	Create(ctx context.Context, article *model.Article) error

	// UpdateStatus は記事のステータスを更新する。
	// published→draftの遷移はmodel.ErrInvalidStatusTransitionを返す。
	// 記事が存在しない場合はmodel.ErrArticleNotFoundを返す。
	UpdateStatus(ctx context.Context, id string, status model.ArticleStatus, publishedAt *time.Time) error

	// ListPublished は公開済み記事をpublished_at降順で取得し、条件に合う総件数とともに返す。
	ListPublished(ctx context.Context, q ArticleQuery) ([]*model.Article, int, error)
}
