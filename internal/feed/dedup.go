package feed

import (
	"context"

	"github.com/hitoshi/chronique/internal/model"
)

// SourceLookup は元記事URLで保存済み記事を検索する。存在しない場合は nil, nil を返す。
type SourceLookup interface {
	FindBySourceURL(ctx context.Context, sourceURL string) (*model.Article, error)
}

// Deduplicator は保存済みの記事を取り込み候補から除外する。
type Deduplicator struct {
	lookup SourceLookup
}

// NewDeduplicator はDeduplicatorを生成する。
func NewDeduplicator(lookup SourceLookup) *Deduplicator {
	return &Deduplicator{lookup: lookup}
}

// Filter はSourceURLに対応する記事がまだ存在しないものだけを、元の順序のまま返す。
// 同一フェッチ内で同じURLが複数回現れた場合は最初の1件のみを残す。
// ストアの読み込みに失敗した場合は*model.FetchError（stage "dedup"）を返す。
func (d *Deduplicator) Filter(ctx context.Context, items []model.SourceItem) ([]model.SourceItem, error) {
	seen := make(map[string]struct{}, len(items))
	fresh := make([]model.SourceItem, 0, len(items))

	for _, item := range items {
		if _, dup := seen[item.SourceURL]; dup {
			continue
		}
		seen[item.SourceURL] = struct{}{}

		existing, err := d.lookup.FindBySourceURL(ctx, item.SourceURL)
		if err != nil {
			return nil, &model.FetchError{Stage: "dedup", URL: item.SourceURL, Err: err}
		}
		if existing != nil {
			continue
		}
		fresh = append(fresh, item)
	}

	return fresh, nil
}
