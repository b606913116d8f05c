// Package model はドメインモデルを定義する。
package model

import (
	"encoding/json"
	"time"
)

// ArticleStatus は記事の公開状態を表す。
type ArticleStatus string

const (
	// ArticleStatusDraft は下書き状態。
	ArticleStatusDraft ArticleStatus = "draft"
	// ArticleStatusPublished は公開済み状態。公開後に下書きへ戻すことはできない。
	ArticleStatusPublished ArticleStatus = "published"
)

// Valid は既知のステータスかどうかを返す。
func (s ArticleStatus) Valid() bool {
	return s == ArticleStatusDraft || s == ArticleStatusPublished
}

// CanTransitionTo は現在の状態から指定状態への遷移が許可されるかを返す。
// 許可されるのは draft→published と同一状態への遷移のみ。
func (s ArticleStatus) CanTransitionTo(next ArticleStatus) bool {
	if !next.Valid() {
		return false
	}
	if s == next {
		return true
	}
	return s == ArticleStatusDraft && next == ArticleStatusPublished
}

// SourceItem はフィードから取得した未処理の元記事を表す。
// フェッチごとに生成され、それ自体は永続化されない。
type SourceItem struct {
	SourceURL       string // 重複判定キー
	SourceTitle     string
	SourcePublished time.Time
	RawContent      string // 未サニタイズのHTMLまたはテキスト
	ImageURL        string // 画像が見つからない場合は空
}

// RewriteResult はLLMによるリライト結果を表す。
type RewriteResult struct {
	TitleFr     string
	SummaryFr   string
	ContentFr   string // 未サニタイズのHTML
	MetaDescFr  string
	Tags        []string
	LLMProvider string
	LLMModel    string
}

// Article は永続化されたリライト済み記事を表す。
type Article struct {
	ID              string
	Slug            string
	SourceURL       string
	SourceTitle     string
	SourcePublished time.Time
	TitleFr         string
	SummaryFr       string
	ContentFr       string // サニタイズ済みHTML
	MetaDescFr      string
	Tags            []string
	ImageURL        string
	Status          ArticleStatus
	PublishedAt     *time.Time
	LLMProvider     string
	LLMModel        string
	CreatedAt       time.Time
}

// RunSummary はパイプライン1回分の実行結果を表す。
type RunSummary struct {
	Candidates int // 重複除外後の処理対象数
	Succeeded  int
	Failed     int
	StartedAt  time.Time
	FinishedAt time.Time
}

// EncodeTags はタグを保存用のJSON配列文字列に変換する。
// nilの場合も "[]" を返す。
func EncodeTags(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// DecodeTags は保存されたJSON文字列をタグ配列に変換する。
// 不正な値や空文字列は空配列として扱い、エラーは返さない。
func DecodeTags(raw string) []string {
	tags := []string{}
	if raw == "" {
		return tags
	}
	var decoded []any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return tags
	}
	for _, v := range decoded {
		if s, ok := v.(string); ok {
			tags = append(tags, s)
		}
	}
	return tags
}
