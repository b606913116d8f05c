package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/chronique/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const uniqueViolation = "23505"

// constraintSourceURL はsource_urlの一意制約名。
const constraintSourceURL = "articles_source_url_key"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var articleColumns = []string{
	"id", "slug", "source_url", "source_title", "source_published",
	"title_fr", "summary_fr", "content_fr", "meta_desc_fr", "tags",
	"image_url", "status", "published_at", "llm_provider", "llm_model", "created_at",
}

// PostgresArticleRepo はPostgreSQLを使用した記事リポジトリ。
type PostgresArticleRepo struct {
	db *sql.DB
}

var _ ArticleRepository = (*PostgresArticleRepo)(nil)

// NewPostgresArticleRepo はPostgresArticleRepoを生成する。
func NewPostgresArticleRepo(db *sql.DB) *PostgresArticleRepo {
	return &PostgresArticleRepo{db: db}
}

// FindBySourceURL は元記事URLで記事を検索する。見つからない場合はnilを返す。
func (r *PostgresArticleRepo) FindBySourceURL(ctx context.Context, sourceURL string) (*model.Article, error) {
	a, err := r.findOne(ctx, sq.Eq{"source_url": sourceURL})
	if err != nil {
		return nil, fmt.Errorf("source_url による記事の検索に失敗しました: %w", err)
	}
	return a, nil
}

// FindBySlug はslugで記事を検索する。見つからない場合はnilを返す。
func (r *PostgresArticleRepo) FindBySlug(ctx context.Context, slug string) (*model.Article, error) {
	a, err := r.findOne(ctx, sq.Eq{"slug": slug})
	if err != nil {
		return nil, fmt.Errorf("slug による記事の検索に失敗しました: %w", err)
	}
	return a, nil
}

// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
func (r *PostgresArticleRepo) FindByID(ctx context.Context, id string) (*model.Article, error) {
	a, err := r.findOne(ctx, sq.Eq{"id": id})
	if err != nil {
		return nil, fmt.Errorf("記事の取得に失敗しました: %w", err)
	}
	return a, nil
}

func (r *PostgresArticleRepo) findOne(ctx context.Context, where sq.Sqlizer) (*model.Article, error) {
	query, args, err := psql.Select(articleColumns...).From("articles").Where(where).Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	a, err := scanArticle(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Create は記事を作成する。
func (r *PostgresArticleRepo) Create(ctx context.Context, a *model.Article) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	if !a.Status.Valid() {
		a.Status = model.ArticleStatusDraft
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO articles (id, slug, source_url, source_title, source_published,
		                       title_fr, summary_fr, content_fr, meta_desc_fr, tags,
		                       image_url, status, published_at, llm_provider, llm_model, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		a.ID, a.Slug, a.SourceURL, a.SourceTitle, nullTime(a.SourcePublished),
		a.TitleFr, a.SummaryFr, a.ContentFr, a.MetaDescFr, model.EncodeTags(a.Tags),
		nullString(a.ImageURL), string(a.Status), a.PublishedAt, a.LLMProvider, a.LLMModel, a.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			conflict := &model.PersistenceConflict{Field: "slug", Value: a.Slug, Err: err}
			if pqErr.Constraint == constraintSourceURL {
				conflict.Field = "source_url"
				conflict.Value = a.SourceURL
			}
			return conflict
		}
		return fmt.Errorf("記事の作成に失敗しました: %w", err)
	}
	return nil
}

// UpdateStatus は記事のステータスを更新する。
// 既にpublished_atが設定されている場合は上書きしない。
func (r *PostgresArticleRepo) UpdateStatus(ctx context.Context, id string, status model.ArticleStatus, publishedAt *time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM articles WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrArticleNotFound
	}
	if err != nil {
		return fmt.Errorf("記事ステータスの取得に失敗しました: %w", err)
	}

	if !model.ArticleStatus(current).CanTransitionTo(status) {
		return model.ErrInvalidStatusTransition
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE articles SET status = $2, published_at = COALESCE(published_at, $3) WHERE id = $1`,
		id, string(status), publishedAt,
	); err != nil {
		return fmt.Errorf("記事ステータスの更新に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}

// ListPublished は公開済み記事をpublished_at降順で取得する。
func (r *PostgresArticleRepo) ListPublished(ctx context.Context, q ArticleQuery) ([]*model.Article, int, error) {
	where := publishedFilter(q.Tag)

	countQuery, countArgs, err := psql.Select("COUNT(*)").From("articles").Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count query: %w", err)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("公開記事数の取得に失敗しました: %w", err)
	}

	listQuery, args, err := psql.Select(articleColumns...).
		From("articles").
		Where(where).
		OrderBy("published_at DESC", "created_at DESC").
		Limit(uint64(q.Limit)).
		Offset(uint64(q.Offset())).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("公開記事一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	articles := []*model.Article{}
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("記事行の読み取りに失敗しました: %w", err)
		}
		articles = append(articles, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("記事一覧の走査に失敗しました: %w", err)
	}

	return articles, total, nil
}

// publishedFilter は公開済み記事の絞り込み条件を返す。
// tagsはJSON配列の文字列として保存されているため、エンコード済みのタグを部分一致で検索する。
func publishedFilter(tag string) sq.Sqlizer {
	cond := sq.And{sq.Eq{"status": string(model.ArticleStatusPublished)}}
	if tag != "" {
		cond = append(cond, sq.Like{"tags": "%" + escapeLike(encodeTag(tag)) + "%"})
	}
	return cond
}

func encodeTag(tag string) string {
	b, err := json.Marshal(tag)
	if err != nil {
		return tag
	}
	return string(b)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArticle(row rowScanner) (*model.Article, error) {
	a := &model.Article{}
	var sourcePublished, publishedAt sql.NullTime
	var imageURL sql.NullString
	var tags, status string

	if err := row.Scan(
		&a.ID, &a.Slug, &a.SourceURL, &a.SourceTitle, &sourcePublished,
		&a.TitleFr, &a.SummaryFr, &a.ContentFr, &a.MetaDescFr, &tags,
		&imageURL, &status, &publishedAt, &a.LLMProvider, &a.LLMModel, &a.CreatedAt,
	); err != nil {
		return nil, err
	}

	a.Tags = model.DecodeTags(tags)
	a.Status = model.ArticleStatus(status)
	a.ImageURL = nullStringValue(imageURL)
	if sourcePublished.Valid {
		a.SourcePublished = sourcePublished.Time
	}
	if publishedAt.Valid {
		t := publishedAt.Time
		a.PublishedAt = &t
	}
	return a, nil
}

// nullString は空文字列をNULLとして扱うsql.NullStringを返す。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取り出す。NULLの場合は空文字列を返す。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// nullTime はゼロ値をNULLとして扱うsql.NullTimeを返す。
func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
