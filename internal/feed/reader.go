// Package feed は取り込み元フィードの取得と、未処理記事の抽出を提供する。
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/chronique/internal/model"
)

// userAgent はフィード取得時に送信するUser-Agent。
const userAgent = "Chronique/1.0 (+feed reader)"

// SSRFValidator はSSRF検証のインターフェース。
// security.SSRFGuardServiceを抽象化してテスタビリティを向上させる。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// Reader は単一の取り込み元フィードを取得し、SourceItemに変換する。
// リトライは行わない。
type Reader struct {
	feedURL     string
	ssrfGuard   SSRFValidator
	logger      *slog.Logger
	timeout     time.Duration
	maxBodySize int64
}

// NewReader はReaderの新しいインスタンスを生成する。
func NewReader(
	feedURL string,
	ssrfGuard SSRFValidator,
	logger *slog.Logger,
	timeout time.Duration,
	maxBodySize int64,
) *Reader {
	return &Reader{
		feedURL:     feedURL,
		ssrfGuard:   ssrfGuard,
		logger:      logger,
		timeout:     timeout,
		maxBodySize: maxBodySize,
	}
}

// Fetch はフィードを1回取得し、フィード内の順序のままSourceItemを返す。
// 通信失敗、200以外のステータス、パース失敗はすべて*model.FetchErrorを返す。
func (r *Reader) Fetch(ctx context.Context) ([]model.SourceItem, error) {
	start := time.Now()

	if err := r.ssrfGuard.ValidateURL(r.feedURL); err != nil {
		return nil, &model.FetchError{Stage: "fetch", URL: r.feedURL, Err: fmt.Errorf("SSRF検証に失敗: %w", err)}
	}

	body, err := r.download(ctx)
	if err != nil {
		return nil, &model.FetchError{Stage: "fetch", URL: r.feedURL, Err: err}
	}

	parsed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, &model.FetchError{Stage: "parse", URL: r.feedURL, Err: err}
	}

	items := convertGofeedItems(parsed.Items)

	r.logger.Info("フィードを取得しました",
		slog.String("feed_url", r.feedURL),
		slog.Int("items_total", len(parsed.Items)),
		slog.Int("items_usable", len(items)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return items, nil
}

func (r *Reader) download(ctx context.Context) ([]byte, error) {
	client := r.ssrfGuard.NewSafeClient(r.timeout, r.maxBodySize)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("予期しないHTTPステータス: %d", resp.StatusCode)
	}

	// 上限+1バイトまで読み、超過を検出する
	body, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("レスポンス読み取り失敗: %w", err)
	}
	if int64(len(body)) > r.maxBodySize {
		return nil, errors.New("レスポンスがサイズ上限を超えました")
	}
	return body, nil
}

// convertGofeedItems はgofeedの記事をmodel.SourceItemに変換する。
// リンクを持たない記事は重複判定ができないため除外する。
func convertGofeedItems(items []*gofeed.Item) []model.SourceItem {
	out := make([]model.SourceItem, 0, len(items))

	for _, item := range items {
		if item == nil {
			continue
		}

		link := strings.TrimSpace(item.Link)
		// LinkがなくGUIDがURL形式の場合はGUIDをLinkとして使用
		if link == "" && (strings.HasPrefix(item.GUID, "http://") || strings.HasPrefix(item.GUID, "https://")) {
			link = item.GUID
		}
		if link == "" {
			continue
		}

		src := model.SourceItem{
			SourceURL:   link,
			SourceTitle: strings.TrimSpace(item.Title),
			RawContent:  rawContent(item),
			ImageURL:    extractImage(item),
		}

		if item.PublishedParsed != nil {
			src.SourcePublished = *item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			src.SourcePublished = *item.UpdatedParsed
		}

		out = append(out, src)
	}

	return out
}

// rawContent はcontent:encodedを優先し、なければdescriptionのテキストを返す。
func rawContent(item *gofeed.Item) string {
	if strings.TrimSpace(item.Content) != "" {
		return item.Content
	}
	return plainText(item.Description)
}

// plainText はHTML断片からタグを取り除いたテキストを返す。
func plainText(fragment string) string {
	if fragment == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
