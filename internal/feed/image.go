package feed

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/chronique/internal/security"
)

// extractImage は記事の代表画像URLを次の優先順で取得する。
//  1. media:content の url 属性
//  2. 最初の enclosure の URL
//  3. content:encoded 内の最初の <img src>
//
// http(s)の絶対URL以外は採用しない。見つからない場合は空文字列を返す。
func extractImage(item *gofeed.Item) string {
	if u := mediaContentURL(item); u != "" {
		return u
	}
	if u := enclosureURL(item); u != "" {
		return u
	}
	return firstImgSrc(item.Content)
}

func mediaContentURL(item *gofeed.Item) string {
	media, ok := item.Extensions["media"]
	if !ok {
		return ""
	}
	for _, ext := range media["content"] {
		if u := acceptImageURL(ext.Attrs["url"]); u != "" {
			return u
		}
	}
	// media:group 配下の media:content
	for _, group := range media["group"] {
		for _, ext := range group.Children["content"] {
			if u := acceptImageURL(ext.Attrs["url"]); u != "" {
				return u
			}
		}
	}
	return ""
}

func enclosureURL(item *gofeed.Item) string {
	for _, enc := range item.Enclosures {
		if enc == nil {
			continue
		}
		return acceptImageURL(enc.URL)
	}
	return ""
}

// firstImgSrc はHTML中で最初にsrcを持つimg要素のsrcを返す。
func firstImgSrc(content string) string {
	if !strings.Contains(content, "<img") {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return ""
	}
	src, ok := doc.Find("img[src]").First().Attr("src")
	if !ok {
		return ""
	}
	return acceptImageURL(src)
}

func acceptImageURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || !security.IsPublicHTTPURL(u) {
		return ""
	}
	return u.String()
}
