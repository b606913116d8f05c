// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizerService はLLMが生成した記事本文のHTMLをサニタイズし、
// 保存前に危険なマークアップを取り除く。
// 正規表現による拒否リストで最低限の除去を保証したうえで、
// bluemondayの許可リストポリシーで安全なタグと属性のみを通過させる。
package security

import (
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService はHTMLコンテンツのサニタイズ機能のインターフェースを定義する。
// 記事の保存前に使用される。
type ContentSanitizerService interface {
	// Sanitize はHTMLコンテンツをサニタイズして安全なHTMLを返す。
	// script, style, iframe, object, form は中身ごと、embedはタグごと除去し、
	// on*イベント属性とjavascript: URLを取り除く。
	// 空文字列の入力には空文字列を返す。失敗することはない。
	Sanitize(rawHTML string) string

	// SanitizeValue は任意の値を受け取り、文字列であればサニタイズした結果を返す。
	// 文字列以外の値には空文字列を返す。
	SanitizeValue(v any) string
}

// denyRule は拒否リストの1ルール。
// repeatがtrueのルールは一致がなくなるまで繰り返し適用する。
type denyRule struct {
	pattern *regexp.Regexp
	repl    string
	repeat  bool
}

// hrefPlaceholder は無効化したリンク先。
// bluemondayは空のフラグメントだけのURLを除去するため、
// ポリシー適用中は hrefSentinel に置き換えておき、最後に戻す。
const (
	hrefPlaceholder = `href="#"`
	hrefSentinel    = `href="#lien-neutralise"`
)

// denyRules は拒否リスト。記載順に適用する。
var denyRules = []denyRule{
	// 危険なタグを中身ごと除去
	{pattern: regexp.MustCompile(`(?is)<script[\s\S]*?</script>`)},
	{pattern: regexp.MustCompile(`(?is)<style[\s\S]*?</style>`)},
	{pattern: regexp.MustCompile(`(?is)<iframe[\s\S]*?</iframe>`)},
	{pattern: regexp.MustCompile(`(?is)<object[\s\S]*?</object>`)},
	{pattern: regexp.MustCompile(`(?i)<embed[^>]*>`)},
	{pattern: regexp.MustCompile(`(?is)<form[\s\S]*?</form>`)},
	// タグ内のon*イベント属性（ダブルクォート、シングルクォート、クォートなし）
	{pattern: regexp.MustCompile(`(?i)(<[^>]*?)\s+on\w+\s*=\s*"[^"]*"`), repl: "${1}", repeat: true},
	{pattern: regexp.MustCompile(`(?i)(<[^>]*?)\s+on\w+\s*=\s*'[^']*'`), repl: "${1}", repeat: true},
	{pattern: regexp.MustCompile(`(?i)(<[^>]*?)\s+on\w+\s*=\s*[^\s>"']+`), repl: "${1}", repeat: true},
	// javascript: URL
	{pattern: regexp.MustCompile(`(?i)href\s*=\s*"\s*javascript:[^"]*"`), repl: hrefSentinel},
	{pattern: regexp.MustCompile(`(?i)href\s*=\s*'\s*javascript:[^']*'`), repl: hrefSentinel},
	{pattern: regexp.MustCompile(`(?i)href\s*=\s*["']#["']`), repl: hrefSentinel},
	{pattern: regexp.MustCompile(`(?i)src\s*=\s*"\s*javascript:[^"]*"`)},
	{pattern: regexp.MustCompile(`(?i)src\s*=\s*'\s*javascript:[^']*'`)},
}

// contentSanitizer はContentSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
// ポリシーの内容:
//   - 許可タグ: p, h2, h3, strong, em, b, i, ul, ol, li, blockquote, br, a, img
//   - aタグ: href属性のみ。rel="nofollow noreferrer" を付与し、外部リンクはtarget="_blank"
//   - imgタグ: src, alt属性のみ
//   - URLスキーム: http, https, mailto と相対URL
func NewContentSanitizer() *contentSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "h2", "h3",
		"strong", "em", "b", "i",
		"ul", "ol", "li",
		"blockquote", "br",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowAttrs("src", "alt").OnElements("img")

	p.AllowURLSchemes("http", "https", "mailto")
	p.AllowRelativeURLs(true)
	p.RequireParseableURLs(true)
	p.RequireNoFollowOnLinks(true)
	p.RequireNoReferrerOnLinks(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)

	return &contentSanitizer{
		policy: p,
	}
}

// Sanitize はHTMLコンテンツをサニタイズして安全なHTMLを返す。
func (s *contentSanitizer) Sanitize(rawHTML string) string {
	if rawHTML == "" {
		return ""
	}
	out := s.policy.Sanitize(applyDenyRules(rawHTML))
	return strings.TrimSpace(strings.ReplaceAll(out, hrefSentinel, hrefPlaceholder))
}

// SanitizeValue は文字列以外の値を空文字列として扱う。
func (s *contentSanitizer) SanitizeValue(v any) string {
	str, ok := v.(string)
	if !ok {
		return ""
	}
	return s.Sanitize(str)
}

// applyDenyRules は拒否リストを順に適用する。
func applyDenyRules(html string) string {
	for _, r := range denyRules {
		html = r.pattern.ReplaceAllString(html, r.repl)
		for r.repeat && r.pattern.MatchString(html) {
			html = r.pattern.ReplaceAllString(html, r.repl)
		}
	}
	return strings.TrimSpace(html)
}
