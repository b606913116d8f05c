// Package slug は記事タイトルからURLセーフな一意の識別子を生成する。
package slug

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/hitoshi/chronique/internal/model"
)

// fallbackSlug はタイトルから識別子を1文字も得られなかった場合に使う。
const fallbackSlug = "article"

// MaxBaseLength は番号なしslugの最大バイト数。
// articles.slug は VARCHAR(255) のため、"-N" の番号を付けても収まる長さにする。
const MaxBaseLength = 200

// transliterations は分解しても基底文字にならない文字の置換表。
var transliterations = strings.NewReplacer(
	"œ", "oe",
	"æ", "ae",
	"ß", "ss",
	"ø", "o",
	"ł", "l",
	"đ", "d",
	"&", " et ",
	"%", " pourcent ",
)

// Lookup はslugで記事を検索する。存在しない場合は nil, nil を返す。
type Lookup interface {
	FindBySlug(ctx context.Context, slug string) (*model.Article, error)
}

// Base はタイトルから番号なしのslugを生成する。
// 小文字化、アクセント除去を行い、英数字以外の連続をハイフン1つにまとめる。
func Base(title string) string {
	s := cases.Lower(language.French).String(title)
	s = transliterations.Replace(s)

	// NFDで分解して結合文字を除去する（é → e）
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(t, s); err == nil {
		s = folded
	}

	var b strings.Builder
	pendingDash := false
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			pendingDash = false
			continue
		}
		pendingDash = true
	}

	if b.Len() == 0 {
		return fallbackSlug
	}
	return truncate(b.String(), MaxBaseLength)
}

// truncate はslugをmaxバイト以下に切り詰める。可能なら単語の区切りで切る。
// slugはASCIIのみで構成されるためバイト単位で切ってよい。
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	if s[max] != '-' {
		if i := strings.LastIndexByte(cut, '-'); i > 0 {
			cut = cut[:i]
		}
	}
	return strings.TrimRight(cut, "-")
}

// Allocator は既存記事と衝突しないslugを割り当てる。
type Allocator struct {
	lookup Lookup
}

// NewAllocator はAllocatorを生成する。
func NewAllocator(lookup Lookup) *Allocator {
	return &Allocator{lookup: lookup}
}

// Allocate はbase, base-1, base-2, ... の順に空いている最初のslugを返す。
// 確認と保存の間に別プロセスが同じslugを取った場合は、保存時の一意制約違反で検出される。
func (a *Allocator) Allocate(ctx context.Context, title string) (string, error) {
	base := Base(title)
	candidate := base
	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		existing, err := a.lookup.FindBySlug(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("failed to check slug %q: %w", candidate, err)
		}
		if existing == nil {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, n)
	}
}
