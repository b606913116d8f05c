package rewrite

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/hitoshi/chronique/internal/model"
)

// parseExcerptLimit は解析エラーに保持する応答の最大文字数（ルーン単位）。
const parseExcerptLimit = 300

var (
	// ErrNoJSONObject は応答にJSONオブジェクトが見つからないことを表す。
	ErrNoJSONObject = errors.New("no JSON object found in response")
	// ErrMissingTitle はtitleFrが空であることを表す。
	ErrMissingTitle = errors.New("titleFr is empty")
)

var codeFence = regexp.MustCompile("```(?:json)?\\n?")

// ParseResponse はLLMの応答テキストをリライト結果に変換する。
// まずコードフェンスを除去して全体をJSONとして解釈し、失敗した場合は
// 最初の対応の取れた {...} を取り出して解釈する。
// どちらも失敗した場合は*model.RewriteParseErrorを返す。
func ParseResponse(text string) (*model.RewriteResult, error) {
	cleaned := strings.TrimSpace(codeFence.ReplaceAllString(text, ""))

	if res, err := decodeResult(cleaned); err == nil {
		return res, nil
	}

	obj, ok := firstObject(cleaned)
	if !ok {
		return nil, &model.RewriteParseError{Excerpt: truncateRunes(text, parseExcerptLimit), Err: ErrNoJSONObject}
	}
	res, err := decodeResult(obj)
	if err != nil {
		return nil, &model.RewriteParseError{Excerpt: truncateRunes(text, parseExcerptLimit), Err: err}
	}
	return res, nil
}

// decodeResult はJSONオブジェクトを寛容に解釈する。
// 文字列でないフィールドは空文字列、tagsは文字列要素のみを採用する。
func decodeResult(raw string) (*model.RewriteResult, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, ErrNoJSONObject
	}

	return &model.RewriteResult{
		TitleFr:    stringField(fields["titleFr"]),
		SummaryFr:  stringField(fields["summaryFr"]),
		ContentFr:  stringField(fields["contentFr"]),
		MetaDescFr: stringField(fields["metaDescFr"]),
		Tags:       tagsField(fields["tags"]),
	}, nil
}

func stringField(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

func tagsField(raw json.RawMessage) []string {
	tags := []string{}
	var values []any
	if len(raw) == 0 || json.Unmarshal(raw, &values) != nil {
		return tags
	}
	for _, v := range values {
		if s, ok := v.(string); ok {
			tags = append(tags, s)
		}
	}
	return tags
}

// firstObject は最初の '{' から対応する '}' までを返す。
// 文字列リテラル内の括弧とエスケープは無視する。
func firstObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
