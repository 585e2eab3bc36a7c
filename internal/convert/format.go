package convert

import (
	"fmt"
	"strings"
)

// Format は出力フォーマットです。
type Format string

const (
	FormatHTML     Format = "html"
	FormatMarkdown Format = "markdown"
	FormatDocBook  Format = "docbook"
	FormatDocTags  Format = "doctags"
	FormatJSON     Format = "json"
)

// DefaultFormat は output_format 未指定時のフォーマットです。
const DefaultFormat = FormatHTML

var formatAliases = map[string]Format{
	"html":     FormatHTML,
	"xml":      FormatHTML,
	"markdown": FormatMarkdown,
	"md":       FormatMarkdown,
	"docbook":  FormatDocBook,
	"doctags":  FormatDocTags,
	"json":     FormatJSON,
}

// SupportedFormats は GET /formats で返すフォーマット一覧です。
func SupportedFormats() []string {
	return []string{
		string(FormatHTML),
		string(FormatMarkdown),
		string(FormatDocBook),
		string(FormatDocTags),
		string(FormatJSON),
	}
}

// NormalizeFormat はリクエストの output_format を正規化します。
// 空文字は html、xml は html、md は markdown として扱います。
func NormalizeFormat(raw string) (Format, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		return DefaultFormat, nil
	}
	if f, ok := formatAliases[value]; ok {
		return f, nil
	}
	return "", newError(CodeUnsupportedFormat, fmt.Sprintf("output_formatには %s のいずれかを指定してください (received: %s)", strings.Join(SupportedFormats(), ", "), raw), nil)
}

// exportKey はエンジンの出力から参照するエクスポート種別です。
// docbook は HTML エクスポートで代替します。
func (f Format) exportKey() Format {
	if f == FormatDocBook {
		return FormatHTML
	}
	return f
}
