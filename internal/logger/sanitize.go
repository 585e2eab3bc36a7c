package logger

import (
	"fmt"
	"strings"
)

// SanitizeForLog はファイル名などユーザー入力をログに出す前に制御文字をエスケープします。
// Unicode の文字はそのまま残し、改行・タブ・NUL・ESC などは可視化します。
func SanitizeForLog(s string) string {
	var result strings.Builder
	result.Grow(len(s))

	for _, r := range s {
		switch r {
		case '\n':
			result.WriteString("\\n")
		case '\r':
			result.WriteString("\\r")
		case '\t':
			result.WriteString("\\t")
		case '\x00':
			result.WriteString("\\x00")
		default:
			if r < 32 || r == 127 {
				result.WriteString(fmt.Sprintf("\\x%02x", r))
			} else {
				result.WriteRune(r)
			}
		}
	}
	return result.String()
}
