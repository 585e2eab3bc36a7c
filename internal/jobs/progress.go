package jobs

// ProgressReporter は変換処理から進捗を報告するためのコールバックです。
// fraction は 0.0〜1.0、current / total はページ番号と総ページ数（0以下は不明扱い）です。
// どのゴルーチンから呼び出しても安全です。
type ProgressReporter func(fraction float64, current, total int, message string)

// Report は nil チェック付きで進捗を報告します。
func (r ProgressReporter) Report(fraction float64, current, total int, message string) {
	if r == nil {
		return
	}
	r(fraction, current, total, message)
}

func clampProgress(fraction float64) float64 {
	// NaN は比較が常に false になるため 0 として扱う
	if fraction != fraction || fraction < 0 {
		return 0
	}
	if fraction > 1 {
		return 1
	}
	return fraction
}
