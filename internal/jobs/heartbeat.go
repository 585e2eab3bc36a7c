package jobs

import (
	"context"
	"fmt"
	"time"
)

// RunWithHeartbeat は進捗を報告できないブロッキング処理 fn を専用ゴルーチンで実行し、
// 完了するまで interval ごとに beat(経過時間) を呼び出します。
//
// beat は呼び出し元のゴルーチンで実行され、fn の完了（失敗・panic を含む）で
// ティッカーは必ず停止します。ctx がキャンセルされた場合は fn の完了を待たずに戻りますが、
// fn 自体は中断されません。
func RunWithHeartbeat[T any](ctx context.Context, interval time.Duration, beat func(elapsed time.Duration), fn func() (T, error)) (T, error) {
	type outcome struct {
		value T
		err   error
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				done <- outcome{value: zero, err: fmt.Errorf("panic: %v", r)}
			}
		}()
		value, err := fn()
		done <- outcome{value: value, err: err}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case out := <-done:
			return out.value, out.err
		case now := <-ticker.C:
			if beat != nil {
				beat(now.Sub(start))
			}
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}
