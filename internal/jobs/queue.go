package jobs

import (
	"context"
	"sync"
	"time"
)

// Task はワーカーが実行する変換処理です。
// 戻り値のエラーはジョブの失敗として記録されます。
type Task func(ctx context.Context, jobID string, report ProgressReporter) (*Result, error)

type queueItem struct {
	jobID string
	task  Task
}

// Queue は上限のない FIFO キューです。Push はブロックしません。
// 取り出し側は1つのワーカーのみを想定しています。
type Queue struct {
	mu    sync.Mutex
	items []queueItem
	ready chan struct{}
}

// NewQueue は空のキューを作成します。
func NewQueue() *Queue {
	return &Queue{
		ready: make(chan struct{}, 1),
	}
}

// Push は末尾に要素を追加します。
func (q *Queue) Push(jobID string, task Task) {
	q.mu.Lock()
	q.items = append(q.items, queueItem{jobID: jobID, task: task})
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Len は待機中の要素数を返します。
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pop は先頭の要素を取り出します。timeout 以内に要素が来なければ ok=false を返します。
// ctx がキャンセルされた場合は ctx.Err() を返します。
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (item queueItem, ok bool, err error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if item, ok := q.tryPop(); ok {
			return item, true, nil
		}

		select {
		case <-ctx.Done():
			return queueItem{}, false, ctx.Err()
		case <-timer.C:
			return queueItem{}, false, nil
		case <-q.ready:
		}
	}
}

func (q *Queue) tryPop() (queueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return queueItem{}, false
	}
	item := q.items[0]
	q.items[0] = queueItem{}
	q.items = q.items[1:]
	return item, true
}
