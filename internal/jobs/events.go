package jobs

import "sync"

// EventBus はジョブごとの購読者へレコードのスナップショットを配信します。
type EventBus struct {
	subscribers map[string][]chan *Record
	mu          sync.RWMutex
}

// NewEventBus は空の EventBus を作成します。
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[string][]chan *Record),
	}
}

// Subscribe は jobID の更新を受け取るチャネルを返します。
func (eb *EventBus) Subscribe(jobID string) chan *Record {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan *Record, 16)
	eb.subscribers[jobID] = append(eb.subscribers[jobID], ch)
	return ch
}

// Unsubscribe は購読を解除してチャネルを閉じます。
func (eb *EventBus) Unsubscribe(jobID string, ch chan *Record) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subs := eb.subscribers[jobID]
	for i, sub := range subs {
		if sub == ch {
			eb.subscribers[jobID] = append(subs[:i], subs[i+1:]...)
			close(ch)
			break
		}
	}

	if len(eb.subscribers[jobID]) == 0 {
		delete(eb.subscribers, jobID)
	}
}

// Publish は購読者へスナップショットを送ります。
// 受信が追いつかない購読者には最新状態を優先し、古いイベントを捨てます。
func (eb *EventBus) Publish(record *Record) {
	if record == nil {
		return
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for _, ch := range eb.subscribers[record.JobID] {
		snapshot := record.Clone()
		select {
		case ch <- snapshot:
			continue
		default:
		}
		// バッファが一杯なら1件捨ててから再送する
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snapshot:
		default:
		}
	}
}
