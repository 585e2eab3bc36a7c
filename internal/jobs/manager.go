// Package jobs は変換ジョブの非同期実行と状態管理を提供します。
//
// ジョブは1つのワーカーで投入順に1件ずつ処理されます。
// 状態は queued -> processing -> completed / failed / cancelled と一方向に遷移し、
// queued から直接 cancelled になることもあります。
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/doc-forge/internal/logger"
)

const (
	defaultRetention   = time.Hour
	defaultIdleTimeout = 60 * time.Second
)

// ジョブメッセージ
const (
	messageQueued     = "ジョブを受け付けました。処理待ちです。"
	messageStarted    = "変換処理を開始しました。"
	messageCancelled  = "ジョブはユーザーによってキャンセルされました。"
	messageFailedFmt  = "変換に失敗しました: %s"
	messageDoneFmt    = "変換が完了しました（%dページ）。"
	messageNoProgress = ""
)

var (
	// ErrManagerStopped は停止後の Manager にジョブを投入した場合に返されます。
	ErrManagerStopped = errors.New("job manager is stopped")
	// ErrInvalidTransition は許可されていない状態遷移の場合に返されます。
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// Options は Manager の動作設定です。
type Options struct {
	// Retention は終了済みジョブを保持する期間です（既定 1 時間）。
	Retention time.Duration
	// IdleTimeout はキュー待機のタイムアウトです。経過するとクリーンアップだけを行います（既定 60 秒）。
	IdleTimeout time.Duration
	// Events が設定されている場合、レコード更新ごとにスナップショットを配信します。
	Events *EventBus
	// Now は現在時刻の取得関数です（テスト用）。
	Now func() time.Time
}

// Manager はジョブの作成・投入・参照・キャンセル・掃除をまとめたファサードです。
type Manager struct {
	store       Store
	queue       *Queue
	events      *EventBus
	retention   time.Duration
	idleTimeout time.Duration
	now         func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

// NewManager は Manager を初期化します。ワーカーは Start で起動します。
func NewManager(store Store, opts Options) (*Manager, error) {
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if opts.Retention <= 0 {
		opts.Retention = defaultRetention
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Events == nil {
		opts.Events = NewEventBus()
	}

	return &Manager{
		store:       store,
		queue:       NewQueue(),
		events:      opts.Events,
		retention:   opts.Retention,
		idleTimeout: opts.IdleTimeout,
		now:         opts.Now,
	}, nil
}

// Start はワーカーをバックグラウンドで起動します。二重起動は無視されます。
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.done != nil || m.stopped {
		return
	}
	workerCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.runWorker(workerCtx, m.done)
	logger.Info.Printf("job worker started (retention=%s, idle timeout=%s)", m.retention, m.idleTimeout)
}

// Stop はワーカーを停止し、ループの終了を待ちます。
// 実行中の変換はコンテキストのキャンセルで中断されますが、そのジョブは失敗扱いにせず processing のまま残ります。
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.stopped = true
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		logger.Info.Printf("job worker stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for job worker: %w", ctx.Err())
	}
}

// CreateJob は queued 状態の新しいジョブを作成し、そのIDを返します。
func (m *Manager) CreateJob(ctx context.Context, filename, outputFormat string) (string, error) {
	jobID := uuid.NewString()
	record := &Record{
		JobID:        jobID,
		Status:       StatusQueued,
		Progress:     0,
		Message:      messageQueued,
		CreatedAt:    m.now().UTC(),
		Filename:     filename,
		OutputFormat: outputFormat,
	}
	if err := m.store.Create(ctx, record); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}

	logger.Info.Printf("created job %s: file=%s, format=%s", jobID, logger.SanitizeForLog(filename), outputFormat)
	m.events.Publish(record)
	return jobID, nil
}

// EnqueueJob はジョブをキューに投入します。呼び出し元をブロックしません。
func (m *Manager) EnqueueJob(jobID string, task Task) error {
	if jobID == "" {
		return fmt.Errorf("jobID is required")
	}
	if task == nil {
		return fmt.Errorf("task is nil")
	}

	// 停止判定と投入は Stop と排他にする
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return ErrManagerStopped
	}

	m.queue.Push(jobID, task)
	logger.Info.Printf("enqueued job %s (queue size: %d)", jobID, m.queue.Len())
	return nil
}

// GetJob はジョブ情報を取得します。存在しない場合は nil, nil を返します。
func (m *Manager) GetJob(ctx context.Context, jobID string) (*Record, error) {
	return m.store.Get(ctx, jobID)
}

// ListJobs はジョブ一覧を新しい順に返します。status が空でなければ絞り込みます。
func (m *Manager) ListJobs(ctx context.Context, status Status) ([]*Record, error) {
	records, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	if status == "" {
		return records, nil
	}

	filtered := records[:0]
	for _, record := range records {
		if record.Status == status {
			filtered = append(filtered, record)
		}
	}
	return filtered, nil
}

// QueueLength は処理待ちのキュー長を返します。
func (m *Manager) QueueLength() int {
	return m.queue.Len()
}

// UpdateProgress は進捗を保存します。fraction は [0, 1] に丸められます。
// processing 以外のジョブへの更新は破棄されます。
func (m *Manager) UpdateProgress(ctx context.Context, jobID string, fraction float64, current, total int, message string) error {
	record, err := m.store.Update(ctx, jobID, func(r *Record) error {
		if r.Status != StatusProcessing {
			return errSkipUpdate
		}
		r.Progress = clampProgress(fraction)
		if current > 0 {
			r.CurrentPage = intPtr(current)
		}
		if total > 0 {
			r.TotalPages = intPtr(total)
		}
		if message != messageNoProgress {
			r.Message = message
		}
		return nil
	})
	if errors.Is(err, errSkipUpdate) {
		return nil
	}
	if err != nil {
		return err
	}

	logger.Debug.Printf("job %s progress: %.1f%% - %s", jobID, record.Progress*100, record.Message)
	m.events.Publish(record)
	return nil
}

// CancelJob はジョブをキャンセルします。
// queued または processing のジョブのみ対象で、それ以外（存在しない・終了済み）は false を返します。
// processing 中の変換処理そのものは中断されず、結果が破棄されるだけです。
func (m *Manager) CancelJob(ctx context.Context, jobID string) (bool, error) {
	record, err := m.store.Update(ctx, jobID, func(r *Record) error {
		if !canTransition(r.Status, StatusCancelled) {
			return ErrInvalidTransition
		}
		r.Status = StatusCancelled
		r.Message = messageCancelled
		r.CompletedAt = timePtr(m.now().UTC())
		return nil
	})
	if errors.Is(err, ErrJobNotFound) || errors.Is(err, ErrInvalidTransition) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	logger.Info.Printf("cancelled job %s", jobID)
	m.events.Publish(record)
	return true, nil
}

// CleanupOldJobs は保持期間を過ぎた終了済みジョブを削除し、削除件数を返します。
func (m *Manager) CleanupOldJobs(ctx context.Context) (int, error) {
	records, err := m.store.List(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := m.now().UTC().Add(-m.retention)
	removed := 0
	for _, record := range records {
		if !record.Status.IsTerminal() || record.CompletedAt == nil {
			continue
		}
		if !record.CompletedAt.Before(cutoff) {
			continue
		}
		if err := m.store.Delete(ctx, record.JobID); err != nil {
			return removed, fmt.Errorf("delete job %s: %w", record.JobID, err)
		}
		removed++
		logger.Info.Printf("cleaned up old job %s", record.JobID)
	}
	return removed, nil
}

// Subscribe はジョブの更新通知を受け取るチャネルを返します。
func (m *Manager) Subscribe(jobID string) chan *Record {
	return m.events.Subscribe(jobID)
}

// Unsubscribe は購読を解除します。
func (m *Manager) Unsubscribe(jobID string, ch chan *Record) {
	m.events.Unsubscribe(jobID, ch)
}

// WaitForJob はジョブが終了状態になるまで待ち、そのレコードを返します。
func (m *Manager) WaitForJob(ctx context.Context, jobID string) (*Record, error) {
	// 取りこぼしを防ぐため、現在状態の確認より先に購読する
	ch := m.Subscribe(jobID)
	defer m.Unsubscribe(jobID, ch)

	record, err := m.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if record.Status.IsTerminal() {
		return record, nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case snapshot, ok := <-ch:
			if !ok {
				return nil, fmt.Errorf("subscription closed: %s", jobID)
			}
			if snapshot.Status.IsTerminal() {
				return snapshot, nil
			}
		}
	}
}

// reporterFor は jobID に束縛された ProgressReporter を返します。
func (m *Manager) reporterFor(ctx context.Context, jobID string) ProgressReporter {
	return func(fraction float64, current, total int, message string) {
		if err := m.UpdateProgress(ctx, jobID, fraction, current, total, message); err != nil {
			logger.Warn.Printf("failed to update progress job=%s: %v", jobID, err)
		}
	}
}

var errSkipUpdate = errors.New("skip update")
