package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/yourusername/doc-forge/internal/logger"
)

// runWorker はキューから1件ずつジョブを取り出して実行します。
// 待機前に毎回古いジョブを掃除し、IdleTimeout ごとに掃除だけを行うためにも起床します。
func (m *Manager) runWorker(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	for {
		if removed, err := m.CleanupOldJobs(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error.Printf("job cleanup failed: %v", err)
		} else if removed > 0 {
			logger.Info.Printf("cleaned up %d old jobs", removed)
		}

		item, ok, err := m.queue.Pop(ctx, m.idleTimeout)
		if err != nil {
			return
		}
		if !ok {
			continue
		}

		m.processItem(ctx, item)
	}
}

// processItem は1件のジョブを実行し、結果を終了状態として保存します。
// 処理中に発生したエラーや panic はジョブの失敗として記録し、ワーカーは停止しません。
func (m *Manager) processItem(ctx context.Context, item queueItem) {
	started, err := m.store.Update(ctx, item.jobID, func(r *Record) error {
		if !canTransition(r.Status, StatusProcessing) {
			return ErrInvalidTransition
		}
		r.Status = StatusProcessing
		r.StartedAt = timePtr(m.now().UTC())
		r.Message = messageStarted
		return nil
	})
	switch {
	case errors.Is(err, ErrJobNotFound):
		logger.Warn.Printf("skipped job %s: record not found", item.jobID)
		return
	case errors.Is(err, ErrInvalidTransition):
		logger.Info.Printf("skipped job %s: no longer queued", item.jobID)
		return
	case err != nil:
		logger.Error.Printf("failed to start job %s: %v", item.jobID, err)
		return
	}
	m.events.Publish(started)
	logger.Info.Printf("processing job %s", item.jobID)

	result, taskErr := m.runTask(ctx, item)
	if taskErr != nil && ctx.Err() != nil {
		// 停止による中断は失敗として記録せず processing のまま残す
		logger.Warn.Printf("job %s interrupted by shutdown: %v", item.jobID, taskErr)
		return
	}
	if taskErr != nil {
		m.failJob(ctx, item.jobID, taskErr)
		return
	}
	m.completeJob(ctx, item.jobID, result)
}

func (m *Manager) runTask(ctx context.Context, item queueItem) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error.Printf("job %s panicked: %v\n%s", item.jobID, r, debug.Stack())
			result = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	result, err = item.task(ctx, item.jobID, m.reporterFor(ctx, item.jobID))
	if err == nil && result == nil {
		err = errors.New("task returned no result")
	}
	return result, err
}

func (m *Manager) completeJob(ctx context.Context, jobID string, result *Result) {
	record, err := m.store.Update(ctx, jobID, func(r *Record) error {
		// 処理中にキャンセルされたジョブの結果は破棄する
		if !canTransition(r.Status, StatusCompleted) {
			return ErrInvalidTransition
		}
		r.Status = StatusCompleted
		r.Progress = 1
		r.Message = fmt.Sprintf(messageDoneFmt, result.PageCount)
		r.CompletedAt = timePtr(m.now().UTC())
		r.OutputContent = result.Content
		r.PageCount = intPtr(result.PageCount)
		return nil
	})
	if err != nil {
		m.logTerminalError(jobID, StatusCompleted, err)
		return
	}

	logger.Info.Printf("job %s completed: %d pages", jobID, result.PageCount)
	m.events.Publish(record)
}

func (m *Manager) failJob(ctx context.Context, jobID string, cause error) {
	record, err := m.store.Update(ctx, jobID, func(r *Record) error {
		if !canTransition(r.Status, StatusFailed) {
			return ErrInvalidTransition
		}
		r.Status = StatusFailed
		r.Error = cause.Error()
		r.Message = fmt.Sprintf(messageFailedFmt, cause.Error())
		r.CompletedAt = timePtr(m.now().UTC())
		return nil
	})
	if err != nil {
		m.logTerminalError(jobID, StatusFailed, err)
		return
	}

	logger.Error.Printf("job %s failed: %v", jobID, cause)
	m.events.Publish(record)
}

func (m *Manager) logTerminalError(jobID string, status Status, err error) {
	switch {
	case errors.Is(err, ErrInvalidTransition):
		logger.Info.Printf("discarded %s outcome for job %s: job is no longer processing", status, jobID)
	case errors.Is(err, ErrJobNotFound):
		logger.Warn.Printf("discarded %s outcome for job %s: record not found", status, jobID)
	default:
		logger.Error.Printf("failed to store %s outcome for job %s: %v", status, jobID, err)
	}
}
