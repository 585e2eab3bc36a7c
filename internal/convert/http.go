package convert

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/doc-forge/internal/jobs"
	"github.com/yourusername/doc-forge/internal/logger"
)

// 上限サイズに加えて許容するマルチパートのヘッダー分
const multipartOverhead = 1 << 20

// Preparer はアップロードの検証とタスク生成を行います。
type Preparer interface {
	Prepare(ctx context.Context, file *multipart.FileHeader, rawFormat string) (*Upload, error)
	Task(up *Upload) jobs.Task
	Discard(up *Upload)
}

// JobSubmitter はジョブを作成してキューに投入します。
type JobSubmitter interface {
	CreateJob(ctx context.Context, filename, outputFormat string) (string, error)
	EnqueueJob(jobID string, task jobs.Task) error
	CancelJob(ctx context.Context, jobID string) (bool, error)
}

// JobWaiter はジョブの完了を待機できる JobSubmitter です。
type JobWaiter interface {
	JobSubmitter
	WaitForJob(ctx context.Context, jobID string) (*jobs.Record, error)
}

// HandlerOptions はハンドラー共通の設定です。
type HandlerOptions struct {
	MaxFileSize int64
	SyncTimeout time.Duration
}

// ConvertAsyncHandler は POST /convert-async のハンドラーを返します。
func ConvertAsyncHandler(svc Preparer, submitter JobSubmitter, opts HandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID, err := submit(c, svc, submitter, opts)
		if err != nil {
			respondWithError(c, err)
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"job_id":  jobID,
			"message": "変換ジョブを受け付けました。GET /jobs/" + jobID + " で進捗を確認してください。",
		})
	}
}

// ConvertHandler は POST /convert のハンドラーを返します。
// 非同期と同じキューに投入し、終了状態になるまで待機して結果を返します。
func ConvertHandler(svc Preparer, waiter JobWaiter, opts HandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID, err := submit(c, svc, waiter, opts)
		if err != nil {
			respondWithError(c, err)
			return
		}

		ctx := c.Request.Context()
		if opts.SyncTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, opts.SyncTimeout)
			defer cancel()
		}

		record, err := waiter.WaitForJob(ctx, jobID)
		if err != nil {
			// 待機をやめたジョブは処理しても誰も受け取らない
			if _, cancelErr := waiter.CancelJob(context.Background(), jobID); cancelErr != nil {
				logger.Warn.Printf("failed to cancel abandoned job %s: %v", jobID, cancelErr)
			}
			if errors.Is(err, context.DeadlineExceeded) {
				respondWithError(c, newError(CodeTimeout, "変換が時間内に完了しませんでした。", err))
				return
			}
			respondWithError(c, err)
			return
		}

		switch record.Status {
		case jobs.StatusCompleted:
			pageCount := 0
			if record.PageCount != nil {
				pageCount = *record.PageCount
			}
			c.JSON(http.StatusOK, gin.H{
				"success":        true,
				"job_id":         record.JobID,
				"output_content": record.OutputContent,
				"page_count":     pageCount,
				"message":        fmt.Sprintf("%s を %s に変換しました。", record.Filename, record.OutputFormat),
			})
		case jobs.StatusCancelled:
			c.JSON(http.StatusConflict, gin.H{
				"code":    "JOB_CANCELLED",
				"message": record.Message,
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    CodeConversionFailed,
				"message": record.Message,
			})
		}
	}
}

// FormatsHandler は GET /formats のハンドラーを返します。
func FormatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"formats": SupportedFormats()})
	}
}

func submit(c *gin.Context, svc Preparer, submitter JobSubmitter, opts HandlerOptions) (string, error) {
	if opts.MaxFileSize > 0 {
		limit := opts.MaxFileSize + multipartOverhead
		if c.Request.ContentLength > limit {
			return "", newError(CodeLimitExceeded, "ファイルサイズが上限を超えています。", nil)
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	}

	file, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return "", newError(CodeLimitExceeded, "ファイルサイズが上限を超えています。", err)
		}
		return "", newError(CodeInvalidInput, "multipart/form-data の file フィールドで文書を送信してください。", err)
	}

	up, err := svc.Prepare(c.Request.Context(), file, c.PostForm("output_format"))
	if err != nil {
		return "", err
	}

	jobID, err := submitter.CreateJob(c.Request.Context(), up.Filename, string(up.Format))
	if err != nil {
		svc.Discard(up)
		return "", err
	}
	if err := submitter.EnqueueJob(jobID, svc.Task(up)); err != nil {
		svc.Discard(up)
		if _, cancelErr := submitter.CancelJob(context.Background(), jobID); cancelErr != nil {
			logger.Warn.Printf("failed to cancel unqueued job %s: %v", jobID, cancelErr)
		}
		if errors.Is(err, jobs.ErrManagerStopped) {
			return "", newError(CodeServiceUnavailable, "サーバーが停止処理中のため受け付けできません。", err)
		}
		return "", err
	}

	logger.Info.Printf("accepted job %s: file=%s, format=%s, size=%d", jobID, logger.SanitizeForLog(up.Filename), up.Format, up.Size)
	return jobID, nil
}

func respondWithError(c *gin.Context, err error) {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		c.JSON(statusForCode(apiErr.Code), gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストがキャンセルされました。",
		})
	default:
		logger.Error.Printf("request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "サーバー内部でエラーが発生しました。",
		})
	}
}

func statusForCode(code string) int {
	switch code {
	case CodeLimitExceeded:
		return http.StatusRequestEntityTooLarge
	case CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeConversionFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}
