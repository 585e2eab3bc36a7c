package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/doc-forge/internal/config"
	"github.com/yourusername/doc-forge/internal/jobs"
	"github.com/yourusername/doc-forge/internal/logger"
)

const (
	redisPingTimeout = 5 * time.Second
	wsWriteTimeout   = 10 * time.Second
)

// setupJobs は設定に応じたストアで Manager を作成します。
func setupJobs(cfg *config.Config) (*jobs.Manager, func(), error) {
	var (
		store     jobs.Store
		closeFunc = func() {}
	)

	switch cfg.JobStore {
	case config.JobStoreRedis:
		opt, err := redis.ParseURL(cfg.JobStoreRedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid JOB_STORE_REDIS_URL: %w", err)
		}
		redisClient := redis.NewClient(opt)

		ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
		defer cancel()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			_ = redisClient.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}

		store = jobs.NewRedisStore(redisClient)
		closeFunc = func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn.Printf("failed to close redis client: %v", err)
			}
		}
	default:
		store = jobs.NewMemoryStore()
	}

	manager, err := jobs.NewManager(store, jobs.Options{
		Retention:   cfg.JobRetention(),
		IdleTimeout: cfg.WorkerIdleTimeout(),
	})
	if err != nil {
		closeFunc()
		return nil, nil, err
	}
	return manager, closeFunc, nil
}

// loadJob は :id のジョブを取得します。見つからない場合はレスポンスを書き込み nil を返します。
func loadJob(c *gin.Context, manager *jobs.Manager) *jobs.Record {
	jobID := strings.TrimSpace(c.Param("id"))
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "job_id を指定してください。",
		})
		return nil
	}

	record, err := manager.GetJob(c.Request.Context(), jobID)
	if err != nil {
		logger.Error.Printf("failed to load job %s: %v", jobID, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "ジョブ情報の取得に失敗しました。",
		})
		return nil
	}
	if record == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "JOB_NOT_FOUND",
			"message": "指定されたジョブは存在しません。",
		})
		return nil
	}
	return record
}

func jobStatusHandler(manager *jobs.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		record := loadJob(c, manager)
		if record == nil {
			return
		}
		c.JSON(http.StatusOK, record.View())
	}
}

func jobResultHandler(manager *jobs.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		record := loadJob(c, manager)
		if record == nil {
			return
		}

		view, ok := record.ResultView()
		if !ok {
			c.JSON(http.StatusTooEarly, gin.H{
				"code":    "JOB_NOT_FINISHED",
				"message": fmt.Sprintf("ジョブはまだ完了していません（状態: %s）。", record.Status),
			})
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

func jobCancelHandler(manager *jobs.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		record := loadJob(c, manager)
		if record == nil {
			return
		}

		cancelled, err := manager.CancelJob(c.Request.Context(), record.JobID)
		if err != nil {
			logger.Error.Printf("failed to cancel job %s: %v", record.JobID, err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "ジョブのキャンセルに失敗しました。",
			})
			return
		}
		if !cancelled {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "JOB_NOT_CANCELLABLE",
				"message": "完了済みまたはキャンセル済みのジョブはキャンセルできません。",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"job_id":  record.JobID,
			"message": "ジョブをキャンセルしました。",
		})
	}
}

func jobListHandler(manager *jobs.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := jobs.Status(strings.ToLower(c.Query("status")))
		if status != "" && !status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "status には queued, processing, completed, failed, cancelled のいずれかを指定してください。",
			})
			return
		}

		records, err := manager.ListJobs(c.Request.Context(), status)
		if err != nil {
			logger.Error.Printf("failed to list jobs: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "ジョブ一覧の取得に失敗しました。",
			})
			return
		}

		views := make([]jobs.StatusView, 0, len(records))
		for _, record := range records {
			views = append(views, record.View())
		}
		c.JSON(http.StatusOK, gin.H{
			"jobs":        views,
			"queue_depth": manager.QueueLength(),
		})
	}
}

// jobStreamHandler はジョブの状態を WebSocket で配信します。終了状態を送ると接続を閉じます。
func jobStreamHandler(manager *jobs.Manager, origins []string) gin.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, o := range origins {
				if o == "*" || strings.EqualFold(o, origin) {
					return true
				}
			}
			return false
		},
	}

	return func(c *gin.Context) {
		jobID := strings.TrimSpace(c.Param("id"))
		// 取りこぼしを防ぐため、現在状態の取得より先に購読する
		updates := manager.Subscribe(jobID)
		defer manager.Unsubscribe(jobID, updates)

		record := loadJob(c, manager)
		if record == nil {
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn.Printf("websocket upgrade failed for job %s: %v", jobID, err)
			return
		}
		defer conn.Close()

		// クライアントからの切断を検知する
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		send := func(r *jobs.Record) bool {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(r.View()); err != nil {
				logger.Debug.Printf("websocket write failed for job %s: %v", jobID, err)
				return false
			}
			return !r.Status.IsTerminal()
		}

		if !send(record) {
			closeStream(conn)
			return
		}
		for {
			select {
			case <-closed:
				return
			case snapshot, ok := <-updates:
				if !ok {
					return
				}
				if !send(snapshot) {
					closeStream(conn)
					return
				}
			}
		}
	}
}

func closeStream(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
}
