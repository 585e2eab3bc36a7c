// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/doc-forge/internal/auth"
	"github.com/yourusername/doc-forge/internal/config"
	"github.com/yourusername/doc-forge/internal/convert"
	"github.com/yourusername/doc-forge/internal/jobs"
	"github.com/yourusername/doc-forge/internal/logger"
	"github.com/yourusername/doc-forge/internal/ratelimit"
	"github.com/yourusername/doc-forge/internal/storage"
)

const (
	serviceName    = "doc-forge-api"
	serviceVersion = "1.0.0"

	shutdownTimeout = 30 * time.Second
)

// app はハンドラーが共有する依存関係です。
type app struct {
	cfg       *config.Config
	manager   *jobs.Manager
	converter *convert.Service
	storage   *storage.Local
	auth      *auth.Manager
	limiter   *ratelimit.Limiter
}

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		logger.Error.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(cfg.LogLevel)

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, closeStore, err := newApp(cfg)
	if err != nil {
		logger.Error.Fatalf("Failed to initialize: %v", err)
	}
	defer closeStore()

	a.manager.Start(ctx)
	go sweepWorkspaces(ctx, a.storage, cfg.JobRetention()+cfg.SyncConvertTimeout())

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()
	router.Use(cors.New(corsConfig(cfg)))

	// ルーティングの設定
	setupRoutes(router, a)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info.Printf("Starting API server on %s (mode: %s, store: %s)", srv.Addr, cfg.GinMode, cfg.JobStore)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info.Printf("Shutting down API server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error.Printf("Server shutdown failed: %v", err)
	}
	if err := a.manager.Stop(shutdownCtx); err != nil {
		logger.Error.Printf("Job worker shutdown failed: %v", err)
	}
}

// newApp は設定から依存関係を組み立てます。戻り値の関数でストア接続を閉じます。
func newApp(cfg *config.Config) (*app, func(), error) {
	local, err := storage.NewLocal(cfg.UploadDir)
	if err != nil {
		return nil, nil, err
	}
	if removed, err := local.Sweep(0, time.Now()); err != nil {
		logger.Warn.Printf("failed to sweep stale workspaces: %v", err)
	} else if removed > 0 {
		logger.Info.Printf("removed %d stale workspaces", removed)
	}

	manager, closeStore, err := setupJobs(cfg)
	if err != nil {
		return nil, nil, err
	}

	converter, err := convert.NewService(
		local,
		convert.NewCLIEngine(cfg.DoclingPath),
		convert.PlaceholderEngine{},
		convert.Options{
			MaxFileSize:       cfg.MaxFileSize,
			HeartbeatInterval: cfg.HeartbeatInterval(),
		},
	)
	if err != nil {
		closeStore()
		return nil, nil, err
	}

	return &app{
		cfg:       cfg,
		manager:   manager,
		converter: converter,
		storage:   local,
		auth:      auth.NewManager(cfg),
		limiter:   ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst),
	}, closeStore, nil
}

func corsConfig(cfg *config.Config) cors.Config {
	corsConfig := cors.DefaultConfig()
	// CORS許可オリジンを設定（カンマ区切りの文字列を配列に変換）
	corsConfig.AllowOrigins = allowedOrigins(cfg)
	corsConfig.AllowCredentials = true
	corsConfig.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Authorization",
	}
	corsConfig.ExposeHeaders = []string{"Retry-After"}
	return corsConfig
}

func allowedOrigins(cfg *config.Config) []string {
	var origins []string
	for _, o := range strings.Split(cfg.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// sweepWorkspaces はキャンセル等で実行されなかったジョブの作業ディレクトリを定期的に削除します。
func sweepWorkspaces(ctx context.Context, local *storage.Local, maxAge time.Duration) {
	ticker := time.NewTicker(maxAge / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := local.Sweep(maxAge, now)
			if err != nil {
				logger.Warn.Printf("workspace sweep failed: %v", err)
				continue
			}
			if removed > 0 {
				logger.Info.Printf("removed %d abandoned workspaces", removed)
			}
		}
	}
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": serviceName,
		"version": serviceVersion,
	})
}

// handleRoot はサービス情報を返します。
func handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": serviceName,
		"version": serviceVersion,
		"health":  "/health",
		"formats": "/formats",
	})
}

// setupRoutes はエンドポイントと認証・レート制限の配線を行います。
func setupRoutes(router *gin.Engine, a *app) {
	// 誰でも叩けるエンドポイント
	router.GET("/", handleRoot)
	router.GET("/health", handleHealth)
	router.GET("/formats", convert.FormatsHandler())

	handlerOpts := convert.HandlerOptions{
		MaxFileSize: a.cfg.MaxFileSize,
		SyncTimeout: a.cfg.SyncConvertTimeout(),
	}

	protected := router.Group("")
	protected.Use(a.auth.RequireAuth())
	{
		protected.POST("/convert-async", a.limiter.Middleware(), convert.ConvertAsyncHandler(a.converter, a.manager, handlerOpts))
		protected.POST("/convert", a.limiter.Middleware(), convert.ConvertHandler(a.converter, a.manager, handlerOpts))

		protected.GET("/jobs", jobListHandler(a.manager))
		protected.GET("/jobs/:id", jobStatusHandler(a.manager))
		protected.GET("/jobs/:id/result", jobResultHandler(a.manager))
		protected.GET("/jobs/:id/ws", jobStreamHandler(a.manager, allowedOrigins(a.cfg)))
		protected.DELETE("/jobs/:id", jobCancelHandler(a.manager))
	}
}
