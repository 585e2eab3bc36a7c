// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ジョブストアの種類
const (
	JobStoreMemory = "memory"
	JobStoreRedis  = "redis"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// 認証設定（未設定なら認証なしで公開）
	AppUsername     string // Basic認証用ユーザー名
	AppPasswordHash string // bcryptでハッシュ化されたパスワード

	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// アップロード設定
	MaxFileSize int64  // 単一ファイルの最大サイズ（バイト）
	UploadDir   string // アップロードファイルの作業ディレクトリ

	// ジョブ設定
	JobRetentionMinutes       int    // 終了済みジョブを保持する時間（分）
	WorkerIdleTimeoutSeconds  int    // キュー待機のタイムアウト（秒）。経過するとクリーンアップを実行
	HeartbeatIntervalSeconds  int    // 変換中のハートビート間隔（秒）
	SyncConvertTimeoutMinutes int    // 同期変換APIの最大待機時間（分）
	JobStore                  string // ジョブストアの種類 (memory, redis)
	JobStoreRedisURL          string // redisストア用の接続URL

	// 変換エンジン設定
	DoclingPath string // docling CLI の実行ファイルパス

	// レート制限設定
	RateLimitRPS   float64 // 変換リクエストの許可レート（クライアントごと、毎秒）
	RateLimitBurst int     // 変換リクエストのバースト上限

	// ログ設定
	LogLevel string // info または debug
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	config := &Config{
		AppUsername:     getEnv("APP_USERNAME", ""),
		AppPasswordHash: getEnv("APP_PASSWORD_HASH", ""),

		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		MaxFileSize: getEnvAsInt64("MAX_FILE_SIZE", 104857600), // 100MB
		UploadDir:   getEnv("UPLOAD_DIR", filepath.Join(os.TempDir(), "doc-forge")),

		JobRetentionMinutes:       getEnvAsInt("JOB_RETENTION_MINUTES", 60),
		WorkerIdleTimeoutSeconds:  getEnvAsInt("WORKER_IDLE_TIMEOUT_SECONDS", 60),
		HeartbeatIntervalSeconds:  getEnvAsInt("HEARTBEAT_INTERVAL_SECONDS", 30),
		SyncConvertTimeoutMinutes: getEnvAsInt("SYNC_CONVERT_TIMEOUT_MINUTES", 30),
		JobStore:                  strings.ToLower(getEnv("JOB_STORE", JobStoreMemory)),
		JobStoreRedisURL:          getEnv("JOB_STORE_REDIS_URL", "redis://127.0.0.1:6379/0"),

		DoclingPath: getEnv("DOCLING_PATH", "docling"),

		RateLimitRPS:   getEnvAsFloat("RATE_LIMIT_RPS", 2),
		RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 5),

		LogLevel: strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	if c.AppUsername != "" && c.AppPasswordHash == "" {
		return fmt.Errorf("APP_PASSWORD_HASH is required when APP_USERNAME is set")
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE must be positive")
	}
	if c.UploadDir == "" {
		return fmt.Errorf("UPLOAD_DIR is required")
	}
	if c.JobRetentionMinutes <= 0 {
		return fmt.Errorf("JOB_RETENTION_MINUTES must be positive")
	}
	if c.WorkerIdleTimeoutSeconds <= 0 {
		return fmt.Errorf("WORKER_IDLE_TIMEOUT_SECONDS must be positive")
	}
	if c.HeartbeatIntervalSeconds <= 0 {
		return fmt.Errorf("HEARTBEAT_INTERVAL_SECONDS must be positive")
	}

	switch c.JobStore {
	case JobStoreMemory:
	case JobStoreRedis:
		if c.JobStoreRedisURL == "" {
			return fmt.Errorf("JOB_STORE_REDIS_URL is required when JOB_STORE=redis")
		}
	default:
		return fmt.Errorf("unsupported JOB_STORE: %s", c.JobStore)
	}

	// 本番環境では変換エンジンの指定を必須にする
	if c.GinMode == "release" && c.DoclingPath == "" {
		return fmt.Errorf("DOCLING_PATH is required in release mode")
	}

	return nil
}

// AuthEnabled は API 認証が有効かどうかを返します。
func (c *Config) AuthEnabled() bool {
	return c.AppUsername != ""
}

// JobRetention は終了済みジョブの保持期間を返します。
func (c *Config) JobRetention() time.Duration {
	return time.Duration(c.JobRetentionMinutes) * time.Minute
}

// WorkerIdleTimeout はワーカーのキュー待機タイムアウトを返します。
func (c *Config) WorkerIdleTimeout() time.Duration {
	return time.Duration(c.WorkerIdleTimeoutSeconds) * time.Second
}

// HeartbeatInterval はハートビート間隔を返します。
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSeconds) * time.Second
}

// SyncConvertTimeout は同期変換APIの待機上限を返します。
func (c *Config) SyncConvertTimeout() time.Duration {
	return time.Duration(c.SyncConvertTimeoutMinutes) * time.Minute
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
