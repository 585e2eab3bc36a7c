package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Port:                      "8080",
		GinMode:                   "debug",
		MaxFileSize:               1024,
		UploadDir:                 "/tmp/doc-forge",
		JobRetentionMinutes:       60,
		WorkerIdleTimeoutSeconds:  60,
		HeartbeatIntervalSeconds:  30,
		SyncConvertTimeoutMinutes: 30,
		JobStore:                  JobStoreMemory,
		DoclingPath:               "docling",
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	for _, key := range []string{"APP_USERNAME", "APP_PASSWORD_HASH", "PORT", "JOB_STORE", "MAX_FILE_SIZE", "RATE_LIMIT_RPS"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.JobStore != JobStoreMemory {
		t.Errorf("JobStore = %q, want memory", cfg.JobStore)
	}
	if cfg.MaxFileSize != 104857600 {
		t.Errorf("MaxFileSize = %d, want 104857600", cfg.MaxFileSize)
	}
	if cfg.RateLimitRPS != 2 {
		t.Errorf("RateLimitRPS = %v, want 2", cfg.RateLimitRPS)
	}
	if cfg.AuthEnabled() {
		t.Errorf("AuthEnabled() = true, want false")
	}
	if cfg.JobRetention() != time.Hour {
		t.Errorf("JobRetention() = %s, want 1h", cfg.JobRetention())
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "9000")
	t.Setenv("JOB_STORE", "REDIS")
	t.Setenv("JOB_STORE_REDIS_URL", "redis://cache:6379/1")
	t.Setenv("HEARTBEAT_INTERVAL_SECONDS", "5")
	t.Setenv("RATE_LIMIT_RPS", "0.5")
	t.Setenv("MAX_FILE_SIZE", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != "9000" {
		t.Errorf("Port = %q, want 9000", cfg.Port)
	}
	if cfg.JobStore != JobStoreRedis {
		t.Errorf("JobStore = %q, want redis", cfg.JobStore)
	}
	if cfg.HeartbeatInterval() != 5*time.Second {
		t.Errorf("HeartbeatInterval() = %s, want 5s", cfg.HeartbeatInterval())
	}
	if cfg.RateLimitRPS != 0.5 {
		t.Errorf("RateLimitRPS = %v, want 0.5", cfg.RateLimitRPS)
	}
	// 数値として解釈できない値は既定値になる
	if cfg.MaxFileSize != 104857600 {
		t.Errorf("MaxFileSize = %d, want default", cfg.MaxFileSize)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "username without hash",
			mutate:  func(c *Config) { c.AppUsername = "admin" },
			wantErr: "APP_PASSWORD_HASH",
		},
		{
			name:    "non-positive file size",
			mutate:  func(c *Config) { c.MaxFileSize = 0 },
			wantErr: "MAX_FILE_SIZE",
		},
		{
			name:    "empty upload dir",
			mutate:  func(c *Config) { c.UploadDir = "" },
			wantErr: "UPLOAD_DIR",
		},
		{
			name:    "zero retention",
			mutate:  func(c *Config) { c.JobRetentionMinutes = 0 },
			wantErr: "JOB_RETENTION_MINUTES",
		},
		{
			name:    "zero idle timeout",
			mutate:  func(c *Config) { c.WorkerIdleTimeoutSeconds = 0 },
			wantErr: "WORKER_IDLE_TIMEOUT_SECONDS",
		},
		{
			name:    "zero heartbeat",
			mutate:  func(c *Config) { c.HeartbeatIntervalSeconds = 0 },
			wantErr: "HEARTBEAT_INTERVAL_SECONDS",
		},
		{
			name:    "unknown store",
			mutate:  func(c *Config) { c.JobStore = "sqlite" },
			wantErr: "unsupported JOB_STORE",
		},
		{
			name: "redis without url",
			mutate: func(c *Config) {
				c.JobStore = JobStoreRedis
				c.JobStoreRedisURL = ""
			},
			wantErr: "JOB_STORE_REDIS_URL",
		},
		{
			name: "release without docling",
			mutate: func(c *Config) {
				c.GinMode = "release"
				c.DoclingPath = ""
			},
			wantErr: "DOCLING_PATH",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
