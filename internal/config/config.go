package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
// ただしLLMプロバイダの選択は起動後に切り替え可能なため、
// ここでは初期値のみを保持する。
type Config struct {
	// Database
	DatabaseURL string

	// Feed
	FeedURL      string
	FetchTimeout time.Duration
	FetchMaxSize int64

	// Pipeline
	CronSchedule string
	PacingDelay  time.Duration

	// LLM
	LLMProvider     string
	LLMModel        string
	ProviderTimeout time.Duration
	EnvFilePath     string // プロバイダ選択の永続化先

	// Admin
	AdminToken string

	// Rate Limit
	RateLimitGeneral int

	// Logging
	LogLevel string

	// Server
	ServerPort        string
	CORSAllowedOrigin string
}

// defaultFeedURL は取り込み対象のフィード。
const defaultFeedURL = "https://simpleflying.com/feed/"

// LoadDotEnv は.envファイルの内容を環境変数として読み込む。
// 既に設定済みの環境変数は上書きしない。ファイルが存在しない場合は何もしない。
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.FeedURL = getEnvString("FEED_URL", defaultFeedURL)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 15*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.CronSchedule = getEnvString("CRON_SCHEDULE", "0 */6 * * *")
	cfg.PacingDelay = getEnvDuration("PIPELINE_PACING_DELAY", 3*time.Second)
	cfg.LLMProvider = getEnvString("LLM_PROVIDER", "")
	cfg.LLMModel = getEnvString("LLM_MODEL", "")
	cfg.ProviderTimeout = getEnvDuration("LLM_TIMEOUT", 120*time.Second)
	cfg.EnvFilePath = getEnvString("ENV_FILE", ".env")
	cfg.AdminToken = getEnvString("ADMIN_TOKEN", "")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "3001")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if cfg.PacingDelay < 0 {
		return nil, fmt.Errorf("PIPELINE_PACING_DELAY must not be negative: %v", cfg.PacingDelay)
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
