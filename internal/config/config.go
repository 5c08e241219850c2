package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// minJWTSecretLength はHS256署名鍵として受け付ける最小バイト数。
const minJWTSecretLength = 32

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Identity
	JWTSecret         string
	AccessTokenTTL    time.Duration
	RefreshTokenTTL   time.Duration
	PasswordMinLength int
	ServiceRoleKey    string

	// Provisioning
	ProvisioningMode string
	RollbackAttempts int

	// Analysis
	GeminiAPIKey    string
	GeminiModel     string
	GeminiEndpoint  string
	AnalysisTimeout time.Duration

	// Refresh token store (空の場合はPostgreSQLに保存する)
	RedisURL string

	// Rate Limit (req/min)
	RateLimitGeneral   int
	RateLimitProvision int

	// Cleanup
	TokenRetentionDays int
	CleanupInterval    time.Duration

	// Logging
	LogLevel string

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定、または値の組み合わせが不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if len(cfg.JWTSecret) < minJWTSecretLength {
		return nil, fmt.Errorf("JWT_SECRET must be at least %d bytes", minJWTSecretLength)
	}

	// Optional fields with defaults
	cfg.AccessTokenTTL = getEnvDuration("ACCESS_TOKEN_TTL", 15*time.Minute)
	cfg.RefreshTokenTTL = getEnvDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour)
	cfg.PasswordMinLength = getEnvInt("PASSWORD_MIN_LENGTH", 6)
	cfg.ServiceRoleKey = getEnvString("SERVICE_ROLE_KEY", "")
	cfg.ProvisioningMode = getEnvString("PROVISIONING_MODE", "handoff")
	cfg.RollbackAttempts = getEnvInt("ROLLBACK_ATTEMPTS", 3)
	cfg.GeminiAPIKey = getEnvString("GEMINI_API_KEY", "")
	cfg.GeminiModel = getEnvString("GEMINI_MODEL", "gemini-flash-latest")
	cfg.GeminiEndpoint = getEnvString("GEMINI_ENDPOINT", "https://generativelanguage.googleapis.com")
	cfg.AnalysisTimeout = getEnvDuration("ANALYSIS_TIMEOUT", 15*time.Second)
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitProvision = getEnvInt("RATE_LIMIT_PROVISION", 10)
	cfg.TokenRetentionDays = getEnvInt("TOKEN_RETENTION_DAYS", 30)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	switch cfg.ProvisioningMode {
	case "handoff":
	case "privileged":
		if cfg.ServiceRoleKey == "" {
			return nil, fmt.Errorf("PROVISIONING_MODE=privileged requires SERVICE_ROLE_KEY")
		}
	default:
		return nil, fmt.Errorf("PROVISIONING_MODE must be handoff or privileged, got %q", cfg.ProvisioningMode)
	}

	return cfg, nil
}

// AnalysisEnabled は解析サービスのAPIキーが設定されているかを返す。
func (c *Config) AnalysisEnabled() bool {
	return c.GeminiAPIKey != ""
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
	if err != nil || i <= 0 {
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
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
