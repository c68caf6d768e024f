// Package config loads server configuration from the environment and
// the UCP profile (ruleset, dictionary seed, routing policy) from YAML.
package config

import "os"

// Config holds server configuration.
type Config struct {
	Port         string
	LogLevel     string
	DatabaseURL  string // postgres DSN; empty selects SQLite
	SQLitePath   string
	RedisAddr    string // empty selects the in-memory limiter
	RedisDB      int
	MasterSecret string // secret-at-rest key derivation input
	JWTSecret    string
	ProfilePath  string
	LLMBaseURL   string // optional OpenAI-compatible endpoint
	LLMAPIKey    string
	LLMModel     string
	S3Bucket     string // optional session export bucket
	S3Region     string
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		Port:         getenv("PORT", "8080"),
		LogLevel:     getenv("LOG_LEVEL", "INFO"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		SQLitePath:   getenv("SQLITE_PATH", "ucp.db"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		MasterSecret: os.Getenv("UCP_MASTER_SECRET"),
		JWTSecret:    os.Getenv("UCP_JWT_SECRET"),
		ProfilePath:  getenv("UCP_PROFILE", "profiles/profile_default.yaml"),
		LLMBaseURL:   os.Getenv("LLM_BASE_URL"),
		LLMAPIKey:    os.Getenv("LLM_API_KEY"),
		LLMModel:     getenv("LLM_MODEL", "gpt-4o-mini"),
		S3Bucket:     os.Getenv("UCP_EXPORT_BUCKET"),
		S3Region:     getenv("AWS_REGION", "us-east-1"),
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
