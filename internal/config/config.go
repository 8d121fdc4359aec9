package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/lmnhd/keyvex-sub008/internal/logging"
)

// Orchestration modes.
const (
	OrchestrationHTTP      = "http"
	OrchestrationInProcess = "inprocess"
)

// AppConfig holds all non-secret application configuration.
type AppConfig struct {
	Port        string
	Environment string

	DatabaseURL string // empty selects the embedded sqlite database
	SQLitePath  string
	RedisURL    string

	DefaultModel      string
	AgentMaxAttempts  int
	AgentTimeout      time.Duration
	ProviderRPM       int
	PromptsFile       string
	OrchestrationMode string
	PublicBaseURL     string
	TriggerWorkers    int

	CORSAllowedOrigins []string
	RateLimitRPM       int
	EnableMetrics      bool

	ArtifactStorage string // local | s3
	ArtifactDir     string
	S3Bucket        string
	S3Region        string
	S3Endpoint      string
	S3AccessKeyID   string
	S3SecretKey     string

	ProgressHistorySize int
	TCCTTL              time.Duration
}

// LoadDotEnv loads .env from the working directory or its parents.
func LoadDotEnv() {
	for _, path := range []string{".env", "../.env", "../../.env"} {
		if err := godotenv.Load(path); err == nil {
			logging.L().Info("loaded environment file", zap.String("path", path))
			return
		}
	}
}

// Load reads configuration from environment variables.
func Load() *AppConfig {
	port := getEnv("PORT", "8080")
	cfg := &AppConfig{
		Port:        port,
		Environment: GetEnvironment(),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		SQLitePath:  getEnv("SQLITE_PATH", "keyvex.db"),
		RedisURL:    getEnvAny([]string{"REDIS_URL", "KV_URL"}, ""),

		DefaultModel:      getEnv("DEFAULT_MODEL", ""),
		AgentMaxAttempts:  getEnvInt("AGENT_MAX_ATTEMPTS", 3),
		AgentTimeout:      getEnvDuration("AGENT_TIMEOUT", 3*time.Minute),
		ProviderRPM:       getEnvInt("PROVIDER_RPM", 120),
		PromptsFile:       getEnv("PROMPTS_FILE", ""),
		OrchestrationMode: strings.ToLower(getEnv("ORCHESTRATION_MODE", OrchestrationHTTP)),
		PublicBaseURL:     strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:"+port), "/"),
		TriggerWorkers:    getEnvInt("TRIGGER_WORKERS", 16),

		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
		RateLimitRPM:       getEnvInt("RATE_LIMIT_RPM", 600),
		EnableMetrics:      getEnvBool("ENABLE_METRICS", true),

		ArtifactStorage: strings.ToLower(getEnv("ARTIFACT_STORAGE", "local")),
		ArtifactDir:     getEnv("ARTIFACT_DIR", "./data/artifacts"),
		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3Region:        getEnvAny([]string{"S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Endpoint:      getEnv("S3_ENDPOINT", ""),
		S3AccessKeyID:   getEnv("AWS_ACCESS_KEY_ID", ""),
		S3SecretKey:     getEnv("AWS_SECRET_ACCESS_KEY", ""),

		ProgressHistorySize: getEnvInt("PROGRESS_HISTORY_SIZE", 200),
		TCCTTL:              getEnvDuration("TCC_TTL", 24*time.Hour),
	}

	if cfg.OrchestrationMode != OrchestrationHTTP && cfg.OrchestrationMode != OrchestrationInProcess {
		logging.L().Warn("unknown ORCHESTRATION_MODE, falling back to http",
			zap.String("mode", cfg.OrchestrationMode))
		cfg.OrchestrationMode = OrchestrationHTTP
	}
	if cfg.AgentMaxAttempts < 1 {
		cfg.AgentMaxAttempts = 1
	}

	return cfg
}

// IsProduction reports whether the loaded environment is production.
func (c *AppConfig) IsProduction() bool {
	return c.Environment == EnvProduction || c.Environment == "prod"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAny(keys []string, defaultValue string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
