package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"docchat-backend/internal/shared/telemetry"
)

// Config holds application configuration.
type Config struct {
	Env             string
	Port            string
	LogLevel        string
	CORSAllowOrigin []string
	DatabaseURL     string

	ObjectStoreType string
	LocalStoreDir   string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	SSEKMSKeyID     string

	JobsQueueURL      string
	UploadsQueueURL   string
	VisibilityTimeout time.Duration
	WorkerConcurrency int
	ShutdownTimeout   time.Duration
	AcceptedSuffixes  []string

	LLMProvider         string
	LLMModel            string
	EmbeddingModel      string
	LLMBaseURL          string
	OpenAIAPIKey        string
	GeminiAPIKey        string
	EmbeddingDimensions int

	FetchTimeout    time.Duration
	EmbedTimeout    time.Duration
	GenerateTimeout time.Duration
	RetryAttempts   int

	RetrievalTopK      int
	ContextBudgetChars int
	HistoryTurns       int
	ChunkSize          int
	ChunkOverlap       int
	ChunkStrategy      string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	UIRedirectURL      string

	WSAllowedOrigins []string
	WSWriteTimeout   time.Duration
	WSRatePerSecond  float64
	WSRateBurst      int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")

	if env == "production" && dbURL == "" {
		telemetry.Warn("config.database_url.missing", map[string]any{"env": env})
	}

	cfg := Config{
		Env:             env,
		Port:            getEnv("PORT", "8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),
		DatabaseURL:     dbURL,

		ObjectStoreType: normalizeStoreType(getEnv("OBJECT_STORE", "local")),
		LocalStoreDir:   getEnv("LOCAL_STORE_DIR", "./data"),
		AWSRegion:       getEnv("AWS_REGION", ""),
		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3Prefix:        getEnv("S3_PREFIX", ""),
		SSEKMSKeyID:     getEnv("SSE_KMS_KEY_ID", ""),

		JobsQueueURL:      getEnv("JOBS_QUEUE_URL", ""),
		UploadsQueueURL:   getEnv("UPLOADS_QUEUE_URL", ""),
		VisibilityTimeout: time.Duration(getInt("SQS_VISIBILITY_TIMEOUT_SECONDS", 900)) * time.Second,
		WorkerConcurrency: getInt("WORKER_CONCURRENCY", 4),
		ShutdownTimeout:   time.Duration(getInt("SHUTDOWN_TIMEOUT_SECONDS", 30)) * time.Second,
		AcceptedSuffixes:  splitAndTrim(getEnv("ACCEPTED_SUFFIXES", ".pdf,.docx,.txt,.md")),

		LLMProvider:         normalizeProvider(getEnv("LLM_PROVIDER", "local")),
		LLMModel:            getEnv("LLM_MODEL", ""),
		EmbeddingModel:      getEnv("EMBEDDING_MODEL", ""),
		LLMBaseURL:          getEnv("LLM_BASE_URL", ""),
		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		EmbeddingDimensions: getInt("EMBEDDING_DIMENSIONS", 256),

		FetchTimeout:    getDuration("FETCH_TIMEOUT", 30*time.Second),
		EmbedTimeout:    getDuration("EMBED_TIMEOUT", 20*time.Second),
		GenerateTimeout: getDuration("GENERATE_TIMEOUT", 60*time.Second),
		RetryAttempts:   getInt("RETRY_ATTEMPTS", 3),

		RetrievalTopK:      getInt("RETRIEVAL_TOP_K", 4),
		ContextBudgetChars: getInt("CONTEXT_BUDGET_CHARS", 12000),
		HistoryTurns:       getInt("HISTORY_TURNS", 10),
		ChunkSize:          getInt("CHUNK_SIZE", 1000),
		ChunkOverlap:       getInt("CHUNK_OVERLAP", 200),
		ChunkStrategy:      getEnv("CHUNK_STRATEGY", "recursive"),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", ""),
		UIRedirectURL:      getEnv("UI_REDIRECT_URL", ""),

		WSAllowedOrigins: splitAndTrim(getEnv("WS_ALLOWED_ORIGINS", "localhost:*,127.0.0.1:*")),
		WSWriteTimeout:   getDuration("WS_WRITE_TIMEOUT", 5*time.Second),
		WSRatePerSecond:  getFloat("WS_RATE_PER_SECOND", 1),
		WSRateBurst:      getInt("WS_RATE_BURST", 5),
	}

	telemetry.SetLevel(cfg.LogLevel)
	return cfg
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		telemetry.Warn("config.invalid_int", map[string]any{"key": key, "value": raw})
		return def
	}
	return val
}

func getFloat(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		telemetry.Warn("config.invalid_float", map[string]any{"key": key, "value": raw})
		return def
	}
	return val
}

// getDuration accepts Go durations ("20s") or bare seconds ("20").
func getDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		telemetry.Warn("config.invalid_duration", map[string]any{"key": key, "value": raw})
		return def
	}
	return val
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	default:
		return "local"
	}
}

func normalizeProvider(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "openai":
		return "openai"
	case "gemini", "google":
		return "gemini"
	default:
		return "local"
	}
}

// IsDevLike reports whether env allows in-memory fallbacks.
func (c Config) IsDevLike() bool {
	switch c.Env {
	case "dev", "local":
		return true
	default:
		return false
	}
}
