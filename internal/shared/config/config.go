package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	Port            string
	Env             string
	CORSAllowOrigin []string

	DatabaseURL   string
	DocumentStore string
	SQLitePath    string

	ObjectStoreType string
	LocalStoreDir   string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	SSEKMSKeyID     string
	MinioEndpoint   string
	MinioAccessKey  string
	MinioSecretKey  string
	MinioBucket     string
	MinioUseSSL     bool

	QueueBackend  string
	SQSQueueURL   string
	RedisAddr     string
	RedisPassword string
	RedisQueueKey string

	Extractor            string
	ExtractTimeout       time.Duration
	IngestMaxAttempts    int
	IngestRetryBase      time.Duration
	WorkerConcurrency    int
	ShutdownTimeout      time.Duration
	UploadMaxKB          int
	BlobRetention        string
	DefaultDocumentTitle string

	JWTSecret string
	OpsToken  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")

	cfg := Config{
		Port:            getEnv("PORT", "8080"),
		Env:             env,
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),

		DatabaseURL:   dbURL,
		DocumentStore: normalizeDocumentStore(getEnv("DOCUMENT_STORE", ""), dbURL),
		SQLitePath:    getEnv("SQLITE_PATH", "./data/documents.db"),

		ObjectStoreType: normalizeStoreType(getEnv("OBJECT_STORE", "local")),
		LocalStoreDir:   getEnv("LOCAL_STORE_DIR", "./data"),
		AWSRegion:       getEnv("AWS_REGION", ""),
		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3Prefix:        getEnv("S3_PREFIX", ""),
		SSEKMSKeyID:     getEnv("SSE_KMS_KEY_ID", ""),
		MinioEndpoint:   getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinioAccessKey:  getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey:  getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:     getEnv("MINIO_BUCKET", "documents"),
		MinioUseSSL:     getEnvBool("MINIO_USE_SSL", false),

		QueueBackend:  normalizeQueueBackend(getEnv("QUEUE_BACKEND", "memory")),
		SQSQueueURL:   getEnv("SQS_QUEUE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisQueueKey: getEnv("REDIS_QUEUE_KEY", "ingest:tasks"),

		Extractor:            normalizeExtractor(getEnv("EXTRACTOR", "native")),
		ExtractTimeout:       getEnvDuration("EXTRACT_TIMEOUT", 60*time.Second),
		IngestMaxAttempts:    getEnvInt("INGEST_MAX_ATTEMPTS", 3),
		IngestRetryBase:      getEnvDuration("INGEST_RETRY_BASE_DELAY", 500*time.Millisecond),
		WorkerConcurrency:    getEnvInt("WORKER_CONCURRENCY", 4),
		ShutdownTimeout:      time.Duration(getEnvInt("SHUTDOWN_TIMEOUT_SECONDS", 30)) * time.Second,
		UploadMaxKB:          getEnvInt("UPLOAD_MAX_KB", 10000),
		BlobRetention:        normalizeRetention(getEnv("BLOB_RETENTION", "retain")),
		DefaultDocumentTitle: getEnv("DEFAULT_DOCUMENT_TITLE", "Pdf Document Saved"),

		JWTSecret: os.Getenv("JWT_SECRET"),
		OpsToken:  os.Getenv("OPS_TOKEN"),
	}

	if env == "production" && cfg.DocumentStore == "postgres" && dbURL == "" {
		log.Printf("DATABASE_URL is required in production")
	}
	return cfg
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		log.Printf("invalid %s=%q, using %d", key, raw, def)
		return def
	}
	return n
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Printf("invalid %s=%q, using %s", key, raw, def)
		return def
	}
	return d
}

func getEnvBool(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return b
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
	case "minio":
		return "minio"
	default:
		return "local"
	}
}

// normalizeDocumentStore picks postgres when a DATABASE_URL is present and
// nothing explicit was requested.
func normalizeDocumentStore(raw, dbURL string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "postgres", "pg":
		return "postgres"
	case "sqlite":
		return "sqlite"
	case "memory":
		return "memory"
	}
	if dbURL != "" {
		return "postgres"
	}
	return "memory"
}

func normalizeQueueBackend(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sqs":
		return "sqs"
	case "redis":
		return "redis"
	default:
		return "memory"
	}
}

func normalizeExtractor(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pdftotext", "docconv":
		return "pdftotext"
	default:
		return "native"
	}
}

func normalizeRetention(raw string) string {
	if strings.EqualFold(strings.TrimSpace(raw), "delete") {
		return "delete"
	}
	return "retain"
}
