package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL  string
	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	S3Endpoint   string
	BucketName   string
	AIAPIKey     string
	EmbedModel   string
	EmbedDim     int
	Port         string

	UploadURLTTL time.Duration
	WorkerCount  int
	PollInterval time.Duration
	StallAfter   time.Duration
	MaxAttempts  int
	TmpDir       string
}

// LoadConfig loads the environment variables and returns the config.
func LoadConfig() *Config {

	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		S3Endpoint:   getEnv("S3_ENDPOINT", ""),
		BucketName:   getEnv("BUCKET_NAME", "vectorflow-docs"),
		AIAPIKey:     getEnv("GEMINI_API_KEY", ""),
		EmbedModel:   getEnv("EMBED_MODEL", "text-embedding-004"),
		EmbedDim:     getEnvInt("EMBED_DIM", 768),
		Port:         getEnv("PORT", "8080"),

		UploadURLTTL: getEnvDuration("UPLOAD_URL_TTL", time.Hour),
		WorkerCount:  getEnvInt("WORKER_COUNT", 4),
		PollInterval: getEnvDuration("POLL_INTERVAL", 2*time.Second),
		StallAfter:   getEnvDuration("STALL_AFTER", 5*time.Minute),
		MaxAttempts:  getEnvInt("MAX_ATTEMPTS", 3),
		TmpDir:       getEnv("TMP_DIR", os.TempDir()),
	}

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL not set")
	}

	return cfg
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("WARN: %s=%q not a duration, using default %s", key, v, def)
		return def
	}
	return d
}
