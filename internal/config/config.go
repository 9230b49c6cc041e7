/**
 * Configuration for the Document Intelligence Worker
 *
 * Loads configuration from environment variables (optionally seeded from a
 * .env file by the entry point).
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds worker configuration
type Config struct {
	// Redis configuration (asynq queue + result cache)
	RedisURL     string
	QueueName    string
	CacheTTL     time.Duration
	CacheEnabled bool

	// PostgreSQL configuration
	DatabaseURL string

	// Qdrant similarity index configuration
	QdrantURL        string
	QdrantCollection string

	// Worker configuration
	WorkerConcurrency int
	BatchChunkSize    int
	MaxFileSize       int64
	ProcessingTimeout time.Duration

	// OCR orchestration
	ConfidenceThreshold  float64
	PollMaxAttempts      int
	PollInterval         time.Duration
	LineClusterThreshold int

	// Tesseract configuration
	TesseractPath      string
	TesseractLanguages string

	// Google Document AI (cloud engine A)
	DocumentAIProjectID       string
	DocumentAILocation        string
	DocumentAIProcessorID     string
	DocumentAICredentialsFile string

	// Azure Document Intelligence (cloud engine B)
	AzureEndpoint   string
	AzureKey        string
	AzureAPIVersion string

	// Azure Blob document source
	BlobAccountName string
	BlobAccountKey  string
	BlobContainer   string

	// Classifier catalog override (YAML); empty uses the built-in catalog
	ClassifierCatalogPath string

	// Operations HTTP server
	HTTPAddr string

	// Node environment
	NodeEnv string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		RedisURL:                  getEnvOrDefault("REDIS_URL", "redis://nexus-redis:6379"),
		QueueName:                 getEnvOrDefault("QUEUE_NAME", "docintel"),
		CacheTTL:                  time.Duration(getEnvAsIntOrDefault("CACHE_TTL_SECONDS", 86400)) * time.Second,
		CacheEnabled:              getEnvAsBoolOrDefault("CACHE_ENABLED", true),
		DatabaseURL:               getEnvOrDefault("DATABASE_URL", ""),
		QdrantURL:                 getEnvOrDefault("QDRANT_URL", ""),
		QdrantCollection:          getEnvOrDefault("QDRANT_COLLECTION", "docintel_documents"),
		WorkerConcurrency:         getEnvAsIntOrDefault("WORKER_CONCURRENCY", 4),
		BatchChunkSize:            getEnvAsIntOrDefault("BATCH_CHUNK_SIZE", 3),
		MaxFileSize:               getEnvAsInt64OrDefault("MAX_FILE_SIZE", 52428800), // 50MB
		ProcessingTimeout:         time.Duration(getEnvAsIntOrDefault("PROCESSING_TIMEOUT", 300000)) * time.Millisecond,
		ConfidenceThreshold:       getEnvAsFloatOrDefault("OCR_CONFIDENCE_THRESHOLD", 0.5),
		PollMaxAttempts:           getEnvAsIntOrDefault("POLL_MAX_ATTEMPTS", 30),
		PollInterval:              time.Duration(getEnvAsIntOrDefault("POLL_INTERVAL_MS", 1000)) * time.Millisecond,
		LineClusterThreshold:      getEnvAsIntOrDefault("LINE_CLUSTER_THRESHOLD", 10),
		TesseractPath:             getEnvOrDefault("TESSERACT_PATH", "/usr/bin/tesseract"),
		TesseractLanguages:        getEnvOrDefault("TESSERACT_LANGUAGES", "ara+eng"),
		DocumentAIProjectID:       getEnvOrDefault("DOCUMENTAI_PROJECT_ID", ""),
		DocumentAILocation:        getEnvOrDefault("DOCUMENTAI_LOCATION", "us"),
		DocumentAIProcessorID:     getEnvOrDefault("DOCUMENTAI_PROCESSOR_ID", ""),
		DocumentAICredentialsFile: getEnvOrDefault("GOOGLE_APPLICATION_CREDENTIALS", ""),
		AzureEndpoint:             strings.TrimRight(getEnvOrDefault("AZURE_DOCINTEL_ENDPOINT", ""), "/"),
		AzureKey:                  getEnvOrDefault("AZURE_DOCINTEL_KEY", ""),
		AzureAPIVersion:           getEnvOrDefault("AZURE_DOCINTEL_API_VERSION", "2024-11-30"),
		BlobAccountName:           getEnvOrDefault("AZURE_STORAGE_ACCOUNT", ""),
		BlobAccountKey:            getEnvOrDefault("AZURE_STORAGE_KEY", ""),
		BlobContainer:             getEnvOrDefault("AZURE_STORAGE_CONTAINER", "documents"),
		ClassifierCatalogPath:     getEnvOrDefault("CLASSIFIER_CATALOG", ""),
		HTTPAddr:                  getEnvOrDefault("HTTP_ADDR", ":8090"),
		NodeEnv:                   getEnvOrDefault("NODE_ENV", "development"),
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.QueueName == "" {
		return fmt.Errorf("QUEUE_NAME is required")
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.BatchChunkSize < 1 || c.BatchChunkSize > 32 {
		return fmt.Errorf("BATCH_CHUNK_SIZE must be between 1 and 32, got %d", c.BatchChunkSize)
	}

	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("OCR_CONFIDENCE_THRESHOLD must be within [0,1], got %v", c.ConfidenceThreshold)
	}

	if c.PollMaxAttempts < 1 {
		return fmt.Errorf("POLL_MAX_ATTEMPTS must be positive, got %d", c.PollMaxAttempts)
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL_MS must be positive, got %v", c.PollInterval)
	}

	if c.MaxFileSize < 1024 || c.MaxFileSize > 1073741824 { // 1KB to 1GB
		return fmt.Errorf("MAX_FILE_SIZE must be between 1KB and 1GB, got %d", c.MaxFileSize)
	}

	if (c.AzureEndpoint == "") != (c.AzureKey == "") {
		return fmt.Errorf("AZURE_DOCINTEL_ENDPOINT and AZURE_DOCINTEL_KEY must be set together")
	}

	return nil
}

// DocumentAIEnabled reports whether cloud engine A has enough settings to be probed.
func (c *Config) DocumentAIEnabled() bool {
	return c.DocumentAIProjectID != "" && c.DocumentAIProcessorID != ""
}

// BlobEnabled reports whether the Azure Blob document source is configured.
func (c *Config) BlobEnabled() bool {
	return c.BlobAccountName != "" && c.BlobAccountKey != ""
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
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

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
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

// getEnvAsFloatOrDefault gets environment variable as float64 or returns default
func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
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

// getEnvAsBoolOrDefault gets environment variable as bool or returns default
func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}
