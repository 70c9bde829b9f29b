package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config contains all configuration for the worker
type Config struct {
	// Database Configuration
	DatabasePath string

	// Camera Configuration
	CameraEncryptionKey string
	TrackID             string

	// Clip Pipeline Configuration
	TempVideoDir        string
	ExactCut            bool
	DownloadConcurrency int

	// Batch Configuration
	AutoBatchEnabled     bool
	BatchIntervalSeconds int
	BatchSize            int

	// Scratch Janitor Configuration
	ScratchMaxAgeHours int

	// Server Configuration
	ServerPort string

	// R2 Storage Configuration
	R2AccessKey string
	R2SecretKey string
	R2AccountID string
	R2Bucket    string
	R2Endpoint  string
	R2Region    string
	R2BaseURL   string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() Config {
	return Config{
		DatabasePath: getEnv("DATABASE_PATH", "./data/packclip.db"),

		CameraEncryptionKey: getEnv("CAMERA_ENCRYPTION_KEY", ""),
		TrackID:             getEnv("NVR_TRACK_ID", "101"),

		TempVideoDir:        getEnv("TEMP_VIDEO_DIR", "/tmp/packclip"),
		ExactCut:            getEnvBool("EXACT_CUT", false),
		DownloadConcurrency: getEnvInt("DOWNLOAD_CONCURRENCY", 5),

		AutoBatchEnabled:     getEnvBool("AUTO_BATCH_ENABLED", true),
		BatchIntervalSeconds: getEnvInt("BATCH_INTERVAL_SECONDS", 60),
		BatchSize:            getEnvInt("BATCH_SIZE", 10),

		ScratchMaxAgeHours: getEnvInt("SCRATCH_MAX_AGE_HOURS", 24),

		ServerPort: getEnv("SERVER_PORT", "8001"),

		R2AccessKey: getEnv("R2_ACCESS_KEY", ""),
		R2SecretKey: getEnv("R2_SECRET_KEY", ""),
		R2AccountID: getEnv("R2_ACCOUNT_ID", ""),
		R2Bucket:    getEnv("R2_BUCKET", ""),
		R2Endpoint:  getEnv("R2_ENDPOINT", ""),
		R2Region:    getEnv("R2_REGION", "auto"),
		R2BaseURL:   getEnv("R2_BASE_URL", ""),
	}
}

// Validate checks that configuration required for processing clips is present.
func (c Config) Validate() error {
	var missing []string

	if c.CameraEncryptionKey == "" {
		missing = append(missing, "CAMERA_ENCRYPTION_KEY")
	}
	if c.R2AccessKey == "" {
		missing = append(missing, "R2_ACCESS_KEY")
	}
	if c.R2SecretKey == "" {
		missing = append(missing, "R2_SECRET_KEY")
	}
	if c.R2Bucket == "" {
		missing = append(missing, "R2_BUCKET")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// getEnv returns environment variable or fallback value
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getEnvInt returns environment variable parsed as int or fallback value
func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

// getEnvBool returns environment variable parsed as bool or fallback value
func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}
