// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds process-level configuration: everything that is fixed for the
// lifetime of the process and never patched by the runtime overlay. Trading
// parameters live in Base (config.yaml) instead.
type Config struct {
	DataDir    string // Base directory for all databases (always absolute)
	ConfigPath string // Path to the base trading configuration (config.yaml)
	LogLevel   string
	LogPretty  bool
	Port       int
	DevMode    bool

	Gateway GatewayConfig
	LLM     LLMConfig
	Backup  BackupConfig
}

// GatewayConfig holds Client Portal Gateway connection settings
type GatewayConfig struct {
	BaseURL  string // e.g. https://localhost:5000
	Account  string // preferred account id; empty = use the gateway's selected account
	Insecure bool   // skip TLS verification (the gateway ships a self-signed cert)
}

// LLMConfig holds decision-service settings
type LLMConfig struct {
	Endpoint string // chat-completions URL
	Model    string // default model; the base document's ai.model wins when set
	APIKey   string
	TimeoutS int // per-call timeout in seconds
}

// BackupConfig holds object-storage backup settings. Backups are disabled
// when Bucket is empty.
type BackupConfig struct {
	Bucket    string
	Region    string
	Endpoint  string // custom endpoint for S3-compatible stores; empty = AWS
	AccessKey string
	SecretKey string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("HELMSMAN_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	configPath := getEnv("HELMSMAN_CONFIG", "")
	if configPath == "" {
		configPath = filepath.Join("config", "config.yaml")
	}

	cfg := &Config{
		DataDir:    absDataDir,
		ConfigPath: configPath,
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		LogPretty:  getEnvAsBool("LOG_PRETTY", false),
		Port:       getEnvAsInt("HELMSMAN_PORT", 8001),
		DevMode:    getEnvAsBool("DEV_MODE", false),
		Gateway: GatewayConfig{
			BaseURL:  getEnv("HELMSMAN_GATEWAY_URL", "https://localhost:5000"),
			Account:  getEnv("HELMSMAN_ACCOUNT", ""),
			Insecure: getEnvAsBool("HELMSMAN_GATEWAY_INSECURE", true),
		},
		LLM: LLMConfig{
			Endpoint: getEnv("HELMSMAN_LLM_ENDPOINT", "https://api.openai.com/v1/chat/completions"),
			Model:    getEnv("HELMSMAN_LLM_MODEL", "gpt-4o-mini"),
			APIKey:   getEnv("HELMSMAN_LLM_API_KEY", ""),
			TimeoutS: getEnvAsInt("HELMSMAN_LLM_TIMEOUT_SECONDS", 60),
		},
		Backup: BackupConfig{
			Bucket:    getEnv("HELMSMAN_BACKUP_BUCKET", ""),
			Region:    getEnv("HELMSMAN_BACKUP_REGION", "auto"),
			Endpoint:  getEnv("HELMSMAN_BACKUP_ENDPOINT", ""),
			AccessKey: getEnv("HELMSMAN_BACKUP_ACCESS_KEY", ""),
			SecretKey: getEnv("HELMSMAN_BACKUP_SECRET_KEY", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("gateway base URL must not be empty (HELMSMAN_GATEWAY_URL)")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.LLM.TimeoutS <= 0 {
		return fmt.Errorf("LLM timeout must be positive, got %d", c.LLM.TimeoutS)
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
