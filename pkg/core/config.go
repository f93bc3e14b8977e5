// Package core wires the memory store together: storage backend, embedding
// provider, encryption, search and maintenance engines, behind a single
// Service facade with a background janitor for decay passes.
package core

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/mnemo-ai/mnemo-go/pkg/memory"
)

// Retrieval defaults.
const (
	// DefaultRAGLimit is how many memories a context retrieval returns.
	DefaultRAGLimit = 5

	// DefaultRAGThreshold is the minimum similarity for retrieval hits.
	DefaultRAGThreshold = 0.5
)

// Config contains the complete configuration for a memory service.
//
// Example:
//
//	config := &core.Config{
//	    Store: core.StoreConfig{
//	        Provider: "sqlite",
//	        Config: map[string]interface{}{
//	            "db_path": "./memories.db",
//	        },
//	    },
//	    Embedder: core.EmbedderConfig{
//	        Provider: "openai",
//	        APIKey:   "sk-...",
//	    },
//	}
type Config struct {
	// Store contains storage backend configuration.
	Store StoreConfig `json:"store"`

	// Embedder contains embedding provider configuration.
	Embedder EmbedderConfig `json:"embedder"`

	// Retrieval contains context retrieval (RAG) settings.
	Retrieval RetrievalConfig `json:"retrieval"`

	// Intelligence contains decay and merge detection settings.
	Intelligence IntelligenceConfig `json:"intelligence"`

	// Encryption contains at-rest encryption settings (optional).
	Encryption EncryptionConfig `json:"encryption"`
}

// StoreConfig selects and configures the storage backend.
//
// Supported providers: sqlite, postgres, mysql.
type StoreConfig struct {
	// Provider is the backend name (sqlite, postgres, mysql).
	Provider string `json:"provider"`

	// Config contains provider-specific settings.
	// For SQLite: db_path, table_name
	// For PostgreSQL: host, port, user, password, db_name, table_name, ssl_mode
	// For MySQL: host, port, user, password, db_name, table_name
	Config map[string]interface{} `json:"config"`
}

// EmbedderConfig configures the embedding provider.
//
// Supported providers: openai (or any OpenAI-compatible endpoint via
// base_url).
type EmbedderConfig struct {
	// Provider is the embedding provider name.
	Provider string `json:"provider"`

	// APIKey is the API key for the provider.
	APIKey string `json:"api_key"`

	// Model is the embedding model name.
	Model string `json:"model,omitempty"`

	// BaseURL overrides the API endpoint (optional).
	BaseURL string `json:"base_url,omitempty"`

	// Dimensions is the embedding dimensionality (default 1536).
	Dimensions int `json:"dimensions,omitempty"`
}

// RetrievalConfig tunes context retrieval.
type RetrievalConfig struct {
	// Limit is how many memories RetrieveContext returns. Default 5.
	Limit int `json:"limit,omitempty"`

	// Threshold is the minimum cosine similarity for a retrieval hit.
	// Default 0.5.
	Threshold float64 `json:"threshold,omitempty"`
}

// IntelligenceConfig tunes the maintenance engines.
type IntelligenceConfig struct {
	// DecayRate is the per-day exponential decay constant. Default 0.1.
	DecayRate float64 `json:"decay_rate,omitempty"`

	// MergeThreshold is the similarity above which two memories are
	// considered duplicates. Default 0.85.
	MergeThreshold float64 `json:"merge_threshold,omitempty"`

	// MinImportance is the eviction threshold used by cleanup. Default 0.1.
	MinImportance float64 `json:"min_importance,omitempty"`

	// DecayInterval is how often the janitor runs a decay pass.
	// Default 24h; zero disables the janitor.
	DecayInterval time.Duration `json:"decay_interval,omitempty"`
}

// EncryptionConfig configures content encryption at rest.
type EncryptionConfig struct {
	// Enabled turns encryption on.
	Enabled bool `json:"enabled"`

	// Key is the base64-encoded 32-byte AES key.
	Key string `json:"key,omitempty"`
}

// DecodedKey returns the raw AES key bytes.
func (e *EncryptionConfig) DecodedKey() ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(e.Key)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	return key, nil
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function searches for a .env file (up to 5 directory levels up),
// loads it if found, then parses environment variables into a Config.
//
// Supported environment variables:
//   - DATABASE_PROVIDER (sqlite, postgres, mysql)
//   - SQLITE_PATH, SQLITE_TABLE
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER, POSTGRES_PASSWORD,
//     POSTGRES_DATABASE, POSTGRES_TABLE, POSTGRES_SSLMODE
//   - MYSQL_HOST, MYSQL_PORT, MYSQL_USER, MYSQL_PASSWORD,
//     MYSQL_DATABASE, MYSQL_TABLE
//   - EMBEDDING_PROVIDER, EMBEDDING_API_KEY, EMBEDDING_MODEL,
//     EMBEDDING_BASE_URL, EMBEDDING_DIMENSIONS
//   - RAG_LIMIT, RAG_THRESHOLD
//   - DECAY_RATE, MERGE_THRESHOLD, MIN_IMPORTANCE, DECAY_INTERVAL
//   - ENCRYPTION_ENABLED, ENCRYPTION_KEY (base64, 32 bytes decoded)
func LoadConfigFromEnv() (*Config, error) {
	if envPath, found := FindEnvFile(); found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	provider := getEnvOrDefault("DATABASE_PROVIDER", "sqlite")

	storeConfig := make(map[string]interface{})
	switch provider {
	case "sqlite":
		storeConfig = map[string]interface{}{
			"db_path":    getEnvOrDefault("SQLITE_PATH", "./mnemo.db"),
			"table_name": getEnvOrDefault("SQLITE_TABLE", "memories"),
		}
	case "postgres":
		port, _ := strconv.Atoi(getEnvOrDefault("POSTGRES_PORT", "5432"))
		storeConfig = map[string]interface{}{
			"host":       getEnvOrDefault("POSTGRES_HOST", "localhost"),
			"port":       port,
			"user":       getEnvOrDefault("POSTGRES_USER", "postgres"),
			"password":   os.Getenv("POSTGRES_PASSWORD"),
			"db_name":    getEnvOrDefault("POSTGRES_DATABASE", "mnemo"),
			"table_name": getEnvOrDefault("POSTGRES_TABLE", "memories"),
			"ssl_mode":   getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		}
	case "mysql":
		port, _ := strconv.Atoi(getEnvOrDefault("MYSQL_PORT", "3306"))
		storeConfig = map[string]interface{}{
			"host":       getEnvOrDefault("MYSQL_HOST", "127.0.0.1"),
			"port":       port,
			"user":       getEnvOrDefault("MYSQL_USER", "root"),
			"password":   os.Getenv("MYSQL_PASSWORD"),
			"db_name":    getEnvOrDefault("MYSQL_DATABASE", "mnemo"),
			"table_name": getEnvOrDefault("MYSQL_TABLE", "memories"),
		}
	}

	dims, _ := strconv.Atoi(getEnvOrDefault("EMBEDDING_DIMENSIONS", "1536"))
	ragLimit, _ := strconv.Atoi(getEnvOrDefault("RAG_LIMIT", strconv.Itoa(DefaultRAGLimit)))
	ragThreshold, _ := strconv.ParseFloat(getEnvOrDefault("RAG_THRESHOLD", "0.5"), 64)
	decayRate, _ := strconv.ParseFloat(getEnvOrDefault("DECAY_RATE", "0.1"), 64)
	mergeThreshold, _ := strconv.ParseFloat(getEnvOrDefault("MERGE_THRESHOLD", "0.85"), 64)
	minImportance, _ := strconv.ParseFloat(getEnvOrDefault("MIN_IMPORTANCE", "0.1"), 64)
	decayInterval, err := time.ParseDuration(getEnvOrDefault("DECAY_INTERVAL", "24h"))
	if err != nil {
		decayInterval = 24 * time.Hour
	}

	config := &Config{
		Store: StoreConfig{
			Provider: provider,
			Config:   storeConfig,
		},
		Embedder: EmbedderConfig{
			Provider:   getEnvOrDefault("EMBEDDING_PROVIDER", "openai"),
			APIKey:     os.Getenv("EMBEDDING_API_KEY"),
			Model:      getEnvOrDefault("EMBEDDING_MODEL", "text-embedding-3-small"),
			BaseURL:    os.Getenv("EMBEDDING_BASE_URL"),
			Dimensions: dims,
		},
		Retrieval: RetrievalConfig{
			Limit:     ragLimit,
			Threshold: ragThreshold,
		},
		Intelligence: IntelligenceConfig{
			DecayRate:      decayRate,
			MergeThreshold: mergeThreshold,
			MinImportance:  minImportance,
			DecayInterval:  decayInterval,
		},
		Encryption: EncryptionConfig{
			Enabled: os.Getenv("ENCRYPTION_ENABLED") == "true",
			Key:     os.Getenv("ENCRYPTION_KEY"),
		},
	}

	return config, nil
}

// LoadConfigFromEnvFile loads configuration from a specific .env file.
func LoadConfigFromEnvFile(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	return LoadConfigFromEnv()
}

// LoadConfigFromJSON loads configuration from a JSON file.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, memory.NewStoreError("LoadConfigFromJSON", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, memory.NewStoreError("LoadConfigFromJSON", err)
	}
	return &config, nil
}

// Validate checks that required fields are set and thresholds are sane.
func (c *Config) Validate() error {
	if c.Store.Provider == "" {
		return memory.NewStoreError("Validate", memory.Validationf("store provider is required"))
	}
	if c.Embedder.Provider == "" {
		return memory.NewStoreError("Validate", memory.Validationf("embedder provider is required"))
	}
	if c.Retrieval.Threshold < -1 || c.Retrieval.Threshold > 1 {
		return memory.NewStoreError("Validate", memory.Validationf("retrieval threshold must be within [-1, 1]"))
	}
	if c.Intelligence.MergeThreshold < 0 || c.Intelligence.MergeThreshold > 1 {
		return memory.NewStoreError("Validate", memory.Validationf("merge threshold must be within [0, 1]"))
	}
	if c.Intelligence.MinImportance < 0 || c.Intelligence.MinImportance > 1 {
		return memory.NewStoreError("Validate", memory.Validationf("min importance must be within [0, 1]"))
	}
	if c.Encryption.Enabled {
		key, err := c.Encryption.DecodedKey()
		if err != nil {
			return memory.NewStoreError("Validate", err)
		}
		if len(key) != 32 {
			return memory.NewStoreError("Validate", memory.Validationf("encryption key must decode to 32 bytes"))
		}
	}
	return nil
}

// applyDefaults fills zero values with the documented defaults.
func (c *Config) applyDefaults() {
	if c.Retrieval.Limit == 0 {
		c.Retrieval.Limit = DefaultRAGLimit
	}
	if c.Retrieval.Threshold == 0 {
		c.Retrieval.Threshold = DefaultRAGThreshold
	}
	if c.Intelligence.DecayRate == 0 {
		c.Intelligence.DecayRate = 0.1
	}
	if c.Intelligence.MergeThreshold == 0 {
		c.Intelligence.MergeThreshold = 0.85
	}
	if c.Intelligence.MinImportance == 0 {
		c.Intelligence.MinImportance = memory.MinImportance
	}
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// FindEnvFile searches the current directory and up to 5 parents for a
// .env or .env.example file.
func FindEnvFile() (string, bool) {
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")

		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}
