// Package config provides application-level configuration for confrag.
//
// This is process configuration only: where tenant data lives, which
// embedding provider to use, how the MCP server runs. Per-tenant
// configuration is owned by the tenant store and is never cached here.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete confrag application configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	DataDir    string           `yaml:"data_dir" json:"data_dir"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Server     ServerConfig     `yaml:"server" json:"server"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider selects the embedder: "ollama" or "static".
	// Empty triggers auto-detection (ollama if reachable, else static).
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`
}

// SearchConfig configures hybrid search fusion.
type SearchConfig struct {
	// KeywordWeight is the weight for BM25 keyword matching (0.0-1.0).
	// Must sum to 1.0 with VectorWeight.
	KeywordWeight float64 `yaml:"keyword_weight" json:"keyword_weight"`

	// VectorWeight is the weight for vector similarity (0.0-1.0).
	VectorWeight float64 `yaml:"vector_weight" json:"vector_weight"`

	// RRFConstant is the RRF fusion smoothing parameter (k).
	// Default: 60 (industry standard).
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`

	// CacheSize is the maximum number of tenant retrieval handles kept open.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		DataDir: defaultDataDir(),
		Embeddings: EmbeddingsConfig{
			Provider:   "", // Empty triggers auto-detection: Ollama -> Static
			Model:      "nomic-embed-text",
			Dimensions: 0, // Auto-detect from embedder
			BatchSize:  32,
			OllamaHost: "", // Empty uses default http://localhost:11434
		},
		Search: SearchConfig{
			KeywordWeight: 0.4,
			VectorWeight:  0.6,
			RRFConstant:   60,
			CacheSize:     16,
		},
		Server: ServerConfig{
			Transport: "stdio",
			LogLevel:  "info",
		},
	}
}

// defaultDataDir returns the default tenant data directory (~/.confrag/data).
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".confrag", "data")
	}
	return filepath.Join(home, ".confrag", "data")
}

// GetUserConfigPath returns the path to the user configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/confrag/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/confrag/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "confrag", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "confrag", "config.yaml")
	}
	return filepath.Join(home, ".config", "confrag", "config.yaml")
}

// Load loads configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User config (~/.config/confrag/config.yaml)
//  3. Environment variables (CONFRAG_*)
func Load() (*Config, error) {
	cfg := NewConfig()

	if err := cfg.loadFromFile(GetUserConfigPath()); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile loads and merges configuration from a YAML file.
// A missing file is fine - defaults are used.
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.DataDir != "" {
		c.DataDir = other.DataDir
	}

	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.OllamaHost != "" {
		c.Embeddings.OllamaHost = other.Embeddings.OllamaHost
	}

	if other.Search.KeywordWeight != 0 {
		c.Search.KeywordWeight = other.Search.KeywordWeight
	}
	if other.Search.VectorWeight != 0 {
		c.Search.VectorWeight = other.Search.VectorWeight
	}
	if other.Search.RRFConstant != 0 {
		c.Search.RRFConstant = other.Search.RRFConstant
	}
	if other.Search.CacheSize != 0 {
		c.Search.CacheSize = other.Search.CacheSize
	}

	if other.Server.Transport != "" {
		c.Server.Transport = other.Server.Transport
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
}

// applyEnvOverrides applies CONFRAG_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CONFRAG_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("CONFRAG_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("CONFRAG_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("CONFRAG_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("CONFRAG_KEYWORD_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil && w >= 0 && w <= 1 {
			c.Search.KeywordWeight = w
		}
	}
	if v := os.Getenv("CONFRAG_VECTOR_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil && w >= 0 && w <= 1 {
			c.Search.VectorWeight = w
		}
	}
	if v := os.Getenv("CONFRAG_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("CONFRAG_TRANSPORT"); v != "" {
		c.Server.Transport = v
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}

	sum := c.Search.KeywordWeight + c.Search.VectorWeight
	if sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("keyword_weight + vector_weight must equal 1.0, got %.2f", sum)
	}
	if c.Search.CacheSize < 1 {
		return fmt.Errorf("cache_size must be at least 1, got %d", c.Search.CacheSize)
	}

	if c.Embeddings.Provider != "" {
		validProviders := map[string]bool{"ollama": true, "static": true}
		if !validProviders[strings.ToLower(c.Embeddings.Provider)] {
			return fmt.Errorf("embeddings.provider must be 'ollama', 'static', or empty (auto-detect), got %s", c.Embeddings.Provider)
		}
	}

	validTransports := map[string]bool{"stdio": true}
	if !validTransports[strings.ToLower(c.Server.Transport)] {
		return fmt.Errorf("server.transport must be 'stdio', got %s", c.Server.Transport)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
