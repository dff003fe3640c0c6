package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the docquery API configuration.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Search     SearchConfig     `yaml:"search"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Generation GenerationConfig `yaml:"generation"`
	Cache      CacheConfig      `yaml:"cache"`
	Auth       AuthConfig       `yaml:"auth"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// SearchConfig holds OpenSearch connection and index settings.
type SearchConfig struct {
	URL               string `yaml:"url"`
	IndexName         string `yaml:"index_name"`
	RequestTimeoutSec int    `yaml:"request_timeout_sec"`
}

// EmbeddingConfig holds embedding backend settings.
type EmbeddingConfig struct {
	OllamaURL        string `yaml:"ollama_url"`
	Model            string `yaml:"model"`
	DefaultDims      int    `yaml:"default_dims"`
	RemoteProvision  bool   `yaml:"remote_provision"`
	ProvisionWaitSec int    `yaml:"provision_wait_sec"`
	PullTimeoutSec   int    `yaml:"pull_timeout_sec"`
}

// RetrievalConfig holds ranking and fusion settings.
type RetrievalConfig struct {
	BM25TopN   int `yaml:"bm25_top_n"`
	VectorTopN int `yaml:"vector_top_n"`
	RRFK       int `yaml:"rrf_k"`
	QueryTopK  int `yaml:"query_top_k"`
}

// GenerationConfig holds answer generation settings. An empty APIKey selects
// the deterministic extractive fallback instead of the LLM.
type GenerationConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// CacheConfig holds the optional embedding cache settings.
// Driver is valkey or redis; empty Addrs disables the cache.
type CacheConfig struct {
	Driver   string   `yaml:"driver"`
	Addrs    []string `yaml:"addrs"`
	Password string   `yaml:"password"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Search.IndexName == "" {
		c.Search.IndexName = "docs_chunks_v1"
	}
	if c.Search.RequestTimeoutSec <= 0 {
		c.Search.RequestTimeoutSec = 10
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "nomic-embed-text"
	}
	if c.Embedding.DefaultDims <= 0 {
		c.Embedding.DefaultDims = 768
	}
	if c.Embedding.ProvisionWaitSec <= 0 {
		c.Embedding.ProvisionWaitSec = 120
	}
	if c.Embedding.PullTimeoutSec <= 0 {
		c.Embedding.PullTimeoutSec = 300
	}
	if c.Retrieval.BM25TopN <= 0 {
		c.Retrieval.BM25TopN = 200
	}
	if c.Retrieval.VectorTopN <= 0 {
		c.Retrieval.VectorTopN = 200
	}
	if c.Retrieval.RRFK <= 0 {
		c.Retrieval.RRFK = 60
	}
	if c.Retrieval.QueryTopK <= 0 {
		c.Retrieval.QueryTopK = 8
	}
	if c.Generation.TimeoutSec <= 0 {
		c.Generation.TimeoutSec = 30
	}
	if c.Cache.Driver == "" {
		c.Cache.Driver = "valkey"
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.Search.URL == "" {
		return fmt.Errorf("search.url is required")
	}
	if c.Embedding.OllamaURL == "" {
		return fmt.Errorf("embedding.ollama_url is required")
	}
	switch c.Cache.Driver {
	case "valkey", "redis":
		// ok
	default:
		return fmt.Errorf("cache.driver must be \"valkey\" or \"redis\", got %q", c.Cache.Driver)
	}
	if c.Retrieval.QueryTopK > c.Retrieval.BM25TopN {
		return fmt.Errorf(
			"retrieval.query_top_k (%d) must not exceed retrieval.bm25_top_n (%d)",
			c.Retrieval.QueryTopK, c.Retrieval.BM25TopN,
		)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
