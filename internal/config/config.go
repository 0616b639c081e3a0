// Package config provides configuration loading and structs for shiori.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvVaultRoot     = "SHIORI_VAULT_ROOT"
	EnvStoreBackend  = "SHIORI_STORE_BACKEND"
	EnvChromaURL     = "SHIORI_CHROMA_URL"
	EnvDatabaseURL   = "SHIORI_DATABASE_URL"
	EnvEmbedProvider = "SHIORI_EMBED_PROVIDER"
	EnvEmbedModel    = "SHIORI_EMBED_MODEL"
	EnvDebug         = "SHIORI_DEBUG"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Vault     VaultConfig     `yaml:"vault"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Metadata  MetadataConfig  `yaml:"metadata"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Store     StoreConfig     `yaml:"store"`
	Sync      SyncConfig      `yaml:"sync"`
	Server    ServerConfig    `yaml:"server"`
	Watch     WatchConfig     `yaml:"watch"`
}

// VaultConfig describes the notes vault.
type VaultConfig struct {
	Root       string   `yaml:"root"`
	Extensions []string `yaml:"extensions"`
	Recursive  *bool    `yaml:"recursive"`
	Exclude    []string `yaml:"exclude"`
}

// RecursiveOrDefault returns whether to walk subdirectories; defaults to true when unset.
func (v *VaultConfig) RecursiveOrDefault() bool {
	if v.Recursive != nil {
		return *v.Recursive
	}
	return true
}

// ChunkingConfig holds packing settings.
type ChunkingConfig struct {
	MaxChars       int    `yaml:"max_chars"`
	ChunkerVersion string `yaml:"chunker_version"`
	// OutDir receives one chunk file per note.
	OutDir string `yaml:"out_dir"`
}

// MetadataConfig lists allowed classification values. An empty list accepts anything.
type MetadataConfig struct {
	DocTypes      []string `yaml:"doc_types"`
	Sensitivities []string `yaml:"sensitivities"`
}

// EmbeddingConfig selects the embedding function.
type EmbeddingConfig struct {
	Provider   string       `yaml:"provider"`
	Model      string       `yaml:"model"`
	Dimensions int          `yaml:"dimensions"`
	Device     string       `yaml:"device"`
	BatchSize  int          `yaml:"batch_size"`
	ModelPath  string       `yaml:"model_path"`
	MaxTokens  int          `yaml:"max_tokens"`
	CacheSize  int          `yaml:"cache_size"`
	OpenAI     OpenAIConfig `yaml:"openai"`
}

// OpenAIConfig holds settings for the OpenAI-compatible embeddings endpoint.
type OpenAIConfig struct {
	BaseURL           string        `yaml:"base_url"`
	APIKeyEnv         string        `yaml:"api_key_env"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	Timeout           time.Duration `yaml:"timeout"`
	// APIKey is read from the APIKeyEnv variable and never persisted.
	APIKey string `yaml:"-"`
}

// StoreConfig selects the collection backend.
type StoreConfig struct {
	Backend     string `yaml:"backend"`
	PersistDir  string `yaml:"persist_dir"`
	Collection  string `yaml:"collection"`
	ChromaURL   string `yaml:"chroma_url"`
	DatabaseURL string `yaml:"database_url"`
}

// SyncConfig holds planner defaults; CLI flags override them per run.
type SyncConfig struct {
	Mode                 string `yaml:"mode"`
	ResetExistingStorage bool   `yaml:"reset_existing_storage"`
	SkipUnchanged        *bool  `yaml:"skip_unchanged"`
	PruneStale           bool   `yaml:"prune_stale"`
	PipelineVersion      string `yaml:"pipeline_version"`
	StageVersion         string `yaml:"stage_version"`
	ManifestPath         string `yaml:"manifest_path"`
}

// SkipUnchangedOrDefault defaults to true when unset.
func (s *SyncConfig) SkipUnchangedOrDefault() bool {
	if s.SkipUnchanged != nil {
		return *s.SkipUnchanged
	}
	return true
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// WatchConfig holds watcher settings.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// Load reads and parses the config file at path, loads a sibling .env file when
// present, applies environment overrides and defaults, and expands paths.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := finalize(&cfg, filepath.Dir(path)); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the default configuration with relative paths resolved against baseDir.
// Environment overrides apply as in Load.
func Default(baseDir string) (*Config, error) {
	var cfg Config
	if err := finalize(&cfg, baseDir); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func finalize(cfg *Config, configDir string) error {
	if err := loadDotEnv(configDir); err != nil {
		return err
	}
	if err := applyEnv(cfg); err != nil {
		return err
	}

	cfg.Vault.Root = expandPath(cfg.Vault.Root, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	if cfg.Chunking.OutDir == "" {
		cfg.Chunking.OutDir = DefaultChunksDir
	}
	cfg.Chunking.OutDir = expandPath(cfg.Chunking.OutDir, configDir)
	if cfg.Store.PersistDir == "" {
		cfg.Store.PersistDir = DefaultPersistDir
	}
	cfg.Store.PersistDir = expandPath(cfg.Store.PersistDir, configDir)
	if cfg.Sync.ManifestPath == "" {
		cfg.Sync.ManifestPath = filepath.Join(cfg.Store.PersistDir, ManifestFileName)
	}
	cfg.Sync.ManifestPath = expandPath(cfg.Sync.ManifestPath, configDir)

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "hash"
		if fileExists(cfg.Embedding.ModelPath) {
			cfg.Embedding.Provider = "onnx"
		}
	}
	ApplyDefaults(cfg)

	if cfg.Embedding.OpenAI.APIKey == "" {
		cfg.Embedding.OpenAI.APIKey = os.Getenv(cfg.Embedding.OpenAI.APIKeyEnv)
	}
	return cfg.Validate()
}

// loadDotEnv loads configDir/.env if it exists. Variables already set win.
func loadDotEnv(configDir string) error {
	path := filepath.Join(configDir, ".env")
	if !fileExists(path) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	overrides := []struct {
		name   string
		target *string
	}{
		{EnvVaultRoot, &cfg.Vault.Root},
		{EnvStoreBackend, &cfg.Store.Backend},
		{EnvChromaURL, &cfg.Store.ChromaURL},
		{EnvDatabaseURL, &cfg.Store.DatabaseURL},
		{EnvEmbedProvider, &cfg.Embedding.Provider},
		{EnvEmbedModel, &cfg.Embedding.Model},
	}
	for _, o := range overrides {
		if v, ok := os.LookupEnv(o.name); ok && v != "" {
			*o.target = v
		}
	}
	if v, ok := os.LookupEnv(EnvDebug); ok && v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvDebug, err)
		}
		cfg.Debug = debug
	}
	return nil
}

// Validate checks enumerated values and numeric bounds.
func (c *Config) Validate() error {
	var errs []error
	if !slices.Contains([]string{"sqlite", "memory", "chroma", "pgvector"}, c.Store.Backend) {
		errs = append(errs, fmt.Errorf("unknown store.backend %q", c.Store.Backend))
	}
	if c.Store.Backend == "pgvector" && c.Store.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("store.database_url is required for the pgvector backend"))
	}
	if !slices.Contains([]string{"hash", "onnx", "openai"}, c.Embedding.Provider) {
		errs = append(errs, fmt.Errorf("unknown embedding.provider %q", c.Embedding.Provider))
	}
	if !slices.Contains([]string{"rebuild", "append", "upsert"}, c.Sync.Mode) {
		errs = append(errs, fmt.Errorf("unknown sync.mode %q", c.Sync.Mode))
	}
	if c.Embedding.Dimensions <= 0 {
		errs = append(errs, fmt.Errorf("embedding.dimensions must be positive"))
	}
	if c.Embedding.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("embedding.batch_size must be positive"))
	}
	if c.Chunking.MaxChars < 0 {
		errs = append(errs, fmt.Errorf("chunking.max_chars must not be negative"))
	}
	return errors.Join(errs...)
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory. Empty stays empty.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
