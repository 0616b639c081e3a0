package config

import "time"

const (
	// DefaultChunksDir holds per-note chunk files, relative to the config file.
	DefaultChunksDir = "./stage_2_chunks"
	// DefaultPersistDir is where the sqlite store and manifest live, relative to the config file.
	DefaultPersistDir = "./stage_3_store"
	// ManifestFileName is the manifest file inside the persist directory.
	ManifestFileName = "run_manifest.json"
)

// defaultModels names the model stamped on chunks when embedding.model is unset.
var defaultModels = map[string]string{
	"hash":   "shiori-hash-v1",
	"onnx":   "sentence-transformers/all-MiniLM-L6-v2",
	"openai": "text-embedding-3-small",
}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Vault.Extensions == nil {
		cfg.Vault.Extensions = []string{".md"}
	}
	if cfg.Vault.Recursive == nil {
		t := true
		cfg.Vault.Recursive = &t
	}
	if cfg.Chunking.MaxChars == 0 {
		cfg.Chunking.MaxChars = 2500
	}
	if cfg.Chunking.OutDir == "" {
		cfg.Chunking.OutDir = DefaultChunksDir
	}
	if cfg.Chunking.ChunkerVersion == "" {
		cfg.Chunking.ChunkerVersion = "v0.1"
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "hash"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = defaultModels[cfg.Embedding.Provider]
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.Device == "" {
		cfg.Embedding.Device = "auto"
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 32
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.OpenAI.APIKeyEnv == "" {
		cfg.Embedding.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Embedding.OpenAI.RequestsPerSecond == 0 {
		cfg.Embedding.OpenAI.RequestsPerSecond = 3
	}
	if cfg.Embedding.OpenAI.Burst == 0 {
		cfg.Embedding.OpenAI.Burst = 1
	}
	if cfg.Embedding.OpenAI.Timeout == 0 {
		cfg.Embedding.OpenAI.Timeout = 60 * time.Second
	}

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "sqlite"
	}
	if cfg.Store.PersistDir == "" {
		cfg.Store.PersistDir = DefaultPersistDir
	}
	if cfg.Store.Collection == "" {
		cfg.Store.Collection = "v1_chunks"
	}
	if cfg.Store.ChromaURL == "" {
		cfg.Store.ChromaURL = "http://localhost:8000"
	}

	if cfg.Sync.Mode == "" {
		cfg.Sync.Mode = "upsert"
	}
	if cfg.Sync.SkipUnchanged == nil {
		t := true
		cfg.Sync.SkipUnchanged = &t
	}
	if cfg.Sync.PipelineVersion == "" {
		cfg.Sync.PipelineVersion = "v1"
	}
	if cfg.Sync.StageVersion == "" {
		cfg.Sync.StageVersion = "v0.1"
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 400 * time.Millisecond
	}
}
