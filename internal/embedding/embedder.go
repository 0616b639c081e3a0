// Package embedding turns chunk text into fixed-length vectors.
package embedding

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// Provider names accepted by New.
const (
	ProviderHash   = "hash"
	ProviderONNX   = "onnx"
	ProviderOpenAI = "openai"
)

// Device names recorded in collection metadata.
const (
	DeviceAuto   = "auto"
	DeviceCPU    = "cpu"
	DeviceRemote = "remote"
)

// Options selects and configures an embedder.
type Options struct {
	Provider   string
	Model      string
	Dimensions int
	Device     string

	// onnx
	ModelPath string
	MaxTokens int
	CacheSize int

	// openai
	APIKey            string
	BaseURL           string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

// ResolveDevice returns the device an embedder runs on. An explicit device other than
// "auto" is kept; otherwise remote providers report "remote" and local ones "cpu".
func ResolveDevice(provider, device string) string {
	if device != "" && device != DeviceAuto {
		return device
	}
	if provider == ProviderOpenAI {
		return DeviceRemote
	}
	return DeviceCPU
}

// New builds the embedder for opts.Provider.
func New(opts Options, logger *zap.Logger) (Embedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch opts.Provider {
	case ProviderHash, "":
		return NewHashEmbedder(opts.Dimensions), nil
	case ProviderONNX:
		return NewONNXEmbedder(opts.ModelPath, opts.Dimensions, opts.MaxTokens, opts.CacheSize)
	case ProviderOpenAI:
		return NewOpenAIEmbedder(OpenAIConfig{
			APIKey:            opts.APIKey,
			BaseURL:           opts.BaseURL,
			Model:             opts.Model,
			Dimensions:        opts.Dimensions,
			RequestsPerSecond: opts.RequestsPerSecond,
			Burst:             opts.Burst,
			Timeout:           opts.Timeout,
			CacheSize:         opts.CacheSize,
		}, WithLogger(logger))
	default:
		return nil, fmt.Errorf("unknown embedding provider %q (supported: hash, onnx, openai)", opts.Provider)
	}
}
