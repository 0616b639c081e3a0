package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxInputsPerRequest is the embeddings API limit on inputs per call.
const maxInputsPerRequest = 2048

// OpenAIConfig configures an OpenAIEmbedder. Zero values take the defaults below.
type OpenAIConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	Dimensions        int
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	CacheSize         int
}

const (
	DefaultOpenAIModel    = openai.EmbeddingModelTextEmbedding3Small
	defaultOpenAIRPS      = 3
	defaultOpenAITimeout  = 60 * time.Second
	defaultOpenAICacheCap = 1024
)

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint.
type OpenAIEmbedder struct {
	client     openai.Client
	model      string
	dimensions int
	limiter    *rate.Limiter
	cache      *EmbeddingCache
	logger     *zap.Logger
}

// OpenAIOption configures an OpenAIEmbedder.
type OpenAIOption func(*OpenAIEmbedder)

// WithLogger sets the embedder logger.
func WithLogger(logger *zap.Logger) OpenAIOption {
	return func(e *OpenAIEmbedder) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewOpenAIEmbedder builds an embedder for cfg. APIKey is required unless BaseURL
// points at a local server that ignores it.
func NewOpenAIEmbedder(cfg OpenAIConfig, opts ...OpenAIOption) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("openai embedder: api key is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("openai embedder: dimensions must be positive")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaultOpenAIRPS
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultOpenAITimeout
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = defaultOpenAICacheCap
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(2),
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}

	e := &OpenAIEmbedder{
		client:     openai.NewClient(reqOpts...),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		cache:      NewEmbeddingCache(cfg.CacheSize),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Embed returns the embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds texts in request-sized slices. Cached texts are not resent.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var pending []int
	for i, text := range texts {
		if v, ok := e.cache.Get(text); ok {
			out[i] = v
			continue
		}
		pending = append(pending, i)
	}

	for start := 0; start < len(pending); start += maxInputsPerRequest {
		end := min(start+maxInputsPerRequest, len(pending))
		idx := pending[start:end]
		inputs := make([]string, len(idx))
		for j, i := range idx {
			inputs[j] = texts[i]
		}
		vectors, err := e.request(ctx, inputs)
		if err != nil {
			return nil, err
		}
		for j, i := range idx {
			out[i] = vectors[j]
			e.cache.Set(texts[i], vectors[j])
		}
	}
	return out, nil
}

func (e *OpenAIEmbedder) request(ctx context.Context, inputs []string) ([][]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	started := time.Now()
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input:      openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: inputs},
		Model:      e.model,
		Dimensions: openai.Int(int64(e.dimensions)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}
	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("embeddings response has %d vectors for %d inputs", len(resp.Data), len(inputs))
	}

	vectors := make([][]float32, len(inputs))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(inputs) {
			return nil, fmt.Errorf("embeddings response index %d out of range", d.Index)
		}
		if len(d.Embedding) != e.dimensions {
			return nil, fmt.Errorf("embedding has dimension %d, want %d", len(d.Embedding), e.dimensions)
		}
		v := make([]float32, len(d.Embedding))
		for k, f := range d.Embedding {
			v[k] = float32(f)
		}
		vectors[d.Index] = v
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("embeddings response is missing index %d", i)
		}
	}
	e.logger.Debug("embedded batch",
		zap.Int("inputs", len(inputs)),
		zap.String("model", e.model),
		zap.Duration("took", time.Since(started)))
	return vectors, nil
}

// Dimensions returns the requested embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op; the HTTP client holds no resources that need releasing.
func (e *OpenAIEmbedder) Close() error {
	return nil
}
