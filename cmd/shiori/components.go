package main

import (
	"context"
	"fmt"

	"github.com/hyperjump/shiori/internal/config"
	"github.com/hyperjump/shiori/internal/embedding"
	"github.com/hyperjump/shiori/internal/extract"
	"github.com/hyperjump/shiori/internal/indexer"
	"github.com/hyperjump/shiori/internal/planner"
	"github.com/hyperjump/shiori/internal/storage"
	"go.uber.org/zap"
)

// Components holds what a command opened from config.
type Components struct {
	Store        storage.Store
	StoreOptions storage.Options
	Embedder     embedding.Embedder
}

// Close releases the store and the embedder.
func (c *Components) Close() {
	if c.Store != nil {
		_ = c.Store.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

func storeOptions(cfg *config.Config) storage.Options {
	return storage.Options{
		Backend:     cfg.Store.Backend,
		PersistDir:  cfg.Store.PersistDir,
		ChromaURL:   cfg.Store.ChromaURL,
		DatabaseURL: cfg.Store.DatabaseURL,
	}
}

// initializeComponents opens the store, and the embedder when withEmbedder is set.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, withEmbedder bool) (*Components, error) {
	opts := storeOptions(cfg)
	store, err := storage.NewStore(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	c := &Components{Store: store, StoreOptions: opts}
	if !withEmbedder {
		return c, nil
	}

	emb, err := embedding.New(embedding.Options{
		Provider:          cfg.Embedding.Provider,
		Model:             cfg.Embedding.Model,
		Dimensions:        cfg.Embedding.Dimensions,
		Device:            cfg.Embedding.Device,
		ModelPath:         cfg.Embedding.ModelPath,
		MaxTokens:         cfg.Embedding.MaxTokens,
		CacheSize:         cfg.Embedding.CacheSize,
		APIKey:            cfg.Embedding.OpenAI.APIKey,
		BaseURL:           cfg.Embedding.OpenAI.BaseURL,
		RequestsPerSecond: cfg.Embedding.OpenAI.RequestsPerSecond,
		Burst:             cfg.Embedding.OpenAI.Burst,
		Timeout:           cfg.Embedding.OpenAI.Timeout,
	}, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	c.Embedder = emb
	logger.Info("embedder ready",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", emb.Dimensions()))
	return c, nil
}

// NewPlanner builds a planner over the opened store and embedder.
func (c *Components) NewPlanner(opts planner.Options, logger *zap.Logger) (*planner.Planner, error) {
	return planner.New(c.Store, c.Embedder, opts, planner.WithLogger(logger))
}

// plannerOptions fills the run options that come from config.
func plannerOptions(cfg *config.Config, inputPath string) planner.Options {
	return planner.Options{
		Collection:      cfg.Store.Collection,
		Mode:            planner.Mode(cfg.Sync.Mode),
		Reset:           cfg.Sync.ResetExistingStorage,
		SkipUnchanged:   cfg.Sync.SkipUnchangedOrDefault(),
		PruneStale:      cfg.Sync.PruneStale,
		BatchSize:       cfg.Embedding.BatchSize,
		PipelineVersion: cfg.Sync.PipelineVersion,
		StageVersion:    cfg.Sync.StageVersion,
		EmbedModel:      cfg.Embedding.Model,
		EmbedDim:        cfg.Embedding.Dimensions,
		Device:          embedding.ResolveDevice(cfg.Embedding.Provider, cfg.Embedding.Device),
		StoreBackend:    cfg.Store.Backend,
		StoreLocation:   storeOptions(cfg).Location(),
		ManifestPath:    cfg.Sync.ManifestPath,
		InputPath:       inputPath,
	}
}

// newIndexer builds the stage 1-2 pipeline for the vault at root.
func newIndexer(cfg *config.Config, root string, logger *zap.Logger) *indexer.Indexer {
	chunker := indexer.NewChunker(cfg.Chunking.MaxChars, indexer.Stamp{
		EmbedModel:     cfg.Embedding.Model,
		EmbedDim:       cfg.Embedding.Dimensions,
		ChunkerVersion: cfg.Chunking.ChunkerVersion,
	})
	return indexer.NewIndexer(root, extract.NewExtractor(cfg.Vault.Extensions...), chunker,
		indexer.WithLogger(logger),
		indexer.WithRecursive(cfg.Vault.RecursiveOrDefault()),
		indexer.WithExclude(cfg.Vault.Exclude),
		indexer.WithVocabulary(indexer.Vocabulary{
			DocTypes:      cfg.Metadata.DocTypes,
			Sensitivities: cfg.Metadata.Sensitivities,
		}),
	)
}
