package storage

import (
	"context"
	"fmt"
)

// Backend names a store implementation.
type Backend string

const (
	// BackendSQLite persists collections in persist_dir/collections.db.
	BackendSQLite Backend = "sqlite"
	// BackendMemory keeps collections in process memory. Nothing survives the process.
	BackendMemory Backend = "memory"
	// BackendChroma uses a Chroma server.
	BackendChroma Backend = "chroma"
	// BackendPGVector uses Postgres with the pgvector extension.
	BackendPGVector Backend = "pgvector"
)

// Options selects and locates a store.
type Options struct {
	Backend     string
	PersistDir  string
	ChromaURL   string
	DatabaseURL string
}

// Location returns the place the backend keeps its data, as recorded in
// collection fingerprints and manifests.
func (o Options) Location() string {
	switch Backend(o.Backend) {
	case BackendChroma:
		return o.ChromaURL
	case BackendPGVector:
		return redactURL(o.DatabaseURL)
	case BackendMemory:
		return "memory"
	default:
		return o.PersistDir
	}
}

// NewStore creates the store for opts.Backend.
// Supported backends: "sqlite" (default), "memory", "chroma", "pgvector".
func NewStore(ctx context.Context, opts Options) (Store, error) {
	switch Backend(opts.Backend) {
	case BackendSQLite, "":
		if opts.PersistDir == "" {
			return nil, fmt.Errorf("sqlite store needs a persist directory")
		}
		return NewSQLiteStore(opts.PersistDir)
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendChroma:
		if opts.ChromaURL == "" {
			return nil, fmt.Errorf("chroma store needs a server url")
		}
		return NewChromaStore(opts.ChromaURL)
	case BackendPGVector:
		return NewPGVectorStore(ctx, opts.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown store backend: %s (supported: sqlite, memory, chroma, pgvector)", opts.Backend)
	}
}
