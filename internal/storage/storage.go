// Package storage is the collection gateway: named collections of chunk records
// with embeddings, behind one interface for every vector store backend.
package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/hyperjump/shiori/internal/models"
)

var (
	// ErrCollectionNotFound is returned by GetCollection when the collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")
	// ErrAlreadyExists is returned by Add when an id is already stored.
	ErrAlreadyExists = errors.New("id already exists")
)

// Entry is one record written to a collection.
type Entry struct {
	ID        string
	Text      string
	Metadata  *models.Metadata
	Embedding []float32
}

// Store manages collections.
type Store interface {
	GetCollection(ctx context.Context, name string) (Collection, error)
	CreateCollection(ctx context.Context, name string, meta models.CollectionMetadata) (Collection, error)
	DeleteCollection(ctx context.Context, name string) error
	ListCollections(ctx context.Context) ([]string, error)
	// Reset drops every collection in the store.
	Reset(ctx context.Context) error
	Close() error
}

// Collection holds chunk records keyed by chunk id.
type Collection interface {
	Name() string
	Metadata() models.CollectionMetadata
	// Get returns the metadata of the ids that exist; unknown ids are omitted.
	Get(ctx context.Context, ids []string) (map[string]*models.Metadata, error)
	// GetWhere returns the records whose metadata field equals value.
	GetWhere(ctx context.Context, field, value string) (map[string]*models.Metadata, error)
	Add(ctx context.Context, entries []Entry) error
	Delete(ctx context.Context, ids []string) error
	Count(ctx context.Context) (int, error)
}

// Upserter is implemented by collections that can insert-or-replace natively.
type Upserter interface {
	Upsert(ctx context.Context, entries []Entry) error
}

// SupportsUpsert reports whether coll implements Upserter.
func SupportsUpsert(coll Collection) bool {
	_, ok := coll.(Upserter)
	return ok
}

// Upsert inserts or replaces entries. Collections without native upsert get
// the existing ids deleted and the whole batch added.
func Upsert(ctx context.Context, coll Collection, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if u, ok := coll.(Upserter); ok {
		return u.Upsert(ctx, entries)
	}
	existing, err := coll.Get(ctx, EntryIDs(entries))
	if err != nil {
		return fmt.Errorf("failed to look up existing ids: %w", err)
	}
	if len(existing) > 0 {
		if err := coll.Delete(ctx, SortedKeys(existing)); err != nil {
			return fmt.Errorf("failed to delete existing ids: %w", err)
		}
	}
	return coll.Add(ctx, entries)
}

// EntryIDs returns the ids of entries in order.
func EntryIDs(entries []Entry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

// SortedKeys returns the keys of m in ascending order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Exists reports whether the named collection exists.
func Exists(ctx context.Context, store Store, name string) (bool, error) {
	_, err := store.GetCollection(ctx, name)
	if errors.Is(err, ErrCollectionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Info returns name, metadata and record count of the named collection.
func Info(ctx context.Context, store Store, name string) (*models.CollectionInfo, error) {
	coll, err := store.GetCollection(ctx, name)
	if err != nil {
		return nil, err
	}
	count, err := coll.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count collection %s: %w", name, err)
	}
	return &models.CollectionInfo{Name: name, Metadata: coll.Metadata(), Count: count, NativeUpsert: SupportsUpsert(coll)}, nil
}

// DocumentChunkIDs returns the sorted ids of the chunks stored for docID.
func DocumentChunkIDs(ctx context.Context, store Store, name, docID string) ([]string, error) {
	coll, err := store.GetCollection(ctx, name)
	if err != nil {
		return nil, err
	}
	found, err := coll.GetWhere(ctx, models.FieldDocID, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks of %s: %w", docID, err)
	}
	return SortedKeys(found), nil
}

func checkEntries(entries []Entry, dim int) error {
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.ID == "" {
			return fmt.Errorf("entry has empty id")
		}
		if _, dup := seen[e.ID]; dup {
			return fmt.Errorf("duplicate id %q in batch", e.ID)
		}
		seen[e.ID] = struct{}{}
		if e.Metadata == nil {
			return fmt.Errorf("entry %s has no metadata", e.ID)
		}
		if dim > 0 && len(e.Embedding) != dim {
			return fmt.Errorf("entry %s: embedding dimension %d, collection expects %d", e.ID, len(e.Embedding), dim)
		}
	}
	return nil
}

var fieldRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

func checkField(field string) error {
	if !fieldRe.MatchString(field) {
		return fmt.Errorf("invalid metadata field %q", field)
	}
	return nil
}

func validCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("collection name is empty")
	}
	return nil
}
