package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/hyperjump/shiori/internal/models"
)

// MemoryStore keeps collections in process memory. Its collections do not
// implement Upserter, so Upsert goes through the delete-then-add path.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memoryCollection)}
}

func (s *MemoryStore) GetCollection(_ context.Context, name string) (Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return c, nil
}

func (s *MemoryStore) CreateCollection(_ context.Context, name string, meta models.CollectionMetadata) (Collection, error) {
	if err := validCollectionName(name); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; ok {
		return nil, fmt.Errorf("collection %s: %w", name, ErrAlreadyExists)
	}
	c := &memoryCollection{name: name, meta: meta, entries: make(map[string]memoryEntry)}
	s.collections[name] = c
	return c, nil
}

func (s *MemoryStore) DeleteCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; !ok {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	delete(s.collections, name)
	return nil
}

func (s *MemoryStore) ListCollections(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemoryStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections = make(map[string]*memoryCollection)
	return nil
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}

// memoryEntry stores metadata as JSON so callers cannot mutate it through returned pointers.
type memoryEntry struct {
	text      string
	metadata  []byte
	embedding []float32
}

type memoryCollection struct {
	mu      sync.RWMutex
	name    string
	meta    models.CollectionMetadata
	entries map[string]memoryEntry
}

func (c *memoryCollection) Name() string                        { return c.name }
func (c *memoryCollection) Metadata() models.CollectionMetadata { return c.meta }

func (c *memoryCollection) Get(_ context.Context, ids []string) (map[string]*models.Metadata, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*models.Metadata, len(ids))
	for _, id := range ids {
		e, ok := c.entries[id]
		if !ok {
			continue
		}
		m, err := decodeMetadata(id, e.metadata)
		if err != nil {
			return nil, err
		}
		out[id] = m
	}
	return out, nil
}

func (c *memoryCollection) GetWhere(_ context.Context, field, value string) (map[string]*models.Metadata, error) {
	if err := checkField(field); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*models.Metadata)
	for id, e := range c.entries {
		m, err := decodeMetadata(id, e.metadata)
		if err != nil {
			return nil, err
		}
		if v, ok := m.Flatten()[field]; ok && fmt.Sprint(v) == value {
			out[id] = m
		}
	}
	return out, nil
}

// Add stores entries; the batch is rejected as a whole if any id exists.
func (c *memoryCollection) Add(_ context.Context, entries []Entry) error {
	if err := checkEntries(entries, c.meta.EmbedDim); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entries {
		if _, ok := c.entries[e.ID]; ok {
			return fmt.Errorf("%s: %w", e.ID, ErrAlreadyExists)
		}
	}
	for _, e := range entries {
		meta, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata of %s: %w", e.ID, err)
		}
		c.entries[e.ID] = memoryEntry{
			text:      e.Text,
			metadata:  meta,
			embedding: append([]float32(nil), e.Embedding...),
		}
	}
	return nil
}

func (c *memoryCollection) Delete(_ context.Context, ids []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.entries, id)
	}
	return nil
}

func (c *memoryCollection) Count(_ context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries), nil
}

func (c *memoryCollection) Embedding(_ context.Context, id string) ([]float32, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	if !ok {
		return nil, fmt.Errorf("record not found: %s", id)
	}
	return append([]float32(nil), e.embedding...), nil
}

func decodeMetadata(id string, raw []byte) (*models.Metadata, error) {
	var m models.Metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata of %s: %w", id, err)
	}
	return &m, nil
}
