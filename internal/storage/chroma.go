package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	chromago "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings"

	"github.com/hyperjump/shiori/internal/models"
)

// ChromaStore talks to a Chroma server over HTTP.
type ChromaStore struct {
	client chromago.Client
}

// NewChromaStore connects to the Chroma server at baseURL.
func NewChromaStore(baseURL string) (*ChromaStore, error) {
	client, err := chromago.NewHTTPClient(chromago.WithBaseURL(baseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to create chroma client: %w", err)
	}
	return &ChromaStore{client: client}, nil
}

// GetCollection checks the collection list first so a missing collection maps to ErrCollectionNotFound.
func (s *ChromaStore) GetCollection(ctx context.Context, name string) (Collection, error) {
	names, err := s.ListCollections(ctx)
	if err != nil {
		return nil, err
	}
	i := sort.SearchStrings(names, name)
	if i == len(names) || names[i] != name {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	col, err := s.client.GetCollection(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get chroma collection: %w", err)
	}
	return newChromaCollection(col)
}

func (s *ChromaStore) CreateCollection(ctx context.Context, name string, meta models.CollectionMetadata) (Collection, error) {
	if err := validCollectionName(name); err != nil {
		return nil, err
	}
	flat := meta.Flatten()
	attrs := make([]*chromago.MetaAttribute, 0, len(flat))
	for _, key := range SortedKeys(flat) {
		attrs = append(attrs, chromaAttribute(key, flat[key]))
	}
	col, err := s.client.CreateCollection(ctx, name,
		chromago.WithCollectionMetadataCreate(chromago.NewMetadata(attrs...)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create chroma collection: %w", err)
	}
	return &chromaCollection{col: col, meta: meta}, nil
}

func (s *ChromaStore) DeleteCollection(ctx context.Context, name string) error {
	if _, err := s.GetCollection(ctx, name); err != nil {
		return err
	}
	if err := s.client.DeleteCollection(ctx, name); err != nil {
		return fmt.Errorf("failed to delete chroma collection: %w", err)
	}
	return nil
}

func (s *ChromaStore) ListCollections(ctx context.Context) ([]string, error) {
	cols, err := s.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list chroma collections: %w", err)
	}
	names := make([]string, 0, len(cols))
	for _, c := range cols {
		names = append(names, c.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Reset deletes every collection. Chroma's own reset endpoint needs ALLOW_RESET on the server,
// so collections are dropped one by one instead.
func (s *ChromaStore) Reset(ctx context.Context) error {
	names, err := s.ListCollections(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := s.client.DeleteCollection(ctx, name); err != nil {
			return fmt.Errorf("failed to delete chroma collection %s: %w", name, err)
		}
	}
	return nil
}

func (s *ChromaStore) Close() error {
	return s.client.Close()
}

type chromaCollection struct {
	col  chromago.Collection
	meta models.CollectionMetadata
}

func newChromaCollection(col chromago.Collection) (*chromaCollection, error) {
	flat, err := toMap(col.Metadata())
	if err != nil {
		return nil, fmt.Errorf("failed to read collection metadata: %w", err)
	}
	meta, err := models.CollectionMetadataFromFlat(flat)
	if err != nil {
		return nil, fmt.Errorf("failed to read collection metadata: %w", err)
	}
	return &chromaCollection{col: col, meta: meta}, nil
}

func (c *chromaCollection) Name() string                        { return c.col.Name() }
func (c *chromaCollection) Metadata() models.CollectionMetadata { return c.meta }

func (c *chromaCollection) Get(ctx context.Context, ids []string) (map[string]*models.Metadata, error) {
	if len(ids) == 0 {
		return map[string]*models.Metadata{}, nil
	}
	docIDs := make([]chromago.DocumentID, len(ids))
	for i, id := range ids {
		docIDs[i] = chromago.DocumentID(id)
	}
	res, err := c.col.Get(ctx,
		chromago.WithIDsGet(docIDs...),
		chromago.WithIncludeGet(chromago.IncludeMetadatas),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get chroma records: %w", err)
	}
	return decodeChromaResult(res)
}

func (c *chromaCollection) GetWhere(ctx context.Context, field, value string) (map[string]*models.Metadata, error) {
	if err := checkField(field); err != nil {
		return nil, err
	}
	res, err := c.col.Get(ctx,
		chromago.WithWhereGet(chromago.EqString(field, value)),
		chromago.WithIncludeGet(chromago.IncludeMetadatas),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query chroma records: %w", err)
	}
	return decodeChromaResult(res)
}

// Add checks for existing ids first; Chroma itself ignores duplicate adds.
func (c *chromaCollection) Add(ctx context.Context, entries []Entry) error {
	if err := checkEntries(entries, c.meta.EmbedDim); err != nil {
		return err
	}
	existing, err := c.Get(ctx, EntryIDs(entries))
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return fmt.Errorf("%s: %w", SortedKeys(existing)[0], ErrAlreadyExists)
	}
	if err := c.col.Add(ctx, chromaAddOptions(entries)...); err != nil {
		return fmt.Errorf("failed to add chroma records: %w", err)
	}
	return nil
}

func (c *chromaCollection) Upsert(ctx context.Context, entries []Entry) error {
	if err := checkEntries(entries, c.meta.EmbedDim); err != nil {
		return err
	}
	if err := c.col.Upsert(ctx, chromaAddOptions(entries)...); err != nil {
		return fmt.Errorf("failed to upsert chroma records: %w", err)
	}
	return nil
}

func (c *chromaCollection) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	docIDs := make([]chromago.DocumentID, len(ids))
	for i, id := range ids {
		docIDs[i] = chromago.DocumentID(id)
	}
	if err := c.col.Delete(ctx, chromago.WithIDsDelete(docIDs...)); err != nil {
		return fmt.Errorf("failed to delete chroma records: %w", err)
	}
	return nil
}

func (c *chromaCollection) Count(ctx context.Context) (int, error) {
	n, err := c.col.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count chroma records: %w", err)
	}
	return n, nil
}

func chromaAddOptions(entries []Entry) []chromago.CollectionAddOption {
	ids := make([]chromago.DocumentID, len(entries))
	texts := make([]string, len(entries))
	embs := make([]embeddings.Embedding, len(entries))
	metas := make([]chromago.DocumentMetadata, len(entries))
	for i, e := range entries {
		ids[i] = chromago.DocumentID(e.ID)
		texts[i] = e.Text
		embs[i] = embeddings.NewEmbeddingFromFloat32(e.Embedding)
		flat := e.Metadata.Flatten()
		attrs := make([]*chromago.MetaAttribute, 0, len(flat))
		for _, key := range SortedKeys(flat) {
			attrs = append(attrs, chromaAttribute(key, flat[key]))
		}
		metas[i] = chromago.NewDocumentMetadata(attrs...)
	}
	return []chromago.CollectionAddOption{
		chromago.WithIDs(ids...),
		chromago.WithTexts(texts...),
		chromago.WithEmbeddings(embs...),
		chromago.WithMetadatas(metas...),
	}
}

func chromaAttribute(key string, v any) *chromago.MetaAttribute {
	switch t := v.(type) {
	case int:
		return chromago.NewIntAttribute(key, int64(t))
	case int64:
		return chromago.NewIntAttribute(key, t)
	case float64:
		return chromago.NewFloatAttribute(key, t)
	case bool:
		return chromago.NewBoolAttribute(key, t)
	default:
		return chromago.NewStringAttribute(key, fmt.Sprint(t))
	}
}

func decodeChromaResult(res chromago.GetResult) (map[string]*models.Metadata, error) {
	ids := res.GetIDs()
	metas := res.GetMetadatas()
	out := make(map[string]*models.Metadata, len(ids))
	for i, id := range ids {
		if i >= len(metas) || metas[i] == nil {
			return nil, fmt.Errorf("chroma record %s has no metadata", id)
		}
		flat, err := toMap(metas[i])
		if err != nil {
			return nil, fmt.Errorf("failed to read metadata of %s: %w", id, err)
		}
		m, err := models.MetadataFromFlat(flat)
		if err != nil {
			return nil, fmt.Errorf("failed to read metadata of %s: %w", id, err)
		}
		out[string(id)] = m
	}
	return out, nil
}

// toMap converts chroma metadata to a plain map through its JSON form.
func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
