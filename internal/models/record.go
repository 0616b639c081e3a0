package models

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Metadata field names used for store-side filtering.
const (
	FieldDocID       = "doc_id"
	FieldRelPath     = "rel_path"
	FieldContentHash = "content_hash"
	FieldOutLinks    = "out_links"
)

// Metadata is the per-chunk metadata record. Optional fields are omitted when empty.
type Metadata struct {
	DocID          string    `json:"doc_id"`
	ChunkID        string    `json:"chunk_id"`
	ChunkAnchor    string    `json:"chunk_anchor"`
	ChunkTitle     string    `json:"chunk_title"`
	ChunkIndex     int       `json:"chunk_index"`
	RelPath        string    `json:"rel_path"`
	EntryDate      *string   `json:"entry_date,omitempty"`
	SourceDate     *string   `json:"source_date,omitempty"`
	SourceHash     string    `json:"source_hash"`
	ContentHash    string    `json:"content_hash"`
	EmbedModel     string    `json:"embed_model"`
	EmbedDim       int       `json:"embed_dim"`
	ChunkerVersion string    `json:"chunker_version"`
	OutLinks       []OutLink `json:"out_links"`
	DocType        string    `json:"doc_type,omitempty"`
	Sensitivity    string    `json:"sensitivity,omitempty"`
	Folder         string    `json:"folder,omitempty"`
}

// ChunkRecord is one line of the chunk batch stream.
type ChunkRecord struct {
	Text     string    `json:"text"`
	Metadata *Metadata `json:"metadata"`
}

// Flatten returns the metadata as a map of scalar values, the shape vector stores accept.
// out_links is JSON-encoded into a string; nil optional fields are left out.
func (m *Metadata) Flatten() map[string]any {
	links := m.OutLinks
	if links == nil {
		links = []OutLink{}
	}
	encoded, _ := json.Marshal(links)
	flat := map[string]any{
		"doc_id":          m.DocID,
		"chunk_id":        m.ChunkID,
		"chunk_anchor":    m.ChunkAnchor,
		"chunk_title":     m.ChunkTitle,
		"chunk_index":     m.ChunkIndex,
		"rel_path":        m.RelPath,
		"source_hash":     m.SourceHash,
		"content_hash":    m.ContentHash,
		"embed_model":     m.EmbedModel,
		"embed_dim":       m.EmbedDim,
		"chunker_version": m.ChunkerVersion,
		FieldOutLinks:     string(encoded),
	}
	if m.EntryDate != nil {
		flat["entry_date"] = *m.EntryDate
	}
	if m.SourceDate != nil {
		flat["source_date"] = *m.SourceDate
	}
	if m.DocType != "" {
		flat["doc_type"] = m.DocType
	}
	if m.Sensitivity != "" {
		flat["sensitivity"] = m.Sensitivity
	}
	if m.Folder != "" {
		flat["folder"] = m.Folder
	}
	return flat
}

// MetadataFromFlat rebuilds a Metadata from a flattened map as returned by a store.
// Numeric values may arrive as any Go number type or a numeric string.
func MetadataFromFlat(flat map[string]any) (*Metadata, error) {
	m := &Metadata{
		DocID:          stringField(flat, "doc_id"),
		ChunkID:        stringField(flat, "chunk_id"),
		ChunkAnchor:    stringField(flat, "chunk_anchor"),
		ChunkTitle:     stringField(flat, "chunk_title"),
		RelPath:        stringField(flat, "rel_path"),
		SourceHash:     stringField(flat, "source_hash"),
		ContentHash:    stringField(flat, "content_hash"),
		EmbedModel:     stringField(flat, "embed_model"),
		ChunkerVersion: stringField(flat, "chunker_version"),
		DocType:        stringField(flat, "doc_type"),
		Sensitivity:    stringField(flat, "sensitivity"),
		Folder:         stringField(flat, "folder"),
		OutLinks:       []OutLink{},
	}
	var err error
	if m.ChunkIndex, err = intField(flat, "chunk_index"); err != nil {
		return nil, err
	}
	if m.EmbedDim, err = intField(flat, "embed_dim"); err != nil {
		return nil, err
	}
	if v, ok := flat["entry_date"].(string); ok {
		m.EntryDate = &v
	}
	if v, ok := flat["source_date"].(string); ok {
		m.SourceDate = &v
	}
	if raw, ok := flat[FieldOutLinks].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &m.OutLinks); err != nil {
			return nil, fmt.Errorf("failed to decode out_links: %w", err)
		}
	}
	return m, nil
}

func stringField(flat map[string]any, key string) string {
	if v, ok := flat[key].(string); ok {
		return v
	}
	return ""
}

func intField(flat map[string]any, key string) (int, error) {
	switch v := flat[key].(type) {
	case nil:
		return 0, nil
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float32:
		return int(v), nil
	case float64:
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		return int(n), err
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("invalid %s type %T", key, v)
	}
}
