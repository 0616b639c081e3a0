package indexer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hyperjump/shiori/internal/fileid"
	"github.com/hyperjump/shiori/internal/models"
)

// IDSeparator joins the parts of a chunk id.
const IDSeparator = "::"

// maxReportedIDs caps how many offending ids an error lists.
const maxReportedIDs = 10

// ChunkID returns doc_id::anchor::index.
func ChunkID(docID, anchor string, index int) string {
	return docID + IDSeparator + anchor + IDSeparator + strconv.Itoa(index)
}

// RowProblem is one invalid record in a batch.
type RowProblem struct {
	Row     int
	ChunkID string
	Reason  string
}

// BatchError reports every structural problem found in a chunk batch.
type BatchError struct {
	Problems   []RowProblem
	Duplicates []string
}

func (e *BatchError) Error() string {
	var parts []string
	if n := len(e.Problems); n > 0 {
		p := e.Problems[0]
		parts = append(parts, fmt.Sprintf("%d invalid records (first: row %d %q: %s)", n, p.Row, p.ChunkID, p.Reason))
	}
	if n := len(e.Duplicates); n > 0 {
		sample := e.Duplicates
		if len(sample) > maxReportedIDs {
			sample = sample[:maxReportedIDs]
		}
		parts = append(parts, fmt.Sprintf("%d duplicate chunk_ids (first %d: %s)", n, len(sample), strings.Join(sample, ", ")))
	}
	return strings.Join(parts, "; ")
}

// ValidateBatch checks that every record is complete and self-consistent and that
// chunk ids are unique. It returns a *BatchError listing all problems, or nil.
func ValidateBatch(recs []models.ChunkRecord) error {
	var problems []RowProblem
	var dups []string
	seen := make(map[string]int, len(recs))
	for i, rec := range recs {
		m := rec.Metadata
		if m == nil {
			problems = append(problems, RowProblem{Row: i, Reason: "missing metadata"})
			continue
		}
		if reason := checkRecord(rec.Text, m); reason != "" {
			problems = append(problems, RowProblem{Row: i, ChunkID: m.ChunkID, Reason: reason})
		}
		if m.ChunkID == "" {
			continue
		}
		seen[m.ChunkID]++
		if seen[m.ChunkID] == 2 {
			dups = append(dups, m.ChunkID)
		}
	}
	if len(problems) == 0 && len(dups) == 0 {
		return nil
	}
	return &BatchError{Problems: problems, Duplicates: dups}
}

func checkRecord(text string, m *models.Metadata) string {
	required := []struct {
		name, value string
	}{
		{"text", strings.TrimSpace(text)},
		{"doc_id", m.DocID},
		{"chunk_id", m.ChunkID},
		{"chunk_anchor", m.ChunkAnchor},
		{"chunk_title", m.ChunkTitle},
		{"rel_path", m.RelPath},
		{"source_hash", m.SourceHash},
		{"content_hash", m.ContentHash},
		{"embed_model", m.EmbedModel},
		{"chunker_version", m.ChunkerVersion},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return "missing " + f.name
		}
	}
	switch {
	case m.ChunkIndex < 0:
		return "negative chunk_index"
	case m.EmbedDim <= 0:
		return "embed_dim must be positive"
	case m.ChunkID != ChunkID(m.DocID, m.ChunkAnchor, m.ChunkIndex):
		return "chunk_id does not match doc_id::chunk_anchor::chunk_index"
	case m.ContentHash != fileid.ContentHash(text):
		return "content_hash does not match text"
	}
	return ""
}
