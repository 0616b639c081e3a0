// Package indexer turns notes into identified chunk records.
package indexer

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hyperjump/shiori/internal/fileid"
	"github.com/hyperjump/shiori/internal/markdown"
	"github.com/hyperjump/shiori/internal/models"
)

// Stamp carries the run-wide values copied into every chunk's metadata.
type Stamp struct {
	EmbedModel     string
	EmbedDim       int
	ChunkerVersion string
}

// Chunker splits sections into size-bounded chunks and assigns their identity.
type Chunker struct {
	maxChars int
	stamp    Stamp
}

// NewChunker creates a chunker. maxChars bounds chunk length in characters (runes);
// a value <= 0 disables packing so each paragraph is one chunk.
func NewChunker(maxChars int, stamp Stamp) *Chunker {
	return &Chunker{maxChars: maxChars, stamp: stamp}
}

// ChunkDocument normalizes the document body, splits it into sections and
// returns one record per chunk in document order.
func (c *Chunker) ChunkDocument(doc *models.Document) []models.ChunkRecord {
	normalized := markdown.Normalize(doc.Body)
	var out []models.ChunkRecord
	for _, section := range markdown.SplitSections(normalized) {
		for _, ch := range c.ChunkSection(doc.DocID, section) {
			out = append(out, models.ChunkRecord{Text: ch.Text, Metadata: c.metadata(doc, ch)})
		}
	}
	return out
}

// ChunkSection packs a section's paragraphs and identifies each resulting chunk.
// Chunk text is link-rewritten, trimmed and terminated by a single newline;
// the content hash covers exactly those bytes.
func (c *Chunker) ChunkSection(docID string, section models.Section) []models.Chunk {
	var chunks []models.Chunk
	for _, para := range SplitParagraphs(section.Body) {
		for _, piece := range Pack(para, c.maxChars) {
			text, links := markdown.ExtractLinks(piece)
			text = strings.TrimSpace(text)
			if text == "" {
				continue
			}
			text += "\n"
			idx := len(chunks)
			chunks = append(chunks, models.Chunk{
				Text:        text,
				ChunkID:     ChunkID(docID, section.Anchor, idx),
				ChunkIndex:  idx,
				ContentHash: fileid.ContentHash(text),
				Anchor:      section.Anchor,
				Title:       section.Title,
				OutLinks:    links,
			})
		}
	}
	return chunks
}

func (c *Chunker) metadata(doc *models.Document, ch models.Chunk) *models.Metadata {
	return &models.Metadata{
		DocID:          doc.DocID,
		ChunkID:        ch.ChunkID,
		ChunkAnchor:    ch.Anchor,
		ChunkTitle:     ch.Title,
		ChunkIndex:     ch.ChunkIndex,
		RelPath:        doc.RelPath,
		EntryDate:      doc.EntryDate,
		SourceDate:     doc.SourceDate,
		SourceHash:     doc.SourceHash,
		ContentHash:    ch.ContentHash,
		EmbedModel:     c.stamp.EmbedModel,
		EmbedDim:       c.stamp.EmbedDim,
		ChunkerVersion: c.stamp.ChunkerVersion,
		OutLinks:       ch.OutLinks,
		DocType:        doc.DocType,
		Sensitivity:    doc.Sensitivity,
		Folder:         doc.Folder,
	}
}

// SplitParagraphs splits a section body on blank lines, dropping empty paragraphs.
func SplitParagraphs(body string) []string {
	var out []string
	for _, p := range strings.Split(body, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Pack returns paragraph unchanged when it fits in maxChars. Otherwise it greedily
// packs sentences, joined by single spaces, flushing before a sentence that would
// push the chunk past maxChars. A sentence longer than maxChars is kept whole.
func Pack(paragraph string, maxChars int) []string {
	if maxChars <= 0 || utf8.RuneCountInString(paragraph) <= maxChars {
		return []string{paragraph}
	}
	var (
		out []string
		buf []string
		cur int
	)
	for _, piece := range SplitSentences(paragraph) {
		n := utf8.RuneCountInString(piece)
		if len(buf) > 0 && cur+1+n > maxChars {
			out = append(out, strings.Join(buf, " "))
			buf, cur = nil, 0
		}
		if len(buf) > 0 {
			cur++
		}
		buf = append(buf, piece)
		cur += n
	}
	if len(buf) > 0 {
		out = append(out, strings.Join(buf, " "))
	}
	return out
}

// SplitSentences cuts text after '.', '!' or '?' when followed by whitespace.
// The whitespace run is dropped; punctuation stays with its sentence.
func SplitSentences(text string) []string {
	var pieces []string
	start := 0
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		end := i
		for i < len(text) {
			ws, wsize := utf8.DecodeRuneInString(text[i:])
			if !unicode.IsSpace(ws) {
				break
			}
			i += wsize
		}
		if i > end {
			pieces = append(pieces, text[start:end])
			start = i
		}
	}
	if start < len(text) {
		pieces = append(pieces, text[start:])
	}
	return pieces
}
