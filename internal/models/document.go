// Package models defines the fixed-schema records that flow from notes to chunks to the store.
package models

// Document is one source note prepared for chunking. Immutable for the duration of a run.
type Document struct {
	DocID       string
	SourceHash  string
	RelPath     string
	EntryDate   *string
	SourceDate  *string
	DocType     string
	Sensitivity string
	Folder      string
	// Body is the note text after frontmatter removal, before normalization.
	Body string
}

// Section is a span of a document between two headings of the chosen split level.
type Section struct {
	Anchor string
	Title  string
	Body   string
}

// OutLink is a wikilink edge captured while rewriting chunk text.
type OutLink struct {
	Target string `json:"target"`
	Alias  string `json:"alias,omitempty"`
}

// Chunk is the atomic indexing unit produced from one section.
type Chunk struct {
	Text        string
	ChunkID     string
	ChunkIndex  int
	ContentHash string
	Anchor      string
	Title       string
	OutLinks    []OutLink
}
