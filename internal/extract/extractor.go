// Package extract reads notes from disk and splits them into frontmatter and body.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Note is a note file as read from disk.
type Note struct {
	Path        string
	Raw         []byte
	Frontmatter Frontmatter
	// Body is the text after the frontmatter block.
	Body string
}

// Extractor reads note files. Extensions limits which files it accepts (empty = all).
type Extractor struct {
	extensions []string
}

// NewExtractor returns a new Extractor accepting the given extensions (e.g. ".md").
func NewExtractor(extensions ...string) *Extractor {
	return &Extractor{extensions: extensions}
}

// Supports reports whether path has an accepted extension.
func (e *Extractor) Supports(path string) bool {
	if len(e.extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, want := range e.extensions {
		if strings.TrimPrefix(strings.ToLower(want), ".") == ext {
			return true
		}
	}
	return false
}

// ReadNote reads the file at path and parses its frontmatter.
// A missing file or malformed frontmatter is returned as an error.
func (e *Extractor) ReadNote(path string) (*Note, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read note: %w", err)
	}
	note, err := e.ParseNote(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	note.Path = path
	return note, nil
}

// ParseNote parses raw note bytes. Raw is kept unmodified for hashing.
func (e *Extractor) ParseNote(raw []byte) (*Note, error) {
	text := toValidText(raw)
	fm, body, err := SplitFrontmatter(text)
	if err != nil {
		return nil, err
	}
	return &Note{Raw: raw, Frontmatter: fm, Body: body}, nil
}
