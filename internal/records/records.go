// Package records reads and writes chunk batches as line-delimited JSON.
package records

import (
	"bufio"
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hyperjump/shiori/internal/models"
	"github.com/xeipuuv/gojsonschema"
)

// DefaultPattern matches per-note chunk files written by the chunk stage.
const DefaultPattern = "*.chunks.jsonl"

const maxLineBytes = 16 * 1024 * 1024

//go:embed chunk_record.schema.json
var schemaJSON string

var recordSchema = mustSchema(schemaJSON)

func mustSchema(src string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("records: invalid chunk record schema: %v", err))
	}
	return schema
}

// LineError reports a malformed line in a chunk stream.
type LineError struct {
	Line   int
	Reason string
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// Validate checks one encoded record against the chunk record schema.
func Validate(line []byte) error {
	result, err := recordSchema.Validate(gojsonschema.NewBytesLoader(line))
	if err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("schema validation failed: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// Read decodes every non-blank line of r. The first malformed line aborts the read.
func Read(r io.Reader) ([]models.ChunkRecord, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	var out []models.ChunkRecord
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := Validate(line); err != nil {
			return nil, &LineError{Line: lineNo, Reason: err.Error()}
		}
		var rec models.ChunkRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, &LineError{Line: lineNo, Reason: err.Error()}
		}
		if rec.Metadata.OutLinks == nil {
			rec.Metadata.OutLinks = []models.OutLink{}
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan chunk stream: %w", err)
	}
	return out, nil
}

// ReadFile reads a chunk stream from path.
func ReadFile(path string) ([]models.ChunkRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open chunks: %w", err)
	}
	defer f.Close()
	recs, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return recs, nil
}

// Write encodes records one per line without HTML escaping.
func Write(w io.Writer, recs []models.ChunkRecord) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for i := range recs {
		if err := enc.Encode(&recs[i]); err != nil {
			return fmt.Errorf("failed to encode record %d: %w", i, err)
		}
	}
	return nil
}

// WriteFile writes records to path, creating parent directories.
func WriteFile(path string, recs []models.ChunkRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create chunks file: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := Write(w, recs); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to flush chunks file: %w", err)
	}
	return f.Close()
}

// CollectFiles returns the files in dir matching pattern, sorted by name.
func CollectFiles(dir, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	files, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	sort.Strings(files)
	return files, nil
}

// ReadFiles reads and concatenates the given chunk files in order.
func ReadFiles(files []string) ([]models.ChunkRecord, error) {
	var all []models.ChunkRecord
	for _, f := range files {
		recs, err := ReadFile(f)
		if err != nil {
			return nil, err
		}
		all = append(all, recs...)
	}
	return all, nil
}

// Merge validates and concatenates files into out. Returns the number of records written.
func Merge(out string, files []string) (int, error) {
	abs, _ := filepath.Abs(out)
	inputs := make([]string, 0, len(files))
	for _, f := range files {
		if fa, _ := filepath.Abs(f); fa == abs {
			continue
		}
		inputs = append(inputs, f)
	}
	all, err := ReadFiles(inputs)
	if err != nil {
		return 0, err
	}
	if err := WriteFile(out, all); err != nil {
		return 0, err
	}
	return len(all), nil
}
