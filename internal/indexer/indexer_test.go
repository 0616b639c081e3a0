package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/shiori/internal/extract"
	"github.com/hyperjump/shiori/internal/records"
)

func writeNote(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func testIndexer(root string, opts ...IndexerOption) *Indexer {
	return NewIndexer(root, extract.NewExtractor(".md"), NewChunker(2500, testStamp), opts...)
}

func TestIndexFile(t *testing.T) {
	root := t.TempDir()
	path := writeNote(t, root, "journal/2024-05-06 walk.md",
		"---\nuuid: 3F2B6C1E-8A4D-4E5F-9A0B-1C2D3E4F5A6B\njournal_entry_date: 2024-05-06\ndoc_type: Journal\n---\n## Morning\nWalked to [[Park]].\n")
	recs, err := testIndexer(root).IndexFile(path)
	if err != nil {
		t.Fatalf("IndexFile: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	m := recs[0].Metadata
	if m.ChunkID != "3f2b6c1e-8a4d-4e5f-9a0b-1c2d3e4f5a6b::morning::0" {
		t.Errorf("chunk id = %q", m.ChunkID)
	}
	if m.RelPath != "journal/2024-05-06 walk.md" || m.Folder != "journal" || m.DocType != "journal" {
		t.Errorf("document fields = %+v", m)
	}
	if m.EntryDate == nil || *m.EntryDate != "2024-05-06" {
		t.Errorf("entry_date = %v", m.EntryDate)
	}
	if m.SourceDate == nil || *m.SourceDate != "2024-05-06" {
		t.Errorf("source_date should fall back to the file name: %v", m.SourceDate)
	}
	if recs[0].Text != "Walked to Park.\n" || len(m.OutLinks) != 1 {
		t.Errorf("text = %q links = %+v", recs[0].Text, m.OutLinks)
	}
}

func TestIndexFile_errors(t *testing.T) {
	root := t.TempDir()
	bad := writeNote(t, root, "bad.md", "---\nuuid: [oops\n---\nbody\n")
	if _, err := testIndexer(root).IndexFile(bad); !errors.Is(err, extract.ErrFrontmatter) {
		t.Errorf("malformed frontmatter err = %v", err)
	}
	if _, err := testIndexer(root).IndexFile(filepath.Join(root, "missing.md")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file err = %v", err)
	}
	vocab := writeNote(t, root, "v.md", "---\nsensitivity: top-secret\n---\nbody\n")
	idx := testIndexer(root, WithVocabulary(Vocabulary{Sensitivities: []string{"private", "public"}}))
	if _, err := idx.IndexFile(vocab); err == nil || !strings.Contains(err.Error(), "sensitivity") {
		t.Errorf("vocabulary violation err = %v", err)
	}
	outside := writeNote(t, t.TempDir(), "o.md", "x")
	if _, err := testIndexer(root).IndexFile(outside); err == nil {
		t.Error("expected error for note outside the vault")
	}
}

func TestListFiles(t *testing.T) {
	root := t.TempDir()
	writeNote(t, root, "b.md", "b")
	writeNote(t, root, "a.md", "a")
	writeNote(t, root, "sub/c.md", "c")
	writeNote(t, root, "sub/skip.txt", "x")
	writeNote(t, root, ".obsidian/config.md", "x")
	writeNote(t, root, "templates/t.md", "x")

	rels := func(idx *Indexer) []string {
		files, err := idx.ListFiles()
		if err != nil {
			t.Fatal(err)
		}
		var out []string
		for _, f := range files {
			rel, _ := idx.RelPath(f)
			out = append(out, rel)
		}
		return out
	}

	got := strings.Join(rels(testIndexer(root, WithExclude([]string{"templates/*"}))), ",")
	if got != "a.md,b.md,sub/c.md" {
		t.Errorf("ListFiles = %s", got)
	}
	got = strings.Join(rels(testIndexer(root, WithRecursive(false))), ",")
	if got != "a.md,b.md" {
		t.Errorf("non-recursive ListFiles = %s", got)
	}
}

func TestAccepts(t *testing.T) {
	root := t.TempDir()
	idx := testIndexer(root, WithExclude([]string{"templates/*"}))
	tests := []struct {
		rel  string
		want bool
	}{
		{"note.md", true},
		{"sub/deleted.md", true},
		{"sub/skip.txt", false},
		{".obsidian/config.md", false},
		{"sub/.trash/x.md", false},
		{"templates/t.md", false},
	}
	for _, tt := range tests {
		if got := idx.Accepts(filepath.Join(root, filepath.FromSlash(tt.rel))); got != tt.want {
			t.Errorf("Accepts(%s) = %v, want %v", tt.rel, got, tt.want)
		}
	}
	if idx.Accepts(filepath.Join(t.TempDir(), "o.md")) {
		t.Error("paths outside the vault are not accepted")
	}
	if testIndexer(root, WithRecursive(false)).Accepts(filepath.Join(root, "sub", "c.md")) {
		t.Error("non-recursive indexer accepts only top-level notes")
	}
}

func TestIndexVault_andWriteChunks(t *testing.T) {
	root := t.TempDir()
	writeNote(t, root, "a.md", "## One\nfirst\n\nsecond\n")
	writeNote(t, root, "sub/b.md", "Just a preamble.\n")
	writeNote(t, root, "empty.md", "---\nuuid: e\n---\n\n")

	recs, files, err := testIndexer(root).IndexVault(context.Background())
	if err != nil {
		t.Fatalf("IndexVault: %v", err)
	}
	if files != 3 || len(recs) != 3 {
		t.Fatalf("files=%d records=%d, want 3/3", files, len(recs))
	}
	if err := ValidateBatch(recs); err != nil {
		t.Fatalf("vault output should validate: %v", err)
	}

	out := t.TempDir()
	written, err := WriteChunks(out, recs)
	if err != nil {
		t.Fatalf("WriteChunks: %v", err)
	}
	if len(written) != 2 {
		t.Fatalf("written = %v, want 2 files", written)
	}
	if filepath.Base(written[1]) != "sub__b.chunks.jsonl" {
		t.Errorf("chunk file name = %s", filepath.Base(written[1]))
	}
	back, err := records.ReadFile(written[0])
	if err != nil {
		t.Fatal(err)
	}
	if len(back) != 2 || back[1].Metadata.ChunkIndex != 1 {
		t.Errorf("a.md chunks = %+v", back)
	}
}

func TestIndexVault_cancelled(t *testing.T) {
	root := t.TempDir()
	writeNote(t, root, "a.md", "x")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := testIndexer(root).IndexVault(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
