package e2e

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildCorpus(t *testing.T) {
	c := BuildCorpus(30)
	if len(c.Notes) != 30 {
		t.Fatalf("len(Notes) = %d, want 30", len(c.Notes))
	}
	seen := map[string]bool{}
	withUUID := 0
	for _, n := range c.Notes {
		if seen[n.RelPath] {
			t.Errorf("duplicate rel_path %s", n.RelPath)
		}
		seen[n.RelPath] = true
		if n.UUID != "" {
			withUUID++
		}
	}
	if withUUID != 15 {
		t.Errorf("notes with uuid = %d, want 15", withUUID)
	}
	again := BuildCorpus(30)
	if again.Notes[4].UUID != c.Notes[4].UUID {
		t.Error("uuids must be deterministic")
	}
}

func TestCorpusWrite(t *testing.T) {
	root := t.TempDir()
	c := BuildCorpus(4)
	if err := c.Write(root); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(root, "topic00", "python-guide-00.md"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "---\nuuid: ") {
		t.Errorf("note 0 should carry frontmatter, got %q", data)
	}
	if !strings.Contains(string(data), "[[Kubernetes Docs 01]]") {
		t.Errorf("note 0 should link to note 1, got %q", data)
	}
}
