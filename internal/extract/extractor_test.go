package extract

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestParseNote_plain(t *testing.T) {
	e := NewExtractor()
	note, err := e.ParseNote([]byte("Hello world\nLine 2"))
	if err != nil {
		t.Fatalf("ParseNote: %v", err)
	}
	if note.Body != "Hello world\nLine 2" {
		t.Errorf("body = %q", note.Body)
	}
	if len(note.Frontmatter) != 0 {
		t.Errorf("frontmatter = %v, want empty", note.Frontmatter)
	}
}

func TestParseNote_lineEndings(t *testing.T) {
	e := NewExtractor()
	note, err := e.ParseNote([]byte("\uFEFFa\r\nb\rc"))
	if err != nil {
		t.Fatalf("ParseNote: %v", err)
	}
	if note.Body != "a\nb\nc" {
		t.Errorf("body = %q", note.Body)
	}
}

func TestParseNote_invalidUTF8KeepsRaw(t *testing.T) {
	e := NewExtractor()
	raw := []byte("hello\x80world")
	note, err := e.ParseNote(raw)
	if err != nil {
		t.Fatalf("ParseNote: %v", err)
	}
	if note.Body != "hello\uFFFDworld" {
		t.Errorf("body = %q", note.Body)
	}
	if string(note.Raw) != string(raw) {
		t.Error("raw bytes must be kept unmodified for hashing")
	}
}

func TestParseNote_frontmatter(t *testing.T) {
	e := NewExtractor()
	raw := "---\nuuid: 3f2b6c1e-8a4d-4e5f-9a0b-1c2d3e4f5a6b\njournal_entry_date: 2024-03-01\ndoc_type: journal\n---\n# Day\nbody\n"
	note, err := e.ParseNote([]byte(raw))
	if err != nil {
		t.Fatalf("ParseNote: %v", err)
	}
	if note.Body != "# Day\nbody\n" {
		t.Errorf("body = %q", note.Body)
	}
	if got := note.Frontmatter.String("uuid"); got != "3f2b6c1e-8a4d-4e5f-9a0b-1c2d3e4f5a6b" {
		t.Errorf("uuid = %q", got)
	}
	if d := note.Frontmatter.Date("journal_entry_date"); d == nil || *d != "2024-03-01" {
		t.Errorf("journal_entry_date = %v", d)
	}
	if got := note.Frontmatter.String("doc_type"); got != "journal" {
		t.Errorf("doc_type = %q", got)
	}
}

func TestSplitFrontmatter(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		wantBody string
		wantErr  bool
	}{
		{"no frontmatter", "# Title\n", "# Title\n", false},
		{"unclosed block is body", "---\nkey: v\n# Title\n", "---\nkey: v\n# Title\n", false},
		{"empty block", "---\n---\nbody", "body", false},
		{"horizontal rule later is not frontmatter", "text\n---\nmore", "text\n---\nmore", false},
		{"malformed yaml", "---\nkey: [unclosed\n---\nbody", "", true},
		{"list is not a mapping", "---\n- a\n- b\n---\nbody", "", true},
		{"scalar is not a mapping", "---\njust a string\n---\nbody", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, body, err := SplitFrontmatter(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrFrontmatter) {
					t.Fatalf("err = %v, want ErrFrontmatter", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if body != tt.wantBody {
				t.Errorf("body = %q, want %q", body, tt.wantBody)
			}
		})
	}
}

func TestFrontmatter_Date(t *testing.T) {
	tests := []struct {
		name string
		val  any
		want string
	}{
		{"date string", "2023-11-05", "2023-11-05"},
		{"date prefix", "2023-11-05 morning", "2023-11-05"},
		{"rfc3339", "2023-11-05T08:30:00Z", "2023-11-05"},
		{"garbage", "yesterday", ""},
		{"number", 42, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Frontmatter{"d": tt.val}.Date("d")
			if tt.want == "" {
				if got != nil {
					t.Errorf("Date = %q, want nil", *got)
				}
				return
			}
			if got == nil || *got != tt.want {
				t.Errorf("Date = %v, want %q", got, tt.want)
			}
		})
	}
}

func TestFrontmatter_SourceDateFallsBackToFileName(t *testing.T) {
	fm := Frontmatter{}
	if d := fm.SourceDate("/vault/journal/2024-02-30 bad.md"); d != nil {
		t.Errorf("invalid calendar date should be ignored, got %q", *d)
	}
	d := fm.SourceDate("/vault/journal/2024-02-29 leap.md")
	if d == nil || *d != "2024-02-29" {
		t.Errorf("SourceDate = %v", d)
	}
	fm["note_creation_date"] = "2020-01-01"
	if d := fm.SourceDate("/vault/2024-02-29.md"); d == nil || *d != "2020-01-01" {
		t.Errorf("frontmatter date should win, got %v", d)
	}
}

func TestReadNote(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.md")
	if err := os.WriteFile(path, []byte("---\nuuid: x\n---\nbody\n"), 0600); err != nil {
		t.Fatal(err)
	}
	e := NewExtractor(".md")
	note, err := e.ReadNote(path)
	if err != nil {
		t.Fatalf("ReadNote: %v", err)
	}
	if note.Path != path || note.Body != "body\n" {
		t.Errorf("note = %+v", note)
	}
	if _, err := e.ReadNote(filepath.Join(dir, "missing.md")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file err = %v, want ErrNotExist", err)
	}
}

func TestExtractor_Supports(t *testing.T) {
	e := NewExtractor(".md", "markdown")
	if !e.Supports("a/B.MD") || !e.Supports("x.markdown") {
		t.Error("expected markdown extensions to be supported")
	}
	if e.Supports("x.txt") {
		t.Error(".txt should not be supported")
	}
	if !NewExtractor().Supports("anything.bin") {
		t.Error("empty extension list accepts everything")
	}
}
