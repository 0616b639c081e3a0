package markdown

import (
	"reflect"
	"testing"

	"github.com/hyperjump/shiori/internal/models"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", "\n"},
		{"trims and terminates", "\n\n  hello  \n\n", "hello\n"},
		{"collapses blank runs", "a\n\n\n\n\nb", "a\n\nb\n"},
		{"strips blockquote", "> quoted line\n>> nested\n   > indented", "quoted line\n> nested\nindented\n"},
		{"strips one marker per line", ">> deeper\n> > spaced", "> deeper\n> spaced\n"},
		{"drops fences keeps code", "before\n```go\n> not a quote\nx := 1\n```\nafter", "before\n> not a quote\nx := 1\nafter\n"},
		{"crlf", "a\r\nb\r\n", "a\nb\n"},
		{"lone cr", "a\rb\r\rc", "a\nb\n\nc\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalize_idempotentOnPlainText(t *testing.T) {
	in := "# Title\n\nSome text.\n\n\n\nMore text.\n"
	once := Normalize(in)
	if twice := Normalize(once); twice != once {
		t.Errorf("second pass changed text: %q -> %q", once, twice)
	}
}

func TestExtractLinks(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		wantText  string
		wantLinks []models.OutLink
	}{
		{
			name:      "alias",
			in:        "See [[Project X|the project]] for more.",
			wantText:  "See the project for more.",
			wantLinks: []models.OutLink{{Target: "Project X", Alias: "the project"}},
		},
		{
			name:      "plain target and order",
			in:        "[[B]] then [[A| a ]] then [[ C ]]",
			wantText:  "B then a then C",
			wantLinks: []models.OutLink{{Target: "B"}, {Target: "A", Alias: "a"}, {Target: "C"}},
		},
		{
			name:      "blank alias falls back to target",
			in:        "x [[T| ]] y",
			wantText:  "x T y",
			wantLinks: []models.OutLink{{Target: "T"}},
		},
		{
			name:      "no links",
			in:        "nothing [here] at all",
			wantText:  "nothing [here] at all",
			wantLinks: []models.OutLink{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, links := ExtractLinks(tt.in)
			if text != tt.wantText {
				t.Errorf("text = %q, want %q", text, tt.wantText)
			}
			if !reflect.DeepEqual(links, tt.wantLinks) {
				t.Errorf("links = %+v, want %+v", links, tt.wantLinks)
			}
		})
	}
}
