package extract

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrFrontmatter is returned when a frontmatter block is not a valid YAML mapping.
var ErrFrontmatter = errors.New("malformed frontmatter")

const (
	fmDelimiter = "---"
	dateLayout  = "2006-01-02"
)

var (
	datePrefixRe   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)
	fileNameDateRe = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
)

var datetimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
}

// Frontmatter is the decoded YAML mapping at the top of a note.
type Frontmatter map[string]any

// SplitFrontmatter separates a leading "---" delimited YAML block from the body.
// Text without an opening delimiter, or without a closing one, has no frontmatter.
func SplitFrontmatter(text string) (Frontmatter, string, error) {
	fm := Frontmatter{}
	if !strings.HasPrefix(text, fmDelimiter) {
		return fm, text, nil
	}
	lines := strings.SplitAfter(text, "\n")
	if strings.TrimRight(lines[0], " \t\n") != fmDelimiter {
		return fm, text, nil
	}
	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimRight(lines[i], " \t\n") == fmDelimiter {
			end = i
			break
		}
	}
	if end < 0 {
		return fm, text, nil
	}
	block := strings.Join(lines[1:end], "")
	body := strings.Join(lines[end+1:], "")
	if strings.TrimSpace(block) == "" {
		return fm, body, nil
	}

	var node any
	if err := yaml.Unmarshal([]byte(block), &node); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrFrontmatter, err)
	}
	switch v := node.(type) {
	case map[string]any:
		return Frontmatter(v), body, nil
	case nil:
		return fm, body, nil
	default:
		return nil, "", fmt.Errorf("%w: expected a mapping, got %T", ErrFrontmatter, node)
	}
}

// String returns the trimmed string form of a scalar field, or "" when absent.
func (f Frontmatter) String(key string) string {
	switch v := f[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case time.Time:
		return v.Format(time.RFC3339)
	case map[string]any, []any:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// Date returns a YYYY-MM-DD date from a field holding a date or datetime, or nil.
func (f Frontmatter) Date(key string) *string {
	return parseDate(f[key])
}

// SourceDate returns the note_creation_date field, falling back to a date in the file name.
func (f Frontmatter) SourceDate(path string) *string {
	if d := f.Date("note_creation_date"); d != nil {
		return d
	}
	return DateFromFileName(path)
}

// DateFromFileName returns the first valid YYYY-MM-DD found in the base name of path.
func DateFromFileName(path string) *string {
	for _, m := range fileNameDateRe.FindAllString(filepath.Base(path), -1) {
		if _, err := time.Parse(dateLayout, m); err == nil {
			return &m
		}
	}
	return nil
}

func parseDate(v any) *string {
	switch val := v.(type) {
	case time.Time:
		s := val.Format(dateLayout)
		return &s
	case string:
		s := strings.TrimSpace(val)
		if m := datePrefixRe.FindString(s); m != "" {
			return &m
		}
		for _, layout := range datetimeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				d := t.Format(dateLayout)
				return &d
			}
		}
	}
	return nil
}
