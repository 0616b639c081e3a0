// Package markdown normalizes note text, rewrites wikilinks and splits notes into heading sections.
package markdown

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/hyperjump/shiori/internal/models"
)

const fenceMarker = "```"

var lineEndings = strings.NewReplacer("\r\n", "\n", "\r", "\n")

var (
	blankRunRe = regexp.MustCompile(`\n{3,}`)
	wikilinkRe = regexp.MustCompile(`\[\[([^\]|]+)(?:\|([^\]]+))?\]\]`)
)

// Normalize applies light markdown normalization:
// code-fence lines are dropped (content between them kept verbatim),
// one blockquote marker per line is stripped outside code, blank-line runs collapse to one
// blank line, and the result is trimmed and terminated by exactly one newline.
func Normalize(raw string) string {
	raw = lineEndings.Replace(raw)
	lines := strings.Split(raw, "\n")
	out := make([]string, 0, len(lines))
	inCode := false
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), fenceMarker) {
			inCode = !inCode
			continue
		}
		if !inCode {
			if l := strings.TrimLeftFunc(line, unicode.IsSpace); strings.HasPrefix(l, ">") {
				line = strings.TrimLeftFunc(strings.TrimPrefix(l, ">"), unicode.IsSpace)
			}
		}
		out = append(out, line)
	}
	text := blankRunRe.ReplaceAllString(strings.Join(out, "\n"), "\n\n")
	return strings.TrimSpace(text) + "\n"
}

// ExtractLinks rewrites [[target]] and [[target|alias]] to their display text
// and returns the link edges in order of appearance.
// It must run exactly once per fragment; rewritten text is not re-parsed.
func ExtractLinks(fragment string) (string, []models.OutLink) {
	links := []models.OutLink{}
	matches := wikilinkRe.FindAllStringSubmatchIndex(fragment, -1)
	if len(matches) == 0 {
		return fragment, links
	}
	var b strings.Builder
	b.Grow(len(fragment))
	last := 0
	for _, m := range matches {
		target := strings.TrimSpace(fragment[m[2]:m[3]])
		alias := ""
		if m[4] >= 0 {
			alias = strings.TrimSpace(fragment[m[4]:m[5]])
		}
		b.WriteString(fragment[last:m[0]])
		if alias != "" {
			b.WriteString(alias)
		} else {
			b.WriteString(target)
		}
		links = append(links, models.OutLink{Target: target, Alias: alias})
		last = m[1]
	}
	b.WriteString(fragment[last:])
	return b.String(), links
}
