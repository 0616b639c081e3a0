package markdown

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/hyperjump/shiori/internal/models"
)

const (
	// PreambleAnchor names the section holding text before the first split-level heading.
	PreambleAnchor = "preamble"
	fallbackSlug   = "section"
)

var headingRe = regexp.MustCompile(`^\s{0,3}(#{1,6})\s+(.*)$`)

// SplitSections splits normalized text into sections at the chosen heading level.
// The level is 2 when any H2 exists, otherwise the shallowest heading present.
// Heading lines are excluded from bodies; deeper headings stay in the body.
// Anchors are unique within the returned list: a repeated slug gets -2, -3, ...
func SplitSections(text string) []models.Section {
	lines := strings.Split(text, "\n")
	levels := make([]int, len(lines))
	titles := make([]string, len(lines))
	minLevel, hasH2 := 0, false
	for i, line := range lines {
		m := headingRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		level := len(m[1])
		levels[i] = level
		titles[i] = strings.TrimSpace(m[2])
		if level == 2 {
			hasH2 = true
		}
		if minLevel == 0 || level < minLevel {
			minLevel = level
		}
	}

	if minLevel == 0 {
		body := strings.TrimSpace(text)
		if body == "" {
			return nil
		}
		return []models.Section{{Anchor: PreambleAnchor, Title: PreambleAnchor, Body: body + "\n"}}
	}
	split := minLevel
	if hasH2 {
		split = 2
	}

	var (
		sections []models.Section
		anchors  = newAnchorSet()
		title    = PreambleAnchor
		preamble = true
		buf      []string
	)
	flush := func() {
		body := strings.TrimSpace(strings.Join(buf, "\n"))
		if preamble && body == "" {
			return
		}
		base := PreambleAnchor
		if !preamble {
			base = Slugify(title)
		}
		sections = append(sections, models.Section{
			Anchor: anchors.claim(base),
			Title:  title,
			Body:   body + "\n",
		})
	}
	for i, line := range lines {
		if levels[i] != split {
			buf = append(buf, line)
			continue
		}
		flush()
		preamble = false
		title = titles[i]
		if title == "" {
			title = fallbackSlug
		}
		buf = buf[:0]
	}
	flush()
	return sections
}

// Slugify turns a heading title into a lowercase, dash-separated anchor.
func Slugify(title string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsSpace(r) || r == '_' || r == '-':
			pendingDash = b.Len() > 0
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			if pendingDash {
				b.WriteByte('-')
				pendingDash = false
			}
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return fallbackSlug
	}
	return b.String()
}

type anchorSet map[string]bool

func newAnchorSet() anchorSet { return anchorSet{} }

func (a anchorSet) claim(base string) string {
	if !a[base] {
		a[base] = true
		return base
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s-%d", base, n)
		if !a[candidate] {
			a[candidate] = true
			return candidate
		}
	}
}
