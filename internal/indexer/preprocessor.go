package indexer

import (
	"fmt"
	"strings"

	"github.com/hyperjump/shiori/internal/extract"
	"github.com/hyperjump/shiori/internal/fileid"
	"github.com/hyperjump/shiori/internal/models"
)

// Vocabulary lists the allowed values of the classification fields. An empty list allows any value.
type Vocabulary struct {
	DocTypes      []string
	Sensitivities []string
}

func (v Vocabulary) check(field, value string, allowed []string) error {
	if value == "" || len(allowed) == 0 {
		return nil
	}
	for _, a := range allowed {
		if strings.EqualFold(a, value) {
			return nil
		}
	}
	return fmt.Errorf("%s %q is not one of %v", field, value, allowed)
}

// Preprocess builds the Document for a parsed note located at relPath inside the vault.
func Preprocess(note *extract.Note, relPath string, vocab Vocabulary) (*models.Document, error) {
	fm := note.Frontmatter
	doc := &models.Document{
		DocID:       fileid.DocID(fm.String("uuid"), note.Raw),
		SourceHash:  fileid.SourceHash(note.Raw),
		RelPath:     relPath,
		EntryDate:   fm.Date("journal_entry_date"),
		SourceDate:  fm.SourceDate(relPath),
		DocType:     strings.ToLower(fm.String("doc_type")),
		Sensitivity: strings.ToLower(fm.String("sensitivity")),
		Folder:      fm.String("folder"),
		Body:        note.Body,
	}
	if doc.Folder == "" {
		if i := strings.Index(relPath, "/"); i > 0 {
			doc.Folder = relPath[:i]
		}
	}
	if err := vocab.check("doc_type", doc.DocType, vocab.DocTypes); err != nil {
		return nil, err
	}
	if err := vocab.check("sensitivity", doc.Sensitivity, vocab.Sensitivities); err != nil {
		return nil, err
	}
	return doc, nil
}
