package planner

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hyperjump/shiori/internal/indexer"
)

// ErrRejected is matched by every error that stops a run before anything is written.
var ErrRejected = errors.New("sync rejected")

// maxSampleIDs caps the ids listed in a DuplicateIDsError.
const maxSampleIDs = 10

// ValidationError reports structural problems in the chunk batch.
type ValidationError struct {
	*indexer.BatchError
}

func (e *ValidationError) Error() string {
	return "invalid chunk batch: " + e.BatchError.Error()
}

func (e *ValidationError) Unwrap() []error {
	return []error{ErrRejected, e.BatchError}
}

// DuplicateIDsError reports chunk ids that append mode found already stored.
type DuplicateIDsError struct {
	Count  int
	Sample []string
}

func newDuplicateIDsError(ids []string) *DuplicateIDsError {
	sample := ids
	if len(sample) > maxSampleIDs {
		sample = sample[:maxSampleIDs]
	}
	return &DuplicateIDsError{Count: len(ids), Sample: append([]string(nil), sample...)}
}

func (e *DuplicateIDsError) Error() string {
	return fmt.Sprintf("append found %d existing ids (sample: %s)", e.Count, strings.Join(e.Sample, ", "))
}

func (e *DuplicateIDsError) Unwrap() error { return ErrRejected }

// FingerprintMismatchError reports an existing collection built with different settings.
type FingerprintMismatchError struct {
	Collection string
	Field      string
	Stored     string
	Current    string
}

func (e *FingerprintMismatchError) Error() string {
	return fmt.Sprintf("collection %s has %s %q, this run has %q", e.Collection, e.Field, e.Stored, e.Current)
}

func (e *FingerprintMismatchError) Unwrap() error { return ErrRejected }

// DocumentOwnerError reports a doc_id already stored for another live note.
type DocumentOwnerError struct {
	DocID   string
	RelPath string
	Owner   string
}

func (e *DocumentOwnerError) Error() string {
	return fmt.Sprintf("doc_id %s of %s is already stored for %s", e.DocID, e.RelPath, e.Owner)
}

func (e *DocumentOwnerError) Unwrap() error { return ErrRejected }
