// Package fileid derives stable document identifiers and hashes for notes.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FallbackIDLength is the number of hex characters of the raw-content hash used when a note has no uuid.
const FallbackIDLength = 24

// SourceHash returns the sha256 hex digest of the raw note bytes.
func SourceHash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// ContentHash returns the sha256 hex digest of text's UTF-8 bytes.
func ContentHash(text string) string {
	return SourceHash([]byte(text))
}

// DocID returns the document id for a note. A frontmatter uuid wins; it is
// canonicalized (lowercase, hyphenated) when it parses as a UUID and used as-is otherwise.
// Without one, the id is the first FallbackIDLength hex characters of the raw content hash.
func DocID(frontmatterUUID string, raw []byte) string {
	id := strings.TrimSpace(frontmatterUUID)
	if id == "" {
		return SourceHash(raw)[:FallbackIDLength]
	}
	if parsed, err := uuid.Parse(id); err == nil {
		return parsed.String()
	}
	return id
}

// RelPath returns path relative to root with forward slashes.
// Returns an error when path is outside root.
func RelPath(root, path string) (string, error) {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to relativize %s: %w", path, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside %s", path, root)
	}
	return filepath.ToSlash(rel), nil
}
