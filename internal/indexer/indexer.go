package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hyperjump/shiori/internal/extract"
	"github.com/hyperjump/shiori/internal/fileid"
	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/records"
	"go.uber.org/zap"
)

// ChunkFileSuffix is appended to a note's flattened relative path for its chunk file.
const ChunkFileSuffix = ".chunks.jsonl"

// Indexer walks a vault and produces chunk records for its notes.
type Indexer struct {
	root      string
	extractor *extract.Extractor
	chunker   *Chunker
	recursive bool
	exclude   []string
	vocab     Vocabulary
	logger    *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithRecursive controls whether subdirectories are walked (default true).
func WithRecursive(recursive bool) IndexerOption {
	return func(idx *Indexer) { idx.recursive = recursive }
}

// WithExclude sets glob patterns matched against relative paths and base names.
func WithExclude(patterns []string) IndexerOption {
	return func(idx *Indexer) { idx.exclude = patterns }
}

// WithVocabulary sets the allowed classification values.
func WithVocabulary(v Vocabulary) IndexerOption {
	return func(idx *Indexer) { idx.vocab = v }
}

// NewIndexer creates an indexer for the vault at root.
func NewIndexer(root string, extractor *extract.Extractor, chunker *Chunker, opts ...IndexerOption) *Indexer {
	idx := &Indexer{
		root:      root,
		extractor: extractor,
		chunker:   chunker,
		recursive: true,
	}
	for _, opt := range opts {
		opt(idx)
	}
	if idx.logger == nil {
		idx.logger = zap.NewNop()
	}
	return idx
}

// Root returns the vault root.
func (idx *Indexer) Root() string { return idx.root }

// RelPath returns path relative to the vault root.
func (idx *Indexer) RelPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}
	root, err := filepath.Abs(idx.root)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}
	return fileid.RelPath(root, abs)
}

// IndexFile reads one note and returns its chunk records.
func (idx *Indexer) IndexFile(path string) ([]models.ChunkRecord, error) {
	rel, err := idx.RelPath(path)
	if err != nil {
		return nil, err
	}
	note, err := idx.extractor.ReadNote(path)
	if err != nil {
		return nil, err
	}
	doc, err := Preprocess(note, rel, idx.vocab)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", rel, err)
	}
	recs := idx.chunker.ChunkDocument(doc)
	idx.logger.Debug("indexer chunked note",
		zap.String("rel_path", rel),
		zap.String("doc_id", doc.DocID),
		zap.Int("chunks", len(recs)))
	return recs, nil
}

// IndexVault chunks every note in the vault in sorted path order.
// It stops at the first failing note or when ctx is cancelled.
func (idx *Indexer) IndexVault(ctx context.Context) ([]models.ChunkRecord, int, error) {
	files, err := idx.ListFiles()
	if err != nil {
		return nil, 0, err
	}
	var all []models.ChunkRecord
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		recs, err := idx.IndexFile(f)
		if err != nil {
			return nil, 0, err
		}
		all = append(all, recs...)
	}
	idx.logger.Info("indexer chunked vault", zap.Int("files", len(files)), zap.Int("chunks", len(all)))
	return all, len(files), nil
}

// ListFiles returns the notes under the vault root, sorted. Hidden entries are skipped.
func (idx *Indexer) ListFiles() ([]string, error) {
	root, err := filepath.Abs(idx.root)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat vault: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", root)
	}
	var files []string
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && !idx.recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !idx.extractor.Supports(path) || idx.excluded(root, path) {
			return nil
		}
		// Resolve symlinks so only regular files are read
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// Accepts reports whether path would be chunked by a vault walk: a supported,
// non-hidden, non-excluded file inside the root. path need not exist.
func (idx *Indexer) Accepts(path string) bool {
	root, err := filepath.Abs(idx.root)
	if err != nil {
		return false
	}
	rel, err := idx.RelPath(path)
	if err != nil {
		return false
	}
	segments := strings.Split(rel, "/")
	if !idx.recursive && len(segments) > 1 {
		return false
	}
	for _, seg := range segments {
		if strings.HasPrefix(seg, ".") {
			return false
		}
	}
	return idx.extractor.Supports(path) && !idx.excluded(root, path)
}

func (idx *Indexer) excluded(root, path string) bool {
	if len(idx.exclude) == 0 {
		return false
	}
	rel, err := fileid.RelPath(root, path)
	if err != nil {
		return true
	}
	base := filepath.Base(path)
	for _, pattern := range idx.exclude {
		if ok, _ := filepath.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

// ChunkFileName maps a note's relative path to its chunk file name.
func ChunkFileName(relPath string) string {
	stem := strings.TrimSuffix(relPath, filepath.Ext(relPath))
	return strings.ReplaceAll(stem, "/", "__") + ChunkFileSuffix
}

// WriteChunks writes one chunk file per note into outDir and returns the paths written.
// Records of one note are contiguous in IndexVault output and share rel_path.
func WriteChunks(outDir string, recs []models.ChunkRecord) ([]string, error) {
	var (
		written []string
		start   int
	)
	for i := 1; i <= len(recs); i++ {
		if i < len(recs) && recs[i].Metadata.RelPath == recs[start].Metadata.RelPath {
			continue
		}
		path := filepath.Join(outDir, ChunkFileName(recs[start].Metadata.RelPath))
		if err := records.WriteFile(path, recs[start:i]); err != nil {
			return written, err
		}
		written = append(written, path)
		start = i
	}
	return written, nil
}
