package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/hyperjump/shiori/internal/models"
)

// SQLiteFileName is the database file created inside the persist directory.
const SQLiteFileName = "collections.db"

// maxSQLiteParams keeps IN lists under SQLite's bound-parameter limit.
const maxSQLiteParams = 500

// SQLiteStore keeps collections in a single SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens or creates persistDir/collections.db and initializes the schema.
func NewSQLiteStore(persistDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(persistDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create persist directory: %w", err)
	}
	path := filepath.Join(persistDir, SQLiteFileName)
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serializes writers and keeps the WAL pragma on the handle in use.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS collections (
		name TEXT PRIMARY KEY,
		metadata TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS records (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		document TEXT NOT NULL,
		metadata TEXT NOT NULL,
		embedding BLOB NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (collection, id)
	);

	CREATE INDEX IF NOT EXISTS idx_records_doc_id ON records(collection, json_extract(metadata, '$.doc_id'));
	`
	_, err := db.Exec(schema)
	return err
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// GetCollection returns the named collection or ErrCollectionNotFound.
func (s *SQLiteStore) GetCollection(ctx context.Context, name string) (Collection, error) {
	var metaJSON string
	err := s.db.QueryRowContext(ctx, `SELECT metadata FROM collections WHERE name = ?`, name).Scan(&metaJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	var meta models.CollectionMetadata
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal collection metadata: %w", err)
	}
	return &sqliteCollection{db: s.db, name: name, meta: meta}, nil
}

// CreateCollection creates a collection stamped with meta.
func (s *SQLiteStore) CreateCollection(ctx context.Context, name string, meta models.CollectionMetadata) (Collection, error) {
	if err := validCollectionName(name); err != nil {
		return nil, err
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal collection metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO collections (name, metadata) VALUES (?, ?)`, name, string(metaJSON))
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("collection %s: %w", name, ErrAlreadyExists)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}
	return &sqliteCollection{db: s.db, name: name, meta: meta}, nil
}

// DeleteCollection drops the collection and its records.
func (s *SQLiteStore) DeleteCollection(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE collection = ?`, name); err != nil {
		return err
	}
	return tx.Commit()
}

// ListCollections returns collection names in ascending order.
func (s *SQLiteStore) ListCollections(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM collections ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Reset removes every collection and record.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM records`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM collections`); err != nil {
		return err
	}
	return tx.Commit()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqliteCollection struct {
	db   *sql.DB
	name string
	meta models.CollectionMetadata
}

func (c *sqliteCollection) Name() string                        { return c.name }
func (c *sqliteCollection) Metadata() models.CollectionMetadata { return c.meta }

func (c *sqliteCollection) Get(ctx context.Context, ids []string) (map[string]*models.Metadata, error) {
	out := make(map[string]*models.Metadata, len(ids))
	for start := 0; start < len(ids); start += maxSQLiteParams {
		part := ids[start:min(start+maxSQLiteParams, len(ids))]
		args := make([]any, 0, len(part)+1)
		args = append(args, c.name)
		for _, id := range part {
			args = append(args, id)
		}
		query := `SELECT id, metadata FROM records WHERE collection = ? AND id IN (` + placeholders(len(part)) + `)`
		if err := c.scanInto(ctx, out, query, args...); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (c *sqliteCollection) GetWhere(ctx context.Context, field, value string) (map[string]*models.Metadata, error) {
	if err := checkField(field); err != nil {
		return nil, err
	}
	out := make(map[string]*models.Metadata)
	query := `SELECT id, metadata FROM records WHERE collection = ? AND json_extract(metadata, ?) = ?`
	if err := c.scanInto(ctx, out, query, c.name, "$."+field, value); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *sqliteCollection) scanInto(ctx context.Context, out map[string]*models.Metadata, query string, args ...any) error {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id, metaJSON string
		if err := rows.Scan(&id, &metaJSON); err != nil {
			return err
		}
		var m models.Metadata
		if err := json.Unmarshal([]byte(metaJSON), &m); err != nil {
			return fmt.Errorf("failed to unmarshal metadata of %s: %w", id, err)
		}
		out[id] = &m
	}
	return rows.Err()
}

func (c *sqliteCollection) Add(ctx context.Context, entries []Entry) error {
	return c.write(ctx, entries, `INSERT INTO records (collection, id, document, metadata, embedding) VALUES (?, ?, ?, ?, ?)`)
}

func (c *sqliteCollection) Upsert(ctx context.Context, entries []Entry) error {
	return c.write(ctx, entries, `INSERT INTO records (collection, id, document, metadata, embedding) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			document = excluded.document,
			metadata = excluded.metadata,
			embedding = excluded.embedding,
			updated_at = CURRENT_TIMESTAMP`)
}

// write runs stmt for every entry in one transaction.
func (c *sqliteCollection) write(ctx context.Context, entries []Entry, stmtSQL string) error {
	if err := checkEntries(entries, c.meta.EmbedDim); err != nil {
		return err
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, stmtSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		metaJSON, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata of %s: %w", e.ID, err)
		}
		_, err = stmt.ExecContext(ctx, c.name, e.ID, e.Text, string(metaJSON), float32SliceToBytes(e.Embedding))
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", e.ID, ErrAlreadyExists)
		}
		if err != nil {
			return fmt.Errorf("failed to write %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

func (c *sqliteCollection) Delete(ctx context.Context, ids []string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for start := 0; start < len(ids); start += maxSQLiteParams {
		part := ids[start:min(start+maxSQLiteParams, len(ids))]
		args := make([]any, 0, len(part)+1)
		args = append(args, c.name)
		for _, id := range part {
			args = append(args, id)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE collection = ? AND id IN (`+placeholders(len(part))+`)`, args...); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (c *sqliteCollection) Count(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE collection = ?`, c.name).Scan(&n)
	return n, err
}

func (c *sqliteCollection) Embedding(ctx context.Context, id string) ([]float32, error) {
	var blob []byte
	err := c.db.QueryRowContext(ctx, `SELECT embedding FROM records WHERE collection = ? AND id = ?`, c.name, id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return bytesToFloat32Slice(blob), nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// Embeddings are stored as little-endian float32.
func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
