package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pgvector/pgvector-go"

	"github.com/hyperjump/shiori/internal/models"
)

const pgSchema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS shiori_collections (
	name TEXT PRIMARY KEY,
	metadata JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS shiori_records (
	collection TEXT NOT NULL REFERENCES shiori_collections(name) ON DELETE CASCADE,
	id TEXT NOT NULL,
	document TEXT NOT NULL,
	metadata JSONB NOT NULL,
	embedding vector NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, id)
);

CREATE INDEX IF NOT EXISTS idx_shiori_records_doc_id ON shiori_records (collection, (metadata->>'doc_id'));
`

// PGVectorStore keeps collections in Postgres with the pgvector extension.
type PGVectorStore struct {
	db *sql.DB
}

// NewPGVectorStore connects to databaseURL and bootstraps the schema.
func NewPGVectorStore(ctx context.Context, databaseURL string) (*PGVectorStore, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database url is empty")
	}
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, pgSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &PGVectorStore{db: db}, nil
}

func (s *PGVectorStore) GetCollection(ctx context.Context, name string) (Collection, error) {
	var metaJSON []byte
	err := s.db.QueryRowContext(ctx, `SELECT metadata FROM shiori_collections WHERE name = $1`, name).Scan(&metaJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	var meta models.CollectionMetadata
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal collection metadata: %w", err)
	}
	return &pgCollection{db: s.db, name: name, meta: meta}, nil
}

func (s *PGVectorStore) CreateCollection(ctx context.Context, name string, meta models.CollectionMetadata) (Collection, error) {
	if err := validCollectionName(name); err != nil {
		return nil, err
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal collection metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO shiori_collections (name, metadata) VALUES ($1, $2)`, name, metaJSON)
	if isPGUniqueViolation(err) {
		return nil, fmt.Errorf("collection %s: %w", name, ErrAlreadyExists)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}
	return &pgCollection{db: s.db, name: name, meta: meta}, nil
}

func (s *PGVectorStore) DeleteCollection(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM shiori_collections WHERE name = $1`, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return nil
}

func (s *PGVectorStore) ListCollections(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM shiori_collections ORDER BY name`)
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

// Reset removes every collection; records go with them through the cascade.
func (s *PGVectorStore) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM shiori_collections`)
	return err
}

func (s *PGVectorStore) Close() error {
	return s.db.Close()
}

type pgCollection struct {
	db   *sql.DB
	name string
	meta models.CollectionMetadata
}

func (c *pgCollection) Name() string                        { return c.name }
func (c *pgCollection) Metadata() models.CollectionMetadata { return c.meta }

func (c *pgCollection) Get(ctx context.Context, ids []string) (map[string]*models.Metadata, error) {
	out := make(map[string]*models.Metadata, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	err := c.scanInto(ctx, out,
		`SELECT id, metadata FROM shiori_records WHERE collection = $1 AND id = ANY($2)`, c.name, ids)
	return out, err
}

func (c *pgCollection) GetWhere(ctx context.Context, field, value string) (map[string]*models.Metadata, error) {
	if err := checkField(field); err != nil {
		return nil, err
	}
	out := make(map[string]*models.Metadata)
	err := c.scanInto(ctx, out,
		`SELECT id, metadata FROM shiori_records WHERE collection = $1 AND metadata->>$2 = $3`, c.name, field, value)
	return out, err
}

func (c *pgCollection) scanInto(ctx context.Context, out map[string]*models.Metadata, query string, args ...any) error {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var metaJSON []byte
		if err := rows.Scan(&id, &metaJSON); err != nil {
			return err
		}
		m, err := decodeMetadata(id, metaJSON)
		if err != nil {
			return err
		}
		out[id] = m
	}
	return rows.Err()
}

func (c *pgCollection) Add(ctx context.Context, entries []Entry) error {
	return c.write(ctx, entries, `INSERT INTO shiori_records (collection, id, document, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5)`)
}

func (c *pgCollection) Upsert(ctx context.Context, entries []Entry) error {
	return c.write(ctx, entries, `INSERT INTO shiori_records (collection, id, document, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (collection, id) DO UPDATE SET
			document = EXCLUDED.document,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding,
			updated_at = now()`)
}

func (c *pgCollection) write(ctx context.Context, entries []Entry, q string) error {
	if err := checkEntries(entries, c.meta.EmbedDim); err != nil {
		return err
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		metaJSON, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata of %s: %w", e.ID, err)
		}
		_, err = stmt.ExecContext(ctx, c.name, e.ID, e.Text, metaJSON, pgvector.NewVector(e.Embedding))
		if isPGUniqueViolation(err) {
			return fmt.Errorf("%s: %w", e.ID, ErrAlreadyExists)
		}
		if err != nil {
			return fmt.Errorf("failed to write %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

func (c *pgCollection) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := c.db.ExecContext(ctx, `DELETE FROM shiori_records WHERE collection = $1 AND id = ANY($2)`, c.name, ids)
	return err
}

func (c *pgCollection) Count(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM shiori_records WHERE collection = $1`, c.name).Scan(&n)
	return n, err
}

func (c *pgCollection) Embedding(ctx context.Context, id string) ([]float32, error) {
	var v pgvector.Vector
	err := c.db.QueryRowContext(ctx, `SELECT embedding FROM shiori_records WHERE collection = $1 AND id = $2`, c.name, id).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return v.Slice(), nil
}

func isPGUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// redactURL drops the password from a connection URL.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
