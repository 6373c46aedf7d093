package storage

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/foundry/pkgfs/internal/core/models"
	"github.com/foundry/pkgfs/internal/core/services"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements ObjectStore in a single SQLite database file.
// Object content is stored inline, which suits small package archives.
type SQLiteStore struct {
	db *sql.DB
}

var _ services.ObjectStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens or creates the SQLite database and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS containers (
			name        TEXT PRIMARY KEY,
			metadata    TEXT NOT NULL,
			modified_at DATETIME NOT NULL
		);
		CREATE TABLE IF NOT EXISTS blobs (
			container   TEXT NOT NULL,
			key         TEXT NOT NULL,
			content     BLOB NOT NULL,
			metadata    TEXT NOT NULL,
			modified_at DATETIME NOT NULL,
			PRIMARY KEY (container, key)
		);
	`)
	return err
}

func encodeMetadata(md models.Metadata) (string, error) {
	if md == nil {
		md = models.Metadata{}
	}
	data, err := json.Marshal(md)
	if err != nil {
		return "", fmt.Errorf("encoding metadata: %w", err)
	}
	return string(data), nil
}

func decodeMetadata(s string) (models.Metadata, error) {
	md := models.Metadata{}
	if err := json.Unmarshal([]byte(s), &md); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	return md, nil
}

func (s *SQLiteStore) CreateContainer(ctx context.Context, name string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO containers (name, metadata, modified_at) VALUES (?, '{}', ?)",
		name, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("creating container: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) ContainerExists(ctx context.Context, name string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM containers WHERE name = ?", name).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking container: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) ContainerProperties(ctx context.Context, name string) (*models.ContainerProperties, error) {
	var raw string
	var modified time.Time
	err := s.db.QueryRowContext(ctx,
		"SELECT metadata, modified_at FROM containers WHERE name = ?", name,
	).Scan(&raw, &modified)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: container %s", services.ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("getting container: %w", err)
	}
	md, err := decodeMetadata(raw)
	if err != nil {
		return nil, err
	}
	return &models.ContainerProperties{Name: name, Metadata: md, LastModified: modified.UTC()}, nil
}

func (s *SQLiteStore) SetContainerMetadata(ctx context.Context, name string, md models.Metadata) error {
	raw, err := encodeMetadata(md)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx,
		"UPDATE containers SET metadata = ?, modified_at = ? WHERE name = ?",
		raw, time.Now().UTC(), name,
	)
	if err != nil {
		return fmt.Errorf("setting container metadata: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: container %s", services.ErrNotFound, name)
	}
	return nil
}

// UpdateContainerMetadata merges with json_patch in a single statement, so
// it is atomic across every connection to the database.
func (s *SQLiteStore) UpdateContainerMetadata(ctx context.Context, name string, updates models.Metadata) error {
	raw, err := encodeMetadata(updates)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx,
		"UPDATE containers SET metadata = json_patch(metadata, ?), modified_at = ? WHERE name = ?",
		raw, time.Now().UTC(), name,
	)
	if err != nil {
		return fmt.Errorf("updating container metadata: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: container %s", services.ErrNotFound, name)
	}
	return nil
}

func (s *SQLiteStore) DeleteContainer(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM blobs WHERE container = ?", name); err != nil {
		return fmt.Errorf("deleting container blobs: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM containers WHERE name = ?", name); err != nil {
		return fmt.Errorf("deleting container: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListContainers(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, "SELECT name FROM containers ORDER BY name")
}

func (s *SQLiteStore) PutBlob(ctx context.Context, container, key string, r io.Reader, _ int64) error {
	ok, err := s.ContainerExists(ctx, container)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: container %s", services.ErrNotFound, container)
	}

	content, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading blob content: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO blobs (container, key, content, metadata, modified_at) VALUES (?, ?, ?, '{}', ?)
		ON CONFLICT (container, key) DO UPDATE SET
			content = excluded.content,
			metadata = '{}',
			modified_at = excluded.modified_at
	`, container, key, content, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("storing blob: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetBlob(ctx context.Context, container, key string) (io.ReadCloser, error) {
	var content []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT content FROM blobs WHERE container = ? AND key = ?", container, key,
	).Scan(&content)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: blob %s/%s", services.ErrNotFound, container, key)
	}
	if err != nil {
		return nil, fmt.Errorf("getting blob: %w", err)
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (s *SQLiteStore) BlobExists(ctx context.Context, container, key string) (bool, error) {
	_, err := s.BlobProperties(ctx, container, key)
	if errors.Is(err, services.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *SQLiteStore) BlobProperties(ctx context.Context, container, key string) (*models.BlobProperties, error) {
	var size int64
	var raw string
	var modified time.Time
	err := s.db.QueryRowContext(ctx,
		"SELECT length(content), metadata, modified_at FROM blobs WHERE container = ? AND key = ?",
		container, key,
	).Scan(&size, &raw, &modified)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: blob %s/%s", services.ErrNotFound, container, key)
	}
	if err != nil {
		return nil, fmt.Errorf("getting blob properties: %w", err)
	}
	md, err := decodeMetadata(raw)
	if err != nil {
		return nil, err
	}
	return &models.BlobProperties{
		Container:    container,
		Key:          key,
		Size:         size,
		Metadata:     md,
		LastModified: modified.UTC(),
	}, nil
}

func (s *SQLiteStore) SetBlobMetadata(ctx context.Context, container, key string, md models.Metadata) error {
	raw, err := encodeMetadata(md)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx,
		"UPDATE blobs SET metadata = ? WHERE container = ? AND key = ?", raw, container, key,
	)
	if err != nil {
		return fmt.Errorf("setting blob metadata: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: blob %s/%s", services.ErrNotFound, container, key)
	}
	return nil
}

func (s *SQLiteStore) DeleteBlob(ctx context.Context, container, key string) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM blobs WHERE container = ? AND key = ?", container, key,
	)
	if err != nil {
		return fmt.Errorf("deleting blob: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: blob %s/%s", services.ErrNotFound, container, key)
	}
	return nil
}

func (s *SQLiteStore) ListBlobs(ctx context.Context, container string) ([]string, error) {
	ok, err := s.ContainerExists(ctx, container)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: container %s", services.ErrNotFound, container)
	}
	keys, err := s.queryStrings(ctx, "SELECT key FROM blobs WHERE container = ? ORDER BY key", container)
	if err != nil {
		return nil, err
	}
	if keys == nil {
		keys = []string{}
	}
	return keys, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) queryStrings(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
