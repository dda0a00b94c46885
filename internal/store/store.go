package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"ewradio/internal/tuning"
)

// ErrBlobNotFound is returned when no blob metadata exists for an ID.
var ErrBlobNotFound = errors.New("blob metadata not found")

// ErrScenarioNotFound is returned when no scenario exists for a name.
var ErrScenarioNotFound = errors.New("scenario not found")

// BlobMetadata stores metadata about a binary blob on disk.
type BlobMetadata struct {
	ID           string
	Kind         string
	OriginalName string
	ContentType  string
	DiskName     string
	SizeBytes    int64
	CreatedAt    time.Time
}

// Scenario is a named signal catalog, optionally with the tuning to start
// from when it is activated.
type Scenario struct {
	Name      string          `json:"name"`
	Tuning    *tuning.Config  `json:"tuning,omitempty"`
	Catalog   []tuning.Signal `json:"signals"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store persists scenarios and blob metadata in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database and runs migrations.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	st := &Store{db: db}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("sqlite store opened", "path", path)
	return st, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS blobs (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	original_name TEXT NOT NULL,
	content_type TEXT NOT NULL,
	disk_name TEXT NOT NULL UNIQUE,
	size_bytes INTEGER NOT NULL CHECK(size_bytes >= 0),
	created_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_blobs_created_at ON blobs(created_at_unix_ms);

CREATE TABLE IF NOT EXISTS scenarios (
	name TEXT PRIMARY KEY,
	tuning_json TEXT NOT NULL DEFAULT '',
	catalog_json TEXT NOT NULL,
	updated_at_unix_ms INTEGER NOT NULL
);
`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("run sqlite migrations: %w", err)
	}
	slog.Debug("sqlite migrations applied")
	return nil
}

// SaveScenario inserts or replaces a scenario. The catalog is validated
// against the scenario's tuning, or a placeholder tuning when it has none.
func (s *Store) SaveScenario(ctx context.Context, sc Scenario) error {
	name := strings.TrimSpace(sc.Name)
	if name == "" {
		return fmt.Errorf("scenario name is required")
	}
	check := tuning.Config{Bandwidth: 1}
	if sc.Tuning != nil {
		check = *sc.Tuning
	}
	if err := tuning.Validate(check, sc.Catalog); err != nil {
		return err
	}

	catalog := sc.Catalog
	if catalog == nil {
		catalog = []tuning.Signal{}
	}
	catalogJSON, err := json.Marshal(catalog)
	if err != nil {
		return fmt.Errorf("encode scenario catalog: %w", err)
	}
	tuningJSON := ""
	if sc.Tuning != nil {
		raw, err := json.Marshal(sc.Tuning)
		if err != nil {
			return fmt.Errorf("encode scenario tuning: %w", err)
		}
		tuningJSON = string(raw)
	}
	if sc.UpdatedAt.IsZero() {
		sc.UpdatedAt = time.Now().UTC()
	}

	const q = `
INSERT INTO scenarios (name, tuning_json, catalog_json, updated_at_unix_ms)
VALUES (?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
	tuning_json = excluded.tuning_json,
	catalog_json = excluded.catalog_json,
	updated_at_unix_ms = excluded.updated_at_unix_ms
`
	if _, err := s.db.ExecContext(ctx, q, name, tuningJSON, string(catalogJSON), sc.UpdatedAt.UnixMilli()); err != nil {
		return fmt.Errorf("upsert scenario: %w", err)
	}
	slog.Debug("scenario saved", "scenario", name, "signals", len(catalog))
	return nil
}

// Scenario returns one scenario by name.
func (s *Store) Scenario(ctx context.Context, name string) (Scenario, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Scenario{}, fmt.Errorf("scenario name is required")
	}
	const q = `SELECT name, tuning_json, catalog_json, updated_at_unix_ms FROM scenarios WHERE name = ?`
	sc, err := scanScenario(s.db.QueryRowContext(ctx, q, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Scenario{}, ErrScenarioNotFound
		}
		return Scenario{}, err
	}
	return sc, nil
}

// ListScenarios returns every scenario ordered by name.
func (s *Store) ListScenarios(ctx context.Context) ([]Scenario, error) {
	const q = `SELECT name, tuning_json, catalog_json, updated_at_unix_ms FROM scenarios ORDER BY name`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query scenarios: %w", err)
	}
	defer rows.Close()

	var out []Scenario
	for rows.Next() {
		sc, err := scanScenario(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// DeleteScenario removes a scenario.
func (s *Store) DeleteScenario(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scenarios WHERE name = ?`, strings.TrimSpace(name))
	if err != nil {
		return fmt.Errorf("delete scenario: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrScenarioNotFound
	}
	slog.Debug("scenario deleted", "scenario", name)
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScenario(row rowScanner) (Scenario, error) {
	var (
		sc          Scenario
		tuningJSON  string
		catalogJSON string
		updatedAtMs int64
	)
	if err := row.Scan(&sc.Name, &tuningJSON, &catalogJSON, &updatedAtMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Scenario{}, err
		}
		return Scenario{}, fmt.Errorf("scan scenario: %w", err)
	}
	if err := json.Unmarshal([]byte(catalogJSON), &sc.Catalog); err != nil {
		return Scenario{}, fmt.Errorf("decode scenario %q catalog: %w", sc.Name, err)
	}
	if tuningJSON != "" {
		var t tuning.Config
		if err := json.Unmarshal([]byte(tuningJSON), &t); err != nil {
			return Scenario{}, fmt.Errorf("decode scenario %q tuning: %w", sc.Name, err)
		}
		sc.Tuning = &t
	}
	sc.UpdatedAt = time.UnixMilli(updatedAtMs).UTC()
	return sc, nil
}

// CreateBlob creates one blob metadata row.
func (s *Store) CreateBlob(ctx context.Context, meta BlobMetadata) error {
	if strings.TrimSpace(meta.ID) == "" {
		return fmt.Errorf("blob id is required")
	}
	if strings.TrimSpace(meta.Kind) == "" {
		return fmt.Errorf("blob kind is required")
	}
	if strings.TrimSpace(meta.OriginalName) == "" {
		return fmt.Errorf("blob original name is required")
	}
	if strings.TrimSpace(meta.ContentType) == "" {
		return fmt.Errorf("blob content type is required")
	}
	if strings.TrimSpace(meta.DiskName) == "" {
		return fmt.Errorf("blob disk name is required")
	}
	if meta.SizeBytes < 0 {
		return fmt.Errorf("blob size must be non-negative")
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}

	const q = `
INSERT INTO blobs (
	id, kind, original_name, content_type, disk_name, size_bytes, created_at_unix_ms
) VALUES (?, ?, ?, ?, ?, ?, ?)
`
	_, err := s.db.ExecContext(
		ctx,
		q,
		meta.ID,
		meta.Kind,
		meta.OriginalName,
		meta.ContentType,
		meta.DiskName,
		meta.SizeBytes,
		meta.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert blob metadata: %w", err)
	}
	slog.Debug("blob metadata created", "blob_id", meta.ID, "size", meta.SizeBytes)
	return nil
}

// BlobByID returns blob metadata by UUID.
func (s *Store) BlobByID(ctx context.Context, id string) (BlobMetadata, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return BlobMetadata{}, fmt.Errorf("blob id is required")
	}

	const q = `
SELECT id, kind, original_name, content_type, disk_name, size_bytes, created_at_unix_ms
FROM blobs
WHERE id = ?
`

	var (
		meta           BlobMetadata
		createdAtUnixM int64
	)
	err := s.db.QueryRowContext(ctx, q, id).Scan(
		&meta.ID,
		&meta.Kind,
		&meta.OriginalName,
		&meta.ContentType,
		&meta.DiskName,
		&meta.SizeBytes,
		&createdAtUnixM,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			slog.Debug("blob not found", "blob_id", id)
			return BlobMetadata{}, ErrBlobNotFound
		}
		return BlobMetadata{}, fmt.Errorf("query blob metadata: %w", err)
	}

	meta.CreatedAt = time.UnixMilli(createdAtUnixM).UTC()
	return meta, nil
}
