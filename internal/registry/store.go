package registry

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"worldsmith/internal/config"
	"worldsmith/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current catalog schema version.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the
// expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// Store persists world records in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the registry database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.RegistryDBPath()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin schema tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return tx.Commit()
	}

	var version int
	err = s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete the registry database to rebuild it)",
			ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Put inserts one world record.
func (s *Store) Put(ctx context.Context, rec Record) error {
	if len(rec.PLYURIs) < MeshCountMin || len(rec.PLYURIs) > MeshCountMax {
		return fmt.Errorf("record carries %d mesh pointers, want %d to %d", len(rec.PLYURIs), MeshCountMin, MeshCountMax)
	}
	var fourth any
	if len(rec.PLYURIs) == MeshCountMax {
		fourth = rec.PLYURIs[3].String()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO worlds (id, theme, png_uri, ply_uri_1, ply_uri_2, ply_uri_3, ply_uri_4, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Theme,
		rec.PNGURI.String(),
		rec.PLYURIs[0].String(),
		rec.PLYURIs[1].String(),
		rec.PLYURIs[2].String(),
		fourth,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert world: %w", err)
	}
	return nil
}

// Scan returns every registered world, newest first.
func (s *Store) Scan(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, theme, png_uri, ply_uri_1, ply_uri_2, ply_uri_3, ply_uri_4, created_at
         FROM worlds ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("scan worlds: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetByID fetches one record. Missing records return (nil, nil).
func (s *Store) GetByID(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, theme, png_uri, ply_uri_1, ply_uri_2, ply_uri_3, ply_uri_4, created_at
         FROM worlds WHERE id = ?`,
		id,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get world: %w", err)
	}
	return &rec, nil
}

// Remove deletes a record by identifier.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM worlds WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete world: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Count returns how many worlds are registered.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM worlds`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count worlds: %w", err)
	}
	return count, nil
}

func scanRecord(scanner interface{ Scan(dest ...any) error }) (Record, error) {
	var (
		id         string
		themeName  string
		pngURI     string
		ply1       string
		ply2       string
		ply3       string
		ply4       sql.NullString
		createdRaw string
	)
	if err := scanner.Scan(&id, &themeName, &pngURI, &ply1, &ply2, &ply3, &ply4, &createdRaw); err != nil {
		return Record{}, err
	}

	rec := Record{
		ID:      id,
		Theme:   themeName,
		PNGURI:  storage.Locator(pngURI),
		PLYURIs: []storage.Locator{storage.Locator(ply1), storage.Locator(ply2), storage.Locator(ply3)},
	}
	if ply4.Valid && ply4.String != "" {
		rec.PLYURIs = append(rec.PLYURIs, storage.Locator(ply4.String))
	}
	if created, err := time.Parse(time.RFC3339Nano, createdRaw); err == nil {
		rec.CreatedAt = created
	}
	return rec, nil
}
