package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps objects in a single SQLite table, with content and tags
// stored as JSON.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("open store: %s: %w", pragma, err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS objects (
			id         TEXT PRIMARY KEY,
			kind       TEXT NOT NULL,
			subject    TEXT NOT NULL DEFAULT '',
			content    TEXT NOT NULL,
			tags       TEXT NOT NULL DEFAULT '[]',
			source     TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open store: migrate: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)

const selectObject = `SELECT id, kind, subject, content, tags, source, updated_at FROM objects`

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Object, error) {
	obj, err := scanObject(s.db.QueryRowContext(ctx, selectObject+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLoadFailed, id, err)
	}
	return obj, nil
}

func (s *SQLiteStore) Put(ctx context.Context, obj *Object) (string, error) {
	if err := prepare(obj); err != nil {
		return "", err
	}

	content, err := json.Marshal(obj.Content)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrSaveFailed, obj.ID, err)
	}
	tags, err := json.Marshal(obj.Tags)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrSaveFailed, obj.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO objects (id, kind, subject, content, tags, source, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			subject = excluded.subject,
			content = excluded.content,
			tags = excluded.tags,
			source = excluded.source,
			updated_at = excluded.updated_at
	`, obj.ID, obj.Kind, obj.Subject, string(content), string(tags), obj.Source, obj.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrSaveFailed, obj.ID, err)
	}
	return obj.ID, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]*Object, error) {
	rows, err := s.db.QueryContext(ctx, selectObject+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadFailed, err)
	}
	defer rows.Close()

	var objects []*Object
	for rows.Next() {
		obj, err := scanObject(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLoadFailed, err)
		}
		objects = append(objects, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadFailed, err)
	}
	return objects, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM objects WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete failed: %s: %w", id, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanObject(row scanner) (*Object, error) {
	var (
		obj                      Object
		content, tags, updatedAt string
	)
	if err := row.Scan(&obj.ID, &obj.Kind, &obj.Subject, &content, &tags, &obj.Source, &updatedAt); err != nil {
		return nil, err
	}
	if err := decode([]byte(content), &obj.Content); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &obj.Tags); err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, err
	}
	obj.UpdatedAt = t
	return &obj, nil
}
