package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/prasenjit/go-apibot/internal/models"
)

// SQLiteStorage implements Storage on a SQLite database
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (and creates if needed) the database at path
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite storage requires a path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// a single connection serialises writers
	db.SetMaxOpenConns(1)

	s := &SQLiteStorage{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// initSchema creates the drafts table if it doesn't exist
func (s *SQLiteStorage) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS drafts (
		id TEXT PRIMARY KEY,
		device_id INTEGER NOT NULL DEFAULT 0,
		editing_id INTEGER,
		step INTEGER NOT NULL DEFAULT 0,
		cursor INTEGER NOT NULL DEFAULT 0,
		form TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_drafts_updated ON drafts(updated_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// CreateDraft stores a new draft
func (s *SQLiteStorage) CreateDraft(draft *models.Draft) error {
	form, err := json.Marshal(draft.Form)
	if err != nil {
		return fmt.Errorf("failed to encode form: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO drafts (id, device_id, editing_id, step, cursor, form, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		draft.ID, draft.DeviceID, nullableID(draft.EditingID), draft.Step, draft.Cursor,
		string(form), draft.CreatedAt.UTC(), draft.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert draft %s: %w", draft.ID, err)
	}
	return nil
}

// GetDraft retrieves a draft by ID
func (s *SQLiteStorage) GetDraft(id string) (*models.Draft, error) {
	row := s.db.QueryRow(`
		SELECT id, device_id, editing_id, step, cursor, form, created_at, updated_at
		FROM drafts WHERE id = ?`, id)

	draft, err := scanDraft(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return draft, err
}

// ListDrafts returns all drafts, most recently updated first
func (s *SQLiteStorage) ListDrafts() ([]*models.Draft, error) {
	rows, err := s.db.Query(`
		SELECT id, device_id, editing_id, step, cursor, form, created_at, updated_at
		FROM drafts`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	drafts := make([]*models.Draft, 0)
	for rows.Next() {
		draft, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, draft)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortDrafts(drafts)
	return drafts, nil
}

// UpdateDraft replaces a stored draft
func (s *SQLiteStorage) UpdateDraft(draft *models.Draft) error {
	form, err := json.Marshal(draft.Form)
	if err != nil {
		return fmt.Errorf("failed to encode form: %w", err)
	}

	res, err := s.db.Exec(`
		UPDATE drafts
		SET device_id = ?, editing_id = ?, step = ?, cursor = ?, form = ?, updated_at = ?
		WHERE id = ?`,
		draft.DeviceID, nullableID(draft.EditingID), draft.Step, draft.Cursor,
		string(form), draft.UpdatedAt.UTC(), draft.ID)
	if err != nil {
		return fmt.Errorf("failed to update draft %s: %w", draft.ID, err)
	}
	return requireRow(res, draft.ID)
}

// DeleteDraft deletes a draft
func (s *SQLiteStorage) DeleteDraft(id string) error {
	res, err := s.db.Exec(`DELETE FROM drafts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete draft %s: %w", id, err)
	}
	return requireRow(res, id)
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDraft(row scanner) (*models.Draft, error) {
	var (
		draft     models.Draft
		editingID sql.NullInt64
		form      string
		createdAt time.Time
		updatedAt time.Time
	)

	if err := row.Scan(&draft.ID, &draft.DeviceID, &editingID, &draft.Step, &draft.Cursor,
		&form, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(form), &draft.Form); err != nil {
		return nil, fmt.Errorf("failed to decode form of draft %s: %w", draft.ID, err)
	}
	if editingID.Valid {
		id := editingID.Int64
		draft.EditingID = &id
	}
	draft.CreatedAt = createdAt
	draft.UpdatedAt = updatedAt

	return &draft, nil
}

func nullableID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
