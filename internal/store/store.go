// Package store keeps a local SQLite history of saved ROI configurations.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dj-oyu/footfall-dashboard/internal/footfall"
	"github.com/dj-oyu/footfall-dashboard/internal/roi"
)

// ErrNotFound is returned when a revision does not exist.
var ErrNotFound = errors.New("revision not found")

// Store is a SQLite-backed revision log.
type Store struct {
	db   *sql.DB
	path string
}

// Revision is one successful save of an ROI configuration.
type Revision struct {
	ID        int64      `json:"id"`
	SessionID string     `json:"session_id"`
	Config    roi.Config `json:"-"`
	SavedAt   time.Time  `json:"saved_at"`
}

// MarshalJSON renders the config in the same shape as /api/roi-config.
func (r Revision) MarshalJSON() ([]byte, error) {
	type alias Revision
	return json.Marshal(struct {
		alias
		Config footfall.ROIDocument `json:"config"`
	}{alias(r), footfall.ROIDocument{Config: r.Config}})
}

// New opens (creating if needed) the database at dbPath and runs migrations.
// ":memory:" is accepted for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: dbPath}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database location.
func (s *Store) Path() string { return s.path }

// RecordRevision appends cfg to the history and returns the stored row.
func (s *Store) RecordRevision(ctx context.Context, sessionID string, cfg roi.Config, savedAt time.Time) (Revision, error) {
	body, err := footfall.EncodeROIConfig(footfall.ROIDocument{Config: cfg})
	if err != nil {
		return Revision{}, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO roi_revisions (session_id, config, saved_at) VALUES (?, ?, ?)`,
		sessionID, string(body), savedAt.UnixMilli(),
	)
	if err != nil {
		return Revision{}, fmt.Errorf("insert revision: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Revision{}, err
	}
	return Revision{ID: id, SessionID: sessionID, Config: cfg, SavedAt: time.UnixMilli(savedAt.UnixMilli()).UTC()}, nil
}

// ListRevisions returns up to limit revisions, newest first. limit <= 0
// returns all of them.
func (s *Store) ListRevisions(ctx context.Context, limit int) ([]Revision, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, config, saved_at FROM roi_revisions
		 ORDER BY saved_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	defer rows.Close()

	var out []Revision
	for rows.Next() {
		rev, err := scanRevision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rev)
	}
	return out, rows.Err()
}

// GetRevision returns the revision with the given id.
func (s *Store) GetRevision(ctx context.Context, id int64) (Revision, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, config, saved_at FROM roi_revisions WHERE id = ?`, id)
	rev, err := scanRevision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Revision{}, ErrNotFound
	}
	return rev, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRevision(sc scanner) (Revision, error) {
	var (
		rev     Revision
		body    string
		savedAt int64
	)
	if err := sc.Scan(&rev.ID, &rev.SessionID, &body, &savedAt); err != nil {
		return Revision{}, err
	}
	doc, err := footfall.DecodeROIConfig([]byte(body))
	if err != nil {
		return Revision{}, fmt.Errorf("revision %d: %w", rev.ID, err)
	}
	rev.Config = doc.Config
	rev.SavedAt = time.UnixMilli(savedAt).UTC()
	return rev, nil
}
