// Package drafts journals finished-but-unsaved sessions in SQLite so a failed
// save can be retried after the recording process exits.
package drafts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rbright/pyronotes/internal/backend"
)

// ErrNotFound is returned when no draft has the requested id.
var ErrNotFound = errors.New("draft not found")

// Draft is the persisted snapshot of one session.
type Draft struct {
	ID          string
	Source      string
	Status      string
	Transcript  string
	Insights    []backend.Insight
	DurationSec int
	StartedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// Store is the draft journal.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

const schema = `
	CREATE TABLE IF NOT EXISTS drafts (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		status TEXT NOT NULL,
		transcript TEXT NOT NULL,
		insights TEXT NOT NULL DEFAULT '[]',
		durationSec INTEGER NOT NULL DEFAULT 0,
		startedAt REAL,
		updatedAt REAL NOT NULL,
		lastError TEXT NOT NULL DEFAULT ''
	);
`

// DefaultPath returns $XDG_STATE_HOME/pyronotes/drafts.sqlite.
func DefaultPath() string {
	base := strings.TrimSpace(os.Getenv("XDG_STATE_HOME"))
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(base, "pyronotes", "drafts.sqlite")
}

// Open opens (creating if needed) the journal at path. ":memory:" is accepted.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create drafts directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps :memory: databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate drafts schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put inserts or replaces the draft with d.ID.
func (s *Store) Put(ctx context.Context, d Draft) error {
	if strings.TrimSpace(d.ID) == "" {
		return errors.New("draft id is empty")
	}
	insights := d.Insights
	if insights == nil {
		insights = []backend.Insight{}
	}
	payload, err := json.Marshal(insights)
	if err != nil {
		return fmt.Errorf("encode insights: %w", err)
	}

	var startedAt sql.NullFloat64
	if !d.StartedAt.IsZero() {
		startedAt = sql.NullFloat64{Float64: unixFromTime(d.StartedAt), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO drafts (id, source, status, transcript, insights, durationSec, startedAt, updatedAt, lastError)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source = excluded.source,
			status = excluded.status,
			transcript = excluded.transcript,
			insights = excluded.insights,
			durationSec = excluded.durationSec,
			startedAt = excluded.startedAt,
			updatedAt = excluded.updatedAt,
			lastError = excluded.lastError
	`, d.ID, d.Source, d.Status, d.Transcript, string(payload), d.DurationSec, startedAt, unixFromTime(s.now()), d.LastError)
	if err != nil {
		return fmt.Errorf("upsert draft %s: %w", d.ID, err)
	}
	return nil
}

// Get returns the draft with id.
func (s *Store) Get(ctx context.Context, id string) (Draft, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source, status, transcript, insights, durationSec, startedAt, updatedAt, lastError
		FROM drafts
		WHERE id = ?
	`, id)
	d, err := scanDraft(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Draft{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return d, err
}

// List returns all drafts, most recently updated first.
func (s *Store) List(ctx context.Context) ([]Draft, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, status, transcript, insights, durationSec, startedAt, updatedAt, lastError
		FROM drafts
		ORDER BY updatedAt DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query drafts: %w", err)
	}
	defer rows.Close()

	var out []Draft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Delete removes the draft with id. Deleting a missing draft is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM drafts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete draft %s: %w", id, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDraft(row scanner) (Draft, error) {
	var (
		d         Draft
		insights  string
		startedAt sql.NullFloat64
		updatedAt float64
	)
	if err := row.Scan(&d.ID, &d.Source, &d.Status, &d.Transcript, &insights,
		&d.DurationSec, &startedAt, &updatedAt, &d.LastError); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Draft{}, err
		}
		return Draft{}, fmt.Errorf("scan draft: %w", err)
	}
	if err := json.Unmarshal([]byte(insights), &d.Insights); err != nil {
		return Draft{}, fmt.Errorf("decode insights of %s: %w", d.ID, err)
	}
	if startedAt.Valid {
		d.StartedAt = timeFromUnix(startedAt.Float64)
	}
	d.UpdatedAt = timeFromUnix(updatedAt)
	return d, nil
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*1e9))
}
