// Package history keeps snapshots of the result tables taken after
// completed sweeps. Snapshots live in an in-memory SQLite database and are
// gone when the process exits.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nvandessel/sweepsim/internal/models"
	"github.com/nvandessel/sweepsim/internal/results"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Get for an unknown snapshot ID.
var ErrNotFound = errors.New("snapshot not found")

const (
	kindEncounter = "encounter"
	kindGroup     = "group"
)

// Summary describes one stored snapshot.
type Summary struct {
	ID         string    `json:"id"`
	SweepID    string    `json:"sweep_id"`
	Scope      string    `json:"scope"`
	RecordedAt time.Time `json:"recorded_at"`
	Encounters int       `json:"encounters"`
	Groups     int       `json:"groups"`
	Succeeded  int       `json:"succeeded"`
}

// Record is a stored snapshot with its contents.
type Record struct {
	Summary
	Snapshot results.Snapshot `json:"snapshot"`
}

// Store is the snapshot history.
type Store struct {
	db      *sql.DB
	nowFunc func() time.Time
}

// New opens an empty in-memory history.
func New(ctx context.Context) (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// Every connection to :memory: is its own database.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := InitSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db, nowFunc: time.Now}, nil
}

// Close releases the database and everything in it.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends a snapshot.
func (s *Store) Record(ctx context.Context, sweepID, scope string, snap results.Snapshot) error {
	succeeded := snap.Counts()[models.StatusSuccess]

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	id := uuid.NewString()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshots (id, sweep_id, scope, recorded_at, encounter_count, group_count, succeeded)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, sweepID, scope, s.nowFunc().UTC().Format(time.RFC3339Nano),
		len(snap.Encounters), len(snap.Groups), succeeded)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO snapshot_entries (snapshot_id, kind, entity_id, status, included, telemetry)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare entry insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range snap.Encounters {
		data, err := json.Marshal(e.Telemetry)
		if err != nil {
			return fmt.Errorf("encode %s: %w", e.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, id, kindEncounter, e.ID.String(), string(e.Status), e.Included, string(data)); err != nil {
			return fmt.Errorf("insert %s: %w", e.ID, err)
		}
	}
	for _, g := range snap.Groups {
		data, err := json.Marshal(g.Telemetry)
		if err != nil {
			return fmt.Errorf("encode group %s: %w", g.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, id, kindGroup, g.ID, nil, g.Included, string(data)); err != nil {
			return fmt.Errorf("insert group %s: %w", g.ID, err)
		}
	}
	return tx.Commit()
}

// List returns up to limit summaries, newest first. A limit of zero or
// less returns everything.
func (s *Store) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sweep_id, scope, recorded_at, encounter_count, group_count, succeeded
		FROM snapshots ORDER BY rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSummary(row scanner) (Summary, error) {
	var (
		sum Summary
		at  string
	)
	if err := row.Scan(&sum.ID, &sum.SweepID, &sum.Scope, &at, &sum.Encounters, &sum.Groups, &sum.Succeeded); err != nil {
		return Summary{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return Summary{}, fmt.Errorf("parse recorded_at: %w", err)
	}
	sum.RecordedAt = t
	return sum, nil
}

// Get loads one snapshot.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, sweep_id, scope, recorded_at, encounter_count, group_count, succeeded
		FROM snapshots WHERE id = ?`, id)
	sum, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Record{}, fmt.Errorf("query snapshot: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, entity_id, status, included, telemetry
		FROM snapshot_entries WHERE snapshot_id = ? ORDER BY rowid`, id)
	if err != nil {
		return Record{}, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	rec := Record{Summary: sum, Snapshot: results.Snapshot{
		Encounters: []results.Entry{},
		Groups:     []results.GroupEntry{},
	}}
	for rows.Next() {
		var (
			kind, entity, data string
			status             sql.NullString
			included           bool
			tel                models.Telemetry
		)
		if err := rows.Scan(&kind, &entity, &status, &included, &data); err != nil {
			return Record{}, err
		}
		if err := json.Unmarshal([]byte(data), &tel); err != nil {
			return Record{}, fmt.Errorf("decode %s: %w", entity, err)
		}
		switch kind {
		case kindEncounter:
			eid, err := models.ParseEncounterID(entity)
			if err != nil {
				return Record{}, err
			}
			rec.Snapshot.Encounters = append(rec.Snapshot.Encounters, results.Entry{
				ID: eid, Status: models.Status(status.String), Included: included, Telemetry: tel,
			})
		case kindGroup:
			rec.Snapshot.Groups = append(rec.Snapshot.Groups, results.GroupEntry{ID: entity, Included: included, Telemetry: tel})
		}
	}
	return rec, rows.Err()
}

// Count returns the number of stored snapshots.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&n)
	return n, err
}
