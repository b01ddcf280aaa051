// Package store keeps named parameter snapshots in SQLite (WAL mode).
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/danmuck/groundctl/internal/params"
	"github.com/danmuck/groundctl/internal/protocol/dialect"
	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound  = errors.New("store: snapshot not found")
	ErrEmptyName = errors.New("store: snapshot name is required")
)

// DB wraps *sql.DB with snapshot helpers.
type DB struct {
	*sql.DB
}

// Open opens (or creates) the database at path and migrates it.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000", path)
	raw, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if err := raw.Ping(); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	// one writer; WAL still allows concurrent readers
	raw.SetMaxOpenConns(1)
	db := &DB{raw}
	if err := db.Migrate(); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return db, nil
}

// Migrate applies the schema. It is idempotent.
func (db *DB) Migrate() error {
	for _, stmt := range []string{ddlSnapshots, ddlSnapshotParams} {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

const ddlSnapshots = `
CREATE TABLE IF NOT EXISTS snapshots (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    name       TEXT    NOT NULL,
    target     TEXT    NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,          -- Unix milliseconds
    param_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_snapshots_created_at ON snapshots (created_at DESC);
`

const ddlSnapshotParams = `
CREATE TABLE IF NOT EXISTS snapshot_params (
    snapshot_id INTEGER NOT NULL REFERENCES snapshots (id) ON DELETE CASCADE,
    name        TEXT    NOT NULL,
    idx         INTEGER NOT NULL,
    type        INTEGER NOT NULL,
    value       REAL    NOT NULL,
    PRIMARY KEY (snapshot_id, name)
);
`

// Snapshot is a saved table. Params is only filled by Load.
type Snapshot struct {
	ID        int64              `json:"id"`
	Name      string             `json:"name"`
	Target    string             `json:"target,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	Count     int                `json:"count"`
	Params    []params.Parameter `json:"params,omitempty"`
}

// Save stores the confirmed values of ps under name. Pending edits are not
// part of a snapshot.
func (db *DB) Save(ctx context.Context, name, target string, ps []params.Parameter) (Snapshot, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Snapshot{}, ErrEmptyName
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (name, target, created_at, param_count) VALUES (?, ?, ?, ?)`,
		name, target, now.UnixMilli(), len(ps))
	if err != nil {
		return Snapshot{}, fmt.Errorf("store: insert snapshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Snapshot{}, fmt.Errorf("store: snapshot id: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO snapshot_params (snapshot_id, name, idx, type, value) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return Snapshot{}, fmt.Errorf("store: prepare: %w", err)
	}
	defer stmt.Close()
	for _, p := range ps {
		if _, err := stmt.ExecContext(ctx, id, p.Name, p.Index, uint8(p.Type), p.Original); err != nil {
			return Snapshot{}, fmt.Errorf("store: insert %s: %w", p.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return Snapshot{}, fmt.Errorf("store: commit: %w", err)
	}
	return Snapshot{ID: id, Name: name, Target: target, CreatedAt: time.UnixMilli(now.UnixMilli()).UTC(), Count: len(ps)}, nil
}

// List returns snapshot headers, newest first.
func (db *DB) List(ctx context.Context) ([]Snapshot, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, name, target, created_at, param_count FROM snapshots ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()
	var out []Snapshot
	for rows.Next() {
		s, err := scanHeader(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanHeader(row scanner) (Snapshot, error) {
	var (
		s  Snapshot
		ms int64
	)
	if err := row.Scan(&s.ID, &s.Name, &s.Target, &ms, &s.Count); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, fmt.Errorf("store: scan snapshot: %w", err)
	}
	s.CreatedAt = time.UnixMilli(ms).UTC()
	return s, nil
}

// Load returns snapshot id with its parameters sorted by name.
func (db *DB) Load(ctx context.Context, id int64) (Snapshot, error) {
	s, err := scanHeader(db.QueryRowContext(ctx,
		`SELECT id, name, target, created_at, param_count FROM snapshots WHERE id = ?`, id))
	if err != nil {
		return Snapshot{}, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT name, idx, type, value FROM snapshot_params WHERE snapshot_id = ? ORDER BY name`, id)
	if err != nil {
		return Snapshot{}, fmt.Errorf("store: load %d: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			p   params.Parameter
			typ uint8
		)
		if err := rows.Scan(&p.Name, &p.Index, &typ, &p.Value); err != nil {
			return Snapshot{}, fmt.Errorf("store: scan param: %w", err)
		}
		p.Type = dialect.ParamType(typ)
		p.Original = p.Value
		p.Group = params.Group(p.Name)
		s.Params = append(s.Params, p)
	}
	return s, rows.Err()
}

// Delete removes snapshot id and its parameters.
func (db *DB) Delete(ctx context.Context, id int64) error {
	res, err := db.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type ChangeKind string

const (
	Added   ChangeKind = "added"
	Removed ChangeKind = "removed"
	Changed ChangeKind = "changed"
)

// Change is one difference between a snapshot and the current table.
type Change struct {
	Name    string     `json:"name"`
	Kind    ChangeKind `json:"kind"`
	Saved   float64    `json:"saved"`
	Current float64    `json:"current"`
}

// Diff compares snapshot id with current, by confirmed value. Added means
// present now but not in the snapshot.
func (db *DB) Diff(ctx context.Context, id int64, current map[string]params.Parameter) ([]Change, error) {
	s, err := db.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return DiffParams(s.Params, current), nil
}

// DiffParams is Diff without the database, ordered by name.
func DiffParams(saved []params.Parameter, current map[string]params.Parameter) []Change {
	var out []Change
	seen := make(map[string]bool, len(saved))
	for _, p := range saved {
		seen[p.Name] = true
		cur, ok := current[p.Name]
		switch {
		case !ok:
			out = append(out, Change{Name: p.Name, Kind: Removed, Saved: p.Original})
		case cur.Original != p.Original:
			out = append(out, Change{Name: p.Name, Kind: Changed, Saved: p.Original, Current: cur.Original})
		}
	}
	for name, cur := range current {
		if !seen[name] {
			out = append(out, Change{Name: name, Kind: Added, Current: cur.Original})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
