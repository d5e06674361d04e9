// File: internal/store/store.go
// Brief: SQLite persistence for deployment records and status history.

// Package store persists deployment records between scheduler ticks. The
// deployers only propose statuses; this package is where they are recorded.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/example/lizzy/internal/deployer"
	"github.com/mitchellh/go-homedir"
	_ "modernc.org/sqlite"
)

// DefaultPath is used when no database path is configured.
const DefaultPath = "~/.lizzy/lizzy.sqlite"

// ErrNotFound is returned for unknown deployment ids.
var ErrNotFound = errors.New("deployment not found")

// Deployment is a persisted deployment record.
type Deployment struct {
	deployer.Deployment
	ImageVersion    string    `json:"imageVersion"`
	Parameters      []string  `json:"parameters,omitempty"`
	DisableRollback bool      `json:"disableRollback"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Transition is one recorded status change.
type Transition struct {
	At   time.Time       `json:"at"`
	From deployer.Status `json:"from"`
	To   deployer.Status `json:"to"`
}

// Store is a SQLite backed deployment store.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = DefaultPath
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expand store path: %w", err)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", abs)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &Store{db: db, path: abs}
	if err := s.initSchema(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the absolute database path.
func (s *Store) Path() string { return s.path }

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA foreign_keys=ON;`,
		`PRAGMA busy_timeout=5000;`,
		`
CREATE TABLE IF NOT EXISTS lizzy_deployments (
  deployment_id TEXT PRIMARY KEY,
  stack_name TEXT NOT NULL,
  stack_version TEXT NOT NULL,
  image_version TEXT NOT NULL,
  parameters_json TEXT NOT NULL,
  disable_rollback INTEGER NOT NULL,
  status TEXT NOT NULL,
  created_at_ns INTEGER NOT NULL,
  updated_at_ns INTEGER NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS lizzy_deployment_events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  deployment_id TEXT NOT NULL,
  ts_ns INTEGER NOT NULL,
  old_status TEXT NOT NULL,
  new_status TEXT NOT NULL,
  FOREIGN KEY (deployment_id) REFERENCES lizzy_deployments(deployment_id) ON DELETE CASCADE
);`,
		`CREATE INDEX IF NOT EXISTS idx_lizzy_deployment_events_id ON lizzy_deployment_events(deployment_id, id);`,
		`CREATE INDEX IF NOT EXISTS idx_lizzy_deployments_status ON lizzy_deployments(status);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Put inserts or replaces a deployment record. Replacing a record with a
// different status appends the transition to its history.
func (s *Store) Put(ctx context.Context, d *Deployment) error {
	if d == nil || strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("deployment id is required")
	}
	if !d.Status.Valid() {
		return fmt.Errorf("invalid status %q", d.Status)
	}
	params, err := json.Marshal(d.Parameters)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM lizzy_deployments WHERE deployment_id = ?`, d.ID).Scan(&current)
	exists := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	_, err = tx.ExecContext(ctx, `
INSERT INTO lizzy_deployments (
  deployment_id, stack_name, stack_version, image_version, parameters_json,
  disable_rollback, status, created_at_ns, updated_at_ns
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(deployment_id) DO UPDATE SET
  stack_name = excluded.stack_name,
  stack_version = excluded.stack_version,
  image_version = excluded.image_version,
  parameters_json = excluded.parameters_json,
  disable_rollback = excluded.disable_rollback,
  status = excluded.status,
  updated_at_ns = excluded.updated_at_ns
`, d.ID, d.StackName, d.StackVersion, d.ImageVersion, string(params),
		boolToInt(d.DisableRollback), string(d.Status), d.CreatedAt.UnixNano(), d.UpdatedAt.UnixNano())
	if err != nil {
		return err
	}
	if exists && current != string(d.Status) {
		if err := appendEvent(ctx, tx, d.ID, now.UnixNano(), current, string(d.Status)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func appendEvent(ctx context.Context, tx *sql.Tx, id string, tsNs int64, from, to string) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO lizzy_deployment_events (deployment_id, ts_ns, old_status, new_status)
VALUES (?, ?, ?, ?)
`, id, tsNs, from, to)
	return err
}

const selectColumns = `deployment_id, stack_name, stack_version, image_version, parameters_json,
  disable_rollback, status, created_at_ns, updated_at_ns`

type scanner interface {
	Scan(dest ...any) error
}

func scanDeployment(row scanner) (*Deployment, error) {
	var (
		d                  Deployment
		params, status     string
		disableRollback    int
		createdNs, updated int64
	)
	if err := row.Scan(&d.ID, &d.StackName, &d.StackVersion, &d.ImageVersion, &params,
		&disableRollback, &status, &createdNs, &updated); err != nil {
		return nil, err
	}
	if params != "" && params != "null" {
		if err := json.Unmarshal([]byte(params), &d.Parameters); err != nil {
			return nil, fmt.Errorf("decode parameters of %s: %w", d.ID, err)
		}
	}
	d.DisableRollback = disableRollback != 0
	d.Status = deployer.Status(status)
	d.CreatedAt = time.Unix(0, createdNs).UTC()
	d.UpdatedAt = time.Unix(0, updated).UTC()
	return &d, nil
}

// Get returns the deployment with id or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Deployment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM lizzy_deployments WHERE deployment_id = ?`, id)
	d, err := scanDeployment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return d, err
}

// List returns every deployment, newest first.
func (s *Store) List(ctx context.Context) ([]*Deployment, error) {
	return s.query(ctx, `SELECT `+selectColumns+` FROM lizzy_deployments ORDER BY created_at_ns DESC, deployment_id`)
}

// ListActive returns deployments that have not reached LIZZY:REMOVED,
// oldest first.
func (s *Store) ListActive(ctx context.Context) ([]*Deployment, error) {
	return s.query(ctx, `SELECT `+selectColumns+` FROM lizzy_deployments WHERE status != ? ORDER BY created_at_ns, deployment_id`,
		string(deployer.StatusRemoved))
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]*Deployment, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpdateStatus records a new status and appends it to the history when it
// differs from the stored one. It reports whether the status changed.
func (s *Store) UpdateStatus(ctx context.Context, id string, status deployer.Status) (bool, error) {
	if !status.Valid() {
		return false, fmt.Errorf("invalid status %q", status)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM lizzy_deployments WHERE deployment_id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return false, err
	}
	if current == string(status) {
		return false, nil
	}
	now := time.Now().UTC().UnixNano()
	if _, err := tx.ExecContext(ctx, `UPDATE lizzy_deployments SET status = ?, updated_at_ns = ? WHERE deployment_id = ?`,
		string(status), now, id); err != nil {
		return false, err
	}
	if err := appendEvent(ctx, tx, id, now, current, string(status)); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// History returns the recorded status transitions of a deployment, oldest first.
func (s *Store) History(ctx context.Context, id string) ([]Transition, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT ts_ns, old_status, new_status
FROM lizzy_deployment_events
WHERE deployment_id = ?
ORDER BY id
`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transition
	for rows.Next() {
		var ts int64
		var from, to string
		if err := rows.Scan(&ts, &from, &to); err != nil {
			return nil, err
		}
		out = append(out, Transition{At: time.Unix(0, ts).UTC(), From: deployer.Status(from), To: deployer.Status(to)})
	}
	return out, rows.Err()
}

// Delete removes a deployment record and its history.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM lizzy_deployments WHERE deployment_id = ?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
