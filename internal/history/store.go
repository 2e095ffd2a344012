// File: internal/history/store.go
// Brief: Local SQLite ledger of dispatched operations.

package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	_ "modernc.org/sqlite"
)

const defaultRelPath = ".devenv/history.sqlite"

// Entry is one dispatched operation and how it ended.
type Entry struct {
	ID       int64             `json:"id"`
	At       time.Time         `json:"at"`
	Command  string            `json:"command"`
	Region   string            `json:"region"`
	Unit     string            `json:"unit"`
	Action   string            `json:"action"`
	NoOp     bool              `json:"noOp,omitempty"`
	Outcome  string            `json:"outcome"`
	Status   string            `json:"status,omitempty"`
	Reason   string            `json:"reason,omitempty"`
	Elapsed  time.Duration     `json:"elapsed"`
	Outputs  map[string]string `json:"outputs,omitempty"`
	Baseline string            `json:"baseline,omitempty"`
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Unit  string
	Limit int
}

// Store is an open ledger.
type Store struct {
	db       *sql.DB
	path     string
	readOnly bool
}

// DefaultPath is the ledger location under the user's home directory.
func DefaultPath() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, defaultRelPath), nil
}

// Open opens or creates the ledger at path. A read-only ledger must exist.
func Open(path string, readOnly bool) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, err
	}
	path = expanded
	if readOnly {
		if _, err := os.Stat(path); err != nil {
			return nil, err
		}
	} else if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	dsn := path
	if readOnly {
		u := url.URL{Scheme: "file", Path: path}
		q := u.Query()
		q.Set("mode", "ro")
		q.Set("_busy_timeout", "5000")
		u.RawQuery = q.Encode()
		dsn = u.String()
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &Store{db: db, path: path, readOnly: readOnly}
	if !readOnly {
		if err := s.initSchema(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

// Path is the file backing the ledger.
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
		`PRAGMA busy_timeout=5000;`,
		`
CREATE TABLE IF NOT EXISTS devenv_history (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  ts_ns INTEGER NOT NULL,
  command TEXT NOT NULL,
  region TEXT NOT NULL,
  unit TEXT NOT NULL,
  action TEXT NOT NULL,
  no_op INTEGER NOT NULL,
  outcome TEXT NOT NULL,
  status TEXT NOT NULL,
  reason TEXT NOT NULL,
  elapsed_ns INTEGER NOT NULL,
  outputs_json TEXT NOT NULL,
  baseline TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_devenv_history_unit_id ON devenv_history(unit, id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Record appends e and returns its id.
func (s *Store) Record(ctx context.Context, e Entry) (int64, error) {
	if s.readOnly {
		return 0, fmt.Errorf("history %s is read-only", s.path)
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	outputs := e.Outputs
	if outputs == nil {
		outputs = map[string]string{}
	}
	outputsJSON, err := json.Marshal(outputs)
	if err != nil {
		return 0, err
	}
	noOp := 0
	if e.NoOp {
		noOp = 1
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO devenv_history (
  ts_ns, command, region, unit, action, no_op, outcome, status, reason, elapsed_ns, outputs_json, baseline
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, e.At.UTC().UnixNano(), e.Command, e.Region, e.Unit, e.Action, noOp, e.Outcome, e.Status, e.Reason,
		int64(e.Elapsed), string(outputsJSON), e.Baseline)
	if err != nil {
		return 0, fmt.Errorf("record history: %w", err)
	}
	return res.LastInsertId()
}

// List returns entries newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Entry, error) {
	query := `
SELECT id, ts_ns, command, region, unit, action, no_op, outcome, status, reason, elapsed_ns, outputs_json, baseline
FROM devenv_history`
	var args []any
	if unit := strings.TrimSpace(f.Unit); unit != "" {
		query += ` WHERE unit = ?`
		args = append(args, unit)
	}
	query += ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e           Entry
			tsNS        int64
			noOp        int
			elapsedNS   int64
			outputsJSON string
		)
		if err := rows.Scan(&e.ID, &tsNS, &e.Command, &e.Region, &e.Unit, &e.Action, &noOp, &e.Outcome,
			&e.Status, &e.Reason, &elapsedNS, &outputsJSON, &e.Baseline); err != nil {
			return nil, err
		}
		e.At = time.Unix(0, tsNS).UTC()
		e.NoOp = noOp != 0
		e.Elapsed = time.Duration(elapsedNS)
		if outputsJSON != "" {
			if err := json.Unmarshal([]byte(outputsJSON), &e.Outputs); err != nil {
				return nil, fmt.Errorf("decode outputs of entry %d: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
