package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazz-dev/reachprobe/internal/checker"
	"github.com/hazz-dev/reachprobe/internal/prober"
)

const schema = `
CREATE TABLE IF NOT EXISTS checks (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    endpoint    TEXT    NOT NULL,
    status      TEXT    NOT NULL CHECK(status IN ('up', 'down')),
    response_ms INTEGER NOT NULL,
    error       TEXT    NOT NULL DEFAULT '',
    checked_at  TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_checks_endpoint ON checks(endpoint);
CREATE INDEX IF NOT EXISTS idx_checks_endpoint_checked ON checks(endpoint, checked_at DESC);

CREATE TABLE IF NOT EXISTS probes (
    id          TEXT    PRIMARY KEY,
    reachable   INTEGER NOT NULL,
    rounds      INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL,
    started_at  TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_probes_started_at ON probes(started_at DESC);

CREATE TABLE IF NOT EXISTS transitions (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    kind              TEXT    NOT NULL CHECK(kind IN ('connected', 'disconnected')),
    at                TEXT    NOT NULL,
    last_connected    TEXT    NOT NULL DEFAULT '',
    last_disconnected TEXT    NOT NULL DEFAULT ''
);
`

// Check is a stored endpoint attempt.
type Check struct {
	ID         int64     `json:"id"`
	Endpoint   string    `json:"endpoint"`
	Status     string    `json:"status"`
	ResponseMs int64     `json:"response_ms"`
	Error      string    `json:"error"`
	CheckedAt  time.Time `json:"checked_at"`
}

// Probe is a stored ProbeOnce run.
type Probe struct {
	ID         string    `json:"id"`
	Reachable  bool      `json:"reachable"`
	Rounds     int       `json:"rounds"`
	DurationMs int64     `json:"duration_ms"`
	StartedAt  time.Time `json:"started_at"`
}

// Transition is a stored connectivity edge.
type Transition struct {
	ID               int64     `json:"id"`
	Kind             string    `json:"kind"`
	At               time.Time `json:"at"`
	LastConnected    time.Time `json:"last_connected"`
	LastDisconnected time.Time `json:"last_disconnected"`
}

// State rebuilds the prober state right after this transition, used to
// restore state across restarts.
func (t Transition) State() prober.State {
	return prober.State{
		Reachable:        t.Kind == string(prober.EventConnected),
		LastConnected:    t.LastConnected,
		LastDisconnected: t.LastDisconnected,
	}
}

// DB wraps a SQLite database.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and applies the schema.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite at %q: %w", path, err)
	}
	// Every :memory: connection is a separate database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=5000",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// InsertCheck persists an endpoint attempt.
func (d *DB) InsertCheck(ctx context.Context, r checker.CheckResult) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO checks (endpoint, status, response_ms, error, checked_at) VALUES (?, ?, ?, ?, ?)`,
		r.Endpoint,
		string(r.Status),
		r.ResponseTime.Milliseconds(),
		r.Error,
		formatTime(r.CheckedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting check for %q: %w", r.Endpoint, err)
	}
	return nil
}

// InsertProbe persists a completed probe run.
func (d *DB) InsertProbe(ctx context.Context, run prober.Run) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO probes (id, reachable, rounds, duration_ms, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID.String(),
		run.Reachable,
		run.Rounds,
		run.Duration.Milliseconds(),
		formatTime(run.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting probe %s: %w", run.ID, err)
	}
	return nil
}

// InsertTransition persists a connectivity edge.
func (d *DB) InsertTransition(ctx context.Context, ev prober.Event) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO transitions (kind, at, last_connected, last_disconnected) VALUES (?, ?, ?, ?)`,
		string(ev.Kind),
		formatTime(ev.At),
		formatTime(ev.State.LastConnected),
		formatTime(ev.State.LastDisconnected),
	)
	if err != nil {
		return fmt.Errorf("inserting %s transition: %w", ev.Kind, err)
	}
	return nil
}

// LatestTransition returns the most recent transition, or nil if none.
func (d *DB) LatestTransition(ctx context.Context) (*Transition, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, kind, at, last_connected, last_disconnected FROM transitions ORDER BY id DESC LIMIT 1`,
	)
	tr, err := scanTransition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest transition: %w", err)
	}
	return tr, nil
}

// Transitions returns paginated transitions, newest first, plus the total count.
func (d *DB) Transitions(ctx context.Context, limit, offset int) ([]Transition, int, error) {
	var total int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transitions`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting transitions: %w", err)
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT id, kind, at, last_connected, last_disconnected FROM transitions ORDER BY id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("querying transitions: %w", err)
	}
	defer rows.Close()

	out := make([]Transition, 0, limit)
	for rows.Next() {
		tr, err := scanTransition(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning transition row: %w", err)
		}
		out = append(out, *tr)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating transition rows: %w", err)
	}
	return out, total, nil
}

// LatestCheck returns the most recent check for endpoint, or nil if none.
func (d *DB) LatestCheck(ctx context.Context, endpoint string) (*Check, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, endpoint, status, response_ms, error, checked_at FROM checks WHERE endpoint = ? ORDER BY id DESC LIMIT 1`,
		endpoint,
	)
	c, err := scanCheck(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest check for %q: %w", endpoint, err)
	}
	return c, nil
}

// EndpointHistory returns paginated check history for an endpoint plus the total count.
func (d *DB) EndpointHistory(ctx context.Context, endpoint string, limit, offset int) ([]Check, int, error) {
	var total int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM checks WHERE endpoint = ?`, endpoint,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("counting checks for %q: %w", endpoint, err)
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT id, endpoint, status, response_ms, error, checked_at FROM checks WHERE endpoint = ? ORDER BY id DESC LIMIT ? OFFSET ?`,
		endpoint, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("querying history for %q: %w", endpoint, err)
	}
	defer rows.Close()

	checks, err := scanChecks(rows)
	if err != nil {
		return nil, 0, err
	}
	return checks, total, nil
}

// AllLatest returns the most recent check for each endpoint.
func (d *DB) AllLatest(ctx context.Context) ([]Check, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, endpoint, status, response_ms, error, checked_at
		FROM checks
		WHERE id IN (
			SELECT MAX(id) FROM checks GROUP BY endpoint
		)
		ORDER BY endpoint
	`)
	if err != nil {
		return nil, fmt.Errorf("querying all latest: %w", err)
	}
	defer rows.Close()
	return scanChecks(rows)
}

// UptimePercent returns the percentage of reachable results among the last N
// probes, in insertion order.
func (d *DB) UptimePercent(ctx context.Context, last int) (float64, error) {
	var total int
	var upCount sql.NullInt64
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*), SUM(reachable)
		FROM (
			SELECT reachable FROM probes ORDER BY rowid DESC LIMIT ?
		)
	`, last).Scan(&total, &upCount)
	if err != nil {
		return 0, fmt.Errorf("calculating uptime: %w", err)
	}
	if total == 0 {
		return 0, nil
	}
	return float64(upCount.Int64) / float64(total) * 100, nil
}

// RecentProbes returns the last limit probe runs, newest first.
func (d *DB) RecentProbes(ctx context.Context, limit int) ([]Probe, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, reachable, rounds, duration_ms, started_at FROM probes ORDER BY rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying probes: %w", err)
	}
	defer rows.Close()

	var out []Probe
	for rows.Next() {
		var p Probe
		var startedAt string
		if err := rows.Scan(&p.ID, &p.Reachable, &p.Rounds, &p.DurationMs, &startedAt); err != nil {
			return nil, fmt.Errorf("scanning probe row: %w", err)
		}
		if p.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating probe rows: %w", err)
	}
	return out, nil
}

// timeLayout is fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		// Fallback to RFC3339 without sub-second precision.
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing time %q: %w", s, err)
		}
	}
	return t, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCheck(row scanner) (*Check, error) {
	var c Check
	var checkedAt string
	err := row.Scan(&c.ID, &c.Endpoint, &c.Status, &c.ResponseMs, &c.Error, &checkedAt)
	if err != nil {
		return nil, err
	}
	if c.CheckedAt, err = parseTime(checkedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanChecks(rows *sql.Rows) ([]Check, error) {
	var checks []Check
	for rows.Next() {
		c, err := scanCheck(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning check row: %w", err)
		}
		checks = append(checks, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating check rows: %w", err)
	}
	return checks, nil
}

func scanTransition(row scanner) (*Transition, error) {
	var tr Transition
	var at, lastConnected, lastDisconnected string
	if err := row.Scan(&tr.ID, &tr.Kind, &at, &lastConnected, &lastDisconnected); err != nil {
		return nil, err
	}
	var err error
	if tr.At, err = parseTime(at); err != nil {
		return nil, err
	}
	if tr.LastConnected, err = parseTime(lastConnected); err != nil {
		return nil, err
	}
	if tr.LastDisconnected, err = parseTime(lastDisconnected); err != nil {
		return nil, err
	}
	return &tr, nil
}
