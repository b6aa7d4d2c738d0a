// Package database persists consumed security events and detection
// matches in sqlite.
package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB handles database operations
type DB struct {
	Db *sql.DB
}

// EventRecord is one consumed security event, the wire fields plus
// whatever enrichment the consumer could resolve.
type EventRecord struct {
	ID        int64
	WallTime  time.Time
	Timestamp uint64 // monotonic capture clock, nanoseconds
	EventType uint32
	TypeName  string
	PID       uint32
	UID       uint32
	GID       uint32
	Comm      string
	Path      string
	Flags     uint32
	Mode      uint32

	// Enrichment, best-effort
	Username     string
	ExeHash      string
	ProcessAgeNs sql.NullInt64
}

// MatchRecord is a detection rule hit against a stored event.
type MatchRecord struct {
	ID        int64
	EventID   int64
	RuleID    string
	RuleName  string
	Severity  string
	PID       uint32
	Comm      string
	Path      string
	CreatedAt time.Time
}

// EventQuery filters ListEvents. Zero values mean "any".
type EventQuery struct {
	EventType uint32
	PID       uint32
	SinceNs   uint64
	Limit     int
}

func NewDB(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %v", err)
	}

	dbPath := filepath.Join(dataDir, "security_events.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %v", err)
	}

	if err := initEventSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize event schema: %v", err)
	}

	return &DB{Db: db}, nil
}

func initEventSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS security_events (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		wall_time      DATETIME NOT NULL,
		timestamp      INTEGER NOT NULL,
		event_type     INTEGER NOT NULL,
		type_name      TEXT NOT NULL,
		pid            INTEGER NOT NULL,
		uid            INTEGER NOT NULL,
		gid            INTEGER NOT NULL,
		comm           TEXT NOT NULL,
		path           TEXT,
		flags          INTEGER,
		mode           INTEGER,
		username       TEXT,
		exe_hash       TEXT,
		process_age_ns INTEGER
	);

	CREATE TABLE IF NOT EXISTS rule_matches (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id   INTEGER NOT NULL,
		rule_id    TEXT NOT NULL,
		rule_name  TEXT NOT NULL,
		severity   TEXT,
		pid        INTEGER,
		comm       TEXT,
		path       TEXT,
		created_at DATETIME NOT NULL
	);`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create tables: %v", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_events_pid ON security_events(pid);",
		"CREATE INDEX IF NOT EXISTS idx_events_type ON security_events(event_type);",
		"CREATE INDEX IF NOT EXISTS idx_events_timestamp ON security_events(timestamp);",
		"CREATE INDEX IF NOT EXISTS idx_matches_rule_id ON rule_matches(rule_id);",
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %v", err)
		}
	}

	return nil
}

// InsertEvent stores an event record and returns its row id.
func (d *DB) InsertEvent(rec *EventRecord) (int64, error) {
	if rec.WallTime.IsZero() {
		rec.WallTime = time.Now()
	}
	res, err := d.Db.Exec(`
		INSERT INTO security_events (
			wall_time, timestamp, event_type, type_name, pid, uid, gid,
			comm, path, flags, mode, username, exe_hash, process_age_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.WallTime, rec.Timestamp, rec.EventType, rec.TypeName,
		rec.PID, rec.UID, rec.GID, rec.Comm, rec.Path, rec.Flags, rec.Mode,
		rec.Username, rec.ExeHash, rec.ProcessAgeNs)
	if err != nil {
		return 0, fmt.Errorf("failed to insert event: %v", err)
	}
	return res.LastInsertId()
}

// ListEvents returns stored events matching the query, newest first.
func (d *DB) ListEvents(q EventQuery) ([]*EventRecord, error) {
	var conds []string
	var args []interface{}

	if q.EventType != 0 {
		conds = append(conds, "event_type = ?")
		args = append(args, q.EventType)
	}
	if q.PID != 0 {
		conds = append(conds, "pid = ?")
		args = append(args, q.PID)
	}
	if q.SinceNs != 0 {
		conds = append(conds, "timestamp >= ?")
		args = append(args, q.SinceNs)
	}

	query := `SELECT id, wall_time, timestamp, event_type, type_name, pid, uid, gid,
		comm, path, flags, mode, username, exe_hash, process_age_ns
		FROM security_events`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id DESC"

	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := d.Db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %v", err)
	}
	defer rows.Close()

	var events []*EventRecord
	for rows.Next() {
		rec := &EventRecord{}
		if err := rows.Scan(&rec.ID, &rec.WallTime, &rec.Timestamp, &rec.EventType,
			&rec.TypeName, &rec.PID, &rec.UID, &rec.GID, &rec.Comm, &rec.Path,
			&rec.Flags, &rec.Mode, &rec.Username, &rec.ExeHash, &rec.ProcessAgeNs); err != nil {
			return nil, fmt.Errorf("failed to scan event: %v", err)
		}
		events = append(events, rec)
	}
	return events, rows.Err()
}

// CountsByType returns how many events are stored per type name.
func (d *DB) CountsByType() (map[string]int64, error) {
	rows, err := d.Db.Query(
		"SELECT type_name, COUNT(*) FROM security_events GROUP BY type_name")
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %v", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var name string
		var n int64
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %v", err)
		}
		counts[name] = n
	}
	return counts, rows.Err()
}

// InsertMatch stores a detection rule hit.
func (d *DB) InsertMatch(m *MatchRecord) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := d.Db.Exec(`
		INSERT INTO rule_matches (event_id, rule_id, rule_name, severity, pid, comm, path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.EventID, m.RuleID, m.RuleName, m.Severity, m.PID, m.Comm, m.Path, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert match: %v", err)
	}
	return nil
}

// ListMatches returns the most recent detection hits.
func (d *DB) ListMatches(limit int) ([]*MatchRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := d.Db.Query(`
		SELECT id, event_id, rule_id, rule_name, severity, pid, comm, path, created_at
		FROM rule_matches ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches: %v", err)
	}
	defer rows.Close()

	var matches []*MatchRecord
	for rows.Next() {
		m := &MatchRecord{}
		if err := rows.Scan(&m.ID, &m.EventID, &m.RuleID, &m.RuleName,
			&m.Severity, &m.PID, &m.Comm, &m.Path, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan match: %v", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (d *DB) Close() error {
	return d.Db.Close()
}
