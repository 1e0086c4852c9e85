// Package journal keeps a local SQLite record of subscription pushes so a
// stream can be inspected after the process that received it has exited.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Entry kinds mirror the push frame types.
const (
	KindData  = "data"
	KindError = "error"
)

// timeLayout has a fixed width so stored timestamps order lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Entry is one recorded push.
type Entry struct {
	Seq          int64           `json:"seq"`
	Subscription string          `json:"subscription"`
	Kind         string          `json:"kind"`
	Data         json.RawMessage `json:"data,omitempty"`
	Error        string          `json:"error,omitempty"`
	ReceivedAt   time.Time       `json:"received_at"`
}

// Store is a SQLite-backed push journal.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the journal at dbPath and migrates its schema.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// WAL lets a history reader run next to a recording subscriber.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS pushes (
			seq          INTEGER PRIMARY KEY AUTOINCREMENT,
			subscription TEXT NOT NULL,
			kind         TEXT NOT NULL,
			data         TEXT,
			error        TEXT NOT NULL DEFAULT '',
			received_at  TEXT NOT NULL
		)
	`); err != nil {
		return err
	}
	_, err := db.Exec("CREATE INDEX IF NOT EXISTS pushes_subscription ON pushes (subscription, seq)")
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends e and returns its sequence number. A zero ReceivedAt is
// set to now.
func (s *Store) Record(ctx context.Context, e Entry) (int64, error) {
	if e.Subscription == "" {
		return 0, fmt.Errorf("journal: entry has no subscription id")
	}
	if e.Kind != KindData && e.Kind != KindError {
		return 0, fmt.Errorf("journal: unknown entry kind %q", e.Kind)
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now()
	}
	var data any
	if len(e.Data) > 0 {
		data = string(e.Data)
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO pushes (subscription, kind, data, error, received_at) VALUES (?, ?, ?, ?, ?)",
		e.Subscription, e.Kind, data, e.Error, e.ReceivedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("journal: record: %w", err)
	}
	return res.LastInsertId()
}

// List returns up to limit of the most recent entries, oldest first. An
// empty subscription lists every stream; limit <= 0 means no limit.
func (s *Store) List(ctx context.Context, subscription string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, subscription, kind, data, error, received_at FROM (
			SELECT * FROM pushes WHERE ? = '' OR subscription = ?
			ORDER BY seq DESC LIMIT ?
		) ORDER BY seq`,
		subscription, subscription, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Subscriptions returns the distinct subscription ids in the journal.
func (s *Store) Subscriptions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT subscription FROM pushes ORDER BY subscription")
	if err != nil {
		return nil, fmt.Errorf("journal: subscriptions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Prune deletes entries received before cutoff and reports how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM pushes WHERE received_at < ?",
		cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("journal: prune: %w", err)
	}
	return res.RowsAffected()
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var e Entry
	var data sql.NullString
	var received string
	if err := rows.Scan(&e.Seq, &e.Subscription, &e.Kind, &data, &e.Error, &received); err != nil {
		return Entry{}, fmt.Errorf("journal: scan: %w", err)
	}
	if data.Valid {
		e.Data = json.RawMessage(data.String)
	}
	at, err := time.Parse(timeLayout, received)
	if err != nil {
		return Entry{}, fmt.Errorf("journal: entry %d: received_at: %w", e.Seq, err)
	}
	e.ReceivedAt = at
	return e, nil
}
