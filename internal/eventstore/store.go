// Package eventstore keeps a local SQLite history of listening cycles and
// the segments recognized during them.
package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-listen/internal/config"
	_ "modernc.org/sqlite"
)

// Event types recorded per cycle.
const (
	EventTriggered = "triggered"
	EventPartial   = "partial"
	EventFiltered  = "filtered"
	EventFinal     = "final"
)

// Event is one timeline entry of a cycle.
type Event struct {
	ID         int64
	CycleID    string
	Type       string
	ChunkIndex int
	Text       string
	Rule       string
	Payload    []byte
	CreatedAt  time.Time
}

// Cycle is the stored outcome of one hotword-to-finalization cycle.
type Cycle struct {
	ID         string
	Hotword    string
	StartedAt  time.Time
	EndedAt    time.Time
	Transcript string
	Words      int
	Duration   time.Duration
	Reason     string
	Aborted    bool
}

// Store wraps the SQLite database. With retention mode "ephemeral" it keeps
// nothing and every call is a no-op.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the event store according to config.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	log = log.With(slog.String("component", "eventstore"))
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; the processing path records events in order.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init event store schema: %w", err)
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}
	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}

	log.Info("event store opened",
		slog.String("path", cfg.Path),
		slog.String("retention", cfg.RetentionMode))
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS cycles (
    cycle_id TEXT PRIMARY KEY,
    hotword TEXT,
    started_at INTEGER NOT NULL,
    ended_at INTEGER,
    transcript TEXT,
    words INTEGER NOT NULL DEFAULT 0,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    reason TEXT,
    aborted INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    cycle_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    chunk_index INTEGER NOT NULL DEFAULT 0,
    text TEXT,
    rule TEXT,
    payload BLOB,
    created_at INTEGER NOT NULL,
    FOREIGN KEY(cycle_id) REFERENCES cycles(cycle_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_events_cycle_created ON events(cycle_id, created_at);
CREATE INDEX IF NOT EXISTS idx_cycles_started ON cycles(started_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Enabled reports whether anything is persisted.
func (s *Store) Enabled() bool {
	return s != nil && s.db != nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if !s.Enabled() {
		return nil
	}
	return s.db.Close()
}

// StartCycle records a new cycle. Starting an existing cycle again is a
// no-op.
func (s *Store) StartCycle(ctx context.Context, cycleID, hotword string, startedAt time.Time) error {
	if !s.Enabled() {
		return nil
	}
	if startedAt.IsZero() {
		startedAt = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cycles(cycle_id, hotword, started_at) VALUES(?, ?, ?)
		 ON CONFLICT(cycle_id) DO NOTHING`,
		cycleID, hotword, startedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}
	return nil
}

// AppendEvent writes an event into the store.
func (s *Store) AppendEvent(ctx context.Context, evt Event) error {
	if !s.Enabled() {
		return nil
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(cycle_id, event_type, chunk_index, text, rule, payload, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		evt.CycleID, evt.Type, evt.ChunkIndex, evt.Text, evt.Rule, evt.Payload, evt.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// FinishCycle stores the outcome of a cycle, creating the row if the start
// was never recorded.
func (s *Store) FinishCycle(ctx context.Context, c Cycle) error {
	if !s.Enabled() {
		return nil
	}
	if c.EndedAt.IsZero() {
		c.EndedAt = s.clock()
	}
	if c.StartedAt.IsZero() {
		c.StartedAt = c.EndedAt.Add(-c.Duration)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cycles(cycle_id, hotword, started_at, ended_at, transcript, words, duration_ms, reason, aborted)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(cycle_id) DO UPDATE SET
		   ended_at=excluded.ended_at, transcript=excluded.transcript, words=excluded.words,
		   duration_ms=excluded.duration_ms, reason=excluded.reason, aborted=excluded.aborted`,
		c.ID, c.Hotword, c.StartedAt.UnixMilli(), c.EndedAt.UnixMilli(), c.Transcript, c.Words,
		c.Duration.Milliseconds(), c.Reason, c.Aborted)
	if err != nil {
		return fmt.Errorf("finish cycle: %w", err)
	}
	return nil
}

// ListCycleEvents retrieves up to limit events for a cycle in recording order.
func (s *Store) ListCycleEvents(ctx context.Context, cycleID string, limit int) ([]Event, error) {
	if !s.Enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, cycle_id, event_type, chunk_index, text, rule, payload, created_at
		 FROM events WHERE cycle_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`, cycleID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e          Event
			text, rule sql.NullString
			created    int64
		)
		if err := rows.Scan(&e.ID, &e.CycleID, &e.Type, &e.ChunkIndex, &text, &rule, &e.Payload, &created); err != nil {
			return nil, err
		}
		e.Text, e.Rule = text.String, rule.String
		e.CreatedAt = time.UnixMilli(created).UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// RecentCycles returns up to limit finished cycles, newest first.
func (s *Store) RecentCycles(ctx context.Context, limit int) ([]Cycle, error) {
	if !s.Enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT cycle_id, hotword, started_at, ended_at, transcript, words, duration_ms, reason, aborted
		 FROM cycles WHERE ended_at IS NOT NULL ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cycles []Cycle
	for rows.Next() {
		var (
			c                           Cycle
			hotword, transcript, reason sql.NullString
			started, ended, durationMS  int64
		)
		if err := rows.Scan(&c.ID, &hotword, &started, &ended, &transcript, &c.Words, &durationMS, &reason, &c.Aborted); err != nil {
			return nil, err
		}
		c.Hotword, c.Transcript, c.Reason = hotword.String, transcript.String, reason.String
		c.StartedAt = time.UnixMilli(started).UTC()
		c.EndedAt = time.UnixMilli(ended).UTC()
		c.Duration = time.Duration(durationMS) * time.Millisecond
		cycles = append(cycles, c)
	}
	return cycles, rows.Err()
}

// Prune applies configured retention (called on startup and after each
// finished cycle).
func (s *Store) Prune(ctx context.Context) (err error) {
	if !s.Enabled() {
		return nil
	}
	if s.cfg.RetentionMode != "persistent" && s.cfg.RetentionMode != "session" {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UnixMilli()
		if _, err = tx.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM cycles WHERE started_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM cycles WHERE cycle_id IN (
			SELECT cycle_id FROM cycles ORDER BY started_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}
