package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	model "github.com/okian/leadscore/internal/domain/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists state in a SQLite database file.
//
// Every write goes through a single writer slot so transactions never
// contend on SQLite's database lock; reads use the remaining connections.
type SQLiteStore struct {
	db           *sql.DB
	writer       chan struct{}
	busyTimeout  time.Duration
	maxOpenConns int
}

// OpenSQLite opens (creating if needed) the database at path and applies migrations.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	s := &SQLiteStore{
		writer:       make(chan struct{}, 1),
		busyTimeout:  5 * time.Second,
		maxOpenConns: 4,
	}
	for _, opt := range opts {
		opt(s)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		path, s.busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(s.maxOpenConns)
	s.db = db

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) acquireWriter(ctx context.Context) (func(), error) {
	select {
	case s.writer <- struct{}{}:
		return func() { <-s.writer }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) GetLead(ctx context.Context, leadID string) (model.Lead, error) {
	return getLead(ctx, s.db, leadID)
}

func getLead(ctx context.Context, q queryer, leadID string) (model.Lead, error) {
	var (
		l  model.Lead
		ts int64
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, score, last_event_id, updated_at FROM leads WHERE id = ?`, leadID,
	).Scan(&l.ID, &l.Score, &l.LastEventID, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Lead{}, fmt.Errorf("lead %q: %w", leadID, ErrNotFound)
	}
	if err != nil {
		return model.Lead{}, fmt.Errorf("sqlite: get lead: %w", err)
	}
	l.UpdatedAt = fromNanos(ts)
	return l, nil
}

func (s *SQLiteStore) ListLeads(ctx context.Context, f ListFilter) ([]model.Lead, error) {
	if f.Limit < 1 {
		return nil, fmt.Errorf("limit %d: %w", f.Limit, ErrInvalidLimit)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, score, last_event_id, updated_at FROM leads
		 WHERE ? = '' OR instr(lower(id), lower(?)) > 0
		 ORDER BY score DESC, id ASC LIMIT ?`,
		f.Search, f.Search, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list leads: %w", err)
	}
	defer rows.Close()

	out := make([]model.Lead, 0, f.Limit)
	for rows.Next() {
		var (
			l  model.Lead
			ts int64
		)
		if err := rows.Scan(&l.ID, &l.Score, &l.LastEventID, &ts); err != nil {
			return nil, fmt.Errorf("sqlite: scan lead: %w", err)
		}
		l.UpdatedAt = fromNanos(ts)
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list leads: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) CountLeads(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM leads`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count leads: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) History(ctx context.Context, leadID string, limit int) ([]model.ScoreHistoryEntry, error) {
	if limit < 1 {
		return nil, fmt.Errorf("limit %d: %w", limit, ErrInvalidLimit)
	}
	// seq follows commit order since writes are serialized.
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, lead_id, event_id, old_score, new_score, delta, timestamp FROM score_history
		 WHERE lead_id = ? ORDER BY seq DESC LIMIT ?`, leadID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: history: %w", err)
	}
	defer rows.Close()

	var out []model.ScoreHistoryEntry
	for rows.Next() {
		var (
			h  model.ScoreHistoryEntry
			ts int64
		)
		if err := rows.Scan(&h.ID, &h.LeadID, &h.EventID, &h.OldScore, &h.NewScore, &h.Delta, &ts); err != nil {
			return nil, fmt.Errorf("sqlite: scan history: %w", err)
		}
		h.Timestamp = fromNanos(ts)
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: history: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Events(ctx context.Context, leadID string, limit int) ([]model.Event, error) {
	if limit < 1 {
		return nil, fmt.Errorf("limit %d: %w", limit, ErrInvalidLimit)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, lead_id, event_type, timestamp, metadata, processed FROM events
		 WHERE lead_id = ? ORDER BY timestamp DESC, rowid DESC LIMIT ?`, leadID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: events: %w", err)
	}
	return collectEvents(rows, "events")
}

func (s *SQLiteStore) Pending(ctx context.Context, limit int) ([]model.Event, error) {
	if limit < 1 {
		return nil, fmt.Errorf("limit %d: %w", limit, ErrInvalidLimit)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, lead_id, event_type, timestamp, metadata, processed FROM events
		 WHERE processed = 0 ORDER BY timestamp ASC, event_id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: pending: %w", err)
	}
	return collectEvents(rows, "pending")
}

func collectEvents(rows *sql.Rows, op string) ([]model.Event, error) {
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: %s: %w", op, err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(r rowScanner) (model.Event, error) {
	var (
		e    model.Event
		ts   int64
		meta string
	)
	if err := r.Scan(&e.EventID, &e.LeadID, &e.EventType, &ts, &meta, &e.Processed); err != nil {
		return model.Event{}, err
	}
	e.Timestamp = fromNanos(ts)
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
			return model.Event{}, fmt.Errorf("sqlite: decode metadata for %q: %w", e.EventID, err)
		}
	}
	return e, nil
}

func (s *SQLiteStore) GetEvent(ctx context.Context, eventID string) (model.Event, error) {
	return getEvent(ctx, s.db, eventID)
}

func getEvent(ctx context.Context, q queryer, eventID string) (model.Event, error) {
	row := q.QueryRowContext(ctx,
		`SELECT event_id, lead_id, event_type, timestamp, metadata, processed FROM events WHERE event_id = ?`, eventID)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Event{}, fmt.Errorf("event %q: %w", eventID, ErrNotFound)
	}
	if err != nil {
		return model.Event{}, fmt.Errorf("sqlite: get event: %w", err)
	}
	return e, nil
}

// insertEvent returns false when the event id already exists.
func insertEvent(ctx context.Context, q queryer, e model.Event) (bool, error) {
	meta := "{}"
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return false, fmt.Errorf("sqlite: encode metadata: %w", err)
		}
		meta = string(b)
	}
	res, err := q.ExecContext(ctx,
		`INSERT INTO events(event_id, lead_id, event_type, timestamp, metadata, processed)
		 VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT(event_id) DO NOTHING`,
		e.EventID, e.LeadID, e.EventType, e.Timestamp.UnixNano(), meta, e.Processed)
	if err != nil {
		return false, fmt.Errorf("sqlite: insert event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: insert event: %w", err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) RecordPending(ctx context.Context, e model.Event) error {
	release, err := s.acquireWriter(ctx)
	if err != nil {
		return err
	}
	defer release()

	e.Processed = false
	inserted, err := insertEvent(ctx, s.db, e)
	if err != nil || inserted {
		return err
	}
	cur, err := getEvent(ctx, s.db, e.EventID)
	if err != nil {
		return err
	}
	if cur.Processed {
		return fmt.Errorf("event %q: %w", e.EventID, ErrDuplicate)
	}
	if !SamePayload(cur, e) {
		return fmt.Errorf("event %q: %w", e.EventID, ErrConflict)
	}
	return nil
}

func (s *SQLiteStore) GetRule(ctx context.Context, eventType string) (model.ScoringRule, error) {
	var r model.ScoringRule
	err := s.db.QueryRowContext(ctx,
		`SELECT event_type, points, is_active FROM scoring_rules WHERE event_type = ?`, eventType,
	).Scan(&r.EventType, &r.Points, &r.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ScoringRule{}, fmt.Errorf("rule %q: %w", eventType, ErrNotFound)
	}
	if err != nil {
		return model.ScoringRule{}, fmt.Errorf("sqlite: get rule: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) PutRule(ctx context.Context, r model.ScoringRule) error {
	release, err := s.acquireWriter(ctx)
	if err != nil {
		return err
	}
	defer release()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scoring_rules(event_type, points, is_active) VALUES (?, ?, ?)
		 ON CONFLICT(event_type) DO UPDATE SET points = excluded.points, is_active = excluded.is_active`,
		r.EventType, r.Points, r.Active)
	if err != nil {
		return fmt.Errorf("sqlite: put rule: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListRules(ctx context.Context) ([]model.ScoringRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_type, points, is_active FROM scoring_rules ORDER BY event_type`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list rules: %w", err)
	}
	defer rows.Close()

	var out []model.ScoringRule
	for rows.Next() {
		var r model.ScoringRule
		if err := rows.Scan(&r.EventType, &r.Points, &r.Active); err != nil {
			return nil, fmt.Errorf("sqlite: scan rule: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list rules: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) CountRules(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scoring_rules`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count rules: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Update(ctx context.Context, leadID string, fn func(Tx) error) error {
	release, err := s.acquireWriter(ctx)
	if err != nil {
		return err
	}
	defer release()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&sqliteTx{tx: sqlTx, leadID: leadID}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqliteTx struct {
	tx     *sql.Tx
	leadID string
}

func (t *sqliteTx) GetLead(ctx context.Context, leadID string) (model.Lead, error) {
	return getLead(ctx, t.tx, leadID)
}

func (t *sqliteTx) PutLead(ctx context.Context, l model.Lead) error {
	if l.ID != t.leadID {
		return fmt.Errorf("lead %q outside transaction for %q: %w", l.ID, t.leadID, ErrInvalidLead)
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO leads(id, score, last_event_id, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET score = excluded.score,
		   last_event_id = excluded.last_event_id, updated_at = excluded.updated_at`,
		l.ID, l.Score, l.LastEventID, l.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("sqlite: put lead: %w", err)
	}
	return nil
}

func (t *sqliteTx) GetEvent(ctx context.Context, eventID string) (model.Event, error) {
	return getEvent(ctx, t.tx, eventID)
}

func (t *sqliteTx) InsertEvent(ctx context.Context, e model.Event) error {
	inserted, err := insertEvent(ctx, t.tx, e)
	if err != nil {
		return err
	}
	if !inserted {
		return fmt.Errorf("event %q: %w", e.EventID, ErrDuplicate)
	}
	return nil
}

func (t *sqliteTx) MarkProcessed(ctx context.Context, eventID string) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE events SET processed = 1 WHERE event_id = ? AND processed = 0`, eventID)
	if err != nil {
		return fmt.Errorf("sqlite: mark processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: mark processed: %w", err)
	}
	if n == 1 {
		return nil
	}
	if _, err := getEvent(ctx, t.tx, eventID); err != nil {
		return err
	}
	return fmt.Errorf("event %q: %w", eventID, ErrDuplicate)
}

func (t *sqliteTx) AppendHistory(ctx context.Context, h model.ScoreHistoryEntry) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO score_history(id, lead_id, event_id, old_score, new_score, delta, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.LeadID, h.EventID, h.OldScore, h.NewScore, h.Delta, h.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("sqlite: append history: %w", err)
	}
	return nil
}

func fromNanos(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}
