package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"
)

// Storage wraps the vaultd persistence layer: raw oracle samples, aggregated
// price snapshots and the notification index.
type Storage struct {
	db *sql.DB
}

var (
	// ErrPathRequired is returned when the backing store path is missing.
	ErrPathRequired = errors.New("vaultd storage path must be configured")
	// ErrNotFound is returned when a lookup has no matching row.
	ErrNotFound = errors.New("vaultd storage: not found")
)

// Open initialises the backing store using sqlite-compatible DSN.
func Open(dsn string) (*Storage, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Storage{db: db}, nil
}

// Close releases database resources.
func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("storage not configured")
	}
	return s.db.PingContext(ctx)
}

// Sample is a single accepted source quote.
type Sample struct {
	Source     string
	Price      string
	ObservedAt time.Time
	RecordedAt time.Time
}

// RecordSample persists a raw oracle quote. Price is an 18-decimal string.
func (s *Storage) RecordSample(ctx context.Context, pair string, sample Sample) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	if strings.TrimSpace(sample.Price) == "" {
		return fmt.Errorf("sample missing price")
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO oracle_samples(pair, source, price, observed_at, recorded_at)
        VALUES(?, ?, ?, ?, ?)
    `, normalizePair(pair), strings.ToLower(strings.TrimSpace(sample.Source)), sample.Price, sample.ObservedAt.UTC().Unix(), sample.RecordedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

// RecentSamples returns up to limit samples for the pair, newest first.
func (s *Storage) RecentSamples(ctx context.Context, pair string, limit int) ([]Sample, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT source, price, observed_at, recorded_at
        FROM oracle_samples
        WHERE pair = ?
        ORDER BY id DESC
        LIMIT ?
    `, normalizePair(pair), limit)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()
	out := make([]Sample, 0)
	for rows.Next() {
		var (
			sample   Sample
			observed int64
		)
		if err := rows.Scan(&sample.Source, &sample.Price, &observed, &sample.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		sample.ObservedAt = time.Unix(observed, 0).UTC()
		out = append(out, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate samples: %w", err)
	}
	return out, nil
}

// PruneSamples removes samples recorded before the cutoff.
func (s *Storage) PruneSamples(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil {
		return 0, fmt.Errorf("storage not configured")
	}
	result, err := s.db.ExecContext(ctx, `
        DELETE FROM oracle_samples
        WHERE recorded_at < ?
    `, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune samples: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return affected, nil
}

// Snapshot captures an aggregated median published to the price feed.
type Snapshot struct {
	Pair       string
	Median     string
	Feeders    []string
	ProofID    string
	ObservedAt time.Time
	RecordedAt time.Time
}

// RecordSnapshot stores the aggregated median snapshot.
func (s *Storage) RecordSnapshot(ctx context.Context, snap Snapshot) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	recorded := snap.RecordedAt
	if recorded.IsZero() {
		recorded = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO oracle_snapshots(pair, median, feeders, proof_id, observed_at, recorded_at)
        VALUES(?, ?, ?, ?, ?, ?)
    `, normalizePair(snap.Pair), strings.TrimSpace(snap.Median), strings.Join(snap.Feeders, ","), snap.ProofID, snap.ObservedAt.UTC().Unix(), recorded.UTC())
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the most recent aggregated median for the pair.
func (s *Storage) LatestSnapshot(ctx context.Context, pair string) (Snapshot, error) {
	result := Snapshot{Pair: normalizePair(pair)}
	if s == nil {
		return result, fmt.Errorf("storage not configured")
	}
	row := s.db.QueryRowContext(ctx, `
        SELECT median, feeders, proof_id, observed_at, recorded_at
        FROM oracle_snapshots
        WHERE pair = ?
        ORDER BY id DESC
        LIMIT 1
    `, result.Pair)
	var (
		feeders  string
		observed int64
	)
	if err := row.Scan(&result.Median, &feeders, &result.ProofID, &observed, &result.RecordedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return result, ErrNotFound
		}
		return result, fmt.Errorf("query snapshot: %w", err)
	}
	result.ObservedAt = time.Unix(observed, 0).UTC()
	if feeders != "" {
		result.Feeders = strings.Split(feeders, ",")
	}
	return result, nil
}

// EventRecord is a persisted notification.
type EventRecord struct {
	Seq        int64             `json:"seq"`
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Account    string            `json:"account,omitempty"`
	Attributes map[string]string `json:"attributes"`
	RecordedAt time.Time         `json:"recordedAt"`
}

// EventQuery filters ListEvents. Zero fields match everything.
type EventQuery struct {
	Type     string
	Account  string
	BeforeID int64
	Limit    int
}

// RecordEvent appends a notification to the index and returns its sequence.
func (s *Storage) RecordEvent(ctx context.Context, rec EventRecord) (int64, error) {
	if s == nil {
		return 0, fmt.Errorf("storage not configured")
	}
	if strings.TrimSpace(rec.ID) == "" || strings.TrimSpace(rec.Type) == "" {
		return 0, fmt.Errorf("event record incomplete")
	}
	attrs := rec.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return 0, fmt.Errorf("encode attributes: %w", err)
	}
	recorded := rec.RecordedAt
	if recorded.IsZero() {
		recorded = time.Now()
	}
	result, err := s.db.ExecContext(ctx, `
        INSERT INTO vault_events(event_id, type, account, attributes, recorded_at)
        VALUES(?, ?, ?, ?, ?)
    `, rec.ID, rec.Type, strings.TrimSpace(rec.Account), string(encoded), recorded.UTC())
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	seq, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return seq, nil
}

// ListEvents returns indexed notifications newest first.
func (s *Storage) ListEvents(ctx context.Context, q EventQuery) ([]EventRecord, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	clauses := make([]string, 0, 3)
	args := make([]any, 0, 4)
	if t := strings.TrimSpace(q.Type); t != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, t)
	}
	if account := strings.TrimSpace(q.Account); account != "" {
		clauses = append(clauses, "account = ?")
		args = append(args, account)
	}
	if q.BeforeID > 0 {
		clauses = append(clauses, "seq < ?")
		args = append(args, q.BeforeID)
	}
	query := "SELECT seq, event_id, type, account, attributes, recorded_at FROM vault_events"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY seq DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	out := make([]EventRecord, 0)
	for rows.Next() {
		var (
			rec   EventRecord
			attrs string
		)
		if err := rows.Scan(&rec.Seq, &rec.ID, &rec.Type, &rec.Account, &attrs, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		rec.Attributes = map[string]string{}
		if attrs != "" {
			if err := json.Unmarshal([]byte(attrs), &rec.Attributes); err != nil {
				return nil, fmt.Errorf("decode attributes: %w", err)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

func normalizePair(pair string) string {
	return strings.ToUpper(strings.TrimSpace(pair))
}

// PairKey renders a base/quote pair in its storage form.
func PairKey(base, quote string) string {
	return normalizePair(base) + "/" + normalizePair(quote)
}

const schema = `
CREATE TABLE IF NOT EXISTS oracle_samples (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    pair TEXT NOT NULL,
    source TEXT NOT NULL,
    price TEXT NOT NULL,
    observed_at INTEGER NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_oracle_samples_pair ON oracle_samples(pair, id);

CREATE TABLE IF NOT EXISTS oracle_snapshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    pair TEXT NOT NULL,
    median TEXT NOT NULL,
    feeders TEXT NOT NULL,
    proof_id TEXT NOT NULL,
    observed_at INTEGER NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_oracle_snapshots_pair ON oracle_snapshots(pair, id);

CREATE TABLE IF NOT EXISTS vault_events (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id TEXT NOT NULL UNIQUE,
    type TEXT NOT NULL,
    account TEXT NOT NULL DEFAULT '',
    attributes TEXT NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_vault_events_type ON vault_events(type, seq);
CREATE INDEX IF NOT EXISTS idx_vault_events_account ON vault_events(account, seq);
`
