package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/muster/internal/record"
)

// timeFormat is how timestamps are stored; lexically sortable.
const timeFormat = time.RFC3339Nano

// Store wraps the SQLite handle with the daemon's persistence operations.
// It implements record.SegmentSink.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// SaveSegment persists one pulled segment artifact. Called from session
// goroutines, so it carries its own timeout instead of a caller context.
func (s *Store) SaveSegment(a record.Artifact) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO segments (id, target, segment_index, path, size_bytes, checksum, started_at, ended_at, retrieval_error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), a.Target, a.SegmentIndex, a.Path, a.SizeBytes, a.Checksum,
		a.StartedAt.UTC().Format(timeFormat), a.EndedAt.UTC().Format(timeFormat),
		nullable(a.RetrievalError))
	if err != nil {
		return fmt.Errorf("insert segment: %w", err)
	}
	return nil
}

// ListSegments returns target's persisted segments in segment order.
func (s *Store) ListSegments(ctx context.Context, target string) ([]record.Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT target, segment_index, path, size_bytes, checksum, started_at, ended_at, retrieval_error
		 FROM segments WHERE target = ? ORDER BY started_at, segment_index`, target)
	if err != nil {
		return nil, fmt.Errorf("query segments: %w", err)
	}
	defer rows.Close()

	var out []record.Artifact
	for rows.Next() {
		var (
			a                  record.Artifact
			startedAt, endedAt string
			path, checksum     sql.NullString
			retrievalError     sql.NullString
		)
		if err := rows.Scan(&a.Target, &a.SegmentIndex, &path, &a.SizeBytes, &checksum, &startedAt, &endedAt, &retrievalError); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		a.Path = path.String
		a.Checksum = checksum.String
		a.RetrievalError = retrievalError.String
		if a.StartedAt, err = time.Parse(timeFormat, startedAt); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if a.EndedAt, err = time.Parse(timeFormat, endedAt); err != nil {
			return nil, fmt.Errorf("parse ended_at: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// BatchSummary is one executed batch's history row.
type BatchSummary struct {
	ID          string        `json:"id"`
	Commands    int           `json:"commands"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	TimedOut    int           `json:"timed_out"`
	SpawnFailed int           `json:"spawn_failed"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
}

// LogBatch records an executed batch. The ID is assigned here when empty.
func (s *Store) LogBatch(ctx context.Context, b BatchSummary) (string, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO batch_log (id, commands, succeeded, failed, timed_out, spawn_failed, started_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Commands, b.Succeeded, b.Failed, b.TimedOut, b.SpawnFailed,
		b.StartedAt.UTC().Format(timeFormat), b.Duration.Milliseconds())
	if err != nil {
		return "", fmt.Errorf("insert batch log: %w", err)
	}
	return b.ID, nil
}

// RecentBatches returns up to limit batch summaries, newest first.
func (s *Store) RecentBatches(ctx context.Context, limit int) ([]BatchSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, commands, succeeded, failed, timed_out, spawn_failed, started_at, duration_ms
		 FROM batch_log ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query batch log: %w", err)
	}
	defer rows.Close()

	var out []BatchSummary
	for rows.Next() {
		var (
			b          BatchSummary
			startedAt  string
			durationMs int64
		)
		if err := rows.Scan(&b.ID, &b.Commands, &b.Succeeded, &b.Failed, &b.TimedOut, &b.SpawnFailed, &startedAt, &durationMs); err != nil {
			return nil, fmt.Errorf("scan batch log: %w", err)
		}
		if b.StartedAt, err = time.Parse(timeFormat, startedAt); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		b.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, b)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
