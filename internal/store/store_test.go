package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/muster/internal/record"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "muster.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenSQLiteCreatesDirectoryAndSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state", "muster.db")
	db, err := OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	defer db.Close()

	// Bootstrap is idempotent.
	require.NoError(t, BootstrapSQLite(context.Background(), db))

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM segments`).Scan(&n))
	assert.Equal(t, 0, n)
}

func TestOpenSQLiteEmptyPath(t *testing.T) {
	_, err := OpenSQLite(context.Background(), "")
	require.Error(t, err)
}

func TestSaveAndListSegments(t *testing.T) {
	s := New(openTestDB(t))

	start := time.Now().Add(-time.Minute).UTC().Truncate(time.Millisecond)
	for i := 1; i <= 3; i++ {
		require.NoError(t, s.SaveSegment(record.Artifact{
			Target:       "t1",
			SegmentIndex: i,
			Path:         "/tmp/seg.mp4",
			SizeBytes:    1024,
			Checksum:     "abc123",
			StartedAt:    start.Add(time.Duration(i) * time.Second),
			EndedAt:      start.Add(time.Duration(i+1) * time.Second),
		}))
	}
	require.NoError(t, s.SaveSegment(record.Artifact{
		Target:         "t2",
		SegmentIndex:   1,
		StartedAt:      start,
		EndedAt:        start.Add(time.Second),
		RetrievalError: "pull failed",
	}))

	segs, err := s.ListSegments(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, segs, 3)
	for i, seg := range segs {
		assert.Equal(t, i+1, seg.SegmentIndex)
		assert.Equal(t, "t1", seg.Target)
		assert.Empty(t, seg.RetrievalError)
	}

	other, err := s.ListSegments(context.Background(), "t2")
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, "pull failed", other[0].RetrievalError)

	none, err := s.ListSegments(context.Background(), "absent")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestLogBatchAndRecent(t *testing.T) {
	s := New(openTestDB(t))

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		_, err := s.LogBatch(context.Background(), BatchSummary{
			Commands:  10,
			Succeeded: 8,
			Failed:    1,
			TimedOut:  1,
			StartedAt: base.Add(time.Duration(i) * time.Second),
			Duration:  1500 * time.Millisecond,
		})
		require.NoError(t, err)
	}

	recent, err := s.RecentBatches(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	// Newest first.
	assert.True(t, recent[0].StartedAt.After(recent[1].StartedAt))
	assert.Equal(t, 1500*time.Millisecond, recent[0].Duration)
	assert.NotEmpty(t, recent[0].ID)
}
