package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sessions.db")
	s, err := Open(path, time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndTouchSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateSession(ctx, 1024)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.NoError(t, s.Touch(ctx, id))
}

func TestAddFilesQuotaEnforced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateSession(ctx, 100)
	require.NoError(t, err)

	require.NoError(t, s.AddFiles(ctx, id, []string{"a.log"}, []int64{50}))
	err = s.AddFiles(ctx, id, []string{"b.log"}, []int64{60})
	require.Error(t, err)
}

func TestSetMemoryRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateSession(ctx, 1024)
	require.NoError(t, err)
	require.NoError(t, s.SetMemory(ctx, id, "topic", "nightly batch failures"))
	require.NoError(t, s.SetMemory(ctx, id, "topic", "updated value"))
}

func TestRecordSearchHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateSession(ctx, 1024)
	require.NoError(t, err)
	require.NoError(t, s.RecordSearch(ctx, id, "fp-123", []HitRef{{FilePath: "a.log", LineNumber: 1}}))
}

func TestQuotaAndBytesScanned(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateSession(ctx, 100)
	require.NoError(t, err)

	require.NoError(t, s.CheckQuota(ctx, id, 60))
	require.NoError(t, s.AddBytesScanned(ctx, id, 60))
	require.Error(t, s.CheckQuota(ctx, id, 60))

	sess, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, int64(60), sess.BytesScannedTotal)
}

func TestRemoveMemory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateSession(ctx, 1024)
	require.NoError(t, err)
	require.NoError(t, s.SetMemory(ctx, id, "topic", "value"))

	mems, err := s.Memories(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "value", mems["topic"])

	require.NoError(t, s.RemoveMemory(ctx, id, "topic"))
	mems, err = s.Memories(ctx, id)
	require.NoError(t, err)
	require.NotContains(t, mems, "topic")
}

func TestHistoryOrderedNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateSession(ctx, 1024)
	require.NoError(t, err)
	require.NoError(t, s.RecordSearch(ctx, id, "fp-1", []HitRef{{FilePath: "a.log", LineNumber: 1}}))
	require.NoError(t, s.RecordSearch(ctx, id, "fp-2", nil))

	hist, err := s.History(ctx, id, 10)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	require.Equal(t, "fp-2", hist[0].Fingerprint)
	require.Equal(t, 1, hist[1].HitCount)
}

func TestReapExpiredSessions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	s, err := Open(path, time.Millisecond)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	_, err = s.CreateSession(ctx, 1024)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	n, err := s.ReapExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}
