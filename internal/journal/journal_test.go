package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndList(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.Record(ctx, Entry{
		Kind: KindTask, TaskID: "t1", Platform: "zhihu", Outcome: OutcomeFailed,
		Error: "publish button not found", Delivered: true, Duration: 1500 * time.Millisecond, At: base,
	}))
	require.NoError(t, s.Record(ctx, Entry{
		Kind: KindResume, TaskID: "t2", Platform: "zhihu", Outcome: OutcomeSuccess,
		URL: "https://zhuanlan.zhihu.com/p/42", Delivered: true, At: base.Add(time.Minute),
	}))

	entries, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "t2", entries[0].TaskID, "newest first")
	assert.Equal(t, KindResume, entries[0].Kind)
	assert.Equal(t, "https://zhuanlan.zhihu.com/p/42", entries[0].URL)

	first := entries[1]
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, OutcomeFailed, first.Outcome)
	assert.Equal(t, "publish button not found", first.Error)
	assert.True(t, first.Delivered)
	assert.Equal(t, 1500*time.Millisecond, first.Duration)
	assert.True(t, base.Equal(first.At))

	limited, err := s.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "t2", limited[0].TaskID)
}

func TestRecordStampsTime(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	fixed := time.Date(2026, 5, 5, 5, 5, 5, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	require.NoError(t, s.Record(ctx, Entry{Kind: KindTask, TaskID: "t1", Platform: "zhihu", Outcome: OutcomeRedirected}))
	entries, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, fixed.Equal(entries[0].At))
	assert.False(t, entries[0].Delivered)
}

func TestJournalPersistsOnDisk(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "quill.db")

	s, err := Open(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, s.Record(ctx, Entry{Kind: KindTask, TaskID: "t1", Platform: "zhihu", Outcome: OutcomeSuccess}))
	require.NoError(t, s.Close())

	reopened, err := Open(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer reopened.Close()
	entries, err := reopened.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "t1", entries[0].TaskID)
}
