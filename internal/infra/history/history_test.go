package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/lsimport/internal/domain"
)

func report(started time.Time) domain.RunReport {
	rr := domain.RunReport{
		RunID:      uuid.NewString(),
		Mode:       "import",
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
		Items: []domain.SceneResult{
			{SceneID: "LC81", Source: "/pool/LC81", Workspace: "LC81", Status: domain.StatusProcessed, Bands: []domain.BandResult{
				{Band: "B1", Layer: "B1", Status: domain.BandStatusImported},
				{Band: "B4", Layer: "B4", Status: domain.BandStatusFailed, ErrorCode: domain.ErrCodeBandAlreadyExists},
			}},
			{SceneID: "LC82", Source: "/pool/LC82", Status: domain.StatusExcluded, ErrorCode: domain.ErrCodeMetadataNotFound},
		},
	}
	rr.Finalize()
	return rr
}

func TestStore_RecordAndQuery(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "history.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	older := report(t0)
	newer := report(t0.Add(time.Hour))
	require.NoError(t, s.Record(ctx, older))
	require.NoError(t, s.Record(ctx, newer))

	runs, err := s.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, newer.RunID, runs[0].ID, "最近的运行排在前面")
	require.Equal(t, newer.Summary, runs[0].Summary)
	require.True(t, runs[1].StartedAt.Equal(t0))

	limited, err := s.Runs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)

	events, err := s.Events(ctx, older.RunID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, "B1", events[0].Band)
	require.Equal(t, domain.ErrCodeBandAlreadyExists, events[1].ErrorCode)
	require.Equal(t, "", events[2].Band)
	require.Equal(t, domain.StatusExcluded, events[2].Status)
}

func TestStore_DuplicateRunRejected(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, filepath.Join(t.TempDir(), "h.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	rr := report(time.Now())
	require.NoError(t, s.Record(ctx, rr))
	require.Error(t, s.Record(ctx, rr))

	// 失败的事务不应留下半截事件。
	events, err := s.Events(ctx, rr.RunID)
	require.NoError(t, err)
	require.Len(t, events, 3)
}

func TestStore_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "h.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Record(ctx, report(time.Now())))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	runs, err := s.Runs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
}

func TestStore_EmptyRunIDRejected(t *testing.T) {
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "h.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.Error(t, s.Record(context.Background(), domain.RunReport{}))
}
