package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cnc-cam-core/pkg/errors"
	"cnc-cam-core/pkg/stream"
)

func openStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "history.db")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

// clock returns a fake time source advancing one second per call.
func clock(start time.Time) func() time.Time {
	now := start
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

func TestBeginAndFinish(t *testing.T) {
	ctx := context.Background()
	s, _ := openStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = clock(base)

	id, err := s.Begin(ctx, "part.nc", 124)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)

	j, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "part.nc", j.File)
	assert.Equal(t, 124, j.Lines)
	assert.Equal(t, StateRunning, j.State)
	assert.True(t, j.Finished.IsZero())
	assert.Zero(t, j.Duration())

	st := stream.Stats{Sent: 126, Completed: 123, Failed: 1, Retried: 2}
	require.NoError(t, s.Finish(ctx, id, st, StateFailed, errors.FirmwareError(20, "Unsupported command")))

	j, err = s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, j.State)
	assert.Equal(t, uint64(126), j.Sent)
	assert.Equal(t, uint64(123), j.Completed)
	assert.Equal(t, uint64(1), j.Failed)
	assert.Equal(t, uint64(2), j.Retried)
	assert.Contains(t, j.Error, "Unsupported command")
	assert.True(t, j.Started.Equal(base.Add(time.Second)))
	assert.Equal(t, time.Second, j.Duration())
}

func TestGetUnknownJob(t *testing.T) {
	s, _ := openStore(t)
	_, err := s.Get(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	err = s.Finish(context.Background(), uuid.New(), stream.Stats{}, StateCompleted, nil)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestListNewestFirst(t *testing.T) {
	ctx := context.Background()
	s, _ := openStore(t)
	s.now = clock(time.Unix(1_700_000_000, 0))

	var ids []uuid.UUID
	for _, f := range []string{"a.nc", "b.nc", "c.nc"} {
		id, err := s.Begin(ctx, f, 1)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].ID)
	assert.Equal(t, ids[0], all[2].ID)

	two, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, two, 2)
	assert.Equal(t, "c.nc", two[0].File)
	assert.Equal(t, "b.nc", two[1].File)
}

func TestReopenKeepsJobs(t *testing.T) {
	ctx := context.Background()
	s, path := openStore(t)
	id, err := s.Begin(ctx, "keep.nc", 3)
	require.NoError(t, err)
	require.NoError(t, s.Finish(ctx, id, stream.Stats{Sent: 3, Completed: 3}, StateCompleted, nil))
	require.NoError(t, s.Close())

	s2, err := Open(ctx, path)
	require.NoError(t, err)
	defer s2.Close()
	j, err := s2.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, j.State)
	assert.Empty(t, j.Error)
}

func TestFinalState(t *testing.T) {
	tests := []struct {
		name  string
		stats stream.Stats
		err   error
		want  string
	}{
		{"clean", stream.Stats{Completed: 10}, nil, StateCompleted},
		{"failed lines", stream.Stats{Completed: 9, Failed: 1}, nil, StateFailed},
		{"alarm", stream.Stats{}, errors.AlarmError(1, "Hard limit"), StateAlarm},
		{"context cancelled", stream.Stats{}, context.Canceled, StateCancelled},
		{"cancelled", stream.Stats{}, errors.Cancelled("stream"), StateCancelled},
		{"connection lost", stream.Stats{}, errors.ConnectionLost(nil), StateFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FinalState(tt.stats, tt.err))
		})
	}
}
