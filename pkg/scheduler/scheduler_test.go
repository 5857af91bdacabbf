package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/budgeteer/pkg/metrics"
)

func noop(context.Context) error { return nil }

func TestAdd(t *testing.T) {
	tests := []struct {
		name      string
		schedule  string
		wantEntry bool
		wantError bool
	}{
		{name: "daily", schedule: "0 2 * * *", wantEntry: true},
		{name: "every four hours", schedule: "0 */4 * * *", wantEntry: true},
		{name: "on demand", schedule: ""},
		{name: "invalid", schedule: "every day", wantError: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(nil)
			err := s.Add(context.Background(), Job{Name: "job", Schedule: tt.schedule, Run: noop})
			if tt.wantError {
				require.Error(t, err)
				assert.ErrorIs(t, s.RunNow(context.Background(), "job"), ErrUnknownJob)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantEntry, len(s.Entries()) == 1)
		})
	}
}

func TestAddDuplicate(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Add(context.Background(), Job{Name: "monitor", Schedule: "*/5 * * * *", Run: noop}))
	assert.Error(t, s.Add(context.Background(), Job{Name: "monitor", Schedule: "0 * * * *", Run: noop}))
}

func TestStartStop(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Add(context.Background(), Job{Name: "refresh", Schedule: "0 2 * * *", Run: noop}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	assert.True(t, s.IsRunning())

	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "refresh", entries[0].Name)
	assert.False(t, entries[0].Next.IsZero())
	assert.Equal(t, 2, entries[0].Next.UTC().Hour())

	s.Stop()
	assert.False(t, s.IsRunning())
	s.Stop()
}

func TestRunNowRecordsMetrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	s := New(m)
	var calls atomic.Int32
	fail := errors.New("scan failed")

	require.NoError(t, s.Add(context.Background(), Job{Name: "ok", Run: func(context.Context) error {
		calls.Add(1)
		return nil
	}}))
	require.NoError(t, s.Add(context.Background(), Job{Name: "broken", Run: func(context.Context) error { return fail }}))

	require.NoError(t, s.RunNow(context.Background(), "ok"))
	assert.ErrorIs(t, s.RunNow(context.Background(), "broken"), fail)
	assert.ErrorIs(t, s.RunNow(context.Background(), "missing"), ErrUnknownJob)
	assert.Equal(t, int32(1), calls.Load())
}
