package cmd

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	coreconfig "github.com/AzielCF/az-crm/core/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingReaper struct {
	calls   atomic.Int32
	maxIdle atomic.Int64
}

func (r *countingReaper) ReapIdle(_ context.Context, maxIdle time.Duration) (int, error) {
	r.calls.Add(1)
	r.maxIdle.Store(int64(maxIdle))
	return 1, nil
}

func TestStartReaper_RunsOnSchedule(t *testing.T) {
	reaper := &countingReaper{}
	stop := startReaper(context.Background(), reaper, coreconfig.SessionConfig{
		ReaperSpec:    "@every 1s",
		ReaperMaxIdle: time.Hour,
	})

	require.Eventually(t, func() bool { return reaper.calls.Load() > 0 }, 3*time.Second, 20*time.Millisecond)
	stop()
	assert.Equal(t, int64(time.Hour), reaper.maxIdle.Load())
}

func TestStartReaper_Disabled(t *testing.T) {
	reaper := &countingReaper{}

	stop := startReaper(context.Background(), reaper, coreconfig.SessionConfig{ReaperMaxIdle: time.Hour})
	stop()

	stop = startReaper(context.Background(), reaper, coreconfig.SessionConfig{ReaperSpec: "not a spec", ReaperMaxIdle: time.Hour})
	stop()

	assert.Zero(t, reaper.calls.Load())
}
