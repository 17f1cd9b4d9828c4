package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name string
	runs atomic.Int32
	err  error
}

func (j *countingJob) Name() string        { return j.name }
func (j *countingJob) Description() string { return "counts runs" }
func (j *countingJob) Run(context.Context) error {
	j.runs.Add(1)
	return j.err
}

func TestParseSchedule(t *testing.T) {
	for spec, want := range map[string]time.Duration{
		"@every 15m": 15 * time.Minute,
		"30s":        30 * time.Second,
		"@hourly":    time.Hour,
		"@daily":     24 * time.Hour,
	} {
		s, err := ParseSchedule(spec)
		require.NoError(t, err, spec)
		assert.Equal(t, want, s.(*IntervalSchedule).Interval, spec)
	}

	for _, spec := range []string{"", "*/5 * * * *", "@every 10ms", "soon"} {
		_, err := ParseSchedule(spec)
		assert.ErrorIs(t, err, ErrInvalidSchedule, spec)
	}

	assert.Equal(t, "@every 1m0s", NewIntervalSchedule(time.Minute).String())
}

func TestScheduler_RunsDueJobs(t *testing.T) {
	clk := testclock.NewClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s := NewScheduler(SchedulerConfig{Clock: clk})

	job := &countingJob{name: "audit"}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Minute)))
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, clk.WaitAdvance(time.Minute, 5*time.Second, 1))
	assert.Eventually(t, func() bool { return job.runs.Load() == 1 }, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())

	infos := s.ListJobs()
	require.Len(t, infos, 1)
	assert.Equal(t, int64(1), infos[0].RunCount)
	assert.Equal(t, clk.Now().Add(time.Minute), infos[0].NextRun)
}

func TestScheduler_Registration(t *testing.T) {
	s := NewScheduler(SchedulerConfig{})
	job := &countingJob{name: "audit"}

	assert.ErrorIs(t, s.Register(nil, NewIntervalSchedule(time.Minute)), ErrNilJob)
	assert.ErrorIs(t, s.Register(job, nil), ErrNilSchedule)
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Minute)))
	assert.ErrorIs(t, s.Register(job, NewIntervalSchedule(time.Minute)), ErrJobAlreadyExists)

	assert.ErrorIs(t, s.SetEnabled("missing", true), ErrJobNotFound)
	require.NoError(t, s.SetEnabled("audit", false))
	assert.False(t, s.ListJobs()[0].Enabled)

	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)
}

func TestScheduler_RunNow(t *testing.T) {
	s := NewScheduler(SchedulerConfig{})
	job := &countingJob{name: "audit", err: errors.New("store down")}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Hour)))

	res, err := s.RunNow(context.Background(), "audit")
	require.Error(t, err)
	assert.True(t, res.Manual)
	assert.False(t, res.Success)
	assert.Equal(t, int32(1), job.runs.Load())

	snap := s.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.TotalFailures)

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}
