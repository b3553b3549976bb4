package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velikanghost/riskon/internal/domain"
)

// countingPass counts how many passes ran, for loop cadence assertions.
type countingPass struct {
	resolves atomic.Int64
	launches atomic.Int64
}

func (c *countingPass) Run(context.Context) domain.ResolvePassResult {
	c.resolves.Add(1)
	return domain.ResolvePassResult{PassID: "pass"}
}

type countingLaunch struct {
	counter *countingPass
}

func (c countingLaunch) Run(context.Context) domain.LaunchPassResult {
	c.counter.launches.Add(1)
	return domain.LaunchPassResult{PassID: "pass"}
}

func fastConfig() Config {
	return Config{
		ResolveInterval:     10 * time.Millisecond,
		NewRoundInterval:    10 * time.Millisecond,
		NewRoundWarmup:      0,
		EnableAutoResolve:   true,
		EnableAutoNewRounds: true,
	}
}

func newTestScheduler(cfg Config) (*Scheduler, *countingPass) {
	counter := &countingPass{}
	s := New(cfg, counter, countingLaunch{counter}, quietLogger())
	return s, counter
}

func TestSchedulerStartRunsBothLoops(t *testing.T) {
	s, counter := newTestScheduler(fastConfig())
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		return counter.resolves.Load() >= 2 && counter.launches.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond, "both loops should tick repeatedly")

	status := s.Status()
	assert.True(t, status.Running)
	assert.True(t, status.Loops.Resolve)
	assert.True(t, status.Loops.NewRounds)
}

func TestSchedulerStopHaltsTicks(t *testing.T) {
	s, counter := newTestScheduler(fastConfig())
	s.Start()

	require.Eventually(t, func() bool {
		return counter.resolves.Load() >= 1
	}, 2*time.Second, 5*time.Millisecond)

	s.Stop()
	after := counter.resolves.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, counter.resolves.Load(), "no passes after Stop returns")

	status := s.Status()
	assert.False(t, status.Running)
	assert.False(t, status.Loops.Resolve)
	assert.False(t, status.Loops.NewRounds)
}

func TestSchedulerDoubleStartIsNoop(t *testing.T) {
	s, _ := newTestScheduler(fastConfig())
	s.Start()
	defer s.Stop()
	s.Start() // warns, does not spawn a second set of loops

	assert.True(t, s.Status().Running)
}

func TestSchedulerStopWhenStoppedIsNoop(t *testing.T) {
	s, _ := newTestScheduler(fastConfig())
	s.Stop()
	assert.False(t, s.Status().Running)
}

func TestSchedulerDisabledLoopsDoNotRun(t *testing.T) {
	cfg := fastConfig()
	cfg.EnableAutoNewRounds = false
	s, counter := newTestScheduler(cfg)
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		return counter.resolves.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	assert.Zero(t, counter.launches.Load())
	status := s.Status()
	assert.True(t, status.Loops.Resolve)
	assert.False(t, status.Loops.NewRounds)
}

func TestSchedulerWarmupDelaysNewRoundLoop(t *testing.T) {
	cfg := fastConfig()
	cfg.NewRoundWarmup = time.Hour
	s, counter := newTestScheduler(cfg)
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		return counter.resolves.Load() >= 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Zero(t, counter.launches.Load(), "no launch pass during warm-up")
	assert.False(t, s.Status().Loops.NewRounds, "loop not live until warm-up elapses")
}

func TestSchedulerManualTriggersWorkWhileStopped(t *testing.T) {
	s, counter := newTestScheduler(fastConfig())

	res := s.ManualResolveCheck(context.Background())
	assert.Equal(t, "pass", res.PassID)
	launch := s.ManualNewRoundCheck(context.Background())
	assert.Equal(t, "pass", launch.PassID)

	assert.Equal(t, int64(1), counter.resolves.Load())
	assert.Equal(t, int64(1), counter.launches.Load())
	assert.False(t, s.Status().Running)
}

func TestSchedulerUpdateConfigWhileStopped(t *testing.T) {
	s, _ := newTestScheduler(fastConfig())

	interval := 90 * time.Second
	enabled := false
	got := s.UpdateConfig(ConfigPatch{
		ResolveInterval:   &interval,
		EnableAutoResolve: &enabled,
	})

	assert.Equal(t, 90*time.Second, got.ResolveInterval)
	assert.False(t, got.EnableAutoResolve)
	// untouched fields keep their values
	assert.Equal(t, 10*time.Millisecond, got.NewRoundInterval)
	assert.False(t, s.Status().Running, "config update does not start a stopped scheduler")
}

func TestSchedulerUpdateConfigRestartsWhenRunning(t *testing.T) {
	s, counter := newTestScheduler(fastConfig())
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		return counter.launches.Load() >= 1
	}, 2*time.Second, 5*time.Millisecond)

	enabled := false
	s.UpdateConfig(ConfigPatch{EnableAutoNewRounds: &enabled})

	assert.True(t, s.Status().Running, "scheduler stays running across a config update")
	after := counter.launches.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, counter.launches.Load(), "disabled loop stops ticking after restart")
	require.Eventually(t, func() bool {
		return s.Status().Loops.Resolve
	}, 2*time.Second, 5*time.Millisecond, "resolve loop survives the restart")
}

type resolvePassFunc func(context.Context) domain.ResolvePassResult

func (f resolvePassFunc) Run(ctx context.Context) domain.ResolvePassResult { return f(ctx) }

func TestSchedulerStopDoesNotBlockStatus(t *testing.T) {
	inPass := make(chan struct{})
	release := make(chan struct{})
	blocking := resolvePassFunc(func(context.Context) domain.ResolvePassResult {
		close(inPass)
		<-release
		return domain.ResolvePassResult{PassID: "pass"}
	})

	s := New(Config{
		ResolveInterval:   time.Hour,
		EnableAutoResolve: true,
	}, blocking, countingLaunch{&countingPass{}}, quietLogger())

	s.Start()
	<-inPass

	stopDone := make(chan struct{})
	go func() {
		s.Stop()
		close(stopDone)
	}()

	// Stop is draining the in-flight pass; Status must still answer.
	require.Eventually(t, func() bool {
		return !s.Status().Running
	}, 2*time.Second, 5*time.Millisecond, "Status stalls while Stop waits on a pass")

	select {
	case <-stopDone:
		t.Fatal("Stop returned before the in-flight pass finished")
	default:
	}

	close(release)
	select {
	case <-stopDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the pass finished")
	}
}

func TestSchedulerRestartAfterStop(t *testing.T) {
	s, counter := newTestScheduler(fastConfig())
	s.Start()
	require.Eventually(t, func() bool {
		return counter.resolves.Load() >= 1
	}, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	before := counter.resolves.Load()
	s.Start()
	defer s.Stop()
	require.Eventually(t, func() bool {
		return counter.resolves.Load() > before
	}, 2*time.Second, 5*time.Millisecond, "loops run again after a restart")
}
