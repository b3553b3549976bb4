package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/velikanghost/riskon/internal/domain"
)

// ResolvePass runs one resolve pass. Implemented by *Resolver.
type ResolvePass interface {
	Run(ctx context.Context) domain.ResolvePassResult
}

// LaunchPass runs one new-round pass. Implemented by *Launcher.
type LaunchPass interface {
	Run(ctx context.Context) domain.LaunchPassResult
}

// Config holds the scheduler's loop settings.
type Config struct {
	// ResolveInterval is the period of the resolve loop. The loop also runs
	// one pass immediately on start.
	ResolveInterval time.Duration `json:"resolveIntervalMs"`

	// NewRoundInterval is the period of the new-round loop.
	NewRoundInterval time.Duration `json:"newRoundIntervalMs"`

	// NewRoundWarmup delays the first new-round pass after start so that
	// just-ended rounds get resolved before fresh ones open.
	NewRoundWarmup time.Duration `json:"newRoundWarmupMs"`

	// EnableAutoResolve and EnableAutoNewRounds gate the two loops
	// independently. Manual triggers work regardless.
	EnableAutoResolve   bool `json:"enableAutoResolve"`
	EnableAutoNewRounds bool `json:"enableAutoNewRounds"`
}

// DefaultConfig matches a 3-minute round cadence.
func DefaultConfig() Config {
	return Config{
		ResolveInterval:     30 * time.Second,
		NewRoundInterval:    60 * time.Second,
		NewRoundWarmup:      10 * time.Second,
		EnableAutoResolve:   true,
		EnableAutoNewRounds: true,
	}
}

// ConfigPatch is a partial config update; nil fields keep their current value.
type ConfigPatch struct {
	ResolveInterval     *time.Duration
	NewRoundInterval    *time.Duration
	NewRoundWarmup      *time.Duration
	EnableAutoResolve   *bool
	EnableAutoNewRounds *bool
}

// Status is a point-in-time snapshot of the scheduler.
type Status struct {
	Running bool   `json:"isRunning"`
	Config  Config `json:"config"`
	Loops   Loops  `json:"intervals"`
}

// Loops reports which timed loops currently hold a live timer. The new-round
// loop counts as live only once its warm-up delay has elapsed.
type Loops struct {
	Resolve   bool `json:"resolve"`
	NewRounds bool `json:"newRounds"`
}

// Scheduler owns the two timed loops and their lifecycle. Start, Stop,
// UpdateConfig and Status are safe for concurrent use; manual passes can run
// while the loops are active and serialize against them per pass kind.
type Scheduler struct {
	resolver ResolvePass
	launcher LaunchPass
	logger   *slog.Logger

	mu      sync.Mutex // guards running, cfg, cancel, wg lifecycle
	running bool
	cfg     Config
	cancel  context.CancelFunc
	wg      *sync.WaitGroup // per generation; Stop waits on it outside mu

	// Pass mutexes serialize manual triggers against loop ticks of the same
	// kind, so two resolve passes never interleave within one process.
	resolvePassMu sync.Mutex
	launchPassMu  sync.Mutex

	// Live-loop counters rather than flags: during a restart the outgoing
	// generation's loops may overlap the incoming one's.
	resolveLive atomic.Int32
	launchLive  atomic.Int32
}

// New creates a stopped Scheduler.
func New(cfg Config, resolver ResolvePass, launcher LaunchPass, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		resolver: resolver,
		launcher: launcher,
		logger:   logger.With(slog.String("component", "scheduler")),
		cfg:      cfg,
	}
}

// Start launches the enabled loops. Starting a running scheduler logs a
// warning and does nothing.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked()
}

func (s *Scheduler) startLocked() {
	if s.running {
		s.logger.Warn("scheduler already running")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true
	s.wg = &sync.WaitGroup{}
	cfg := s.cfg

	if cfg.EnableAutoResolve {
		s.wg.Add(1)
		go s.resolveLoop(ctx, s.wg, cfg.ResolveInterval)
	}
	if cfg.EnableAutoNewRounds {
		s.wg.Add(1)
		go s.launchLoop(ctx, s.wg, cfg.NewRoundWarmup, cfg.NewRoundInterval)
	}

	s.logger.Info("scheduler started",
		slog.Duration("resolve_interval", cfg.ResolveInterval),
		slog.Duration("new_round_interval", cfg.NewRoundInterval),
		slog.Bool("auto_resolve", cfg.EnableAutoResolve),
		slog.Bool("auto_new_rounds", cfg.EnableAutoNewRounds),
	)
}

// Stop cancels the loops and waits for any in-flight pass to finish. The
// in-flight pass itself is not cancelled, only future ticks are. The wait
// happens outside the state lock so Status stays responsive while a pass
// drains. Stopping a stopped scheduler logs a warning and does nothing.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	wait := s.stopLocked()
	s.mu.Unlock()
	wait()
}

// stopLocked cancels the current generation and flips the state. It returns a
// wait function the caller invokes after releasing the state lock.
func (s *Scheduler) stopLocked() func() {
	if !s.running {
		s.logger.Warn("scheduler not running")
		return func() {}
	}
	s.cancel()
	s.cancel = nil
	s.running = false
	wg := s.wg
	return func() {
		wg.Wait()
		s.logger.Info("scheduler stopped")
	}
}

// UpdateConfig merges the patch into the current config. If the scheduler is
// running it restarts so every loop picks up the new settings; if stopped, the
// new config applies on the next Start.
func (s *Scheduler) UpdateConfig(patch ConfigPatch) Config {
	s.mu.Lock()

	if patch.ResolveInterval != nil {
		s.cfg.ResolveInterval = *patch.ResolveInterval
	}
	if patch.NewRoundInterval != nil {
		s.cfg.NewRoundInterval = *patch.NewRoundInterval
	}
	if patch.NewRoundWarmup != nil {
		s.cfg.NewRoundWarmup = *patch.NewRoundWarmup
	}
	if patch.EnableAutoResolve != nil {
		s.cfg.EnableAutoResolve = *patch.EnableAutoResolve
	}
	if patch.EnableAutoNewRounds != nil {
		s.cfg.EnableAutoNewRounds = *patch.EnableAutoNewRounds
	}

	var wait func()
	if s.running {
		wait = s.stopLocked()
		s.startLocked()
	}
	cfg := s.cfg
	s.mu.Unlock()

	if wait != nil {
		wait()
	}
	return cfg
}

// Status reports the current lifecycle state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Running: s.running,
		Config:  s.cfg,
		Loops: Loops{
			Resolve:   s.resolveLive.Load() > 0,
			NewRounds: s.launchLive.Load() > 0,
		},
	}
}

// ManualResolveCheck runs one resolve pass immediately, independent of the
// loops and of the running state.
func (s *Scheduler) ManualResolveCheck(ctx context.Context) domain.ResolvePassResult {
	return s.runResolvePass(ctx)
}

// ManualNewRoundCheck runs one new-round pass immediately, independent of the
// loops and of the running state.
func (s *Scheduler) ManualNewRoundCheck(ctx context.Context) domain.LaunchPassResult {
	return s.runLaunchPass(ctx)
}

func (s *Scheduler) resolveLoop(ctx context.Context, wg *sync.WaitGroup, interval time.Duration) {
	defer wg.Done()
	s.resolveLive.Add(1)
	defer s.resolveLive.Add(-1)

	// Passes run under a detached context so that Stop cancels future ticks
	// without interrupting a pass already in flight.
	s.runResolvePass(context.WithoutCancel(ctx))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runResolvePass(context.WithoutCancel(ctx))
		}
	}
}

func (s *Scheduler) launchLoop(ctx context.Context, wg *sync.WaitGroup, warmup, interval time.Duration) {
	defer wg.Done()

	if warmup > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(warmup):
		}
	}
	s.launchLive.Add(1)
	defer s.launchLive.Add(-1)

	s.runLaunchPass(context.WithoutCancel(ctx))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runLaunchPass(context.WithoutCancel(ctx))
		}
	}
}

func (s *Scheduler) runResolvePass(ctx context.Context) domain.ResolvePassResult {
	s.resolvePassMu.Lock()
	defer s.resolvePassMu.Unlock()
	return s.resolver.Run(ctx)
}

func (s *Scheduler) runLaunchPass(ctx context.Context) domain.LaunchPassResult {
	s.launchPassMu.Lock()
	defer s.launchPassMu.Unlock()
	return s.launcher.Run(ctx)
}
