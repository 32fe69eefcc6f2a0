// Package scheduler runs periodic version checks, one cron job per
// enabled product.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/obentoo/gamepush/internal/common/logger"
	"github.com/obentoo/gamepush/internal/monitor"
)

// Checker runs one check cycle.
type Checker interface {
	CheckVersion(ctx context.Context, id monitor.ProductID, manual bool) (*monitor.CheckResult, error)
}

// Job describes one registered schedule.
type Job struct {
	Product monitor.ProductID
	Spec    string
}

// Scheduler owns the cron instance. Reload replaces every job from the
// current configuration.
type Scheduler struct {
	checker Checker
	config  monitor.ConfigSource
	parser  cron.Parser

	mu      sync.Mutex
	ctx     context.Context
	cron    *cron.Cron
	jobs    []Job
	started bool
}

// New creates a stopped scheduler.
func New(checker Checker, config monitor.ConfigSource) *Scheduler {
	return &Scheduler{
		checker: checker,
		config:  config,
		parser:  cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		ctx:     context.Background(),
	}
}

// Start registers the jobs and begins running them. Checks receive ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.started = true
	s.mu.Unlock()
	s.Reload()
}

// Reload rebuilds the job table from the configuration. Disabled products
// get no job; an invalid expression falls back to the default schedule.
func (s *Scheduler) Reload() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		s.cron.Stop()
	}
	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithChain(cron.Recover(cronLogger{})),
	)

	var jobs []Job
	for _, p := range monitor.Products() {
		cfg := s.config.ProductConfig(p.ID)
		if !cfg.Enabled {
			logger.Debug("scheduler: %s disabled", p.ID)
			continue
		}

		spec := cfg.Cron
		if _, err := s.parser.Parse(spec); err != nil {
			logger.Warn("scheduler: %s has invalid cron %q (%v), using %s", p.ID, spec, err, monitor.DefaultCron)
			spec = monitor.DefaultCron
		}

		id := p.ID
		ctx := s.ctx
		if _, err := c.AddFunc(spec, func() { s.run(ctx, id) }); err != nil {
			logger.Error("scheduler: failed to register %s: %v", id, err)
			continue
		}
		jobs = append(jobs, Job{Product: id, Spec: spec})
	}

	s.cron = c
	s.jobs = jobs
	if s.started {
		c.Start()
	}
	logger.Debug("scheduler: %d jobs registered", len(jobs))
}

// Stop halts the scheduler. The returned context is done once running
// checks have finished.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	if s.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return s.cron.Stop()
}

// Jobs returns the registered schedules ordered by product.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]Job(nil), s.jobs...)
	sort.Slice(out, func(i, j int) bool { return out[i].Product < out[j].Product })
	return out
}

func (s *Scheduler) run(ctx context.Context, id monitor.ProductID) {
	if ctx.Err() != nil {
		return
	}
	cfg := s.config.ProductConfig(id)
	log := logger.With(monitor.MustProduct(id).Name)
	trace := log.Debug
	if cfg.Log {
		trace = log.Info
	}

	trace("scheduled check started")
	res, err := s.checker.CheckVersion(ctx, id, false)
	switch {
	case err != nil && errors.Is(err, context.Canceled):
		return
	case err != nil:
		log.Error("scheduled check failed: %v", err)
	case res.Skipped:
		trace("previous check still running, skipped")
	case res.Changed():
		log.Info("scheduled check found %d change(s)", len(res.Outcomes))
	default:
		trace("no change (main=%s pre=%s)", orNone(res.Snapshot.Main), orNone(res.Snapshot.Pre))
	}
}

func orNone(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// cronLogger routes cron's own messages to the application logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Debug("cron: %s %v", msg, keysAndValues)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Error("cron: %s: %v %s", msg, err, fmt.Sprint(keysAndValues...))
}
