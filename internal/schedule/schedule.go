// Package schedule triggers pipeline runs and image sweeps on cron expressions.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/localnews-pipeline/internal/news"
	"github.com/JakeFAU/localnews-pipeline/internal/pipeline"
)

// Runner runs the full pipeline.
type Runner interface {
	ProcessAll(ctx context.Context) (news.RunResult, error)
}

// Sweeper deletes captured images older than a retention window.
type Sweeper interface {
	Sweep(ctx context.Context, olderThan time.Duration) (news.SweepResult, error)
}

// Config holds the cron expressions. An empty expression disables that job.
type Config struct {
	RunSpec   string
	SweepSpec string
	Retention time.Duration
}

// Scheduler owns the cron instance.
type Scheduler struct {
	cron    *cron.Cron
	runner  Runner
	sweeper Sweeper
	cfg     Config
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

// New registers the configured jobs. Overlapping triggers are skipped while a job still runs.
func New(cfg Config, runner Runner, sweeper Sweeper, logger *zap.Logger) (*Scheduler, error) {
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := cronLogger{logger: logger.Sugar()}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:    c,
		runner:  runner,
		sweeper: sweeper,
		cfg:     cfg,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}

	if cfg.RunSpec != "" {
		if _, err := c.AddFunc(cfg.RunSpec, s.runPipeline); err != nil {
			cancel()
			return nil, fmt.Errorf("schedule pipeline %q: %w", cfg.RunSpec, err)
		}
	}
	if cfg.SweepSpec != "" && sweeper != nil {
		if cfg.Retention <= 0 {
			cancel()
			return nil, errors.New("retention must be > 0 to schedule the image sweep")
		}
		if _, err := c.AddFunc(cfg.SweepSpec, s.sweepImages); err != nil {
			cancel()
			return nil, fmt.Errorf("schedule sweep %q: %w", cfg.SweepSpec, err)
		}
	}
	return s, nil
}

// Start begins firing jobs in the background.
func (s *Scheduler) Start() {
	for _, e := range s.cron.Entries() {
		s.logger.Info("cron job scheduled", zap.Int("entry_id", int(e.ID)), zap.Time("next_run", e.Next))
	}
	s.cron.Start()
}

// Stop halts the cron and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return fmt.Errorf("wait for scheduled jobs: %w", ctx.Err())
	}
}

// Jobs reports how many cron entries are registered.
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) runPipeline() {
	res, err := s.runner.ProcessAll(s.ctx)
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		s.logger.Info("scheduled run skipped, another run is in progress")
	case err != nil:
		s.logger.Error("scheduled run failed", zap.Error(err))
	default:
		s.logger.Info("scheduled run finished",
			zap.String("run_id", res.Run.ID),
			zap.Int("scraped", res.Scraped),
			zap.Int("published", res.Published),
		)
	}
}

func (s *Scheduler) sweepImages() {
	res, err := s.sweeper.Sweep(s.ctx, s.cfg.Retention)
	if err != nil {
		s.logger.Error("scheduled image sweep failed", zap.Error(err))
		return
	}
	s.logger.Info("scheduled image sweep finished",
		zap.Int("scanned", res.Scanned),
		zap.Int("deleted", res.Deleted),
		zap.Int("failed", res.Failed),
	)
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
