package resetscheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ledgerline/compliance_service/internal/infrastructure/config"
)

// Resetter is the slice of the compliance service the scheduler drives.
type Resetter interface {
	ResetDaily(ctx context.Context) error
	ResetWeekly(ctx context.Context) error
	ResetMonthly(ctx context.Context) error
}

// Scheduler fires the periodic limit window resets: daily at midnight UTC,
// weekly on Monday, monthly on the first. Resets are idempotent, so a missed
// or doubled firing is harmless.
type Scheduler struct {
	cron     *cron.Cron
	resetter Resetter
	cfg      config.SchedulerConfig
	logger   *zap.Logger
	tracer   trace.Tracer

	mu      sync.Mutex
	running bool
}

// zapCronLogger wraps zap.Logger to implement cron's logger interface.
type zapCronLogger struct {
	logger *zap.Logger
}

func (l *zapCronLogger) Printf(format string, args ...interface{}) {
	l.logger.Sugar().Infof(format, args...)
}

// NewScheduler creates a reset scheduler from the validated configuration.
func NewScheduler(resetter Resetter, cfg config.SchedulerConfig, logger *zap.Logger) (*Scheduler, error) {
	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", cfg.Timezone, err)
	}

	c := cron.New(
		cron.WithLocation(location),
		cron.WithLogger(cron.VerbosePrintfLogger(&zapCronLogger{logger: logger})),
	)

	return &Scheduler{
		cron:     c,
		resetter: resetter,
		cfg:      cfg,
		logger:   logger,
		tracer:   otel.Tracer("reset-scheduler"),
	}, nil
}

// Start registers the three reset jobs and begins execution.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	jobs := []struct {
		window string
		spec   string
		run    func(context.Context) error
	}{
		{"daily", s.cfg.DailyCron, s.resetter.ResetDaily},
		{"weekly", s.cfg.WeeklyCron, s.resetter.ResetWeekly},
		{"monthly", s.cfg.MonthlyCron, s.resetter.ResetMonthly},
	}

	for _, job := range jobs {
		window, run := job.window, job.run
		if _, err := s.cron.AddFunc(job.spec, func() {
			s.execute(window, run)
		}); err != nil {
			return fmt.Errorf("failed to register %s reset job: %w", window, err)
		}
	}

	s.cron.Start()
	s.running = true

	entries := s.cron.Entries()
	if len(entries) > 0 {
		s.logger.Info("reset scheduler started",
			zap.String("timezone", s.cfg.Timezone),
			zap.Time("next_run", entries[0].Next),
		)
	}
	return nil
}

// Stop halts the scheduler, waiting briefly for a running job to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return fmt.Errorf("scheduler is not running")
	}

	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
		s.logger.Info("reset scheduler stopped")
	case <-time.After(30 * time.Second):
		s.logger.Warn("reset scheduler stop timed out")
	}
	s.running = false
	return nil
}

func (s *Scheduler) execute(window string, run func(context.Context) error) {
	ctx, span := s.tracer.Start(context.Background(), "reset_scheduler.run", trace.WithAttributes(
		attribute.String("window", window),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	started := time.Now()
	if err := run(ctx); err != nil {
		span.RecordError(err)
		s.logger.Error("scheduled reset failed",
			zap.String("window", window),
			zap.Error(err),
		)
		return
	}

	s.logger.Info("scheduled reset completed",
		zap.String("window", window),
		zap.Duration("duration", time.Since(started)),
	)
}
