// Package cleanup runs background garbage collection.
//
// Validation and resend already treat an expired code as absent, so the
// sweeper is about keeping the table small, not about correctness.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// ExpiredCodeDeleter is the slice of the code store the sweeper needs.
type ExpiredCodeDeleter interface {
	DeleteExpiredCodes(ctx context.Context, now time.Time) (int64, error)
}

// CodeSweepJob deletes verification codes past their expiry. It implements
// cron.Job.
type CodeSweepJob struct {
	codes   ExpiredCodeDeleter
	now     func() time.Time
	timeout time.Duration
	logger  *slog.Logger
}

var _ cron.Job = (*CodeSweepJob)(nil)

func NewCodeSweepJob(codes ExpiredCodeDeleter, logger *slog.Logger) *CodeSweepJob {
	return &CodeSweepJob{
		codes:   codes,
		now:     time.Now,
		timeout: 30 * time.Second,
		logger:  logger,
	}
}

// Run performs one sweep.
func (j *CodeSweepJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	n, err := j.codes.DeleteExpiredCodes(ctx, j.now())
	if err != nil {
		j.logger.Warn("expired code sweep failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		j.logger.Debug("expired codes removed", slog.Int64("count", n))
	}
}

// Scheduler owns the cron runner for background jobs.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger: logger,
	}
}

// Add registers job under a standard cron spec ("@every 10m", "0 * * * *").
func (s *Scheduler) Add(spec string, job cron.Job) error {
	if _, err := s.cron.AddJob(spec, job); err != nil {
		return fmt.Errorf("cleanup: scheduling %q: %w", spec, err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("background jobs started", slog.Int("jobs", len(s.cron.Entries())))
}

// Stop stops scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("background jobs still running at shutdown")
	}
}
