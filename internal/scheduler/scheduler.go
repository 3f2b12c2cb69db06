// Package scheduler runs the node's periodic maintenance jobs.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/solverhub/solver-node/internal/conversation"
	"github.com/solverhub/solver-node/internal/logging"
)

// Scheduler manages cron jobs for node maintenance
type Scheduler struct {
	cron          *cron.Cron
	conversations *conversation.Store
	logger        *slog.Logger
}

// NewScheduler creates a scheduler with the nightly history cleanup
// registered.
func NewScheduler(conversations *conversation.Store) (*Scheduler, error) {
	s := &Scheduler{
		cron:          cron.New(),
		conversations: conversations,
		logger:        logging.WithComponent("scheduler"),
	}
	if err := s.scheduleHistoryCleanup(); err != nil {
		return nil, err
	}
	return s, nil
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop stops the scheduler and waits for running jobs to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}

// scheduleHistoryCleanup expires old conversation messages every
// night at 3 AM.
func (s *Scheduler) scheduleHistoryCleanup() error {
	_, err := s.cron.AddFunc("0 3 * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		deleted, err := s.conversations.Cleanup(ctx)
		if err != nil {
			s.logger.Error("history cleanup failed", "error", err)
			return
		}
		s.logger.Info("history cleanup finished", "deleted", deleted)
	})
	return err
}
