package application

import (
	"context"
	"log"
	"sync"
	"time"
)

// Scheduler triggers the reminder run once a day at a local wall-clock time.
type Scheduler struct {
	runner   *Runner
	dailyAt  string
	location *time.Location
	logger   *log.Logger

	mu      sync.Mutex
	lastRun string
}

// NewScheduler constructs a Scheduler. dailyAt is "HH:MM" in location.
func NewScheduler(runner *Runner, dailyAt string, location *time.Location, logger *log.Logger) *Scheduler {
	if location == nil {
		location = time.UTC
	}
	return &Scheduler{
		runner:   runner,
		dailyAt:  dailyAt,
		location: location,
		logger:   logger,
	}
}

// Start begins the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil || s.runner == nil {
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if !s.shouldRun(now) {
				continue
			}
			s.runOnce(ctx)
		}
	}
}

// shouldRun reports whether now matches the daily slot and the day has not run yet.
func (s *Scheduler) shouldRun(now time.Time) bool {
	hour, minute, err := parseDailyAt(s.dailyAt)
	if err != nil {
		return false
	}
	local := now.In(s.location)
	if local.Hour() != hour || local.Minute() != minute {
		return false
	}
	day := local.Format("2006-01-02")
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRun == day {
		return false
	}
	s.lastRun = day
	return true
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if _, err := s.runner.Run(ctx); err != nil && s.logger != nil {
		s.logger.Printf("reminder schedule error: err=%v", err)
	}
}

func parseDailyAt(value string) (int, int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, 0, err
	}
	return t.Hour(), t.Minute(), nil
}
