// Package jobs runs the periodic maintenance work of the marketplace.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/NMMonteiro/apps4eu-marketplace/internal/logger"
	"github.com/NMMonteiro/apps4eu-marketplace/internal/metrics"
)

const sweepTimeout = time.Minute

type LicenseExpirer interface {
	ExpireLicenses(ctx context.Context, now time.Time) (int64, error)
}

// LicenseSweeper marks time-limited licenses whose expiry has passed as
// expired.
type LicenseSweeper struct {
	store   LicenseExpirer
	metrics *metrics.Metrics
	now     func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

func NewLicenseSweeper(store LicenseExpirer, m *metrics.Metrics) *LicenseSweeper {
	return &LicenseSweeper{
		store:   store,
		metrics: m,
		now:     time.Now,
	}
}

// Sweep runs a single pass and returns the number of licenses expired.
func (s *LicenseSweeper) Sweep(ctx context.Context) (int64, error) {
	n, err := s.store.ExpireLicenses(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to expire licenses: %w", err)
	}
	s.metrics.LicensesExpired(n)
	if n > 0 {
		logger.Info("Expired licenses", map[string]interface{}{
			"count": n,
		})
	}
	return n, nil
}

// Start schedules Sweep on a standard cron expression or descriptor such as
// "@hourly".
func (s *LicenseSweeper) Start(schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return fmt.Errorf("license sweeper already started")
	}

	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(schedule, s.run); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	c.Start()
	s.cron = c

	logger.Info("License sweeper started", map[string]interface{}{
		"schedule": schedule,
	})
	return nil
}

// Stop waits for a running sweep to finish or ctx to end.
func (s *LicenseSweeper) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		logger.Warn("License sweeper did not stop in time", nil)
	}
}

func (s *LicenseSweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	if _, err := s.Sweep(ctx); err != nil {
		logger.Error("License sweep failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
