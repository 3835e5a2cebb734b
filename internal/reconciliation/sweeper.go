// Package reconciliation finds applications that were paid but never issued. It only
// reports them; fixing a stalled settlement is an operator decision.
package reconciliation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"franchise-license-workers/internal/common/config"
	"franchise-license-workers/internal/common/logger"
	"franchise-license-workers/internal/common/metrics"
	"franchise-license-workers/internal/models"
	"franchise-license-workers/internal/settlement/application"

	"github.com/robfig/cron/v3"
)

// watched are the statuses between a recorded payment and an issued license.
var watched = []models.ApplicationStatus{models.StatusPaid, models.StatusAwaitingIssuance}

// Alerter is told about stale applications. notify.Notifier satisfies it.
type Alerter interface {
	StaleApplications(ctx context.Context, apps []models.Application) error
}

type Sweeper struct {
	registry   application.Registry
	alerter    Alerter
	schedule   string
	staleAfter time.Duration
	timeout    time.Duration
	logger     logger.Logger
	now        func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

func NewSweeper(registry application.Registry, alerter Alerter, cfg config.ReconciliationConfig, log logger.Logger) *Sweeper {
	staleAfter := config.GetDuration(cfg.StaleAfter)
	if staleAfter <= 0 {
		staleAfter = time.Hour
	}
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = "@every 15m"
	}
	return &Sweeper{
		registry:   registry,
		alerter:    alerter,
		schedule:   schedule,
		staleAfter: staleAfter,
		timeout:    time.Minute,
		logger:     log.WithFields(map[string]interface{}{"component": "reconciliation"}),
		now:        time.Now,
	}
}

// Start schedules Sweep. Runs never overlap; a run still in progress skips the next tick.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("reconciliation sweeper already started")
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.schedule, s.run); err != nil {
		return fmt.Errorf("invalid reconciliation schedule %q: %w", s.schedule, err)
	}
	c.Start()
	s.cron = c

	s.logger.Info("reconciliation sweeper started", map[string]interface{}{
		"schedule":   s.schedule,
		"staleAfter": s.staleAfter.String(),
	})
	return nil
}

// Stop halts the schedule and waits for a running sweep to return.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.Sweep(ctx); err != nil {
		s.logger.Error("reconciliation sweep failed", map[string]interface{}{"error": err.Error()})
	}
}

// Sweep lists stale applications, updates the gauge and alerts. It never changes state.
func (s *Sweeper) Sweep(ctx context.Context) ([]models.Application, error) {
	cutoff := s.now().Add(-s.staleAfter)
	stale, err := s.registry.ListStale(ctx, watched, cutoff)
	if err != nil {
		return nil, err
	}

	counts := make(map[models.ApplicationStatus]int, len(watched))
	for _, app := range stale {
		counts[app.Status]++
	}
	for _, status := range watched {
		metrics.StaleApplications.WithLabelValues(string(status)).Set(float64(counts[status]))
	}

	if len(stale) == 0 {
		s.logger.Debug("no stale applications", nil)
		return nil, nil
	}

	ids := make([]int64, 0, len(stale))
	for _, app := range stale {
		ids = append(ids, app.ID)
	}
	s.logger.Warn("stale applications found", map[string]interface{}{
		"count":          len(stale),
		"applicationIds": ids,
		"cutoff":         cutoff.UTC().Format(time.RFC3339),
	})

	if s.alerter != nil {
		if err := s.alerter.StaleApplications(ctx, stale); err != nil {
			s.logger.Warn("stale application alert failed", map[string]interface{}{"error": err.Error()})
		}
	}
	return stale, nil
}
