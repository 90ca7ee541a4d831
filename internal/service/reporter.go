package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/civil"
	"github.com/robfig/cron/v3"

	"github.com/DukeRupert/askbot/internal/domain"
	"github.com/DukeRupert/askbot/internal/metrics"
	"github.com/DukeRupert/askbot/internal/store"
)

// DefaultReportSchedule refreshes usage gauges every five minutes.
const DefaultReportSchedule = "*/5 * * * *"

// Reporter periodically snapshots aggregate usage into metrics gauges.
type Reporter struct {
	store    store.Store
	location *time.Location
	now      func() time.Time
	cron     *cron.Cron
	logger   *slog.Logger
}

// NewReporter schedules Report on a standard five-field cron expression.
func NewReporter(st store.Store, schedule string, location *time.Location, logger *slog.Logger) (*Reporter, error) {
	if location == nil {
		location = time.UTC
	}
	if schedule == "" {
		schedule = DefaultReportSchedule
	}

	r := &Reporter{
		store:    st,
		location: location,
		now:      time.Now,
		cron:     cron.New(cron.WithLocation(location)),
		logger:   logger,
	}

	if _, err := r.cron.AddFunc(schedule, r.run); err != nil {
		return nil, fmt.Errorf("invalid report schedule %q: %w", schedule, err)
	}
	return r, nil
}

// Start begins the schedule and takes one snapshot immediately.
func (r *Reporter) Start() {
	r.run()
	r.cron.Start()
	r.logger.Info("Usage reporter started")
}

// Stop halts the schedule and waits for a running snapshot to finish.
func (r *Reporter) Stop() {
	<-r.cron.Stop().Done()
	r.logger.Info("Usage reporter stopped")
}

// Report reads aggregate counts and updates the gauges.
func (r *Reporter) Report(ctx context.Context) (domain.UsageStats, error) {
	today := civil.DateOf(r.now().In(r.location))
	stats, err := r.store.Stats(ctx, today)
	if err != nil {
		metrics.StoreError("stats")
		return domain.UsageStats{}, err
	}
	metrics.UsageSnapshot(stats)
	return stats, nil
}

func (r *Reporter) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stats, err := r.Report(ctx)
	if err != nil {
		r.logger.Error("usage report failed", "error", err)
		return
	}
	r.logger.Debug("usage report",
		"users", stats.Users,
		"active_subscriptions", stats.ActiveSubscriptions,
		"active_today", stats.ActiveToday,
	)
}
