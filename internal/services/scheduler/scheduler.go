// Package scheduler runs the cron-driven connection-test loop.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/cams-platform/cams/internal/domain/application"
	"github.com/cams-platform/cams/internal/logging"
	"github.com/cams-platform/cams/internal/metrics"
	"github.com/cams-platform/cams/internal/schedule"
	"github.com/cams-platform/cams/internal/services/connections"
	"github.com/cams-platform/cams/internal/storage"
)

// Config carries scheduler settings.
type Config struct {
	PollInterval time.Duration
	Concurrency  int
}

// Scheduler polls for applications whose test schedule has fired and runs
// their connection tests. It implements system.Service.
type Scheduler struct {
	apps    storage.ApplicationStore
	conns   storage.ConnectionStore
	connSvc *connections.Service
	stats   *metrics.Metrics
	log     *logging.Logger

	interval    time.Duration
	concurrency int
	now         func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a scheduler.
func New(apps storage.ApplicationStore, conns storage.ConnectionStore, connSvc *connections.Service, stats *metrics.Metrics, cfg Config, log *logging.Logger) *Scheduler {
	if log == nil {
		log = logging.NewDefault("scheduler")
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Scheduler{
		apps:        apps,
		conns:       conns,
		connSvc:     connSvc,
		stats:       stats,
		log:         log,
		interval:    interval,
		concurrency: concurrency,
		now:         time.Now,
	}
}

func (s *Scheduler) Name() string { return "connection-test-scheduler" }

// Start launches the polling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(loopCtx)
	s.log.WithField("interval", s.interval.String()).Info("scheduler started")
	return nil
}

// Stop cancels the loop and waits for the current sweep to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		select {
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one scheduler pass: every due application has its active
// connections tested and its next due time advanced.
func (s *Scheduler) Sweep(ctx context.Context) {
	start := s.now()
	due, err := s.apps.ListDueApplications(ctx, start.UTC())
	if err != nil {
		s.log.WithError(err).Warn("listing due applications failed")
		return
	}

	for _, app := range due {
		if ctx.Err() != nil {
			return
		}
		s.runApplication(ctx, app)
	}

	if s.stats != nil {
		s.stats.RecordSweep(len(due), time.Since(start))
	}
	if len(due) > 0 {
		s.log.WithField("applications", len(due)).
			WithField("duration", time.Since(start).String()).
			Debug("sweep complete")
	}
}

func (s *Scheduler) runApplication(ctx context.Context, app application.Application) {
	conns, err := s.conns.ListConnections(ctx, app.ID)
	if err != nil {
		s.log.WithError(err).WithField("application_id", app.ID).Warn("listing connections failed")
		return
	}

	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup
	for _, conn := range conns {
		if !conn.IsActive {
			continue
		}
		conn := conn
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			s.connSvc.RunTest(ctx, conn)
		}()
	}
	wg.Wait()

	s.advance(ctx, app)
}

// advance computes and persists the application's next due time. A stored
// expression that no longer parses is logged and left alone; the write-time
// validation makes this unreachable in practice.
func (s *Scheduler) advance(ctx context.Context, app application.Application) {
	next, err := schedule.Next(app.TestSchedule, s.now().UTC())
	if err != nil {
		s.log.WithError(err).
			WithField("application_id", app.ID).
			WithField("schedule", app.TestSchedule).
			Error("stored schedule is invalid; application skipped")
		return
	}
	fresh, err := s.apps.GetApplication(ctx, app.ID)
	if err != nil {
		s.log.WithError(err).WithField("application_id", app.ID).Warn("reloading application failed")
		return
	}
	fresh.NextTestDue = next
	if _, err := s.apps.UpdateApplication(ctx, fresh); err != nil {
		s.log.WithError(err).WithField("application_id", app.ID).Warn("advancing schedule failed")
	}
}
