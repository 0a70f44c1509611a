// Package sweep periodically scans for tasks past their deadline and
// publishes overdue events. Delivery policy (dedup, rate limits) is the
// notification pipeline's concern, not the sweeper's.
package sweep

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"roadmapd/internal/eventbus"
	"roadmapd/internal/roadmap"
	"roadmapd/pkg/logx"
)

type Config struct {
	Enabled    bool
	Schedule   string // cron spec; default "*/15 * * * *"
	Timezone   string // IANA name; default UTC
	BatchLimit int    // max tasks reported per sweep; default 100
}

func (c Config) withDefaults() Config {
	if c.Schedule == "" {
		c.Schedule = "*/15 * * * *"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = 100
	}
	return c
}

type Service struct {
	mu sync.Mutex

	log   logx.Logger
	bus   eventbus.Bus
	store roadmap.Store
	cfg   Config
	now   func() time.Time

	cron *cron.Cron
}

func New(cfg Config, store roadmap.Store, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{log: log, bus: bus, store: store, cfg: cfg.withDefaults(), now: time.Now}
}

// Start schedules the sweep. Idempotent; disabled config is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil || !s.cfg.Enabled {
		return nil
	}

	loc, err := time.LoadLocation(s.cfg.Timezone)
	if err != nil {
		return fmt.Errorf("timezone %q: %w", s.cfg.Timezone, err)
	}

	c := cron.New(cron.WithLocation(loc))
	_, err = c.AddFunc(s.cfg.Schedule, func() { s.SweepOnce(ctx) })
	if err != nil {
		return fmt.Errorf("schedule %q: %w", s.cfg.Schedule, err)
	}
	c.Start()
	s.cron = c
	s.log.Info("sweeper started", logx.String("schedule", s.cfg.Schedule), logx.String("tz", s.cfg.Timezone))
	return nil
}

// Stop halts scheduling and waits for a running sweep until ctx expires.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}

	done := c.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Apply restarts the schedule with new settings.
func (s *Service) Apply(ctx context.Context, cfg Config) error {
	s.Stop(ctx)
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
	return s.Start(ctx)
}

// SweepOnce runs a single scan and publishes one task.overdue event per
// overdue task found. It is exported for on-demand sweeps from the ops
// surface.
func (s *Service) SweepOnce(ctx context.Context) {
	s.mu.Lock()
	limit := s.cfg.BatchLimit
	s.mu.Unlock()

	now := s.now().UTC()
	var overdue []roadmap.Task
	err := s.store.WithTx(ctx, func(tx roadmap.Tx) error {
		var err error
		overdue, err = tx.OverdueTasks(ctx, now, limit)
		return err
	})
	if err != nil {
		s.log.Warn("overdue sweep failed", logx.Err(err))
		return
	}
	if len(overdue) == 0 {
		return
	}

	for _, task := range overdue {
		s.bus.Publish(eventbus.Event{
			Type: roadmap.EventTaskOverdue,
			Time: now,
			Data: roadmap.TaskEvent{
				TaskID:     task.ID,
				StageID:    task.StageID,
				ProjectID:  task.ProjectID,
				Title:      task.Title,
				Status:     task.Status,
				AssigneeID: task.AssigneeID,
				Deadline:   task.Deadline,
				At:         now,
			},
		})
	}
	s.log.Info("overdue sweep", logx.Int("tasks", len(overdue)))
}
