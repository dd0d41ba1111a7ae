// Package reminder runs a periodic sweep over running case lifecycle
// instances and fires reminder notifications for deadlines and court dates
// entering their lead window.
package reminder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jurisdesk/lexflow/pkg/activities"
	"github.com/jurisdesk/lexflow/pkg/models"
	"github.com/jurisdesk/lexflow/pkg/persistence"
	"github.com/jurisdesk/lexflow/pkg/policy"
)

const (
	// DefaultCronExpr sweeps hourly.
	DefaultCronExpr = "0 * * * *"
	// DefaultLeadTime is how far ahead of a due date reminders fire.
	DefaultLeadTime = 72 * time.Hour
)

// Scheduler sweeps lifecycle checkpoints on a cron cadence. It reads
// instance state only; the engine owns all writes. Reminders are sent
// through the schedule-reminder activity so retries and timeouts follow the
// usual activity policy.
type Scheduler struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	invoker     *activities.Invoker
	cronExpr    string
	leadTime    time.Duration
	clock       func() time.Time

	cron   *cron.Cron
	cancel context.CancelFunc

	mutex sync.Mutex
	// sent tracks reminder keys already fired this process lifetime, so an
	// hourly sweep does not renotify the same deadline.
	sent map[string]bool
}

type Option func(*Scheduler)

func WithCronExpr(expr string) Option {
	return func(s *Scheduler) { s.cronExpr = expr }
}

func WithLeadTime(d time.Duration) Option {
	return func(s *Scheduler) { s.leadTime = d }
}

func WithClock(clock func() time.Time) Option {
	return func(s *Scheduler) { s.clock = clock }
}

func NewScheduler(store persistence.Persistence, invoker *activities.Invoker, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:      logger.With("module", "reminder"),
		persistence: store,
		invoker:     invoker,
		cronExpr:    DefaultCronExpr,
		leadTime:    DefaultLeadTime,
		clock:       time.Now,
		sent:        make(map[string]bool),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Scheduler) Validate() error {
	if _, err := cron.ParseStandard(s.cronExpr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", s.cronExpr, err)
	}

	if s.leadTime <= 0 {
		return fmt.Errorf("lead time must be positive, got %s", s.leadTime)
	}

	return nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.Validate(); err != nil {
		return err
	}

	sweepCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := s.cron.AddFunc(s.cronExpr, func() {
		if err := s.Sweep(sweepCtx); err != nil {
			s.logger.Error("Reminder sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to add reminder sweep job: %w", err)
	}

	s.cron.Start()
	s.logger.Info("Reminder scheduler started", "cron", s.cronExpr, "lead_time", s.leadTime)

	return nil
}

func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}

	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep scans every running lifecycle instance and fires schedule-reminder
// for each pending deadline or court date within the lead window.
func (s *Scheduler) Sweep(ctx context.Context) error {
	checkpoints, err := s.persistence.RunningCheckpoints(ctx)
	if err != nil {
		return fmt.Errorf("list running checkpoints: %w", err)
	}

	now := s.clock().UTC()

	for _, checkpoint := range checkpoints {
		if checkpoint.WorkflowType != models.WorkflowTypeCaseLifecycle || len(checkpoint.State) == 0 {
			continue
		}

		var status models.LifecycleStatus
		if err := json.Unmarshal(checkpoint.State, &status); err != nil {
			s.logger.Warn("Skipping instance with undecodable state",
				"instance_id", checkpoint.InstanceID, "error", err)

			continue
		}

		if status.IsPaused {
			continue
		}

		for _, deadline := range status.Deadlines {
			s.remind(ctx, checkpoint, now, deadline.ID, deadline.Title, deadline.Due, "deadline")
		}

		for _, courtDate := range status.CourtDates {
			s.remind(ctx, checkpoint, now, courtDate.ID, courtDate.Title, courtDate.Date, "court-date")
		}
	}

	return nil
}

func (s *Scheduler) remind(ctx context.Context, checkpoint *models.Checkpoint, now time.Time, id, title string, due time.Time, kind string) {
	if due.Before(now) || due.Sub(now) > s.leadTime {
		return
	}

	// Resume shifts due dates, so the fired time is part of the key: a
	// shifted deadline gets a fresh reminder at its new time.
	key := fmt.Sprintf("%s/%s/%d", checkpoint.InstanceID, id, due.Unix())

	s.mutex.Lock()
	already := s.sent[key]
	s.sent[key] = true
	s.mutex.Unlock()

	if already {
		return
	}

	input, err := json.Marshal(activities.ScheduleReminderInput{
		EntityID: checkpoint.EntityID,
		Title:    title,
		Due:      due,
		Kind:     kind,
	})
	if err != nil {
		s.logger.Error("Failed to encode reminder input", "error", err)

		return
	}

	rc := activities.RequestContext{TenantID: checkpoint.TenantID}

	_, err = s.invoker.Invoke(ctx, activities.ScheduleReminder, policy.ExternalAPIActivityOptions(), rc, input)
	if err != nil {
		s.logger.Warn("Reminder notification failed",
			"instance_id", checkpoint.InstanceID, "title", title, "error", err)

		s.mutex.Lock()
		delete(s.sent, key)
		s.mutex.Unlock()

		return
	}

	s.logger.Info("Reminder sent",
		"instance_id", checkpoint.InstanceID, "title", title, "due", due, "kind", kind)
}
