package services

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"flowcraft/backend/internal/metrics"
	"flowcraft/backend/internal/models"
	"flowcraft/backend/internal/replay"
	"flowcraft/backend/internal/store"
)

// Launcher starts a replay in the background.
type Launcher interface {
	Launch(ctx context.Context, wf models.Workflow) (string, error)
}

type ScheduleStore interface {
	Schedules(ctx context.Context) ([]models.Schedule, error)
	Workflow(ctx context.Context, id string) (models.Workflow, error)
}

type SchedulerOptions struct {
	Log     logrus.FieldLogger
	Metrics *metrics.Metrics
}

// SchedulerService replays stored workflows on their cron schedules.
type SchedulerService struct {
	cron    *cron.Cron
	store   ScheduleStore
	player  Launcher
	log     logrus.FieldLogger
	metrics *metrics.Metrics

	mu      sync.Mutex
	ctx     context.Context
	entries map[string]cron.EntryID
}

func NewScheduler(st ScheduleStore, player Launcher, opts SchedulerOptions) *SchedulerService {
	log := opts.Log
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &SchedulerService{
		cron:    cron.New(cron.WithParser(store.CronParser)),
		store:   st,
		player:  player,
		log:     log,
		metrics: opts.Metrics,
		ctx:     context.Background(),
		entries: make(map[string]cron.EntryID),
	}
}

// Start loads the stored schedules and starts the cron loop. Replays it
// launches live as long as ctx.
func (s *SchedulerService) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	if err := s.Reload(ctx); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info("⏰ Scheduler service started")
	return nil
}

// Reload replaces every cron entry with the enabled stored schedules.
func (s *SchedulerService) Reload(ctx context.Context) error {
	schedules, err := s.store.Schedules(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.entries {
		s.cron.Remove(entry)
		delete(s.entries, id)
	}
	for _, sch := range schedules {
		if !sch.Enabled {
			continue
		}
		workflowID := sch.WorkflowID
		entry, err := s.cron.AddFunc(sch.Cron, func() { s.Fire(workflowID) })
		if err != nil {
			s.log.WithError(err).WithField("schedule", sch.ID).Warn("⚠️ Skipping invalid schedule")
			continue
		}
		s.entries[sch.ID] = entry
	}
	s.log.WithField("schedules", len(s.entries)).Info("Loaded scheduled replays")
	return nil
}

// Entries returns the number of active cron entries.
func (s *SchedulerService) Entries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Fire launches one replay of the stored workflow. A replay already in
// progress makes the run a skip.
func (s *SchedulerService) Fire(workflowID string) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	log := s.log.WithField("workflow_id", workflowID)

	wf, err := s.store.Workflow(ctx, workflowID)
	if err != nil {
		log.WithError(err).Error("❌ Failed to load scheduled workflow")
		s.metrics.ScheduledRun("error")
		return
	}
	runID, err := s.player.Launch(ctx, wf)
	switch {
	case errors.Is(err, replay.ErrAlreadyPlaying):
		log.Warn("⚠️ Playback busy, skipping scheduled run")
		s.metrics.ScheduledRun("skipped")
	case err != nil:
		log.WithError(err).Error("❌ Scheduled run failed to start")
		s.metrics.ScheduledRun("error")
	default:
		log.WithField("run", runID).Info("⏰ Scheduled replay launched")
		s.metrics.ScheduledRun("launched")
	}
}

// Stop halts the cron loop and waits for running jobs to return.
func (s *SchedulerService) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("Scheduler service stopped")
}
