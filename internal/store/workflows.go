package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"flowcraft/backend/internal/clock"
	"flowcraft/backend/internal/models"
)

const (
	WorkflowsKey = "flowcraft-workflows"
	GroupsKey    = "flowcraft-workflow-groups"
	SchedulesKey = "flowcraft-schedules"
)

// CopySuffix is appended to the name of a duplicated workflow.
const CopySuffix = " (copy)"

var ErrInvalidSchedule = errors.New("invalid schedule")

// Export is the document written by Export and read by Import.
type Export struct {
	Workflows []models.Workflow `json:"workflows"`
	Groups    []models.Group    `json:"groups"`
}

type Options struct {
	Clock clock.Clock
	Log   logrus.FieldLogger
	IDs   IDGenerator
}

// Service owns the stored collections. Every mutation is a read-modify-write
// of one key under the service lock.
type Service struct {
	kv    KV
	clock clock.Clock
	log   logrus.FieldLogger
	ids   IDGenerator

	mu       sync.Mutex
	lastTime int64
}

func NewService(kv KV, opts Options) *Service {
	s := &Service{kv: kv, clock: opts.Clock, log: opts.Log, ids: opts.IDs}
	if s.clock == nil {
		s.clock = clock.Real
	}
	if s.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		s.log = l
	}
	if s.ids == nil {
		s.ids = WorkflowIDs(s.clock)
	}
	return s
}

// stamp returns a timestamp later than every one handed out before.
func (s *Service) stamp(floor int64) int64 {
	now := clock.NowMillis(s.clock)
	if now <= s.lastTime {
		now = s.lastTime + 1
	}
	if now <= floor {
		now = floor + 1
	}
	s.lastTime = now
	return now
}

func load[T any](ctx context.Context, kv KV, key string) ([]T, error) {
	data, err := kv.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return []T{}, nil
	}
	if err != nil {
		return nil, err
	}
	var out []T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}

func save[T any](ctx context.Context, kv KV, key string, items []T) error {
	if items == nil {
		items = []T{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return kv.Set(ctx, key, data)
}

func (s *Service) Workflows(ctx context.Context) ([]models.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return load[models.Workflow](ctx, s.kv, WorkflowsKey)
}

func (s *Service) Workflow(ctx context.Context, id string) (models.Workflow, error) {
	all, err := s.Workflows(ctx)
	if err != nil {
		return models.Workflow{}, err
	}
	for _, wf := range all {
		if wf.ID == id {
			return wf, nil
		}
	}
	return models.Workflow{}, fmt.Errorf("workflow %s: %w", id, ErrNotFound)
}

// WorkflowsByCategory returns every workflow when category is empty.
func (s *Service) WorkflowsByCategory(ctx context.Context, category string) ([]models.Workflow, error) {
	all, err := s.Workflows(ctx)
	if err != nil || category == "" {
		return all, err
	}
	out := []models.Workflow{}
	for _, wf := range all {
		if wf.Category == category {
			out = append(out, wf)
		}
	}
	return out, nil
}

// SaveWorkflow inserts wf, or replaces the stored workflow with the same id.
// Inserts get an id when they have none and a creation time.
func (s *Service) SaveWorkflow(ctx context.Context, wf models.Workflow) (models.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := load[models.Workflow](ctx, s.kv, WorkflowsKey)
	if err != nil {
		return models.Workflow{}, err
	}

	idx := -1
	if wf.ID != "" {
		for i := range all {
			if all[i].ID == wf.ID {
				idx = i
				break
			}
		}
	}
	if idx >= 0 {
		wf.CreatedAt = all[idx].CreatedAt
		wf.UpdatedAt = s.stamp(all[idx].UpdatedAt)
		all[idx] = wf
	} else {
		if wf.ID == "" {
			wf.ID = s.ids()
		}
		wf.UpdatedAt = s.stamp(0)
		wf.CreatedAt = wf.UpdatedAt
		all = append(all, wf)
	}
	if err := save(ctx, s.kv, WorkflowsKey, all); err != nil {
		return models.Workflow{}, err
	}
	s.log.WithFields(logrus.Fields{"id": wf.ID, "name": wf.Name}).Info("💾 Workflow saved")
	return wf, nil
}

// SaveRecording stores a recorded workflow as a new entry under name.
func (s *Service) SaveRecording(ctx context.Context, wf models.Workflow, name string) (models.Workflow, error) {
	wf.ID = ""
	if name != "" {
		wf.Name = name
	}
	return s.SaveWorkflow(ctx, wf)
}

func (s *Service) DeleteWorkflow(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := load[models.Workflow](ctx, s.kv, WorkflowsKey)
	if err != nil {
		return err
	}
	kept := all[:0]
	for _, wf := range all {
		if wf.ID != id {
			kept = append(kept, wf)
		}
	}
	if len(kept) == len(all) {
		return fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	return save(ctx, s.kv, WorkflowsKey, kept)
}

func (s *Service) DuplicateWorkflow(ctx context.Context, id string) (models.Workflow, error) {
	orig, err := s.Workflow(ctx, id)
	if err != nil {
		return models.Workflow{}, err
	}
	dup := orig
	dup.ID = ""
	dup.Name = orig.Name + CopySuffix
	dup.Steps = append(models.Steps(nil), orig.Steps...)
	dup.Tags = append([]string(nil), orig.Tags...)
	return s.SaveWorkflow(ctx, dup)
}

func (s *Service) Groups(ctx context.Context) ([]models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return load[models.Group](ctx, s.kv, GroupsKey)
}

func (s *Service) CreateGroup(ctx context.Context, name string) (models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	groups, err := load[models.Group](ctx, s.kv, GroupsKey)
	if err != nil {
		return models.Group{}, err
	}
	g := models.Group{ID: s.ids(), Name: name, Workflows: []models.Workflow{}}
	groups = append(groups, g)
	if err := save(ctx, s.kv, GroupsKey, groups); err != nil {
		return models.Group{}, err
	}
	return g, nil
}

// updateGroup applies fn to the group with id and stores the result.
func (s *Service) updateGroup(ctx context.Context, id string, fn func(*models.Group) error) (models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	groups, err := load[models.Group](ctx, s.kv, GroupsKey)
	if err != nil {
		return models.Group{}, err
	}
	for i := range groups {
		if groups[i].ID != id {
			continue
		}
		if err := fn(&groups[i]); err != nil {
			return models.Group{}, err
		}
		if err := save(ctx, s.kv, GroupsKey, groups); err != nil {
			return models.Group{}, err
		}
		return groups[i], nil
	}
	return models.Group{}, fmt.Errorf("group %s: %w", id, ErrNotFound)
}

func (s *Service) RenameGroup(ctx context.Context, id, name string) (models.Group, error) {
	return s.updateGroup(ctx, id, func(g *models.Group) error {
		g.Name = name
		return nil
	})
}

// AddToGroup copies the stored workflow into the group, replacing an older
// copy with the same id.
func (s *Service) AddToGroup(ctx context.Context, groupID, workflowID string) (models.Group, error) {
	wf, err := s.Workflow(ctx, workflowID)
	if err != nil {
		return models.Group{}, err
	}
	return s.updateGroup(ctx, groupID, func(g *models.Group) error {
		for i := range g.Workflows {
			if g.Workflows[i].ID == wf.ID {
				g.Workflows[i] = wf
				return nil
			}
		}
		g.Workflows = append(g.Workflows, wf)
		return nil
	})
}

func (s *Service) DeleteGroup(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	groups, err := load[models.Group](ctx, s.kv, GroupsKey)
	if err != nil {
		return err
	}
	kept := groups[:0]
	for _, g := range groups {
		if g.ID != id {
			kept = append(kept, g)
		}
	}
	if len(kept) == len(groups) {
		return fmt.Errorf("group %s: %w", id, ErrNotFound)
	}
	return save(ctx, s.kv, GroupsKey, kept)
}

// Export returns every workflow and group as indented JSON.
func (s *Service) Export(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	workflows, err := load[models.Workflow](ctx, s.kv, WorkflowsKey)
	if err != nil {
		return nil, err
	}
	groups, err := load[models.Group](ctx, s.kv, GroupsKey)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(Export{Workflows: workflows, Groups: groups}, "", "  ")
}

// Import replaces the stored workflows and groups with those in data. A
// collection missing from data is left untouched.
func (s *Service) Import(ctx context.Context, data []byte) error {
	var doc struct {
		Workflows *[]models.Workflow `json:"workflows"`
		Groups    *[]models.Group    `json:"groups"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to import workflows: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if doc.Workflows != nil {
		if err := save(ctx, s.kv, WorkflowsKey, *doc.Workflows); err != nil {
			return err
		}
	}
	if doc.Groups != nil {
		if err := save(ctx, s.kv, GroupsKey, *doc.Groups); err != nil {
			return err
		}
	}
	s.log.Info("📥 Workflows imported")
	return nil
}

func (s *Service) Schedules(ctx context.Context) ([]models.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return load[models.Schedule](ctx, s.kv, SchedulesKey)
}

// CronParser accepts five or six fields (leading seconds optional) and
// descriptors such as @daily.
var CronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func ParseCron(spec string) (cron.Schedule, error) {
	return CronParser.Parse(spec)
}

// SaveSchedule validates and stores sch, assigning an id to new entries.
func (s *Service) SaveSchedule(ctx context.Context, sch models.Schedule) (models.Schedule, error) {
	if sch.WorkflowID == "" {
		return models.Schedule{}, fmt.Errorf("%w: workflow_id is required", ErrInvalidSchedule)
	}
	if _, err := ParseCron(sch.Cron); err != nil {
		return models.Schedule{}, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	if _, err := s.Workflow(ctx, sch.WorkflowID); err != nil {
		return models.Schedule{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := load[models.Schedule](ctx, s.kv, SchedulesKey)
	if err != nil {
		return models.Schedule{}, err
	}
	replaced := false
	if sch.ID != "" {
		for i := range all {
			if all[i].ID == sch.ID {
				sch.CreatedAt = all[i].CreatedAt
				all[i] = sch
				replaced = true
				break
			}
		}
	}
	if !replaced {
		if sch.ID == "" {
			sch.ID = uuid.NewString()
		}
		sch.CreatedAt = clock.NowMillis(s.clock)
		all = append(all, sch)
	}
	if err := save(ctx, s.kv, SchedulesKey, all); err != nil {
		return models.Schedule{}, err
	}
	return sch, nil
}

func (s *Service) DeleteSchedule(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := load[models.Schedule](ctx, s.kv, SchedulesKey)
	if err != nil {
		return err
	}
	kept := all[:0]
	for _, sch := range all {
		if sch.ID != id {
			kept = append(kept, sch)
		}
	}
	if len(kept) == len(all) {
		return fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}
	return save(ctx, s.kv, SchedulesKey, kept)
}
