package service

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/MimeLyc/podharvest/internal/jobs"
	"github.com/MimeLyc/podharvest/pkg/icron"
	"github.com/MimeLyc/podharvest/pkg/log"
)

// HarvestDedupeKey collapses concurrent requests for a full harvest run.
const HarvestDedupeKey = "harvest_run"

// TaskQueue is the part of the job queue the scheduler needs.
type TaskQueue interface {
	Enqueue(req jobs.EnqueueRequest) (*jobs.Task, bool)
	Wait(ctx context.Context, id string) (*jobs.Task, error)
}

// Scheduler enqueues a full harvest on a cron schedule. Overlapping ticks
// share the run already in flight.
type Scheduler struct {
	cron  *cron.Cron
	queue TaskQueue

	mu    sync.Mutex
	expr  string
	entry cron.EntryID
	added bool

	group singleflight.Group
}

func NewScheduler(c *cron.Cron, q TaskQueue, expr string) *Scheduler {
	return &Scheduler{cron: c, queue: q, expr: expr}
}

// Schedule registers the harvest job with the cron engine.
func (s *Scheduler) Schedule(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(ctx, s.expr)
}

func (s *Scheduler) addLocked(ctx context.Context, expr string) error {
	if _, err := icron.Parse(expr); err != nil {
		return err
	}
	id, err := s.cron.AddFunc(expr, func() { s.tick(ctx) })
	if err != nil {
		return err
	}
	if s.added {
		s.cron.Remove(s.entry)
	}
	s.entry = id
	s.added = true
	s.expr = expr
	log.Info("Harvest scheduled with %q", expr)
	return nil
}

// Reschedule replaces the schedule. The old one stays when expr is invalid.
func (s *Scheduler) Reschedule(ctx context.Context, expr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(ctx, expr)
}

func (s *Scheduler) Expr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expr
}

// Info returns the previous and next trigger times.
func (s *Scheduler) Info(now time.Time) (*icron.TriggerInfo, error) {
	return icron.GetTriggerInfo(s.Expr(), now)
}

// Trigger enqueues a full harvest unless one is already pending or running.
func (s *Scheduler) Trigger(source string, payload jobs.Payload) (*jobs.Task, bool) {
	return s.queue.Enqueue(jobs.EnqueueRequest{
		Kind:      jobs.KindHarvestRun,
		Source:    source,
		DedupeKey: HarvestDedupeKey,
		Payload:   payload,
	})
}

func (s *Scheduler) tick(ctx context.Context) {
	_, _, _ = s.group.Do("harvest", func() (any, error) {
		task, created := s.Trigger("cron", jobs.Payload{})
		if !created {
			log.Info("Harvest %s already queued, waiting for it", task.ID)
		}
		done, err := s.queue.Wait(ctx, task.ID)
		if err != nil {
			log.Warn("Stopped waiting for harvest %s: %v", task.ID, err)
			return nil, err
		}
		if done.Status == jobs.StatusFailed {
			log.Error("Scheduled harvest %s failed: %s", done.ID, done.Error)
		}
		return nil, nil
	})
}
