package jobs

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MimeLyc/podharvest/internal/metrics"
	"github.com/MimeLyc/podharvest/pkg/log"
)

// Executor performs a task and returns a short human readable result.
type Executor func(ctx context.Context, task *Task) (string, error)

type Queue struct {
	workerCount int
	maxTasks    int
	store       Store

	mu         sync.RWMutex
	tasks      map[string]*Task
	done       map[string]chan struct{}
	dedupe     map[string]string
	idCounter  uint64
	started    bool
	pendingIDs chan string
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

func NewQueue(workerCount int, store Store) *Queue {
	if workerCount <= 0 {
		workerCount = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		workerCount: workerCount,
		maxTasks:    1000,
		store:       store,
		tasks:       make(map[string]*Task),
		done:        make(map[string]chan struct{}),
		dedupe:      make(map[string]string),
		pendingIDs:  make(chan string, 1024),
		stopCh:      make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
	q.hydrateFromStore(context.Background())
	return q
}

// Enqueue adds a task. A pending or running task with the same dedupe key
// is returned instead, with created=false.
func (q *Queue) Enqueue(req EnqueueRequest) (*Task, bool) {
	now := time.Now()

	q.mu.Lock()
	if id, ok := q.dedupe[req.DedupeKey]; ok {
		if existing, exists := q.tasks[id]; exists {
			snapshot := cloneTask(existing)
			q.mu.Unlock()
			return snapshot, false
		}
		delete(q.dedupe, req.DedupeKey)
	}

	id := fmt.Sprintf("task-%d", atomic.AddUint64(&q.idCounter, 1))
	task := &Task{
		ID:        id,
		Kind:      req.Kind,
		Source:    req.Source,
		DedupeKey: req.DedupeKey,
		Payload:   req.Payload,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	q.tasks[id] = task
	q.done[id] = make(chan struct{})
	if req.DedupeKey != "" {
		q.dedupe[req.DedupeKey] = id
	}
	started := q.started
	snapshot := cloneTask(task)
	q.mu.Unlock()

	q.persistTask(snapshot)
	metrics.RecordTask(string(task.Kind), string(StatusPending))
	if started {
		q.enqueuePendingID(id)
	}
	return snapshot, true
}

func (q *Queue) Get(id string) (*Task, bool) {
	q.mu.RLock()
	task, ok := q.tasks[id]
	q.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return cloneTask(task), true
}

// List returns all tasks, oldest first.
func (q *Queue) List() []*Task {
	q.mu.RLock()
	ret := make([]*Task, 0, len(q.tasks))
	for _, task := range q.tasks {
		ret = append(ret, cloneTask(task))
	}
	q.mu.RUnlock()

	sort.Slice(ret, func(i, j int) bool {
		if ret[i].CreatedAt.Equal(ret[j].CreatedAt) {
			return ret[i].ID < ret[j].ID
		}
		return ret[i].CreatedAt.Before(ret[j].CreatedAt)
	})
	return ret
}

// Wait blocks until the task reaches a terminal status or ctx is done.
func (q *Queue) Wait(ctx context.Context, id string) (*Task, error) {
	q.mu.RLock()
	task, ok := q.tasks[id]
	ch := q.done[id]
	var snapshot *Task
	if ok {
		snapshot = cloneTask(task)
	}
	q.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("task %s not found", id)
	}
	if snapshot.Status.Terminal() || ch == nil {
		return snapshot, nil
	}

	select {
	case <-ch:
		t, ok := q.Get(id)
		if !ok {
			return nil, fmt.Errorf("task %s was pruned", id)
		}
		return t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *Queue) Start(exec Executor) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true

	pending := make([]*Task, 0)
	for _, task := range q.tasks {
		if task.Status == StatusPending {
			pending = append(pending, task)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	ids := make([]string, 0, len(pending))
	for _, task := range pending {
		ids = append(ids, task.ID)
	}
	q.mu.Unlock()

	for _, id := range ids {
		q.enqueuePendingID(id)
	}

	for i := 0; i < q.workerCount; i++ {
		q.wg.Add(1)
		go q.worker(exec)
	}
}

// Stop cancels running tasks and waits for the workers to exit. Cancelled
// tasks are marked failed; tasks still pending are picked up again after
// a restart from the store.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.stopCh)
		q.cancel()
		q.wg.Wait()
	})
}

func (q *Queue) worker(exec Executor) {
	defer q.wg.Done()

	for {
		select {
		case <-q.stopCh:
			return
		case id := <-q.pendingIDs:
			task, ok := q.markRunning(id)
			if !ok {
				continue
			}

			result, err := q.execute(exec, task)
			if err != nil {
				q.markFailed(id, result, err)
				continue
			}
			q.markSuccess(id, result)
		}
	}
}

func (q *Queue) execute(exec Executor, task *Task) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return exec(q.ctx, task)
}

func (q *Queue) enqueuePendingID(id string) {
	select {
	case q.pendingIDs <- id:
	default:
		go func() {
			select {
			case q.pendingIDs <- id:
			case <-q.stopCh:
			}
		}()
	}
}

func (q *Queue) markRunning(id string) (*Task, bool) {
	q.mu.Lock()
	task, ok := q.tasks[id]
	if !ok || task.Status != StatusPending {
		q.mu.Unlock()
		return nil, false
	}
	task.Status = StatusRunning
	task.UpdatedAt = time.Now()
	snapshot := cloneTask(task)
	q.mu.Unlock()

	q.persistTask(snapshot)
	metrics.RecordTask(string(task.Kind), string(StatusRunning))
	return snapshot, true
}

func (q *Queue) markSuccess(id, result string) {
	q.finish(id, StatusSuccess, result, nil)
}

func (q *Queue) markFailed(id, result string, err error) {
	q.finish(id, StatusFailed, result, err)
}

func (q *Queue) finish(id string, status Status, result string, err error) {
	q.mu.Lock()
	task, ok := q.tasks[id]
	if !ok {
		q.mu.Unlock()
		return
	}
	task.Status = status
	task.Result = result
	task.Error = ""
	if err != nil {
		task.Error = err.Error()
	}
	task.UpdatedAt = time.Now()
	q.releaseDedupeLocked(task)
	if ch, ok := q.done[id]; ok {
		close(ch)
		delete(q.done, id)
	}
	pruned := q.pruneTerminalTasksLocked()
	snapshot := cloneTask(task)
	q.mu.Unlock()

	q.persistTask(snapshot)
	q.deleteTasksFromStore(pruned)
	metrics.RecordTask(string(snapshot.Kind), string(status))
	if err != nil {
		log.Error("Task %s (%s) failed: %v", id, snapshot.Kind, err)
	} else {
		log.Info("Task %s (%s) finished: %s", id, snapshot.Kind, result)
	}
}

func (q *Queue) releaseDedupeLocked(task *Task) {
	if task == nil || task.DedupeKey == "" {
		return
	}
	if id, ok := q.dedupe[task.DedupeKey]; ok && id == task.ID {
		delete(q.dedupe, task.DedupeKey)
	}
}

func (q *Queue) pruneTerminalTasksLocked() []string {
	if q.maxTasks <= 0 || len(q.tasks) <= q.maxTasks {
		return nil
	}

	type candidate struct {
		id        string
		updatedAt time.Time
	}
	terminal := make([]candidate, 0, len(q.tasks))
	for id, task := range q.tasks {
		if task == nil || !task.Status.Terminal() {
			continue
		}
		terminal = append(terminal, candidate{id: id, updatedAt: task.UpdatedAt})
	}
	if len(terminal) == 0 {
		return nil
	}

	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].updatedAt.Before(terminal[j].updatedAt)
	})

	toRemove := min(len(q.tasks)-q.maxTasks, len(terminal))
	if toRemove <= 0 {
		return nil
	}

	pruned := make([]string, 0, toRemove)
	for i := 0; i < toRemove; i++ {
		id := terminal[i].id
		if task := q.tasks[id]; task != nil {
			q.releaseDedupeLocked(task)
		}
		delete(q.tasks, id)
		pruned = append(pruned, id)
	}
	return pruned
}

func (q *Queue) deleteTasksFromStore(ids []string) {
	if q.store == nil || len(ids) == 0 {
		return
	}
	for _, id := range ids {
		if err := q.store.DeleteTaskData(context.Background(), id); err != nil {
			log.Error("Failed to delete data for pruned task %s: %v", id, err)
		}
		if err := q.store.DeleteTask(context.Background(), id); err != nil {
			log.Error("Failed to delete pruned task %s from store: %v", id, err)
		}
	}
}

func (q *Queue) hydrateFromStore(ctx context.Context) {
	if q.store == nil {
		return
	}
	loaded, err := q.store.LoadTasks(ctx)
	if err != nil {
		log.Error("Failed to load tasks from store: %v", err)
		return
	}

	now := time.Now()
	toPersist := make([]*Task, 0)
	q.mu.Lock()
	for _, raw := range loaded {
		if raw == nil || raw.ID == "" {
			continue
		}
		task := cloneTask(raw)
		if task.Status == StatusRunning {
			task.Status = StatusPending
			task.UpdatedAt = now
			toPersist = append(toPersist, cloneTask(task))
		}
		q.tasks[task.ID] = task
		if !task.Status.Terminal() {
			q.done[task.ID] = make(chan struct{})
			if task.DedupeKey != "" {
				q.dedupe[task.DedupeKey] = task.ID
			}
		}
		q.updateIDCounterLocked(task.ID)
	}
	q.mu.Unlock()

	for _, task := range toPersist {
		q.persistTask(task)
	}
	if len(toPersist) > 0 {
		log.Warn("Re-queued %d task(s) interrupted by a restart", len(toPersist))
	}
}

func (q *Queue) updateIDCounterLocked(taskID string) {
	if !strings.HasPrefix(taskID, "task-") {
		return
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(taskID, "task-"), 10, 64)
	if err != nil {
		return
	}
	if n > q.idCounter {
		q.idCounter = n
	}
}

func (q *Queue) persistTask(task *Task) {
	if q.store == nil || task == nil {
		return
	}
	if err := q.store.UpsertTask(context.Background(), task); err != nil {
		log.Error("Failed to persist task %s: %v", task.ID, err)
	}
}

func cloneTask(task *Task) *Task {
	if task == nil {
		return nil
	}
	tmp := *task
	tmp.Payload.Channels = append([]string(nil), task.Payload.Channels...)
	return &tmp
}
