package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"canopy/logging"
	"canopy/metrics"
	"canopy/narrative"
	"canopy/types"
	"canopy/world"
)

// ErrRetriesExhausted is surfaced when a task's commit keeps conflicting
// past the configured retry bound (spec §8 "RollbackRetriesExhausted").
var ErrRetriesExhausted = errors.New("scheduler: commit retries exhausted")

// TxContext is what a Task's Body runs against: the world transaction for
// this attempt plus a narrative buffer that only reaches the real log once
// the transaction commits (spec §8 ordering guarantee).
type TxContext struct {
	Tx      *world.Tx
	Task    *Task
	pending []pendingEvent
}

type pendingEvent struct {
	player types.ObjID
	event  narrative.Event
}

// Notify buffers a narrative event for this attempt. It is only applied to
// the log if and when the enclosing transaction commits.
func (tc *TxContext) Notify(player types.ObjID, e narrative.Event) {
	tc.pending = append(tc.pending, pendingEvent{player: player, event: e})
}

// Result is what RunTask hands back: either a value, a run-time error, or
// ErrRetriesExhausted.
type Result struct {
	Value types.Value
	Err   error
}

// Scheduler dispatches tasks against a world.Database through a worker
// pool of VM goroutines, generalizing the teacher's single inline
// scheduler goroutine (server/scheduler.go's run()) into §8's contract.
type Scheduler struct {
	db         *world.Database
	log        *narrative.Log
	maxRetries int
	workers    int

	mu         sync.Mutex
	nextTaskID int64
	tasks      map[int64]*Task
	delayed    *delayQueue

	jobs   chan *Task
	done   chan jobResult
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	waiters   map[int64]chan Result
	waitersMu sync.Mutex
}

type jobResult struct {
	task   *Task
	result Result
}

// New builds a Scheduler over db, flushing narrative events to log,
// bounding commit retries at maxRetries (config.Scheduler.MaxCommitRetries)
// and running workers VM goroutines concurrently.
func New(db *world.Database, log *narrative.Log, maxRetries, workers int) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		db:         db,
		log:        log,
		maxRetries: maxRetries,
		workers:    workers,
		tasks:      make(map[int64]*Task),
		delayed:    newDelayQueue(),
		jobs:       make(chan *Task, 256),
		done:       make(chan jobResult, 256),
		ctx:        ctx,
		cancel:     cancel,
		waiters:    make(map[int64]chan Result),
	}
	return s
}

// Start launches the worker pool and the dispatch loop.
func (s *Scheduler) Start() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	s.wg.Add(1)
	go s.dispatchLoop()
}

// Stop cancels the dispatch loop and waits for in-flight workers to drain.
func (s *Scheduler) Stop() {
	s.cancel()
	close(s.jobs)
	s.wg.Wait()
}

// dispatchLoop wakes delayed (forked/suspended) tasks whose start time has
// arrived and routes completed jobs back to their waiters, generalizing
// the teacher's ticker-driven processReadyTasks.
func (s *Scheduler) dispatchLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case jr := <-s.done:
			s.completeTask(jr.task, jr.result)
		case <-ticker.C:
			s.wakeDelayed()
		}
	}
}

func (s *Scheduler) wakeDelayed() {
	s.mu.Lock()
	now := time.Now()
	var ready []*Task
	for s.delayed.Len() > 0 {
		t := s.delayed.Peek()
		if t.StartTime.After(now) {
			break
		}
		heap.Pop(s.delayed)
		if t.state == StateKilled {
			continue
		}
		ready = append(ready, t)
	}
	s.mu.Unlock()

	for _, t := range ready {
		s.dispatch(t)
	}
}

func (s *Scheduler) dispatch(t *Task) {
	metrics.SchedulerActiveTasks.Inc()
	select {
	case s.jobs <- t:
	case <-s.ctx.Done():
	}
}

func (s *Scheduler) completeTask(t *Task, r Result) {
	metrics.SchedulerActiveTasks.Dec()
	s.mu.Lock()
	delete(s.tasks, t.ID)
	s.mu.Unlock()

	s.waitersMu.Lock()
	ch, ok := s.waiters[t.ID]
	delete(s.waiters, t.ID)
	s.waitersMu.Unlock()
	if ok {
		ch <- r
		close(ch)
	}
}

// worker runs tasks pulled from the jobs channel, one at a time, each
// through the commit-retry loop.
func (s *Scheduler) worker() {
	defer s.wg.Done()
	for t := range s.jobs {
		r := s.runWithRetry(t)
		s.done <- jobResult{task: t, result: r}
	}
}

// runWithRetry executes t.Body against fresh snapshots until it commits or
// runs out of retries (spec §8's ConflictRetry bound).
func (s *Scheduler) runWithRetry(t *Task) Result {
	log := logging.WithTask(t.ID)
	metrics.TasksStarted.Add(1)

	attempts := s.maxRetries
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		tx := s.db.Begin()
		tc := &TxContext{Tx: tx, Task: t}

		val, err := t.Body(tc)
		if err != nil {
			tx.Storage().Rollback()
			metrics.TasksCompleted.WithLabelValues("error").Inc()
			return Result{Err: err}
		}

		timer := metrics.NewTimer()
		_, commitErr := tx.Storage().Commit()
		timer.ObserveDuration(metrics.VMTaskDuration)

		if commitErr == nil {
			s.flushNarrative(tc)
			metrics.TasksCompleted.WithLabelValues("ok").Inc()
			return Result{Value: val}
		}

		metrics.CommitRetries.Add(1)
		log.Warn().Err(commitErr).Int("attempt", attempt).Msg("commit conflict, retrying")
	}

	metrics.CommitRetriesExhausted.Add(1)
	metrics.TasksCompleted.WithLabelValues("retries_exhausted").Inc()
	return Result{Err: ErrRetriesExhausted}
}

func (s *Scheduler) flushNarrative(tc *TxContext) {
	if s.log == nil {
		return
	}
	for _, pe := range tc.pending {
		s.log.Append(pe.player, pe.event)
	}
}

// Submit queues t for execution and returns a channel delivering its
// Result once the task commits, fails, or exhausts its retries.
func (s *Scheduler) Submit(t *Task) <-chan Result {
	s.mu.Lock()
	t.state = StateQueued
	s.tasks[t.ID] = t
	s.mu.Unlock()

	ch := make(chan Result, 1)
	s.waitersMu.Lock()
	s.waiters[t.ID] = ch
	s.waitersMu.Unlock()

	if t.StartTime.After(time.Now()) {
		s.mu.Lock()
		heap.Push(s.delayed, t)
		s.mu.Unlock()
		return ch
	}

	s.dispatch(t)
	return ch
}

// RunSync submits t and blocks for its Result — used by server hooks
// (do_login_command, user_connected) that need an immediate answer,
// mirroring the teacher's synchronous CallVerb.
func (s *Scheduler) RunSync(t *Task) Result {
	return <-s.Submit(t)
}

// NewTask allocates a task id and builds a Task ready for Submit.
func (s *Scheduler) NewTask(kind Kind, player, programmer types.ObjID, tickBudget int64, timeBudget time.Duration, body Body) *Task {
	id := atomic.AddInt64(&s.nextTaskID, 1)
	return &Task{
		ID:         id,
		Kind:       kind,
		Player:     player,
		Programmer: programmer,
		TickBudget: tickBudget,
		TimeBudget: timeBudget,
		StartTime:  time.Now(),
		Body:       body,
	}
}

// Fork schedules a delayed background task (spec §8 fork), generalizing
// the teacher's CreateBackgroundTask/Fork.
func (s *Scheduler) Fork(player, programmer types.ObjID, delay time.Duration, tickBudget int64, timeBudget time.Duration, body Body) *Task {
	t := s.NewTask(KindFork, player, programmer, tickBudget, timeBudget, body)
	t.StartTime = time.Now().Add(delay)
	s.Submit(t)
	return t
}

// Task looks up a live task by id (for resume()/kill() builtins).
func (s *Scheduler) Task(id int64) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[id]
}

// ResumeTask wakes a suspended task immediately with the given value,
// matching the resume() builtin's contract.
func (s *Scheduler) ResumeTask(id int64, value types.Value) bool {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if ok {
		if t.state != StateSuspended {
			ok = false
		} else {
			t.Resume = value
			t.state = StateQueued
			t.StartTime = time.Now()
		}
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.dispatch(t)
	return true
}

// KillTask marks a queued or suspended task as killed, preventing it from
// running if it has not already been dispatched to a worker.
func (s *Scheduler) KillTask(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return false
	}
	t.state = StateKilled
	delete(s.tasks, id)
	return true
}
