package scheduler

import (
	"errors"
	"testing"
	"time"

	"canopy/storage"
	"canopy/types"
	"canopy/world"
)

var (
	errRuntime = errors.New("scheduler_test: runtime error")
	errSuspend = errors.New("scheduler_test: suspend sentinel")
)

func newTestScheduler(t *testing.T, workers int) *Scheduler {
	t.Helper()
	db := world.NewDatabase(storage.NewEngine(nil))
	s := New(db, nil, 10, workers)
	s.Start()
	t.Cleanup(s.Stop)
	return s
}

// TestConcurrentCommitRetry is spec §8 scenario 1 at the scheduler level:
// many tasks each increment the same property; every one must eventually
// commit and the final value must equal the task count.
func TestConcurrentCommitRetry(t *testing.T) {
	s := newTestScheduler(t, 4)

	const n = 40
	var results []<-chan Result
	for i := 0; i < n; i++ {
		task := s.NewTask(KindEval, types.ObjID(1), types.ObjID(1), 1000, time.Second, func(tc *TxContext) (types.Value, error) {
			v, ok := tc.Tx.Storage().Get(storage.RelPropValue, "counter")
			cur := int64(0)
			if ok {
				cur = v.(types.IntValue).Val
			}
			tc.Tx.Storage().Put(storage.RelPropValue, "counter", types.NewInt(cur+1), storage.OpNone)
			return types.NewInt(cur + 1), nil
		})
		results = append(results, s.Submit(task))
	}

	for _, ch := range results {
		r := <-ch
		if r.Err != nil {
			t.Fatalf("task failed: %v", r.Err)
		}
	}

	tx := s.db.Begin()
	v, ok := tx.Storage().Get(storage.RelPropValue, "counter")
	if !ok {
		t.Fatal("counter not found after commits")
	}
	if got := v.(types.IntValue).Val; got != n {
		t.Errorf("counter = %d, want %d", got, n)
	}
}

func TestTaskFailureDoesNotCommit(t *testing.T) {
	s := newTestScheduler(t, 2)

	task := s.NewTask(KindEval, types.ObjID(1), types.ObjID(1), 1000, time.Second, func(tc *TxContext) (types.Value, error) {
		tc.Tx.Storage().Put(storage.RelPropValue, "x", types.NewInt(1), storage.OpNone)
		return nil, errRuntime
	})

	r := <-s.Submit(task)
	if r.Err != errRuntime {
		t.Fatalf("expected errRuntime, got %v", r.Err)
	}

	tx := s.db.Begin()
	if _, ok := tx.Storage().Get(storage.RelPropValue, "x"); ok {
		t.Error("failed task's write should not be visible")
	}
}

func TestForkDelaysExecution(t *testing.T) {
	s := newTestScheduler(t, 2)

	start := time.Now()
	done := make(chan time.Time, 1)
	task := s.Fork(types.ObjID(1), types.ObjID(1), 50*time.Millisecond, 1000, time.Second, func(tc *TxContext) (types.Value, error) {
		done <- time.Now()
		return types.NewInt(0), nil
	})
	_ = task

	select {
	case at := <-done:
		if at.Sub(start) < 40*time.Millisecond {
			t.Errorf("fork ran too early: %v after submit", at.Sub(start))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("forked task never ran")
	}
}

func TestResumeDeliversValue(t *testing.T) {
	s := newTestScheduler(t, 2)

	gotResume := make(chan types.Value, 1)
	task := s.NewTask(KindEval, types.ObjID(1), types.ObjID(1), 1000, time.Second, func(tc *TxContext) (types.Value, error) {
		if tc.Task.Resume == nil {
			tc.Task.Suspend(time.Now().Add(time.Hour))
			return nil, errSuspend
		}
		gotResume <- tc.Task.Resume
		return tc.Task.Resume, nil
	})

	s.mu.Lock()
	s.tasks[task.ID] = task
	s.mu.Unlock()

	r := s.runWithRetry(task)
	if r.Err != errSuspend {
		t.Fatalf("expected suspend sentinel, got %v", r.Err)
	}

	if !s.ResumeTask(task.ID, types.NewInt(42)) {
		t.Fatal("ResumeTask returned false for a suspended task")
	}

	select {
	case v := <-gotResume:
		if got := v.(types.IntValue).Val; got != 42 {
			t.Errorf("resume value = %d, want 42", got)
		}
	case <-time.After(time.Second):
		t.Fatal("resumed task never ran")
	}
}
