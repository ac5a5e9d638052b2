package metrics

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewTimer(t *testing.T) {
	timer := NewTimer()
	if timer == nil {
		t.Fatal("NewTimer() returned nil")
	}
	if timer.start.IsZero() {
		t.Error("NewTimer() start time is zero")
	}
}

func TestTimerDuration(t *testing.T) {
	timer := NewTimer()
	time.Sleep(20 * time.Millisecond)

	d := timer.Duration()
	if d < 20*time.Millisecond {
		t.Errorf("Duration() = %v, want >= 20ms", d)
	}
}

func TestTimerObserveDuration(t *testing.T) {
	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)
	timer.ObserveDuration(VMTaskDuration)
}

func TestReadSnapshotReflectsIncrements(t *testing.T) {
	before := Read()

	TasksStarted.Add(1)
	CommitRetries.Add(3)
	NarrativeQueueDepth.Set(7)

	after := Read()

	if after.TasksStarted != before.TasksStarted+1 {
		t.Errorf("TasksStarted = %v, want %v", after.TasksStarted, before.TasksStarted+1)
	}
	if after.CommitRetries != before.CommitRetries+3 {
		t.Errorf("CommitRetries = %v, want %v", after.CommitRetries, before.CommitRetries+3)
	}
	if after.NarrativeQueueDepth != 7 {
		t.Errorf("NarrativeQueueDepth = %v, want 7", after.NarrativeQueueDepth)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()

	Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("GET /metrics status = %d, want 200", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Error("GET /metrics returned empty body")
	}
}
