package scheduler

import (
	"testing"
	"time"
)

func TestAddEveryRejectsShortIntervals(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	if err := s.AddEvery(100*time.Millisecond, func() {}); err == nil {
		t.Error("expected error for sub-second interval")
	}
	if err := s.AddEvery(time.Second, func() {}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAddJobRejectsInvalidExpr(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	if err := s.AddJob("not a cron expr", func() {}); err == nil {
		t.Error("expected error for invalid cron expression")
	}
	if err := s.AddJob("@every 1m", func() {}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAddEveryRunsTask(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	ran := make(chan struct{}, 1)
	if err := s.AddEvery(time.Second, func() {
		select {
		case ran <- struct{}{}:
		default:
		}
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled task never ran")
	}
}
