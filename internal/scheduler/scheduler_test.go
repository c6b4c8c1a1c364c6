package scheduler

import "testing"

func TestAddJobValidatesExpression(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	if err := s.AddJob("not a cron expr", func() {}); err == nil {
		t.Error("expected error for invalid cron expression")
	}
	if err := s.AddJob("* * * * *", func() {}); err != nil {
		t.Errorf("valid expression rejected: %v", err)
	}
}

func TestStopReturnsWhenIdle(t *testing.T) {
	s := NewScheduler()
	s.Stop()
}
