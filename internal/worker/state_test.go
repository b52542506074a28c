package worker

import (
	"errors"
	"testing"
	"time"

	"github.com/nextlevelbuilder/superloop/pkg/rlms"
)

func TestTickStepBudget(t *testing.T) {
	s := NewExecutionState(2, 1, 100, 4, nil)
	if err := s.TickStep(); err != nil {
		t.Fatal(err)
	}
	if err := s.TickStep(); err != nil {
		t.Fatal(err)
	}
	err := s.TickStep()
	var limit *rlms.LimitError
	if !errors.As(err, &limit) {
		t.Fatalf("third tick: err = %v, want LimitError", err)
	}
	if s.StepCount() != 3 {
		t.Errorf("step count = %d, want 3", s.StepCount())
	}
}

func TestNextSubcall(t *testing.T) {
	s := NewExecutionState(3, 2, 100, 2, nil)

	if err := s.NextSubcall(1); err != nil {
		t.Fatal(err)
	}
	// depth == max_depth is permitted.
	if err := s.NextSubcall(2); err != nil {
		t.Fatal(err)
	}

	var limit *rlms.LimitError
	if err := s.NextSubcall(1); !errors.As(err, &limit) {
		t.Errorf("over budget: err = %v, want LimitError", err)
	}

	s2 := NewExecutionState(3, 2, 100, 10, nil)
	if err := s2.NextSubcall(3); !errors.As(err, &limit) {
		t.Errorf("depth over cap: err = %v, want LimitError", err)
	}
	if err := s2.NextSubcall(0); !errors.As(err, &limit) {
		t.Errorf("depth zero: err = %v, want LimitError", err)
	}
}

func TestTimeout(t *testing.T) {
	start := time.Now()
	clock := start
	s := NewExecutionState(10, 1, 5, 20, func() time.Time { return clock })

	if err := s.CheckTimeout(); err != nil {
		t.Fatal(err)
	}
	clock = start.Add(6 * time.Second)
	var limit *rlms.LimitError
	if err := s.CheckTimeout(); !errors.As(err, &limit) {
		t.Errorf("err = %v, want LimitError", err)
	}
	if _, err := s.RemainingTimeout(); !errors.As(err, &limit) {
		t.Errorf("remaining after expiry: err = %v, want LimitError", err)
	}
}

func TestRemainingTimeoutFloor(t *testing.T) {
	start := time.Now()
	clock := start
	s := NewExecutionState(10, 1, 5, 20, func() time.Time { return clock })

	d, err := s.RemainingTimeout()
	if err != nil {
		t.Fatal(err)
	}
	if d != 5*time.Second {
		t.Errorf("remaining = %v, want 5s", d)
	}

	clock = start.Add(4900 * time.Millisecond)
	d, err = s.RemainingTimeout()
	if err != nil {
		t.Fatal(err)
	}
	if d != time.Second {
		t.Errorf("remaining = %v, want 1s floor", d)
	}
}

func TestHistoryRetention(t *testing.T) {
	s := NewExecutionState(10, 1, 100, 20, nil)
	for i := 0; i < 250; i++ {
		s.AppendTrace(rlms.TraceRow{Step: i + 1, Type: rlms.TraceRoot})
	}
	if len(s.History()) != rlms.MaxHistoryRetained {
		t.Errorf("history = %d, want %d", len(s.History()), rlms.MaxHistoryRetained)
	}
	tail := s.Tail(rlms.MaxHistoryItems)
	if len(tail) != rlms.MaxHistoryItems {
		t.Fatalf("tail = %d", len(tail))
	}
	if tail[len(tail)-1].Step != 250 {
		t.Errorf("last step = %d, want 250", tail[len(tail)-1].Step)
	}
}
