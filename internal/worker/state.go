// Package worker runs the bounded REPL: it drives the root model CLI,
// executes the returned code in the sandbox, and assembles the single
// result record.
package worker

import (
	"time"

	"github.com/nextlevelbuilder/superloop/pkg/rlms"
)

// ExecutionState is the controller's mutable ledger. It satisfies
// sandbox.Budget so helpers can charge the same budgets the loop does.
type ExecutionState struct {
	MaxSteps       int
	MaxDepth       int
	TimeoutSeconds int
	MaxSubcalls    int

	startedAt time.Time
	now       func() time.Time

	stepCount    int
	subcallCount int
	history      []rlms.TraceRow
}

// NewExecutionState snapshots the monotonic clock and fixes the
// budgets.
func NewExecutionState(maxSteps, maxDepth, timeoutSeconds, maxSubcalls int, now func() time.Time) *ExecutionState {
	if now == nil {
		now = time.Now
	}
	return &ExecutionState{
		MaxSteps:       maxSteps,
		MaxDepth:       maxDepth,
		TimeoutSeconds: timeoutSeconds,
		MaxSubcalls:    maxSubcalls,
		startedAt:      now(),
		now:            now,
	}
}

// ElapsedSeconds reports wall-clock time since start.
func (s *ExecutionState) ElapsedSeconds() float64 {
	return s.now().Sub(s.startedAt).Seconds()
}

// CheckTimeout raises a limit error once the wall-clock budget is
// spent.
func (s *ExecutionState) CheckTimeout() error {
	if s.TimeoutSeconds > 0 && s.ElapsedSeconds() > float64(s.TimeoutSeconds) {
		return rlms.Limitf("timeout exceeded (%ds)", s.TimeoutSeconds)
	}
	return nil
}

// TickStep charges one root iteration against the step budget.
func (s *ExecutionState) TickStep() error {
	s.stepCount++
	if s.MaxSteps > 0 && s.stepCount > s.MaxSteps {
		return rlms.Limitf("step limit exceeded (%d)", s.MaxSteps)
	}
	return s.CheckTimeout()
}

// NextSubcall charges one sub_rlm invocation, validating the declared
// depth against the depth cap.
func (s *ExecutionState) NextSubcall(depth int64) error {
	if depth < 1 {
		return rlms.Limitf("subcall depth must be >= 1")
	}
	if depth > int64(s.MaxDepth) {
		return rlms.Limitf("subcall depth exceeded (%d > max_depth=%d)", depth, s.MaxDepth)
	}
	s.subcallCount++
	if s.subcallCount > s.MaxSubcalls {
		return rlms.Limitf("subcall limit exceeded (%d)", s.MaxSubcalls)
	}
	return s.CheckTimeout()
}

// RemainingTimeout returns the wall-clock budget left for one child
// process, with a one-second floor so the child can start.
func (s *ExecutionState) RemainingTimeout() (time.Duration, error) {
	if s.TimeoutSeconds <= 0 {
		return 0, nil
	}
	remaining := float64(s.TimeoutSeconds) - s.ElapsedSeconds()
	if remaining <= 0 {
		return 0, rlms.Limitf("timeout exceeded (%ds)", s.TimeoutSeconds)
	}
	if remaining < 1 {
		remaining = 1
	}
	return time.Duration(remaining * float64(time.Second)), nil
}

// AppendTrace records a trace row, keeping the retained window bounded.
func (s *ExecutionState) AppendTrace(row rlms.TraceRow) {
	s.history = append(s.history, row)
	if len(s.history) > rlms.MaxHistoryRetained {
		s.history = s.history[len(s.history)-rlms.MaxHistoryRetained:]
	}
}

// StepCount returns the number of root iterations charged so far.
func (s *ExecutionState) StepCount() int { return s.stepCount }

// SubcallCount returns the number of subcalls charged so far.
func (s *ExecutionState) SubcallCount() int { return s.subcallCount }

// History returns the retained trace window.
func (s *ExecutionState) History() []rlms.TraceRow { return s.history }

// Tail returns the last n trace rows.
func (s *ExecutionState) Tail(n int) []rlms.TraceRow {
	if len(s.history) <= n {
		return append([]rlms.TraceRow(nil), s.history...)
	}
	return append([]rlms.TraceRow(nil), s.history[len(s.history)-n:]...)
}
