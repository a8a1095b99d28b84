// Package budget tracks per-run token consumption against a spec's declared
// budgets and triggers compaction warnings. Grounded on the teacher's
// policy.CapsState pattern (agents/runtime/policy/policy.go) - a plain
// counter struct the runtime decrements and checks before each turn -
// generalized here from tool-call/failure caps to token budgets.
package budget

import (
	"github.com/thomasrohde/strands-workflow/workflow/werrors"
)

// Usage accumulates token consumption for a run. Counts are monotonically
// non-decreasing; Add never reduces them.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Total returns the combined input and output token count.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// Add accumulates input and output token deltas. Negative deltas are
// ignored so a misbehaving caller cannot move Usage backwards.
func (u *Usage) Add(input, output int) {
	if input > 0 {
		u.InputTokens += input
	}
	if output > 0 {
		u.OutputTokens += output
	}
}

// Policy is the subset of spec.Budgets the tracker enforces.
type Policy struct {
	MaxTokens int
	WarnRatio float64
}

// Tracker evaluates Usage against a Policy on every turn, the way the
// teacher's policy.Engine evaluates CapsState before every planner call.
type Tracker struct {
	policy Policy
	usage  Usage
	warned bool
}

// NewTracker constructs a Tracker for policy. A zero-value Policy disables
// enforcement entirely (MaxTokens == 0 means unlimited, matching the
// teacher's CapsState.MaxToolCalls convention).
func NewTracker(policy Policy) *Tracker {
	return &Tracker{policy: policy}
}

// Usage returns a copy of the tracker's current accumulated usage.
func (t *Tracker) Usage() Usage { return t.usage }

// Record folds input/output token deltas into the tracker's usage.
func (t *Tracker) Record(input, output int) {
	t.usage.Add(input, output)
}

// CheckResult reports the outcome of a budget check.
type CheckResult struct {
	// ShouldWarn is true the first time usage crosses WarnRatio of
	// MaxTokens; it fires once per Tracker lifetime.
	ShouldWarn bool
	// Ratio is usage.Total() / MaxTokens, or 0 if MaxTokens is unlimited.
	Ratio float64
}

// Check evaluates current usage against the policy. It returns a
// werrors.BudgetExceeded error once usage reaches or exceeds MaxTokens
// (the "hard-abort at 100%" invariant); otherwise it reports whether this
// call is the first to cross WarnRatio.
func (t *Tracker) Check() (CheckResult, error) {
	if t.policy.MaxTokens <= 0 {
		return CheckResult{}, nil
	}

	ratio := float64(t.usage.Total()) / float64(t.policy.MaxTokens)
	if t.usage.Total() >= t.policy.MaxTokens {
		return CheckResult{Ratio: ratio}, werrors.BudgetExceeded(t.usage.Total(), t.policy.MaxTokens)
	}

	result := CheckResult{Ratio: ratio}
	if !t.warned && t.policy.WarnRatio > 0 && ratio >= t.policy.WarnRatio {
		t.warned = true
		result.ShouldWarn = true
	}
	return result, nil
}
