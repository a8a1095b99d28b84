package budget_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thomasrohde/strands-workflow/workflow/budget"
	"github.com/thomasrohde/strands-workflow/workflow/werrors"
)

func TestTrackerUnlimitedWhenMaxTokensZero(t *testing.T) {
	tr := budget.NewTracker(budget.Policy{})
	tr.Record(1_000_000, 1_000_000)
	res, err := tr.Check()
	require.NoError(t, err)
	assert.False(t, res.ShouldWarn)
}

func TestTrackerWarnsOnceAtRatio(t *testing.T) {
	tr := budget.NewTracker(budget.Policy{MaxTokens: 100, WarnRatio: 0.8})
	tr.Record(50, 30)
	res, err := tr.Check()
	require.NoError(t, err)
	assert.True(t, res.ShouldWarn)

	res2, err := tr.Check()
	require.NoError(t, err)
	assert.False(t, res2.ShouldWarn)
}

func TestTrackerAbortsAtMaxTokens(t *testing.T) {
	tr := budget.NewTracker(budget.Policy{MaxTokens: 100})
	tr.Record(60, 40)
	_, err := tr.Check()
	require.Error(t, err)
	var we *werrors.WorkflowError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, werrors.ExitBudgetExceeded, we.ExitCode())
}

type fakeSummarizer struct{}

func (fakeSummarizer) Summarize(ctx context.Context, turns []budget.Turn) (string, error) {
	return "summary of the past", nil
}

func TestCompactorPreservesRecentTurns(t *testing.T) {
	c := budget.NewCompactor(budget.ContextPolicy{
		Enabled:         true,
		SummaryRatio:    1.0,
		PreservedRecent: 1,
	}, fakeSummarizer{})

	turns := []budget.Turn{
		{Role: "user", Content: "one"},
		{Role: "assistant", Content: "two"},
		{Role: "user", Content: "three"},
	}
	out, err := c.Compact(context.Background(), turns)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "system", out[0].Role)
	assert.Equal(t, "three", out[1].Content)
}

func TestCompactorNoopWhenDisabled(t *testing.T) {
	c := budget.NewCompactor(budget.ContextPolicy{Enabled: false}, nil)
	turns := []budget.Turn{{Role: "user", Content: "x"}}
	out, err := c.Compact(context.Background(), turns)
	require.NoError(t, err)
	assert.Equal(t, turns, out)
}
