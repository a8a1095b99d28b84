package hitl_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thomasrohde/strands-workflow/workflow/hitl"
	"github.com/thomasrohde/strands-workflow/workflow/session"
	"github.com/thomasrohde/strands-workflow/workflow/template"
)

func TestGateRendersPromptAndContext(t *testing.T) {
	g := hitl.Gate{
		UnitID:          "approve",
		PromptTemplate:  "Approve {{.topic}}?",
		ContextTemplate: "Draft: {{.draft}}",
		TimeoutSeconds:  60,
	}
	r := template.New(0)
	ns := template.Namespace{"topic": "refund", "draft": "text here"}

	state, err := g.Render(r, ns, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "Approve refund?", state.Prompt)
	assert.Equal(t, "Draft: text here", state.Context)
	assert.True(t, state.Active)
	assert.False(t, state.TimeoutAt.IsZero())
}

func TestCheckTimeoutUsesDefaultResponse(t *testing.T) {
	state := &session.HITLState{
		Active:          true,
		TimeoutAt:       time.Now().Add(-time.Minute),
		DefaultResponse: "approved",
	}
	expired, resp := hitl.CheckTimeout(state, time.Now())
	assert.True(t, expired)
	assert.Equal(t, "approved", resp)
}

func TestCheckTimeoutFallsBackToLiteral(t *testing.T) {
	state := &session.HITLState{
		Active:    true,
		TimeoutAt: time.Now().Add(-time.Minute),
	}
	expired, resp := hitl.CheckTimeout(state, time.Now())
	assert.True(t, expired)
	assert.Equal(t, hitl.TimeoutExpiredResponse, resp)
}

func TestCheckTimeoutNotYetExpired(t *testing.T) {
	state := &session.HITLState{
		Active:    true,
		TimeoutAt: time.Now().Add(time.Hour),
	}
	expired, _ := hitl.CheckTimeout(state, time.Now())
	assert.False(t, expired)
}

func TestResumeResolvesGate(t *testing.T) {
	state := &session.HITLState{Active: true}
	require.NoError(t, hitl.Resume(state, "yes"))
	assert.False(t, state.Active)
	assert.True(t, state.Resolved)
	assert.Equal(t, "yes", state.Response)
}

func TestResumeFailsWhenInactive(t *testing.T) {
	state := &session.HITLState{Active: false}
	require.Error(t, hitl.Resume(state, "yes"))
}
