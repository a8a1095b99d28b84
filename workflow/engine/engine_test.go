package engine_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thomasrohde/strands-workflow/workflow/agent"
	"github.com/thomasrohde/strands-workflow/workflow/engine"
	"github.com/thomasrohde/strands-workflow/workflow/session"
	"github.com/thomasrohde/strands-workflow/workflow/spec"
	"github.com/thomasrohde/strands-workflow/workflow/werrors"
)

type scriptedInvoker struct {
	scripts map[string][]string
	calls   map[string]int
}

func newScriptedInvoker() *scriptedInvoker {
	return &scriptedInvoker{scripts: map[string][]string{}, calls: map[string]int{}}
}

func (s *scriptedInvoker) add(agentName string, responses ...string) *scriptedInvoker {
	s.scripts[agentName] = responses
	return s
}

func (s *scriptedInvoker) Invoke(ctx context.Context, req agent.Request) (agent.Response, error) {
	script := s.scripts[req.AgentName]
	i := s.calls[req.AgentName]
	s.calls[req.AgentName] = i + 1
	if i >= len(script) {
		i = len(script) - 1
	}
	if i < 0 {
		return agent.Response{}, fmt.Errorf("no script configured for agent %q", req.AgentName)
	}
	return agent.Response{Content: script[i], Usage: agent.Usage{InputTokens: 1, OutputTokens: 1}}, nil
}

func chainSpec(name string) *spec.Spec {
	return &spec.Spec{
		Name:    name,
		Runtime: spec.Runtime{Provider: "bedrock", Model: "anthropic.claude-3-sonnet-20240229-v1:0"},
		Agents: map[string]spec.Agent{
			"drafter": {SystemPrompt: "you draft things"},
		},
		Pattern: spec.Pattern{
			Kind: spec.PatternChain,
			Chain: &spec.ChainConfig{Steps: []spec.Step{
				{Agent: "drafter", InputTemplate: "write about {{ .topic }}"},
			}},
		},
		Inputs: spec.Inputs{Required: []string{"topic"}},
	}
}

func TestDispatchRunsChainToCompletion(t *testing.T) {
	store := session.NewStore(t.TempDir(), 0)
	inv := newScriptedInvoker().add("drafter", "a draft about oceans")
	d := engine.NewDispatcher(chainSpec("oceans"), store, inv)

	result := d.Dispatch(context.Background(), map[string]any{"topic": "oceans"}, "")

	require.True(t, result.Success)
	assert.Equal(t, werrors.ExitOK, result.ExitCode)
	assert.Equal(t, "a draft about oceans", result.LastResponse)
	assert.NotEmpty(t, result.SessionID)
	assert.Equal(t, "chain", result.PatternTag)
}

func TestDispatchFailsOnMissingRequiredInput(t *testing.T) {
	store := session.NewStore(t.TempDir(), 0)
	inv := newScriptedInvoker()
	d := engine.NewDispatcher(chainSpec("oceans"), store, inv)

	result := d.Dispatch(context.Background(), map[string]any{}, "")

	require.False(t, result.Success)
	assert.Equal(t, werrors.ExitSchema, result.ExitCode)
	assert.Empty(t, result.SessionID)
}

func TestDispatchResumesPersistedSession(t *testing.T) {
	store := session.NewStore(t.TempDir(), 0)
	sp := chainSpec("oceans")
	sp.Pattern.Chain.Steps = []spec.Step{
		{Type: spec.UnitHITL, Prompt: "approve?"},
	}

	inv := newScriptedInvoker()
	d := engine.NewDispatcher(sp, store, inv)

	paused := d.Dispatch(context.Background(), map[string]any{"topic": "oceans"}, "")
	require.False(t, paused.Success)
	assert.Equal(t, werrors.ExitHITLPause, paused.ExitCode)
	require.NotEmpty(t, paused.SessionID)

	sess, err := store.Load(paused.SessionID)
	require.NoError(t, err)
	require.NotNil(t, sess.HITL)
	sess.HITL.Resolved = true
	sess.HITL.Response = "looks good"
	require.NoError(t, store.Save(sess))

	resumed := d.Dispatch(context.Background(), map[string]any{}, paused.SessionID)
	assert.True(t, resumed.Success)
	assert.Equal(t, werrors.ExitOK, resumed.ExitCode)
}

func TestDispatchResumeConsumesHITLResponseInput(t *testing.T) {
	store := session.NewStore(t.TempDir(), 0)
	sp := chainSpec("oceans")
	sp.Pattern.Chain.Steps = []spec.Step{
		{Type: spec.UnitHITL, Prompt: "approve?"},
	}

	inv := newScriptedInvoker()
	d := engine.NewDispatcher(sp, store, inv)

	paused := d.Dispatch(context.Background(), map[string]any{"topic": "oceans"}, "")
	require.False(t, paused.Success)
	require.Equal(t, werrors.ExitHITLPause, paused.ExitCode)
	require.NotEmpty(t, paused.SessionID)

	resumed := d.Dispatch(context.Background(), map[string]any{"hitl_response": "looks good"}, paused.SessionID)
	assert.True(t, resumed.Success)
	assert.Equal(t, werrors.ExitOK, resumed.ExitCode)
	assert.Equal(t, "looks good", resumed.LastResponse)

	sess, err := store.Load(resumed.SessionID)
	require.NoError(t, err)
	assert.NotContains(t, sess.Variables, "hitl_response")
}

func TestDispatchRefusesResumeAfterSpecChange(t *testing.T) {
	store := session.NewStore(t.TempDir(), 0)
	sp := chainSpec("oceans")
	sp.Pattern.Chain.Steps = []spec.Step{
		{Type: spec.UnitHITL, Prompt: "approve?"},
	}
	inv := newScriptedInvoker()
	d := engine.NewDispatcher(sp, store, inv)

	paused := d.Dispatch(context.Background(), map[string]any{"topic": "oceans"}, "")
	require.Equal(t, werrors.ExitHITLPause, paused.ExitCode)

	changed := chainSpec("oceans")
	changed.Pattern.Chain.Steps[0].InputTemplate = "write a totally different thing about {{ .topic }}"
	d2 := engine.NewDispatcher(changed, store, inv)

	result := d2.Dispatch(context.Background(), map[string]any{}, paused.SessionID)
	assert.False(t, result.Success)
	assert.Equal(t, werrors.ExitSchema, result.ExitCode)
}

func TestDispatchWritesArtifacts(t *testing.T) {
	dir := t.TempDir()
	store := session.NewStore(t.TempDir(), 0)
	sp := chainSpec("oceans")
	sp.Artifacts = []spec.Artifact{
		{PathTemplate: filepath.Join(dir, "{{ .topic }}.txt"), BodyTemplate: "{{ .last_response }}"},
	}
	inv := newScriptedInvoker().add("drafter", "a draft about oceans")
	d := engine.NewDispatcher(sp, store, inv)

	result := d.Dispatch(context.Background(), map[string]any{"topic": "oceans"}, "")

	require.True(t, result.Success)
	require.Len(t, result.ArtifactsWritten, 1)
	body, err := os.ReadFile(result.ArtifactsWritten[0])
	require.NoError(t, err)
	assert.Equal(t, "a draft about oceans", string(body))
}
