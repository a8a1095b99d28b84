package agent_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thomasrohde/strands-workflow/workflow/agent"
	"github.com/thomasrohde/strands-workflow/workflow/spec"
)

type fakeInvoker struct {
	response agent.Response
	lastReq  agent.Request
}

func (f *fakeInvoker) Invoke(ctx context.Context, req agent.Request) (agent.Response, error) {
	f.lastReq = req
	return f.response, nil
}

func testSpec() *spec.Spec {
	return &spec.Spec{
		Name:    "demo",
		Runtime: spec.Runtime{Provider: "bedrock", Model: "anthropic.claude-3-sonnet-20240229-v1:0"},
		Agents: map[string]spec.Agent{
			"summarizer": {SystemPrompt: "You summarize text."},
		},
	}
}

func TestInvokeDispatchesWithResolvedAgent(t *testing.T) {
	inv := &fakeInvoker{response: agent.Response{Content: "done", Usage: agent.Usage{InputTokens: 10, OutputTokens: 5}}}
	r := agent.NewRunner(testSpec(), inv)

	resp, err := r.Invoke(context.Background(), "summarizer", []agent.Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Content)
	assert.Equal(t, "You summarize text.", inv.lastReq.SystemPrompt)
	assert.Equal(t, "anthropic.claude-3-sonnet-20240229-v1:0", inv.lastReq.Model)
}

func TestInvokeRejectsUnknownAgent(t *testing.T) {
	inv := &fakeInvoker{}
	r := agent.NewRunner(testSpec(), inv)

	_, err := r.Invoke(context.Background(), "missing", nil)
	require.Error(t, err)
}

func TestInvokeEstimatesUsageWhenInvokerOmitsIt(t *testing.T) {
	inv := &fakeInvoker{response: agent.Response{Content: "a fairly short reply"}}
	r := agent.NewRunner(testSpec(), inv)

	resp, err := r.Invoke(context.Background(), "summarizer", []agent.Message{{Role: "user", Content: "summarize this please"}})
	require.NoError(t, err)
	assert.Greater(t, resp.Usage.InputTokens, 0)
	assert.Greater(t, resp.Usage.OutputTokens, 0)
}
