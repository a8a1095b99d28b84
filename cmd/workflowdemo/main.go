// Command workflowdemo runs a minimal single-step chain workflow against a
// stub Invoker, the way the teacher's cmd/demo wires a stub planner through
// its runtime without a real provider or task queue behind it.
package main

import (
	"context"
	"fmt"

	"github.com/thomasrohde/strands-workflow/workflow/agent"
	"github.com/thomasrohde/strands-workflow/workflow/engine"
	"github.com/thomasrohde/strands-workflow/workflow/session"
	"github.com/thomasrohde/strands-workflow/workflow/spec"
)

// stubInvoker answers every request with a canned acknowledgement,
// standing in for a real Bedrock/Anthropic/OpenAI adapter.
type stubInvoker struct{}

func (stubInvoker) Invoke(ctx context.Context, req agent.Request) (agent.Response, error) {
	return agent.Response{
		Content: fmt.Sprintf("Hello from %s! You said: %s", req.AgentName, req.Messages[len(req.Messages)-1].Content),
		Usage:   agent.Usage{InputTokens: 12, OutputTokens: 12},
	}, nil
}

func demoSpec() *spec.Spec {
	return &spec.Spec{
		Name:    "demo.greeting",
		Version: "1",
		Runtime: spec.Runtime{Provider: "bedrock", Model: "anthropic.claude-3-sonnet-20240229-v1:0"},
		Agents: map[string]spec.Agent{
			"greeter": {SystemPrompt: "You are a friendly greeter."},
		},
		Pattern: spec.Pattern{
			Kind: spec.PatternChain,
			Chain: &spec.ChainConfig{Steps: []spec.Step{
				{Agent: "greeter", InputTemplate: "Say hi to {{ .name }}"},
			}},
		},
		Inputs: spec.Inputs{Required: []string{"name"}},
	}
}

func main() {
	ctx := context.Background()

	store := session.NewStore("./workflowdemo-sessions", 0)
	d := engine.NewDispatcher(demoSpec(), store, stubInvoker{})

	result := d.Dispatch(ctx, map[string]any{"name": "world"}, "")

	fmt.Println("Session:", result.SessionID)
	fmt.Println("Exit code:", result.ExitCode)
	fmt.Println("Response:", result.LastResponse)
}
