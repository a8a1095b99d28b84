package pattern

import (
	"context"
	"fmt"

	"github.com/thomasrohde/strands-workflow/workflow/hitl"
	"github.com/thomasrohde/strands-workflow/workflow/hooks"
	"github.com/thomasrohde/strands-workflow/workflow/spec"
	"github.com/thomasrohde/strands-workflow/workflow/template"
)

// ExecuteChain runs cfg's steps in order, feeding each step's rendered
// response forward as "previous" and appending it to a "steps" slice so
// templates can address {{ (index .steps i).response }} the same way the
// DAG and graph patterns expose tasks/nodes by key. Resume re-enters at
// the step_index persisted in the session's PatternState rather than
// replaying completed steps, satisfying the pattern's step-count
// invariant: a resumed run still executes exactly len(cfg.Steps)
// agent/HITL units in total, never more.
func ExecuteChain(ctx context.Context, deps *Deps, cfg *spec.ChainConfig, ns template.Namespace) (string, error) {
	startIdx, _ := stateInt(deps.Session.PatternState, "step_index")
	if deps.Session.PatternState == nil {
		deps.Session.PatternState = make(map[string]any)
	}

	// Replay prior step outputs into the namespace so a resumed run's
	// templates see the same bindings a non-resumed run would have built.
	steps := make([]any, 0, len(cfg.Steps))
	for i := 0; i < startIdx; i++ {
		if resp, ok := deps.Session.Variables[fmt.Sprintf("steps.%d.response", i)].(string); ok {
			ns = ns.With("previous", resp)
			steps = append(steps, map[string]any{"response": resp})
		}
	}
	ns = ns.With("steps", steps)

	last := ns["previous"]
	if s, ok := last.(string); ok {
		deps.Session.LastResponse = s
	}

	for i := startIdx; i < len(cfg.Steps); i++ {
		step := cfg.Steps[i]

		var err error
		ns, err = applyVars(ctx, deps, ns, step.Vars)
		if err != nil {
			return "", err
		}

		deps.publish(ctx, hooks.StepStart, map[string]any{"index": i, "type": string(step.Type)})

		var resp string
		if step.IsHITL() {
			gate := hitl.Gate{
				UnitID:          fmt.Sprintf("step-%d", i),
				PromptTemplate:  step.Prompt,
				ContextTemplate: step.ContextTemplate,
				DefaultResponse: step.DefaultResponse,
				TimeoutSeconds:  step.TimeoutSeconds,
			}
			resp, err = runHITLUnit(ctx, deps, gate, ns)
			if err != nil {
				_ = deps.checkpoint(ctx)
				return "", err
			}
		} else {
			resp, err = runAgentUnit(ctx, deps, step.Agent, step.InputTemplate, ns)
			if err != nil {
				return "", err
			}
		}

		ns = ns.With("previous", resp)
		steps = append(steps, map[string]any{"response": resp})
		ns = ns.With("steps", steps)
		deps.Session.Variables[fmt.Sprintf("steps.%d.response", i)] = resp
		deps.Session.PatternState["step_index"] = i + 1
		deps.Session.LastResponse = resp

		deps.publish(ctx, hooks.StepComplete, map[string]any{"index": i, "response": resp})

		if err := deps.checkpoint(ctx); err != nil {
			return "", err
		}
	}

	return deps.Session.LastResponse, nil
}
