package pattern

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/thomasrohde/strands-workflow/workflow/hitl"
	"github.com/thomasrohde/strands-workflow/workflow/hooks"
	"github.com/thomasrohde/strands-workflow/workflow/spec"
	"github.com/thomasrohde/strands-workflow/workflow/template"
	"github.com/thomasrohde/strands-workflow/workflow/werrors"
)

const defaultRouterMaxRetries = 3

// routerOutput is the JSON shape the router agent's response must parse
// into: {"route": "<name>"}.
type routerOutput struct {
	Route string `json:"route"`
}

// ExecuteRouting invokes cfg.Router to classify the namespace into one of
// cfg.Routes' keys. A malformed (non-JSON) response is retried up to
// cfg.Router.MaxRetries times with the same input; a well-formed response
// naming an unconfigured route fails immediately with RouteInvalid, with no
// retry. The chosen route is bound into the namespace as router.chosen_route
// and persisted before its steps start, so a resumed run never re-invokes
// the router.
func ExecuteRouting(ctx context.Context, deps *Deps, cfg *spec.RoutingConfig, ns template.Namespace) (string, error) {
	if deps.Session.PatternState == nil {
		deps.Session.PatternState = make(map[string]any)
	}

	route, _ := deps.Session.PatternState["route"].(string)
	if route == "" {
		chosen, err := chooseRoute(ctx, deps, cfg, ns)
		if err != nil {
			return "", err
		}
		route = chosen
		deps.mu.Lock()
		deps.Session.PatternState["route"] = route
		deps.mu.Unlock()
		deps.publish(ctx, hooks.RouteChosen, map[string]any{"route": route})
		if err := deps.checkpoint(ctx); err != nil {
			return "", err
		}
	}

	ns = ns.With("router", map[string]any{"chosen_route": route})

	steps, ok := cfg.Routes[route]
	if !ok {
		return "", werrors.RouteInvalid(route)
	}

	startIdx, _ := stateInt(deps.Session.PatternState, "step_index")
	for i := 0; i < startIdx; i++ {
		if resp, ok := deps.Session.Variables[fmt.Sprintf("route_steps.%d.response", i)].(string); ok {
			ns = ns.With("previous", resp)
		}
	}

	var last string
	for i := startIdx; i < len(steps); i++ {
		step := steps[i]

		var err error
		ns, err = applyVars(ctx, deps, ns, step.Vars)
		if err != nil {
			return "", err
		}

		deps.publish(ctx, hooks.StepStart, map[string]any{"index": i, "route": route})

		var resp string
		if step.IsHITL() {
			gate := hitl.Gate{
				UnitID:          fmt.Sprintf("route-%s-step-%d", route, i),
				PromptTemplate:  step.Prompt,
				ContextTemplate: step.ContextTemplate,
				DefaultResponse: step.DefaultResponse,
				TimeoutSeconds:  step.TimeoutSeconds,
			}
			resp, err = runHITLUnit(ctx, deps, gate, ns)
		} else {
			resp, err = runAgentUnit(ctx, deps, step.Agent, step.InputTemplate, ns)
		}
		if err != nil {
			return "", err
		}

		ns = ns.With("previous", resp)
		deps.mu.Lock()
		deps.Session.Variables[fmt.Sprintf("route_steps.%d.response", i)] = resp
		deps.Session.PatternState["step_index"] = i + 1
		deps.Session.LastResponse = resp
		deps.mu.Unlock()
		last = resp

		deps.publish(ctx, hooks.StepComplete, map[string]any{"index": i, "response": resp})
		if err := deps.checkpoint(ctx); err != nil {
			return "", err
		}
	}

	return last, nil
}

func chooseRoute(ctx context.Context, deps *Deps, cfg *spec.RoutingConfig, ns template.Namespace) (string, error) {
	maxRetries := cfg.Router.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultRouterMaxRetries
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		resp, err := runAgentUnit(ctx, deps, cfg.Router.Agent, cfg.Router.InputTemplate, ns)
		if err != nil {
			return "", err
		}

		var out routerOutput
		if err := json.Unmarshal([]byte(resp), &out); err != nil {
			lastErr = werrors.StructuredOutputParse("router response is not valid JSON: %v", err)
			continue
		}
		if _, ok := cfg.Routes[out.Route]; !ok {
			return "", werrors.RouteInvalid(out.Route)
		}
		return out.Route, nil
	}
	return "", lastErr
}
