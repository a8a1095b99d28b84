// Package pattern implements the seven compositional execution patterns a
// workflow spec can declare: chain, parallel, workflow (DAG), routing,
// graph, evaluator-optimizer, and orchestrator-workers. Grounded on the
// teacher's "shared helpers, not a base class" idiom - common concerns
// (agent invocation, budget checks, HITL gating, checkpointing) live as
// free functions in shared.go that every executor calls, rather than an
// inheritance hierarchy, matching how runtime/agent/runtime/confirmation_workflow.go
// factors its render-then-await gating out of the Runtime type instead of
// subclassing it.
package pattern

import (
	"context"
	"sync"
	"time"

	"github.com/thomasrohde/strands-workflow/workflow/agent"
	"github.com/thomasrohde/strands-workflow/workflow/budget"
	"github.com/thomasrohde/strands-workflow/workflow/hitl"
	"github.com/thomasrohde/strands-workflow/workflow/hooks"
	"github.com/thomasrohde/strands-workflow/workflow/session"
	"github.com/thomasrohde/strands-workflow/workflow/spec"
	"github.com/thomasrohde/strands-workflow/workflow/telemetry"
	"github.com/thomasrohde/strands-workflow/workflow/template"
	"github.com/thomasrohde/strands-workflow/workflow/werrors"
)

// Deps bundles everything every pattern executor needs. One Deps is built
// per dispatch and threaded through every unit execution; executors never
// construct their own agent runner, renderer, or tracker.
type Deps struct {
	Runner   *agent.Runner
	Renderer *template.Renderer
	Budget   *budget.Tracker
	Bus      hooks.Bus
	Session  *session.Session
	Store    *session.Store
	Logger   telemetry.Logger

	WorkflowName string
	PatternTag   string

	// Now returns the current time; overridable so resume/timeout behavior
	// is deterministic under test. Defaults to time.Now.
	Now func() time.Time

	// mu guards concurrent mutation of Session from fan-out executors
	// (parallel, workflow-DAG, orchestrator-workers). Executors that run
	// units sequentially never need it explicitly - runAgentUnit and
	// runHITLUnit take it internally.
	mu sync.Mutex
}

func (d *Deps) logger() telemetry.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return telemetry.NewNoopLogger()
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// checkpoint persists the session's current state, the way every pattern
// executor in the original implementation calls checkpoint_pattern_state
// after each unit completes.
func (d *Deps) checkpoint(ctx context.Context) error {
	if d.Store == nil || d.Session == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Store.Save(d.Session)
}

// publish emits a hooks.Event if a bus is configured, logging subscriber
// errors rather than failing the unit - observability must never abort
// execution.
func (d *Deps) publish(ctx context.Context, typ hooks.EventType, data map[string]any) {
	if d.Bus == nil {
		return
	}
	evt := hooks.New(typ, d.Session.Metadata.SessionID, d.WorkflowName, d.PatternTag, data)
	if err := d.Bus.Publish(ctx, evt); err != nil {
		d.logger().Warn(ctx, "event subscriber error", "event", string(typ), "error", err)
	}
}

// runAgentUnit renders inputTemplate against ns, invokes agentName through
// the Runner, records token usage against the budget tracker, and returns
// the agent's raw text response. This is the single call site every
// pattern's agent-unit branch goes through.
func runAgentUnit(ctx context.Context, deps *Deps, agentName, inputTemplate string, ns template.Namespace) (string, error) {
	rendered, err := deps.Renderer.Render(inputTemplate, ns)
	if err != nil {
		return "", err
	}

	resp, err := deps.Runner.Invoke(ctx, agentName, []agent.Message{{Role: "user", Content: rendered}})
	if err != nil {
		return "", err
	}

	deps.mu.Lock()
	var checkResult budget.CheckResult
	var checkErr error
	if deps.Budget != nil {
		deps.Budget.Record(resp.Usage.InputTokens, resp.Usage.OutputTokens)
		deps.Session.TokenUsage.TotalInputTokens += resp.Usage.InputTokens
		deps.Session.TokenUsage.TotalOutputTokens += resp.Usage.OutputTokens
		checkResult, checkErr = deps.Budget.Check()
	}
	deps.mu.Unlock()

	if checkErr != nil {
		return "", checkErr
	}
	if checkResult.ShouldWarn {
		deps.publish(ctx, hooks.BudgetWarning, map[string]any{"ratio": checkResult.Ratio})
	}

	return resp.Content, nil
}

// runHITLUnit resolves a HITL gate against the session's persisted HITL
// state. If no gate is active yet, it renders and persists one and returns
// werrors.HITLPauseRequested so the dispatcher can suspend the run. If a
// gate is already active, it checks for an elapsed timeout and resolves
// with the substituted response; otherwise it remains pending and the same
// pause error is returned again (re-entering Dispatch before an operator
// has answered is a no-op). Grounded on the original implementation's
// check_hitl_timeout plus the teacher's await/confirm split - gating is a
// render-then-pause boundary, never inline blocking.
func runHITLUnit(ctx context.Context, deps *Deps, gate hitl.Gate, ns template.Namespace) (string, error) {
	deps.mu.Lock()
	defer deps.mu.Unlock()

	state := deps.Session.HITL

	if state == nil || state.UnitID != gate.UnitID {
		rendered, err := gate.Render(deps.Renderer, ns, deps.now())
		if err != nil {
			return "", err
		}
		deps.Session.HITL = rendered
		deps.publish(ctx, hooks.HITLPause, map[string]any{"unit_id": gate.UnitID, "prompt": rendered.Prompt})
		return "", werrors.HITLPauseRequested(gate.UnitID)
	}

	if state.Resolved {
		resp := state.Response
		deps.Session.HITL = nil
		deps.publish(ctx, hooks.HITLResume, map[string]any{"unit_id": gate.UnitID, "response": resp})
		return resp, nil
	}

	if expired, resp := hitl.CheckTimeout(state, deps.now()); expired {
		if err := hitl.Resume(state, resp); err != nil {
			return "", err
		}
		deps.Session.HITL = nil
		deps.publish(ctx, hooks.HITLResume, map[string]any{"unit_id": gate.UnitID, "response": resp, "timed_out": true})
		return resp, nil
	}

	return "", werrors.HITLPauseRequested(gate.UnitID)
}

// applyVars renders any string-valued entries in vars against ns (so a step
// can bind a derived value from earlier output) and folds the results into
// a new Namespace. Non-string values are bound as-is.
func applyVars(ctx context.Context, deps *Deps, ns template.Namespace, vars map[string]any) (template.Namespace, error) {
	for k, v := range vars {
		s, ok := v.(string)
		if !ok {
			ns = ns.With(k, v)
			continue
		}
		rendered, err := deps.Renderer.Render(s, ns)
		if err != nil {
			return nil, err
		}
		ns = ns.With(k, rendered)
	}
	return ns, nil
}

// stateInt reads an int out of a pattern-state map that may have round
// tripped through JSON (where all numbers decode as float64).
func stateInt(ps map[string]any, key string) (int, bool) {
	v, ok := ps[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// stateStringSlice reads a []string out of a pattern-state map that may
// have round tripped through JSON (where slices decode as []any).
func stateStringSlice(ps map[string]any, key string) []string {
	v, ok := ps[key]
	if !ok {
		return nil
	}
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}

// unsupportedPattern reports that a spec names a pattern kind with no
// registered executor, or names a kind whose config pointer is nil. Nothing
// in package spec checks Kind, so this is the only place an unknown kind is
// rejected.
func unsupportedPattern(kind spec.PatternKind) error {
	return werrors.UnsupportedFeature("/pattern/type", string(kind), "no executor registered for this pattern kind")
}
