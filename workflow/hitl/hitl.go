// Package hitl implements the human-in-the-loop gate: pausing a pattern
// execution at a declared unit, persisting a prompt/context pair for an
// operator to answer, and resuming with either the operator's response or a
// timeout default. Grounded on the teacher's confirmation await/confirm
// split (runtime/agent/runtime/confirmation_workflow.go) - splitting calls
// into "execute now" vs "must pause for approval" - generalized from tool
// confirmation to arbitrary pattern units, with timeout semantics taken
// from the original implementation's exec/hitl_utils.py.
package hitl

import (
	"time"

	"github.com/thomasrohde/strands-workflow/workflow/session"
	"github.com/thomasrohde/strands-workflow/workflow/template"
	"github.com/thomasrohde/strands-workflow/workflow/werrors"
)

// TimeoutExpiredResponse is substituted when a gate's timeout elapses and
// no default_response was configured, matching the original's literal
// "timeout_expired" fallback.
const TimeoutExpiredResponse = "timeout_expired"

// Gate describes one HITL pause point as declared on a step/task/node.
type Gate struct {
	UnitID          string
	PromptTemplate  string
	ContextTemplate string
	DefaultResponse string
	TimeoutSeconds  int
}

// Render renders the gate's prompt and context against ns and returns the
// session.HITLState to persist before the pattern executor unwinds with a
// HITLPauseRequested error.
func (g Gate) Render(renderer *template.Renderer, ns template.Namespace, now time.Time) (*session.HITLState, error) {
	prompt, err := renderer.Render(g.PromptTemplate, ns)
	if err != nil {
		return nil, err
	}

	var ctxStr string
	if g.ContextTemplate != "" {
		ctxStr, err = renderer.Render(g.ContextTemplate, ns)
		if err != nil {
			return nil, err
		}
	}

	state := &session.HITLState{
		Active:          true,
		UnitID:          g.UnitID,
		Prompt:          prompt,
		Context:         ctxStr,
		DefaultResponse: g.DefaultResponse,
	}
	if g.TimeoutSeconds > 0 {
		state.TimeoutAt = now.Add(time.Duration(g.TimeoutSeconds) * time.Second)
	}
	return state, nil
}

// CheckTimeout reports whether an active gate's deadline has passed and, if
// so, the response that should be substituted: the gate's configured
// default, or TimeoutExpiredResponse if none was set. A gate with no
// TimeoutAt configured (zero value) never times out.
func CheckTimeout(state *session.HITLState, now time.Time) (expired bool, response string) {
	if state == nil || !state.Active || state.TimeoutAt.IsZero() {
		return false, ""
	}
	if now.Before(state.TimeoutAt) {
		return false, ""
	}
	if state.DefaultResponse != "" {
		return true, state.DefaultResponse
	}
	return true, TimeoutExpiredResponse
}

// Resume applies an operator's response (or a timeout substitution) to an
// active gate, marking it resolved. Resuming an inactive or already
// resolved gate returns a RuntimeFailure error.
func Resume(state *session.HITLState, response string) error {
	if state == nil || !state.Active || state.Resolved {
		return werrors.RuntimeFailure(nil, "no active hitl gate to resume")
	}
	state.Response = response
	state.Active = false
	state.Resolved = true
	return nil
}
