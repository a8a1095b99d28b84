package pattern

import (
	"context"
	"encoding/json"

	"github.com/thomasrohde/strands-workflow/workflow/hooks"
	"github.com/thomasrohde/strands-workflow/workflow/spec"
	"github.com/thomasrohde/strands-workflow/workflow/template"
	"github.com/thomasrohde/strands-workflow/workflow/werrors"
)

const draftPreviewLen = 200

// evaluatorOutput is the JSON shape the evaluator agent's response must
// parse into.
type evaluatorOutput struct {
	Score  int      `json:"score"`
	Issues []string `json:"issues"`
	Fixes  []string `json:"fixes"`
}

// ExecuteEvaluatorOptimizer runs the produce/evaluate/accept-or-revise loop:
// iteration 1 produces a draft from the raw namespace, every later iteration
// revises against the prior evaluation via cfg.RevisePromptTemplate, and the
// loop accepts once the evaluator's score clears cfg.Accept.MinScore or
// stops once cfg.Accept.MaxIterations is reached - so a MaxIterations of 1
// runs exactly one produce/evaluate pass with no revision, whether or not it
// was accepted.
func ExecuteEvaluatorOptimizer(ctx context.Context, deps *Deps, cfg *spec.EvaluatorOptimizerConfig, ns template.Namespace) (string, error) {
	if deps.Session.PatternState == nil {
		deps.Session.PatternState = make(map[string]any)
	}
	ps := deps.Session.PatternState

	if accepted, _ := ps["accepted"].(bool); accepted {
		if draft, ok := ps["current_draft"].(string); ok {
			return draft, nil
		}
	}

	iteration, _ := stateInt(ps, "current_iteration")
	draft, _ := ps["current_draft"].(string)
	history, _ := ps["iteration_history"].([]any)

	maxIterations := cfg.Accept.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 1
	}

	for {
		iteration++

		var err error
		if iteration == 1 {
			raw, marshalErr := json.Marshal(map[string]any(ns))
			if marshalErr != nil {
				return "", werrors.RuntimeFailure(marshalErr, "failed to marshal producer namespace")
			}
			draft, err = runAgentUnit(ctx, deps, cfg.Producer.Agent, string(raw), ns)
		} else {
			reviseTemplate := cfg.RevisePromptTemplate
			if reviseTemplate == "" {
				reviseTemplate = "{{ .draft }}"
			}
			reviseNS := ns.With("draft", draft)
			if len(history) > 0 {
				reviseNS = reviseNS.With("evaluation", history[len(history)-1])
			}
			draft, err = runAgentUnit(ctx, deps, cfg.Producer.Agent, reviseTemplate, reviseNS)
		}
		if err != nil {
			return "", err
		}

		result, err := evaluateDraft(ctx, deps, cfg, ns.With("draft", draft))
		if err != nil {
			return "", err
		}

		history = append(history, map[string]any{
			"iteration":     iteration,
			"score":         result.Score,
			"issues":        result.Issues,
			"fixes":         result.Fixes,
			"draft_preview": preview(draft, draftPreviewLen),
		})

		accepted := result.Score >= cfg.Accept.MinScore

		deps.mu.Lock()
		ps["current_iteration"] = iteration
		ps["current_draft"] = draft
		ps["iteration_history"] = history
		ps["final_score"] = result.Score
		ps["accepted"] = accepted
		deps.Session.LastResponse = draft
		deps.mu.Unlock()

		deps.publish(ctx, hooks.EvaluationScored, map[string]any{"iteration": iteration, "score": result.Score, "accepted": accepted})

		if err := deps.checkpoint(ctx); err != nil {
			return "", err
		}

		if accepted || iteration >= maxIterations {
			return draft, nil
		}
	}
}

func evaluateDraft(ctx context.Context, deps *Deps, cfg *spec.EvaluatorOptimizerConfig, ns template.Namespace) (evaluatorOutput, error) {
	const maxAttempts = 2 // one syntactic retry per iteration
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := runAgentUnit(ctx, deps, cfg.Evaluator.Agent, cfg.Evaluator.InputTemplate, ns)
		if err != nil {
			return evaluatorOutput{}, err
		}
		var out evaluatorOutput
		if err := json.Unmarshal([]byte(resp), &out); err == nil {
			return out, nil
		}
	}
	return evaluatorOutput{}, werrors.StructuredOutputParse("evaluator response is not valid JSON after retry")
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
