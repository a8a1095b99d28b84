package pattern

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/thomasrohde/strands-workflow/workflow/hitl"
	"github.com/thomasrohde/strands-workflow/workflow/hooks"
	"github.com/thomasrohde/strands-workflow/workflow/spec"
	"github.com/thomasrohde/strands-workflow/workflow/template"
	"github.com/thomasrohde/strands-workflow/workflow/werrors"
)

const maxParallelFanOut = 8

// ExecuteParallel runs every branch in cfg concurrently (bounded by
// maxParallelFanOut, following the teacher's errgroup+SetLimit fan-out
// idiom), then feeds every branch's final response into cfg.Reduce if
// configured. Branches already recorded complete in PatternState on a
// resumed run are skipped and their stored responses replayed instead of
// re-invoked, so resume never re-runs a branch that already finished.
func ExecuteParallel(ctx context.Context, deps *Deps, cfg *spec.ParallelConfig, ns template.Namespace) (string, error) {
	if deps.Session.PatternState == nil {
		deps.Session.PatternState = make(map[string]any)
	}

	completed := make(map[string]bool)
	for _, id := range stateStringSlice(deps.Session.PatternState, "completed_branches") {
		completed[id] = true
	}

	results := make(map[string]string)
	deps.mu.Lock()
	for id := range completed {
		if resp, ok := deps.Session.Variables[fmt.Sprintf("branches.%s.response", id)].(string); ok {
			results[id] = resp
		}
	}
	deps.mu.Unlock()

	var resultsMu sync.Mutex
	var pauseErr error

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelFanOut)

	for _, branch := range cfg.Branches {
		if completed[branch.ID] {
			continue
		}
		branch := branch
		g.Go(func() error {
			resp, err := executeBranch(gctx, deps, branch, ns)
			if err != nil {
				if werrors.IsHITLPause(err) {
					resultsMu.Lock()
					if pauseErr == nil {
						pauseErr = err
					}
					resultsMu.Unlock()
					return nil
				}
				return err
			}

			resultsMu.Lock()
			results[branch.ID] = resp
			resultsMu.Unlock()

			deps.mu.Lock()
			deps.Session.Variables[fmt.Sprintf("branches.%s.response", branch.ID)] = resp
			deps.mu.Unlock()

			deps.publish(gctx, hooks.StepComplete, map[string]any{"branch": branch.ID, "response": resp})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return "", err
	}

	doneIDs := make([]string, 0, len(results))
	for id := range results {
		doneIDs = append(doneIDs, id)
	}
	sort.Strings(doneIDs)

	deps.mu.Lock()
	deps.Session.PatternState["completed_branches"] = doneIDs
	deps.mu.Unlock()
	if err := deps.checkpoint(ctx); err != nil {
		return "", err
	}

	if pauseErr != nil {
		return "", pauseErr
	}

	if len(results) != len(cfg.Branches) {
		// Some branch has no recorded response: only possible when a
		// branch listed in completed_branches lost its stored response.
		return "", nil
	}

	if cfg.Reduce != nil {
		branchesBag := make(map[string]any, len(results))
		for id, r := range results {
			branchesBag[id] = map[string]any{"response": r}
		}
		reduceNS := ns.With("branches", branchesBag)
		resp, err := runAgentUnit(ctx, deps, cfg.Reduce.Agent, cfg.Reduce.InputTemplate, reduceNS)
		if err != nil {
			return "", err
		}
		deps.mu.Lock()
		deps.Session.LastResponse = resp
		deps.mu.Unlock()
		return resp, deps.checkpoint(ctx)
	}

	parts := make([]string, 0, len(cfg.Branches))
	for _, b := range cfg.Branches {
		parts = append(parts, results[b.ID])
	}
	final := strings.Join(parts, "\n")
	deps.mu.Lock()
	deps.Session.LastResponse = final
	deps.mu.Unlock()
	return final, deps.checkpoint(ctx)
}

// executeBranch runs one branch's steps in sequence, starting from ns,
// mirroring ExecuteChain but scoped to a single branch's in-memory
// namespace rather than persisting per-step resume state - resume
// granularity for Parallel is per-branch, not per-step.
func executeBranch(ctx context.Context, deps *Deps, branch spec.Branch, ns template.Namespace) (string, error) {
	var resp string
	for i, step := range branch.Steps {
		var err error
		ns, err = applyVars(ctx, deps, ns, step.Vars)
		if err != nil {
			return "", err
		}

		if step.IsHITL() {
			gate := hitl.Gate{
				UnitID:          fmt.Sprintf("branch-%s-step-%d", branch.ID, i),
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
	}
	return resp, nil
}
