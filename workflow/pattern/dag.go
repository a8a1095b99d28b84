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

// ExecuteWorkflow runs cfg's tasks as a dependency DAG: a task becomes
// ready only once every id in its Deps is in the completed set (the
// "completed_tasks dependency invariant"), and each round runs every ready
// task concurrently before recomputing readiness. Spec loading rejects
// cyclic/duplicate-id graphs (workflow/spec/validate.go), so a round with
// pending tasks but no ready ones here can only mean resume state was
// corrupted externally.
func ExecuteWorkflow(ctx context.Context, deps *Deps, cfg *spec.WorkflowConfig, ns template.Namespace) (string, error) {
	if deps.Session.PatternState == nil {
		deps.Session.PatternState = make(map[string]any)
	}

	completed := make(map[string]bool)
	for _, id := range stateStringSlice(deps.Session.PatternState, "completed_tasks") {
		completed[id] = true
	}

	byID := make(map[string]spec.Task, len(cfg.Tasks))
	for _, t := range cfg.Tasks {
		byID[t.ID] = t
	}

	results := make(map[string]string)
	deps.mu.Lock()
	for id := range completed {
		if resp, ok := deps.Session.Variables[fmt.Sprintf("tasks.%s.response", id)].(string); ok {
			results[id] = resp
		}
	}
	deps.mu.Unlock()

	for len(completed) < len(cfg.Tasks) {
		ready := readyTasks(cfg.Tasks, completed)
		if len(ready) == 0 {
			return "", werrors.RuntimeFailure(nil, "workflow has unresolved tasks with no satisfiable dependencies")
		}

		taskNS := ns.With("tasks", copyResponses(results))

		var resultsMu sync.Mutex
		var pauseErr error
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(maxParallelFanOut)

		for _, task := range ready {
			task := task
			deps.publish(ctx, hooks.DAGTaskReady, map[string]any{"task": task.ID})
			g.Go(func() error {
				resp, err := executeTaskUnit(gctx, deps, task, taskNS)
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
				results[task.ID] = resp
				resultsMu.Unlock()

				deps.mu.Lock()
				deps.Session.Variables[fmt.Sprintf("tasks.%s.response", task.ID)] = resp
				deps.mu.Unlock()

				deps.publish(gctx, hooks.StepComplete, map[string]any{"task": task.ID, "response": resp})
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return "", err
		}

		for _, task := range ready {
			if _, ok := results[task.ID]; ok {
				completed[task.ID] = true
			}
		}

		completedIDs := make([]string, 0, len(completed))
		for id := range completed {
			completedIDs = append(completedIDs, id)
		}
		sort.Strings(completedIDs)

		deps.mu.Lock()
		deps.Session.PatternState["completed_tasks"] = completedIDs
		deps.mu.Unlock()
		if err := deps.checkpoint(ctx); err != nil {
			return "", err
		}

		if pauseErr != nil {
			return "", pauseErr
		}
	}

	final := sinkResponse(cfg.Tasks, results)
	deps.mu.Lock()
	deps.Session.LastResponse = final
	deps.mu.Unlock()
	return final, deps.checkpoint(ctx)
}

func readyTasks(tasks []spec.Task, completed map[string]bool) []spec.Task {
	var ready []spec.Task
	for _, t := range tasks {
		if completed[t.ID] {
			continue
		}
		satisfied := true
		for _, d := range t.Deps {
			if !completed[d] {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, t)
		}
	}
	return ready
}

func copyResponses(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = map[string]any{"response": v}
	}
	return out
}

// sinkResponse returns the response of the task(s) no other task depends
// on, joined in declaration order if there is more than one sink.
func sinkResponse(tasks []spec.Task, results map[string]string) string {
	hasDependent := make(map[string]bool)
	for _, t := range tasks {
		for _, d := range t.Deps {
			hasDependent[d] = true
		}
	}
	var parts []string
	for _, t := range tasks {
		if !hasDependent[t.ID] {
			parts = append(parts, results[t.ID])
		}
	}
	return strings.Join(parts, "\n")
}

func executeTaskUnit(ctx context.Context, deps *Deps, task spec.Task, ns template.Namespace) (string, error) {
	if task.IsHITL() {
		gate := hitl.Gate{
			UnitID:          fmt.Sprintf("task-%s", task.ID),
			PromptTemplate:  task.Prompt,
			ContextTemplate: task.ContextTemplate,
			DefaultResponse: task.DefaultResponse,
			TimeoutSeconds:  task.TimeoutSeconds,
		}
		return runHITLUnit(ctx, deps, gate, ns)
	}
	return runAgentUnit(ctx, deps, task.Agent, task.InputTemplate, ns)
}
