package pattern

import (
	"context"
	"encoding/json"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/thomasrohde/strands-workflow/workflow/hooks"
	"github.com/thomasrohde/strands-workflow/workflow/spec"
	"github.com/thomasrohde/strands-workflow/workflow/template"
	"github.com/thomasrohde/strands-workflow/workflow/werrors"
)

const defaultMaxWorkers = 4

// orchestratorTask is one element of the orchestrator's planned task list.
type orchestratorTask struct {
	Task string `json:"task"`
}

// ExecuteOrchestratorWorkers has the orchestrator agent plan a task list,
// fans each task out to a worker under a semaphore of cfg.Orchestrator.MaxWorkers,
// and reduces every worker's response into a final writeup. An orchestrator
// emitting an empty task list completes the round immediately and the
// reduce step still runs, against an empty workers list. Worker failures
// are fail-fast: the first error cancels the remaining in-flight workers
// for that round.
func ExecuteOrchestratorWorkers(ctx context.Context, deps *Deps, cfg *spec.OrchestratorWorkersConfig, ns template.Namespace) (string, error) {
	if deps.Session.PatternState == nil {
		deps.Session.PatternState = make(map[string]any)
	}
	ps := deps.Session.PatternState

	maxRounds := cfg.Orchestrator.MaxRounds
	if maxRounds <= 0 {
		maxRounds = 1
	}
	maxWorkers := cfg.Orchestrator.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = defaultMaxWorkers
	}

	round, _ := stateInt(ps, "round")
	var allResponses []string
	if existing, ok := ps["completed_worker_responses"].([]any); ok {
		for _, r := range existing {
			if s, ok := r.(string); ok {
				allResponses = append(allResponses, s)
			}
		}
	}

	for round < maxRounds {
		round++

		tasks, err := planTasks(ctx, deps, cfg, ns.With("previous_responses", allResponses))
		if err != nil {
			return "", err
		}

		deps.publish(ctx, hooks.OrchestratorTasksPlanned, map[string]any{"round": round, "task_count": len(tasks)})

		if len(tasks) == 0 {
			break
		}

		responses, err := runWorkers(ctx, deps, cfg, maxWorkers, tasks, ns)
		if err != nil {
			return "", err
		}
		allResponses = append(allResponses, responses...)

		deps.mu.Lock()
		ps["round"] = round
		ps["completed_worker_responses"] = toAnySlice(allResponses)
		deps.mu.Unlock()
		if err := deps.checkpoint(ctx); err != nil {
			return "", err
		}
	}

	workersBag := make([]any, 0, len(allResponses))
	for _, r := range allResponses {
		workersBag = append(workersBag, map[string]any{"response": r})
	}
	reduceNS := ns.With("workers", workersBag)

	raw, err := json.Marshal(workersBag)
	if err != nil {
		return "", werrors.RuntimeFailure(err, "failed to marshal worker responses for reduce")
	}

	final, err := runAgentUnit(ctx, deps, cfg.Reduce.Agent, string(raw), reduceNS)
	if err != nil {
		return "", err
	}

	deps.mu.Lock()
	deps.Session.LastResponse = final
	deps.mu.Unlock()
	return final, deps.checkpoint(ctx)
}

func planTasks(ctx context.Context, deps *Deps, cfg *spec.OrchestratorWorkersConfig, ns template.Namespace) ([]string, error) {
	const maxAttempts = 2 // one syntactic retry
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := runAgentUnit(ctx, deps, cfg.Orchestrator.Agent, "{{ json . }}", ns)
		if err != nil {
			return nil, err
		}
		var planned []orchestratorTask
		if err := json.Unmarshal([]byte(resp), &planned); err != nil {
			lastErr = werrors.StructuredOutputParse("orchestrator response is not a valid JSON task array: %v", err)
			continue
		}
		tasks := make([]string, len(planned))
		for i, t := range planned {
			tasks[i] = t.Task
		}
		return tasks, nil
	}
	return nil, lastErr
}

func runWorkers(ctx context.Context, deps *Deps, cfg *spec.OrchestratorWorkersConfig, maxWorkers int, tasks []string, ns template.Namespace) ([]string, error) {
	results := make([]string, len(tasks))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxWorkers)

	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			resp, err := runAgentUnit(gctx, deps, cfg.Worker.Agent, task, ns)
			if err != nil {
				return err
			}
			mu.Lock()
			results[i] = resp
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func toAnySlice(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
