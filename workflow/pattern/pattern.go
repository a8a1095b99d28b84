package pattern

import (
	"context"

	"github.com/thomasrohde/strands-workflow/workflow/spec"
	"github.com/thomasrohde/strands-workflow/workflow/template"
)

// Execute dispatches pat to its matching executor. Exactly one of pat's
// Config pointers is populated per spec.Pattern's tagged-union contract;
// loading/validation upstream guarantees Kind names a populated field.
func Execute(ctx context.Context, deps *Deps, pat spec.Pattern, ns template.Namespace) (string, error) {
	switch pat.Kind {
	case spec.PatternChain:
		if pat.Chain == nil {
			return "", unsupportedPattern(pat.Kind)
		}
		return ExecuteChain(ctx, deps, pat.Chain, ns)
	case spec.PatternParallel:
		if pat.Parallel == nil {
			return "", unsupportedPattern(pat.Kind)
		}
		return ExecuteParallel(ctx, deps, pat.Parallel, ns)
	case spec.PatternWorkflow:
		if pat.Workflow == nil {
			return "", unsupportedPattern(pat.Kind)
		}
		return ExecuteWorkflow(ctx, deps, pat.Workflow, ns)
	case spec.PatternRouting:
		if pat.Routing == nil {
			return "", unsupportedPattern(pat.Kind)
		}
		return ExecuteRouting(ctx, deps, pat.Routing, ns)
	case spec.PatternGraph:
		if pat.Graph == nil {
			return "", unsupportedPattern(pat.Kind)
		}
		return ExecuteGraph(ctx, deps, pat.Graph, ns)
	case spec.PatternEvaluatorOptimizer:
		if pat.EvaluatorOptimizer == nil {
			return "", unsupportedPattern(pat.Kind)
		}
		return ExecuteEvaluatorOptimizer(ctx, deps, pat.EvaluatorOptimizer, ns)
	case spec.PatternOrchestratorWorkers:
		if pat.OrchestratorWorkers == nil {
			return "", unsupportedPattern(pat.Kind)
		}
		return ExecuteOrchestratorWorkers(ctx, deps, pat.OrchestratorWorkers, ns)
	default:
		return "", unsupportedPattern(pat.Kind)
	}
}
