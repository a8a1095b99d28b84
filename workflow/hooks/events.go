package hooks

import "time"

// EventType enumerates the lifecycle events the engine publishes. The
// dispatcher publishes WorkflowStart, WorkflowComplete and Error; the
// pattern executors publish StepStart/StepComplete and the pattern-specific
// variants, and not every executor publishes every type.
type EventType string

const (
	// WorkflowStart fires once per dispatch, before the first unit runs.
	WorkflowStart EventType = "workflow_start"
	// StepStart fires before a chain step or a routing route step is invoked.
	StepStart EventType = "step_start"
	// StepComplete fires after a unit completes successfully.
	StepComplete EventType = "step_complete"
	// WorkflowComplete fires once the dispatcher finalizes the session.
	WorkflowComplete EventType = "workflow_complete"
	// Error fires before the dispatcher finalizes a failed session.
	Error EventType = "error"
	// HITLPause fires when a HITL gate suspends execution.
	HITLPause EventType = "hitl_pause"
	// HITLResume fires when a paused run is re-entered with a response.
	HITLResume EventType = "hitl_resume"

	// RouteChosen fires once a routing pattern's router selects a route.
	RouteChosen EventType = "route_chosen"
	// EvaluationScored fires after each evaluator-optimizer iteration is scored.
	EvaluationScored EventType = "evaluation_scored"
	// DAGTaskReady fires when a workflow-DAG task's dependencies are satisfied.
	DAGTaskReady EventType = "dag_task_ready"
	// GraphNodeVisited fires each time the graph pattern enters a node.
	GraphNodeVisited EventType = "graph_node_visited"
	// OrchestratorTasksPlanned fires once the orchestrator emits its task list.
	OrchestratorTasksPlanned EventType = "orchestrator_tasks_planned"
	// BudgetWarning fires when cumulative tokens cross the warn ratio.
	BudgetWarning EventType = "budget_warning"
)

// Event is the payload published on the Bus. It matches the flat record
// shape every lifecycle event carries: type, timestamp, session/workflow
// identity, and a free-form data bag for event-specific fields.
type Event struct {
	Type         EventType
	Timestamp    time.Time
	SessionID    string
	WorkflowName string
	PatternTag   string
	Data         map[string]any
}

// New constructs an Event stamped with the current time.
func New(typ EventType, sessionID, workflowName, patternTag string, data map[string]any) Event {
	return Event{
		Type:         typ,
		Timestamp:    time.Now(),
		SessionID:    sessionID,
		WorkflowName: workflowName,
		PatternTag:   patternTag,
		Data:         data,
	}
}
