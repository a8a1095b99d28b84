// Package session persists workflow execution state so a run can be
// checkpointed after every unit and resumed from the last checkpoint.
// Grounded on the teacher's session.Store Upsert/Load interface shape
// (agents/runtime/session/session.go), generalized from run-metadata
// tracking to full pattern-state checkpointing per the original
// implementation's session/checkpoint_utils.py (pattern_state updates,
// token usage accumulation, status transitions).
package session

import (
	"time"
)

// Status mirrors the teacher's session.Status lifecycle enum, extended
// with Paused for HITL suspension (the original's SessionStatus.PAUSED).
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Metadata carries identifying and lifecycle information for a session.
type Metadata struct {
	SessionID    string    `json:"session_id"`
	WorkflowName string    `json:"workflow_name"`
	PatternTag   string    `json:"pattern_tag"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TokenUsage tracks cumulative token consumption for the session, mirroring
// the original's SessionState.token_usage fields.
type TokenUsage struct {
	TotalInputTokens  int `json:"total_input_tokens"`
	TotalOutputTokens int `json:"total_output_tokens"`
}

// Total returns the combined input and output token count.
func (t TokenUsage) Total() int { return t.TotalInputTokens + t.TotalOutputTokens }

// HITLState records an in-flight or resolved human-in-the-loop gate.
type HITLState struct {
	Active          bool      `json:"active"`
	UnitID          string    `json:"unit_id"`
	Prompt          string    `json:"prompt"`
	Context         string    `json:"context"`
	DefaultResponse string    `json:"default_response,omitempty"`
	TimeoutAt       time.Time `json:"timeout_at,omitempty"`
	Response        string    `json:"response,omitempty"`
	Resolved        bool      `json:"resolved"`
}

// Session is the full persisted state of one workflow execution: identity,
// variable bindings, pattern-specific progress, token usage, and any
// pending HITL gate. PatternState is a free-form map because its shape
// varies per pattern (chain step index, DAG completed-task set, graph
// current node, etc.) - pattern executors own its contents.
type Session struct {
	Metadata     Metadata       `json:"metadata"`
	Variables    map[string]any `json:"variables"`
	PatternState map[string]any `json:"pattern_state"`
	TokenUsage   TokenUsage     `json:"token_usage"`
	HITL         *HITLState     `json:"hitl,omitempty"`
	LastResponse string         `json:"last_response,omitempty"`
	SpecSnapshot string         `json:"-"`
}

// New constructs a fresh Session in StatusPending for workflowName/patternTag.
func New(sessionID, workflowName, patternTag string, now time.Time) *Session {
	return &Session{
		Metadata: Metadata{
			SessionID:    sessionID,
			WorkflowName: workflowName,
			PatternTag:   patternTag,
			Status:       StatusPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		Variables:    make(map[string]any),
		PatternState: make(map[string]any),
	}
}

// CumulativeTokens returns total tokens used so far, matching the
// original's get_cumulative_tokens helper (0 for a fresh session).
func (s *Session) CumulativeTokens() int {
	if s == nil {
		return 0
	}
	return s.TokenUsage.Total()
}
