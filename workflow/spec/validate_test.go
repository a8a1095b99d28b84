package spec_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thomasrohde/strands-workflow/workflow/spec"
)

func TestValidateWorkflowRejectsDuplicateIDs(t *testing.T) {
	cfg := &spec.WorkflowConfig{Tasks: []spec.Task{
		{ID: "a"}, {ID: "a"},
	}}
	err := spec.ValidateWorkflow(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate task id")
}

func TestValidateWorkflowRejectsCycle(t *testing.T) {
	cfg := &spec.WorkflowConfig{Tasks: []spec.Task{
		{ID: "a", Deps: []string{"b"}},
		{ID: "b", Deps: []string{"a"}},
	}}
	err := spec.ValidateWorkflow(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestValidateWorkflowAcceptsDiamond(t *testing.T) {
	cfg := &spec.WorkflowConfig{Tasks: []spec.Task{
		{ID: "a"},
		{ID: "b", Deps: []string{"a"}},
		{ID: "c", Deps: []string{"a"}},
		{ID: "d", Deps: []string{"b", "c"}},
	}}
	require.NoError(t, spec.ValidateWorkflow(cfg))
}

func TestValidateGraphRejectsUnknownTarget(t *testing.T) {
	cfg := &spec.GraphConfig{
		Nodes: []spec.Node{{ID: "n1"}},
		Edges: []spec.Edge{{From: "n1", To: "missing"}},
	}
	err := spec.ValidateGraph(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown target node")
}
