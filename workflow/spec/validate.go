package spec

import "fmt"

// ValidateWorkflow rejects duplicate task ids and dependency cycles in a
// workflow-DAG pattern. Called at load time, before any execution begins.
func ValidateWorkflow(cfg *WorkflowConfig) error {
	seen := make(map[string]bool, len(cfg.Tasks))
	for _, t := range cfg.Tasks {
		if seen[t.ID] {
			return fmt.Errorf("duplicate task id %q", t.ID)
		}
		seen[t.ID] = true
	}
	for _, t := range cfg.Tasks {
		for _, dep := range t.Deps {
			if !seen[dep] {
				return fmt.Errorf("task %q depends on unknown task %q", t.ID, dep)
			}
		}
	}
	return detectCycle(cfg)
}

func detectCycle(cfg *WorkflowConfig) error {
	deps := make(map[string][]string, len(cfg.Tasks))
	for _, t := range cfg.Tasks {
		deps[t.ID] = t.Deps
	}
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(cfg.Tasks))
	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case black:
			return nil
		case gray:
			return fmt.Errorf("cycle detected involving task %q", id)
		}
		color[id] = gray
		for _, dep := range deps[id] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[id] = black
		return nil
	}
	for _, t := range cfg.Tasks {
		if err := visit(t.ID); err != nil {
			return err
		}
	}
	return nil
}

// ValidateGraph rejects duplicate node ids and edges referencing unknown
// nodes in a graph pattern.
func ValidateGraph(cfg *GraphConfig) error {
	seen := make(map[string]bool, len(cfg.Nodes))
	for _, n := range cfg.Nodes {
		if seen[n.ID] {
			return fmt.Errorf("duplicate node id %q", n.ID)
		}
		seen[n.ID] = true
	}
	for _, e := range cfg.Edges {
		if !seen[e.From] {
			return fmt.Errorf("edge references unknown source node %q", e.From)
		}
		if e.To != "" && !seen[e.To] {
			return fmt.Errorf("edge references unknown target node %q", e.To)
		}
		for _, c := range e.Choose {
			if !seen[c.To] {
				return fmt.Errorf("conditional edge from %q references unknown target node %q", e.From, c.To)
			}
		}
	}
	return nil
}
