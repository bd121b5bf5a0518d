// Package pipeline orchestrates the warehouse stages as a dependency
// graph and records a run report for every stage execution.
package pipeline

import "lakemart/internal/domain"

// StageDef declares one stage and the stages whose durable output it
// reads. The graph is fixed at wiring time, not user-supplied.
type StageDef struct {
	Name      string
	DependsOn []string
	Run       StageFunc
}

// ResolveStageOrder computes a topological ordering of stages using
// Kahn's algorithm. Returns levels of stage names where each level can
// execute in parallel. Returns an error if cycles or unknown deps exist.
func ResolveStageOrder(stages []StageDef) ([][]string, error) {
	if len(stages) == 0 {
		return nil, nil
	}

	known := make(map[string]bool, len(stages))
	inDegree := make(map[string]int, len(stages))
	dependents := make(map[string][]string) // dep name → stages that depend on it

	for _, s := range stages {
		known[s.Name] = true
		inDegree[s.Name] = 0
	}

	for _, s := range stages {
		for _, dep := range s.DependsOn {
			if !known[dep] {
				return nil, domain.ErrValidation("unknown dependency: %s", dep)
			}
			if dep == s.Name {
				return nil, domain.ErrValidation("self dependency: %s", s.Name)
			}
			dependents[dep] = append(dependents[dep], s.Name)
			inDegree[s.Name]++
		}
	}

	// Kahn's algorithm — process by levels.
	var levels [][]string
	var queue []string
	for _, s := range stages {
		if inDegree[s.Name] == 0 {
			queue = append(queue, s.Name)
		}
	}

	processed := 0
	for len(queue) > 0 {
		level := make([]string, len(queue))
		copy(level, queue)
		levels = append(levels, level)
		processed += len(level)

		var next []string
		for _, name := range queue {
			for _, dep := range dependents[name] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		queue = next
	}

	if processed != len(stages) {
		return nil, domain.ErrValidation("cycle detected in stage dependencies")
	}
	return levels, nil
}
