// Package executor implements the Template Action Engine's ordering,
// retry/backoff, pause/resume, and rollback semantics (spec §4.2).
package executor

import (
	"fmt"
	"sort"

	"github.com/wisbric/forgehost/pkg/store"
)

// ErrCircularDependency is returned when the action dependency graph
// contains a cycle (spec §4.2, §7 CircularDependency).
type ErrCircularDependency struct {
	Remaining []string
}

func (e *ErrCircularDependency) Error() string {
	return fmt.Sprintf("circular dependency detected among actions: %v", e.Remaining)
}

// TopoSort orders action sequences by dependency, breaking ties by the
// explicit order field and then by action_id (spec §4.2 "Order resolution").
// It returns ErrCircularDependency, with zero actions emitted by the caller,
// if the dependency graph cannot be fully resolved.
func TopoSort(seqs []store.TemplateActionSequence) ([]store.TemplateActionSequence, error) {
	byID := make(map[string]store.TemplateActionSequence, len(seqs))
	for _, s := range seqs {
		byID[s.ActionID] = s
	}

	// indegree[x] = number of x's declared dependencies that are present in
	// this template's action set (an unknown dependency id cannot block x).
	indegree := make(map[string]int, len(seqs))
	dependents := make(map[string][]string, len(seqs))
	for _, s := range seqs {
		count := 0
		for _, dep := range s.Dependencies {
			if _, ok := byID[dep]; ok {
				count++
				dependents[dep] = append(dependents[dep], s.ActionID)
			}
		}
		indegree[s.ActionID] = count
	}

	emitted := make([]store.TemplateActionSequence, 0, len(seqs))
	done := make(map[string]bool, len(seqs))

	for len(emitted) < len(seqs) {
		var ready []store.TemplateActionSequence
		for _, s := range seqs {
			if !done[s.ActionID] && indegree[s.ActionID] == 0 {
				ready = append(ready, s)
			}
		}
		if len(ready) == 0 {
			break
		}
		sort.Slice(ready, func(i, j int) bool {
			if ready[i].Order != ready[j].Order {
				return ready[i].Order < ready[j].Order
			}
			return ready[i].ActionID < ready[j].ActionID
		})

		next := ready[0]
		emitted = append(emitted, next)
		done[next.ActionID] = true
		for _, dependent := range dependents[next.ActionID] {
			indegree[dependent]--
		}
	}

	if len(emitted) != len(seqs) {
		var remaining []string
		for _, s := range seqs {
			if !done[s.ActionID] {
				remaining = append(remaining, s.ActionID)
			}
		}
		return nil, &ErrCircularDependency{Remaining: remaining}
	}

	return emitted, nil
}
