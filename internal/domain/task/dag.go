package task

import (
	"fmt"
	"sort"

	cerr "github.com/cis-project/cis/pkg/errors"
)

// Dag is a set of tasks plus the dependency edges implied by each task's
// Dependencies list (spec.md §3 "Dag"). Grounded on
// _examples/original_source/cis-common/cis-scheduler/src/dag.rs's
// TaskGraph, adapted to use each Task's own Dependencies field as the
// edge source of truth instead of a separate edge list.
type Dag struct {
	Name  string
	Tasks map[string]*Task
}

// NewDag builds an empty Dag.
func NewDag(name string) *Dag {
	return &Dag{Name: name, Tasks: map[string]*Task{}}
}

// AddTask inserts t, rejecting a duplicate id.
func (d *Dag) AddTask(t *Task) error {
	if _, exists := d.Tasks[t.ID]; exists {
		return cerr.AlreadyExists(fmt.Sprintf("task %q already in dag", t.ID))
	}
	d.Tasks[t.ID] = t
	return nil
}

// Validate checks every edge endpoint is known and the dependency graph is
// acyclic (spec.md §8 property 1). It returns the topological order on
// success.
func (d *Dag) Validate() ([]string, error) {
	for id, t := range d.Tasks {
		for _, dep := range t.Dependencies {
			if _, ok := d.Tasks[dep]; !ok {
				return nil, cerr.Validation(fmt.Sprintf("task %q depends on unknown task %q", id, dep))
			}
		}
	}
	return d.TopologicalSort()
}

// TopologicalSort runs Kahn's algorithm over the dependency edges. A
// result shorter than len(Tasks) means a cycle exists.
func (d *Dag) TopologicalSort() ([]string, error) {
	inDegree := make(map[string]int, len(d.Tasks))
	dependents := make(map[string][]string, len(d.Tasks))
	for id, t := range d.Tasks {
		if _, ok := inDegree[id]; !ok {
			inDegree[id] = 0
		}
		for _, dep := range t.Dependencies {
			inDegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue) // deterministic order for identical graphs

	var order []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		next := append([]string(nil), dependents[id]...)
		sort.Strings(next)
		for _, dep := range next {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(order) != len(d.Tasks) {
		return nil, cerr.Validation("cyclic dependency detected")
	}
	return order, nil
}

// TopologicalLevels partitions tasks into parallel batches: level i
// contains every task whose dependencies all lie in levels < i
// (spec.md §4.6 topological_levels).
func (d *Dag) TopologicalLevels() ([][]string, error) {
	if _, err := d.Validate(); err != nil {
		return nil, err
	}

	levelOf := make(map[string]int, len(d.Tasks))
	var resolve func(id string) int
	resolve = func(id string) int {
		if lvl, ok := levelOf[id]; ok {
			return lvl
		}
		t := d.Tasks[id]
		lvl := 0
		for _, dep := range t.Dependencies {
			if depLvl := resolve(dep); depLvl+1 > lvl {
				lvl = depLvl + 1
			}
		}
		levelOf[id] = lvl
		return lvl
	}

	maxLevel := 0
	ids := make([]string, 0, len(d.Tasks))
	for id := range d.Tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if lvl := resolve(id); lvl > maxLevel {
			maxLevel = lvl
		}
	}

	levels := make([][]string, maxLevel+1)
	for _, id := range ids {
		lvl := levelOf[id]
		levels[lvl] = append(levels[lvl], id)
	}
	return levels, nil
}
