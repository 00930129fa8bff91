package scheduler

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gammazero/toposort"
)

var (
	ErrDuplicateTask     = errors.New("task already in graph")
	ErrUnknownDependency = errors.New("dependency not in graph")
	ErrCycle             = errors.New("graph contains cycle")
)

// Graph collects tasks before submission and checks that their dependency
// edges form a DAG. The pool itself never looks for cycles; a cyclic set of
// tasks submitted directly would wait on each other forever.
type Graph struct {
	mu    sync.RWMutex
	tasks []Task
	known map[Task]bool
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		known: make(map[Task]bool),
	}
}

// Add registers tasks in the graph. Adding the same task twice is an error.
func (g *Graph) Add(tasks ...Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, t := range tasks {
		if g.known[t] {
			return fmt.Errorf("%w: %q", ErrDuplicateTask, t.Name())
		}
		g.known[t] = true
		g.tasks = append(g.tasks, t)
	}
	return nil
}

// Tasks returns the registered tasks in insertion order.
func (g *Graph) Tasks() []Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]Task(nil), g.tasks...)
}

// Validate returns the tasks in dependency order. Every dependency must be
// registered, unless it is already done (a result computed elsewhere), and
// the edges must not form a cycle.
func (g *Graph) Validate() ([]Task, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var edges []toposort.Edge
	for _, t := range g.tasks {
		deps := t.Dependencies()
		if len(deps) == 0 {
			// Edge from nil keeps isolated tasks in the result
			edges = append(edges, toposort.Edge{nil, t})
			continue
		}
		for _, dep := range deps {
			if !g.known[dep] {
				if dep.Done() {
					continue
				}
				return nil, fmt.Errorf("%w: %q depends on %q", ErrUnknownDependency, t.Name(), dep.Name())
			}
			edges = append(edges, toposort.Edge{dep, t})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCycle, err)
	}

	order := make([]Task, 0, len(g.tasks))
	seen := make(map[Task]bool, len(g.tasks))
	for _, v := range sorted {
		t, ok := v.(Task)
		if !ok || seen[t] {
			continue
		}
		seen[t] = true
		order = append(order, t)
	}

	// A task whose only dependencies were already done produced no edge.
	for _, t := range g.tasks {
		if !seen[t] {
			order = append(order, t)
		}
	}

	return order, nil
}

// Submit validates the graph, numbers the tasks in dependency order and adds
// them to p in that order.
func (g *Graph) Submit(p *Pool) error {
	order, err := g.Validate()
	if err != nil {
		return err
	}
	for i, t := range order {
		t.SetIndex(i)
		p.Add(t)
	}
	return nil
}
