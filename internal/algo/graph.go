// Package algo implements the algorithm primitives of spec.md §4.6/§8
// (component K): search, match, execute, execute_prerequisites,
// inject_fsdir, and the standard clean recipe, plus the dependency graph
// used to detect cycles before execution starts.
package algo

import (
	"fmt"
	"strings"

	"github.com/b2build/b2/internal/target"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// DepGraph is the target dependency graph, built from each target's
// resolved (applied) prerequisite list. It is a thin wrapper over
// gonum/graph/simple.DirectedGraph, grounded on the teacher's identical use
// of gonum for package build ordering.
type DepGraph struct {
	g       *simple.DirectedGraph
	idOf    map[*target.Target]int64
	nodeOf  map[int64]*target.Target
	nextID  int64
}

// NewDepGraph constructs an empty DepGraph.
func NewDepGraph() *DepGraph {
	return &DepGraph{
		g:      simple.NewDirectedGraph(),
		idOf:   make(map[*target.Target]int64),
		nodeOf: make(map[int64]*target.Target),
	}
}

func (d *DepGraph) nodeID(t *target.Target) int64 {
	if id, ok := d.idOf[t]; ok {
		return id
	}
	id := d.nextID
	d.nextID++
	d.idOf[t] = id
	d.nodeOf[id] = t
	d.g.AddNode(simpleNode(id))
	return id
}

type simpleNode int64

func (n simpleNode) ID() int64 { return int64(n) }

// AddEdge records that dependent depends on prereq.
func (d *DepGraph) AddEdge(dependent, prereq *target.Target) {
	from := d.nodeID(dependent)
	to := d.nodeID(prereq)
	if from == to {
		return
	}
	d.g.SetEdge(simple.Edge{F: simpleNode(from), T: simpleNode(to)})
}

// Cycle is a single cycle found in the graph, rendered as the chain of
// targets involved.
type Cycle []*target.Target

func (c Cycle) String() string {
	parts := make([]string, len(c))
	for i, t := range c {
		parts[i] = fmt.Sprintf("%s{%s}%s", t.TypeName(), t.OutDir(), t.TargetName())
	}
	return strings.Join(parts, " -> ")
}

// FindCycles returns every elementary cycle in the graph (spec.md §8: "A
// cyclic dependency is detected and reported (failure, not hang)").
func (d *DepGraph) FindCycles() []Cycle {
	cycles := topo.DirectedCyclesIn(d.g)
	out := make([]Cycle, 0, len(cycles))
	for _, c := range cycles {
		cyc := make(Cycle, len(c))
		for i, n := range c {
			cyc[i] = d.nodeOf[n.ID()]
		}
		out = append(out, cyc)
	}
	return out
}

// TopoOrder returns targets in dependency order (prerequisites first),
// suitable for a "first" execution-mode operation's sequential fallback
// path, or an error naming the first detected cycle.
func (d *DepGraph) TopoOrder() ([]*target.Target, error) {
	order, err := topo.SortStabilized(d.g, nil)
	if err != nil {
		cycles := d.FindCycles()
		if len(cycles) > 0 {
			return nil, fmt.Errorf("cyclic dependency detected: %s", cycles[0])
		}
		return nil, fmt.Errorf("cyclic dependency detected: %v", err)
	}
	// SortStabilized is a source-before-sink sort and our edges point from
	// dependent to prerequisite (sink = prerequisite), so gonum yields
	// dependents first; reverse to put prerequisites first.
	out := make([]*target.Target, 0, len(order))
	for i := len(order) - 1; i >= 0; i-- {
		out = append(out, d.nodeOf[order[i].ID()])
	}
	return out, nil
}

var _ graph.Directed = (*simple.DirectedGraph)(nil)
