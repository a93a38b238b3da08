// Copyright 2015 Apcera Inc. All rights reserved.

// Package resolver builds the dependency graph over loaded units and
// computes start/stop ordering for transactions, per spec.md §4.6.
package resolver

import (
	"fmt"
	"sort"

	"github.com/apcera/sysd/unit"
)

// WantEdge records a Wants= edge dropped to break a cycle, so callers
// can report what was sacrificed.
type WantEdge struct {
	From, To string
}

// CycleError reports that a transaction's ordering subgraph could not
// be made acyclic even after dropping every droppable Wants= edge.
type CycleError struct {
	Nodes []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("ordering cycle among: %v", e.Nodes)
}

// Graph is the After/Before/Requires/Wants/Conflicts/BindsTo/PartOf
// dependency graph over every unit a Registry has loaded. Edges are
// ordering-only: edges[from] is the set of nodes that must reach
// "active" (or "failed", for a Wants target) before "from" may start.
type Graph struct {
	nodes map[string]bool
	edges map[string]map[string]bool

	// wants records which ordering edges originated from a Wants=
	// directive (as opposed to Requires=/After=), since only those may
	// be dropped to break a cycle.
	wants map[string]map[string]bool

	// pullIn holds the non-ordering relations the job engine consults
	// to compute a transaction's transitive closure.
	requires  map[string]map[string]bool
	wantsPull map[string]map[string]bool
	bindsTo   map[string]map[string]bool
	partOf    map[string]map[string]bool
	conflicts map[string]map[string]bool

	aliases map[string]string
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{
		nodes:     make(map[string]bool),
		edges:     make(map[string]map[string]bool),
		wants:     make(map[string]map[string]bool),
		requires:  make(map[string]map[string]bool),
		wantsPull: make(map[string]map[string]bool),
		bindsTo:   make(map[string]map[string]bool),
		partOf:    make(map[string]map[string]bool),
		conflicts: make(map[string]map[string]bool),
		aliases:   make(map[string]string),
	}
}

// AddAlias registers alias as resolving to canonical for the purposes
// of every edge lookup that follows, per SPEC_FULL.md §6.
func (g *Graph) AddAlias(alias, canonical string) {
	if alias != canonical {
		g.aliases[alias] = canonical
	}
}

func (g *Graph) resolve(name string) string {
	if c, ok := g.aliases[name]; ok {
		return c
	}
	return name
}

// Build registers every unit's node and aliases first, then adds
// edges for all of them, so that Before= targets and alias targets
// resolve correctly regardless of the slice's order.
func (g *Graph) Build(units []*unit.Unit) {
	for _, u := range units {
		g.nodes[u.Name] = true
		for _, a := range u.Install.Alias {
			g.AddAlias(a, u.Name)
		}
	}
	for _, u := range units {
		g.addEdges(u)
	}
}

// AddUnit registers u's node and every edge its [Unit] section
// declares. Ordering edges to units not present in the graph are
// silently dropped, matching After=/Before=-on-a-missing-unit being a
// no-op rather than an error. Prefer Build when adding a whole
// registry snapshot at once, since AddUnit alone is order-sensitive:
// any ordering edge to a unit not yet added is dropped.
func (g *Graph) AddUnit(u *unit.Unit) {
	g.nodes[u.Name] = true
	g.addEdges(u)
}

func (g *Graph) addEdges(u *unit.Unit) {
	name := u.Name

	for _, dep := range u.Section.Edges[unit.EdgeAfter] {
		g.addOrderEdge(name, dep, false)
	}
	for _, dep := range u.Section.Edges[unit.EdgeRequires] {
		g.addOrderEdge(name, dep, false)
		g.addPull(g.requires, name, dep)
	}
	for _, dep := range u.Section.Edges[unit.EdgeRequisite] {
		g.addOrderEdge(name, dep, false)
		g.addPull(g.requires, name, dep)
	}
	for _, dep := range u.Section.Edges[unit.EdgeWants] {
		g.addOrderEdge(name, dep, true)
		g.addPull(g.wantsPull, name, dep)
	}
	for _, dep := range u.Section.Edges[unit.EdgeBindsTo] {
		g.addOrderEdge(name, dep, false)
		g.addPull(g.requires, name, dep)
		g.addPull(g.bindsTo, name, dep)
	}
	for _, dep := range u.Section.Edges[unit.EdgePartOf] {
		g.addPull(g.partOf, name, dep)
	}
	for _, dep := range u.Section.Edges[unit.EdgeConflicts] {
		g.addPull(g.conflicts, name, dep)
	}

	// Before=X: X must start after us, i.e. an ordering edge from X to
	// us, added only if X is already a known node.
	for _, dep := range u.Section.Edges[unit.EdgeBefore] {
		resolved := g.resolve(dep)
		if g.nodes[resolved] {
			g.addEdgeRaw(resolved, name, false)
		}
	}
}

// addOrderEdge adds an ordering edge from->resolve(to) if to is a
// known node; isWants marks the edge as droppable when breaking a
// cycle.
func (g *Graph) addOrderEdge(from, to string, isWants bool) {
	resolved := g.resolve(to)
	if !g.nodes[resolved] {
		return
	}
	g.addEdgeRaw(from, resolved, isWants)
}

func (g *Graph) addEdgeRaw(from, to string, isWants bool) {
	if g.edges[from] == nil {
		g.edges[from] = make(map[string]bool)
	}
	g.edges[from][to] = true
	if isWants {
		if g.wants[from] == nil {
			g.wants[from] = make(map[string]bool)
		}
		g.wants[from][to] = true
	}
}

func (g *Graph) addPull(m map[string]map[string]bool, from, to string) {
	resolved := g.resolve(to)
	if m[from] == nil {
		m[from] = make(map[string]bool)
	}
	m[from][resolved] = true
}

// Requires, Wants, BindsTo, PartOf, and Conflicts return the
// resolved pull-in/negative relations for a node, for the job engine's
// transaction-closure computation.
func (g *Graph) Requires(name string) []string  { return sortedKeys(g.requires[name]) }
func (g *Graph) Wants(name string) []string     { return sortedKeys(g.wantsPull[name]) }
func (g *Graph) BindsTo(name string) []string   { return sortedKeys(g.bindsTo[name]) }
func (g *Graph) PartOf(name string) []string    { return sortedKeys(g.partOf[name]) }
func (g *Graph) Conflicts(name string) []string { return sortedKeys(g.conflicts[name]) }

// PartOfDependants returns every node that declares PartOf=name,
// i.e. the set that restarts when name restarts.
func (g *Graph) PartOfDependants(name string) []string {
	var out []string
	for from, tos := range g.partOf {
		if tos[name] {
			out = append(out, from)
		}
	}
	sort.Strings(out)
	return out
}

// BindsToDependants returns every node that declares BindsTo=name,
// i.e. the set that stops when name stops.
func (g *Graph) BindsToDependants(name string) []string {
	var out []string
	for from, tos := range g.bindsTo {
		if tos[name] {
			out = append(out, from)
		}
	}
	sort.Strings(out)
	return out
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
