// Copyright 2015 Apcera Inc. All rights reserved.

package resolver

import "sort"

// StartOrderFor returns the start order for target and its transitive
// ordering dependencies, restricted to the subset of the graph
// reachable from target, per the reference implementation's
// start_order_for. Restricting to the reachable subset avoids cycles
// among unrelated units (e.g. shutdown.target's reverse edges).
func (g *Graph) StartOrderFor(target string) ([]string, []WantEdge, error) {
	needed := g.reachable(target)
	return g.toposortSubset(needed)
}

// reachable follows ordering edges outward from target, returning the
// set of nodes needed to compute its start order.
func (g *Graph) reachable(target string) map[string]bool {
	needed := make(map[string]bool)
	if !g.nodes[target] {
		return needed
	}
	queue := []string{target}
	needed[target] = true
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for dep := range g.edges[node] {
			if !needed[dep] {
				needed[dep] = true
				queue = append(queue, dep)
			}
		}
	}
	return needed
}

// toposortSubset runs Kahn's algorithm restricted to nodes, dropping
// Wants-sourced edges one at a time to break cycles before giving up
// with a CycleError, per spec.md §4.6 step 1.
func (g *Graph) toposortSubset(nodes map[string]bool) ([]string, []WantEdge, error) {
	var dropped []WantEdge

	for attempt := 0; ; attempt++ {
		order, remaining := kahn(nodes, g.edges)
		if len(remaining) == 0 {
			return order, dropped, nil
		}

		edge, ok := g.findDroppableWantEdge(remaining, nodes)
		if !ok {
			names := sortedSet(remaining)
			return nil, dropped, &CycleError{Nodes: names}
		}

		g.edges[edge.From][edge.To] = false
		delete(g.edges[edge.From], edge.To)
		delete(g.wants[edge.From], edge.To)
		dropped = append(dropped, edge)

		if attempt > len(nodes)*len(nodes) {
			// Should be unreachable: each drop strictly shrinks the
			// candidate edge set, so this bounds a runaway loop from a
			// graph-construction bug rather than a real cycle.
			return nil, dropped, &CycleError{Nodes: sortedSet(remaining)}
		}
	}
}

// kahn runs Kahn's algorithm over the induced subgraph on nodes,
// returning the computed order and the set of nodes left over if a
// cycle prevented full ordering.
func kahn(nodes map[string]bool, edges map[string]map[string]bool) ([]string, map[string]bool) {
	inDegree := make(map[string]int, len(nodes))
	for n := range nodes {
		count := 0
		for dep := range edges[n] {
			if nodes[dep] {
				count++
			}
		}
		inDegree[n] = count
	}

	var queue []string
	for _, n := range sortedSet(nodes) {
		if inDegree[n] == 0 {
			queue = append(queue, n)
		}
	}

	var order []string
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		var unblocked []string
		for _, dependent := range sortedSet(nodes) {
			if !edges[dependent][node] {
				continue
			}
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				unblocked = append(unblocked, dependent)
			}
		}
		queue = append(queue, unblocked...)
	}

	if len(order) == len(nodes) {
		return order, nil
	}

	done := make(map[string]bool, len(order))
	for _, n := range order {
		done[n] = true
	}
	remaining := make(map[string]bool)
	for n := range nodes {
		if !done[n] {
			remaining[n] = true
		}
	}
	return order, remaining
}

// findDroppableWantEdge looks for a Wants-sourced edge whose source
// and target are both among remaining (the unresolved cycle
// participants), so dropping it is guaranteed to shrink that cycle.
func (g *Graph) findDroppableWantEdge(remaining, nodes map[string]bool) (WantEdge, bool) {
	for _, from := range sortedSet(remaining) {
		for _, to := range sortedSet(g.wants[from]) {
			if remaining[to] && nodes[to] {
				return WantEdge{From: from, To: to}, true
			}
		}
	}
	return WantEdge{}, false
}

func sortedSet(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
