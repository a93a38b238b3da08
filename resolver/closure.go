// Copyright 2015 Apcera Inc. All rights reserved.

package resolver

// Closure computes the transitive pull-in set for starting root: every
// unit reachable by following Requires=/Requisite=/BindsTo=/Wants=
// edges, per spec.md §4.6. Requires/Requisite/BindsTo members are
// marked required (their failure fails root's start); Wants members
// are not. ignoreDependencies restricts the closure to {root} alone,
// for the job-mode of the same name.
func (g *Graph) Closure(root string, ignoreDependencies bool) (required map[string]bool, wanted map[string]bool) {
	required = map[string]bool{root: true}
	wanted = map[string]bool{}

	if ignoreDependencies {
		return required, wanted
	}

	queue := []string{root}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		for _, dep := range append(g.Requires(name), g.BindsTo(name)...) {
			if !required[dep] {
				required[dep] = true
				delete(wanted, dep)
				queue = append(queue, dep)
			}
		}
		for _, dep := range g.Wants(name) {
			if !required[dep] && !wanted[dep] {
				wanted[dep] = true
				queue = append(queue, dep)
			}
		}
	}
	return required, wanted
}

// ConflictsClosure returns every unit that root's Conflicts= set (in
// either direction) names, so the job engine can enqueue stop jobs for
// them in the same transaction, per spec.md §4.6's "Negative"
// dependency kind.
func (g *Graph) ConflictsClosure(root string) []string {
	seen := map[string]bool{}
	for _, other := range g.Conflicts(root) {
		seen[other] = true
	}
	for from, tos := range g.conflicts {
		if tos[root] {
			seen[from] = true
		}
	}
	return sortedSet(seen)
}

// IsolateStopSet returns every known node not in keep, for the
// "isolate" job mode's additional stop jobs.
func (g *Graph) IsolateStopSet(keep map[string]bool) []string {
	var out []string
	for n := range g.nodes {
		if !keep[n] {
			out = append(out, n)
		}
	}
	return sortedSet(setOf(out))
}

func setOf(ss []string) map[string]bool {
	m := make(map[string]bool, len(ss))
	for _, s := range ss {
		m[s] = true
	}
	return m
}
