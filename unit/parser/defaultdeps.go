// Copyright 2015 Apcera Inc. All rights reserved.

package parser

import "github.com/apcera/sysd/unit"

// applyDefaultDependencies synthesizes the implicit ordering edges
// DefaultDependencies=yes (the default) adds, per SPEC_FULL.md §5.
// Declared edges are never overwritten; synthesis only appends values
// a directive didn't already supply.
func applyDefaultDependencies(u *unit.Unit) {
	if !u.Section.DefaultDependencies {
		return
	}

	addAfter := func(targets ...string) { appendEdge(u, unit.EdgeAfter, targets...) }
	addBefore := func(targets ...string) { appendEdge(u, unit.EdgeBefore, targets...) }

	switch u.Kind {
	case unit.KindService, unit.KindScope:
		addAfter("basic.target")
		addBefore("shutdown.target")
	case unit.KindSocket:
		addAfter("sysinit.target")
		addBefore("sockets.target", "shutdown.target")
	case unit.KindTarget, unit.KindMount, unit.KindTimer, unit.KindSlice:
		// No implicit ordering for these kinds.
	}
}

func appendEdge(u *unit.Unit, kind unit.EdgeKind, targets ...string) {
	existing := make(map[string]bool, len(u.Section.Edges[kind]))
	for _, e := range u.Section.Edges[kind] {
		existing[e] = true
	}
	for _, t := range targets {
		if !existing[t] {
			u.Section.Edges[kind] = append(u.Section.Edges[kind], t)
			existing[t] = true
		}
	}
}
