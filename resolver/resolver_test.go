// Copyright 2015 Apcera Inc. All rights reserved.

package resolver

import (
	"testing"

	. "github.com/apcera/util/testtool"

	"github.com/apcera/sysd/unit"
)

func newUnit(name string, kind unit.Kind) *unit.Unit {
	return &unit.Unit{Name: name, Kind: kind, Section: unit.NewSection()}
}

func TestStartOrderSimpleChain(t *testing.T) {
	a := newUnit("a.service", unit.KindService)
	a.Section.DefaultDependencies = false
	b := newUnit("b.service", unit.KindService)
	b.Section.DefaultDependencies = false
	b.Section.Edges[unit.EdgeAfter] = []string{"a.service"}
	b.Section.Edges[unit.EdgeRequires] = []string{"a.service"}

	g := New()
	g.AddUnit(a)
	g.AddUnit(b)

	order, dropped, err := g.StartOrderFor("b.service")
	TestExpectSuccess(t, err)
	TestEqual(t, len(dropped), 0)
	TestEqual(t, order, []string{"a.service", "b.service"})
}

func TestStartOrderBeforeEdge(t *testing.T) {
	a := newUnit("a.service", unit.KindService)
	a.Section.DefaultDependencies = false
	a.Section.Edges[unit.EdgeRequires] = []string{"b.service"}
	b := newUnit("b.service", unit.KindService)
	b.Section.DefaultDependencies = false
	b.Section.Edges[unit.EdgeBefore] = []string{"a.service"}

	g := New()
	g.AddUnit(a)
	g.AddUnit(b)

	order, _, err := g.StartOrderFor("a.service")
	TestExpectSuccess(t, err)
	TestEqual(t, order, []string{"b.service", "a.service"})
}

func TestCycleBrokenByDroppingWants(t *testing.T) {
	a := newUnit("a.service", unit.KindService)
	a.Section.DefaultDependencies = false
	b := newUnit("b.service", unit.KindService)
	b.Section.DefaultDependencies = false

	a.Section.Edges[unit.EdgeAfter] = []string{"b.service"}
	a.Section.Edges[unit.EdgeWants] = []string{"b.service"}
	b.Section.Edges[unit.EdgeAfter] = []string{"a.service"}
	b.Section.Edges[unit.EdgeRequires] = []string{"a.service"}

	g := New()
	g.Build([]*unit.Unit{a, b})

	order, dropped, err := g.StartOrderFor("b.service")
	TestExpectSuccess(t, err)
	TestEqual(t, len(dropped), 1)
	TestEqual(t, dropped[0], WantEdge{From: "a.service", To: "b.service"})
	TestEqual(t, order, []string{"a.service", "b.service"})
}

func TestCycleWithNoDroppableEdgeFails(t *testing.T) {
	a := newUnit("a.service", unit.KindService)
	a.Section.DefaultDependencies = false
	b := newUnit("b.service", unit.KindService)
	b.Section.DefaultDependencies = false

	a.Section.Edges[unit.EdgeAfter] = []string{"b.service"}
	a.Section.Edges[unit.EdgeRequires] = []string{"b.service"}
	b.Section.Edges[unit.EdgeAfter] = []string{"a.service"}
	b.Section.Edges[unit.EdgeRequires] = []string{"a.service"}

	g := New()
	g.Build([]*unit.Unit{a, b})

	_, _, err := g.StartOrderFor("b.service")
	TestExpectError(t, err)
}

func TestClosureWantsVsRequires(t *testing.T) {
	root := newUnit("root.service", unit.KindService)
	root.Section.DefaultDependencies = false
	req := newUnit("req.service", unit.KindService)
	req.Section.DefaultDependencies = false
	want := newUnit("want.service", unit.KindService)
	want.Section.DefaultDependencies = false

	root.Section.Edges[unit.EdgeRequires] = []string{"req.service"}
	root.Section.Edges[unit.EdgeWants] = []string{"want.service"}

	g := New()
	g.AddUnit(root)
	g.AddUnit(req)
	g.AddUnit(want)

	required, wanted := g.Closure("root.service", false)
	TestTrue(t, required["req.service"])
	TestTrue(t, wanted["want.service"])
	TestFalse(t, required["want.service"])
}

func TestClosureIgnoreDependencies(t *testing.T) {
	root := newUnit("root.service", unit.KindService)
	root.Section.DefaultDependencies = false
	req := newUnit("req.service", unit.KindService)
	req.Section.DefaultDependencies = false
	root.Section.Edges[unit.EdgeRequires] = []string{"req.service"}

	g := New()
	g.AddUnit(root)
	g.AddUnit(req)

	required, wanted := g.Closure("root.service", true)
	TestEqual(t, len(required), 1)
	TestEqual(t, len(wanted), 0)
	TestTrue(t, required["root.service"])
}
