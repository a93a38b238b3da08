// Copyright 2015 Apcera Inc. All rights reserved.

package condition

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/apcera/util/testtool"

	"github.com/apcera/sysd/unit"
)

func TestEvaluatePathExists(t *testing.T) {
	dir := TempDir(t)
	present := filepath.Join(dir, "present")
	TestExpectSuccess(t, os.WriteFile(present, []byte("x"), 0644))

	u := &unit.Unit{Section: unit.NewSection()}
	u.Section.Conditions = []unit.Condition{
		{Directive: "ConditionPathExists", Value: present},
	}
	TestTrue(t, Evaluate(u).OK())

	u.Section.Conditions = []unit.Condition{
		{Directive: "ConditionPathExists", Value: filepath.Join(dir, "missing")},
	}
	result := Evaluate(u)
	TestFalse(t, result.OK())
	TestFalse(t, result.Failed.Assert)
}

func TestEvaluateNegatedCondition(t *testing.T) {
	dir := TempDir(t)
	missing := filepath.Join(dir, "missing")

	u := &unit.Unit{Section: unit.NewSection()}
	u.Section.Conditions = []unit.Condition{
		{Directive: "ConditionPathExists", Value: missing, Negate: true},
	}
	TestTrue(t, Evaluate(u).OK())
}

func TestEvaluateAssertFailureIsDistinguished(t *testing.T) {
	u := &unit.Unit{Section: unit.NewSection()}
	u.Section.Conditions = []unit.Condition{
		{Directive: "AssertPathExists", Value: "/nonexistent-for-test", Assert: true},
	}
	result := Evaluate(u)
	TestFalse(t, result.OK())
	TestTrue(t, result.Failed.Assert)
}

func TestEvaluateStopsAtFirstFailure(t *testing.T) {
	u := &unit.Unit{Section: unit.NewSection()}
	u.Section.Conditions = []unit.Condition{
		{Directive: "ConditionPathExists", Value: "/nonexistent-a"},
		{Directive: "ConditionPathExists", Value: "/nonexistent-b"},
	}
	result := Evaluate(u)
	TestFalse(t, result.OK())
	TestEqual(t, result.Failed.Value, "/nonexistent-a")
}
