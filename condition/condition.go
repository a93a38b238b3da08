// Copyright 2015 Apcera Inc. All rights reserved.

// Package condition evaluates the Condition*/Assert* predicates a
// unit's [Unit] section carries, before a start job is allowed to
// proceed, per spec.md §4.3's "evaluate conditions" guard.
package condition

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/apcera/sysd/unit"
)

// Result reports why a condition/assert evaluation failed, or a zero
// Result if everything passed.
type Result struct {
	// Failed is the Condition that didn't hold; nil if all passed.
	Failed *unit.Condition
	// Reason is a short human-readable explanation, matching the style
	// of the reference predicate messages.
	Reason string
}

func (r Result) OK() bool { return r.Failed == nil }

// Evaluate runs every condition in u.Section.Conditions in order,
// stopping at the first one that fails. Condition* failures and
// Assert* failures are both reported through the same Result; callers
// (the supervisor) distinguish them via Condition.Assert to choose
// between staying inactive (result "condition") and going failed
// (result "assert").
func Evaluate(u *unit.Unit) Result {
	for i := range u.Section.Conditions {
		c := &u.Section.Conditions[i]
		ok, reason := evaluateOne(c)
		if !ok {
			return Result{Failed: c, Reason: reason}
		}
	}
	return Result{}
}

func evaluateOne(c *unit.Condition) (bool, string) {
	var matched bool
	var err error

	switch c.Directive {
	case "ConditionPathExists", "AssertPathExists":
		matched, err = pathExists(c.Value)
	case "ConditionPathExistsGlob":
		matched, err = pathExistsGlob(c.Value)
	case "ConditionFileNotEmpty", "AssertFileNotEmpty":
		matched, err = fileNotEmpty(c.Value)
	case "ConditionDirectoryNotEmpty":
		matched, err = directoryNotEmpty(c.Value)
	case "ConditionKernelCommandLine":
		matched, err = kernelCommandLineHas(c.Value)
	default:
		// Unknown directive: treat as satisfied rather than blocking
		// startup on a predicate this build doesn't implement.
		return true, ""
	}
	if err != nil {
		matched = false
	}

	if c.Negate {
		matched = !matched
	}
	if matched {
		return true, ""
	}

	sign := ""
	if c.Negate {
		sign = "!"
	}
	return false, fmt.Sprintf("%s=%s%s failed", c.Directive, sign, c.Value)
}

func pathExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func pathExistsGlob(pattern string) (bool, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return false, err
	}
	return len(matches) > 0, nil
}

func fileNotEmpty(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return !info.IsDir() && info.Size() > 0, nil
}

func directoryNotEmpty(path string) (bool, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return len(entries) > 0, nil
}

func kernelCommandLineHas(want string) (bool, error) {
	b, err := os.ReadFile("/proc/cmdline")
	if err != nil {
		return false, err
	}
	for _, tok := range strings.Fields(string(b)) {
		if tok == want {
			return true, nil
		}
		if key, _, ok := strings.Cut(tok, "="); ok && key == want {
			return true, nil
		}
	}
	return false, nil
}
