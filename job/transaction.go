// Copyright 2015 Apcera Inc. All rights reserved.

package job

import (
	"fmt"

	"github.com/apcera/util/uuid"

	"github.com/apcera/sysd/resolver"
)

// Submit computes the transaction for starting unitName under mode,
// commits it per the job-mode policy (spec.md §4.6 step 2), and
// returns the committed Transaction. Dispatch (actually running the
// jobs through the supervisor) happens separately via Engine.Dispatch.
func (e *Engine) Submit(unitName string, action Action, mode Mode) (*Transaction, error) {
	g := e.buildGraph()

	var required, wanted map[string]bool
	switch action {
	case ActionStart, ActionRestart:
		required, wanted = g.Closure(unitName, mode == ModeIgnoreDependencies)
	case ActionStop, ActionReload:
		required, wanted = map[string]bool{unitName: true}, map[string]bool{}
	default:
		return nil, fmt.Errorf("unknown job action %q", action)
	}

	order, dropped, err := g.StartOrderFor(unitName)
	if err != nil {
		return nil, fmt.Errorf("transaction for %s: %w", unitName, err)
	}
	// Restrict the order to the units actually in this transaction's
	// closure, preserving the subgraph's relative order.
	inClosure := make(map[string]bool, len(required)+len(wanted))
	for n := range required {
		inClosure[n] = true
	}
	for n := range wanted {
		inClosure[n] = true
	}
	var filteredOrder []string
	for _, n := range order {
		if inClosure[n] {
			filteredOrder = append(filteredOrder, n)
		}
	}
	if len(filteredOrder) == 0 {
		filteredOrder = []string{unitName}
	}

	tx := &Transaction{ID: uuid.Variant4().String(), Mode: mode, Dropped: dropped, Order: filteredOrder}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.applyModePolicy(tx, mode, filteredOrder, g); err != nil {
		return nil, err
	}

	for _, name := range filteredOrder {
		isRequired := required[name] || name == unitName
		j := newJob(name, startStopAction(action), isRequired)
		tx.Jobs = append(tx.Jobs, j)
		e.pending[name] = j
	}

	// Conflicts=: enqueue stop jobs for conflicting units in the same
	// transaction, per spec.md §4.6's "Negative" dependency kind.
	for _, conflicting := range g.ConflictsClosure(unitName) {
		if e.pending[conflicting] != nil {
			continue
		}
		j := newJob(conflicting, ActionStop, false)
		tx.Jobs = append(tx.Jobs, j)
		e.pending[conflicting] = j
	}

	return tx, nil
}

// startStopAction picks Start for every unit pulled into a start
// transaction except the conflicts handled separately; stop/reload
// transactions apply uniformly to their single target.
func startStopAction(action Action) Action {
	switch action {
	case ActionStart, ActionRestart:
		return ActionStart
	default:
		return action
	}
}

// applyModePolicy implements spec.md §4.6 step 2's job-mode policies.
func (e *Engine) applyModePolicy(tx *Transaction, mode Mode, order []string, g *resolver.Graph) error {
	switch mode {
	case ModeFail:
		for _, name := range order {
			if existing, ok := e.pending[name]; ok && !existing.done {
				return fmt.Errorf("job mode %q: unit %s already has a pending job", mode, name)
			}
		}
	case ModeReplace, ModeIgnoreDependencies:
		for _, name := range order {
			if existing, ok := e.pending[name]; ok && !existing.done {
				existing.Finish(ResultCanceled, fmt.Errorf("superseded by transaction %s", tx.ID))
			}
		}
	case ModeIsolate:
		keep := make(map[string]bool, len(order))
		for _, n := range order {
			keep[n] = true
		}
		for _, name := range g.IsolateStopSet(keep) {
			if e.pending[name] != nil {
				continue
			}
			j := newJob(name, ActionStop, false)
			tx.Jobs = append(tx.Jobs, j)
			e.pending[name] = j
		}
	default:
		return fmt.Errorf("unknown job mode %q", mode)
	}
	return nil
}

// Complete removes name's pending job entry once the supervisor has
// finished acting on it, and finalizes the Job.
func (e *Engine) Complete(j *Job, result Result, err error) {
	j.Finish(result, err)
	e.mu.Lock()
	if e.pending[j.Unit] == j {
		delete(e.pending, j.Unit)
	}
	e.mu.Unlock()
}

// Pending reports the job currently queued for name, if any.
func (e *Engine) Pending(name string) (*Job, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	j, ok := e.pending[name]
	return j, ok
}
