// Copyright 2015 Apcera Inc. All rights reserved.

// Package job implements the job queue and transaction engine that
// sits between a control-plane request and the supervisor, per
// spec.md §4.6.
package job

import (
	"fmt"
	"sync"
	"time"

	"github.com/apcera/logray"
	"github.com/apcera/util/uuid"

	"github.com/apcera/sysd/registry"
	"github.com/apcera/sysd/resolver"
)

// Action is the operation a Job performs on its unit.
type Action string

const (
	ActionStart   Action = "start"
	ActionStop    Action = "stop"
	ActionRestart Action = "restart"
	ActionReload  Action = "reload"
)

// Mode selects the job-mode policy a transaction commits under, per
// spec.md §4.6 step 2.
type Mode string

const (
	ModeReplace             Mode = "replace"
	ModeFail                Mode = "fail"
	ModeIsolate             Mode = "isolate"
	ModeIgnoreDependencies  Mode = "ignore-dependencies"
)

// Result is the terminal outcome of a Job, mirroring the
// FailureReason vocabulary spec.md §4.3/§7 uses.
type Result string

const (
	ResultDone       Result = "done"
	ResultCanceled   Result = "canceled"
	ResultDependency Result = "dependency"
	ResultCondition  Result = "condition"
	ResultAssert     Result = "assert"
	ResultTimeout    Result = "timeout"
)

// Job is a single pending or completed unit of work within a
// Transaction.
type Job struct {
	ID     string
	Unit   string
	Action Action

	// Required distinguishes a Requires=/BindsTo=-pulled-in job (whose
	// failure fails the transaction's root) from a Wants=-pulled-in job
	// (whose failure is tolerated), per spec.md §4.6 "Propagation".
	Required bool

	mu     sync.Mutex
	done   bool
	result Result
	err    error
	waiter chan struct{}
}

func newJob(unitName string, action Action, required bool) *Job {
	return &Job{
		ID:       uuid.Variant4().String(),
		Unit:     unitName,
		Action:   action,
		Required: required,
		waiter:   make(chan struct{}),
	}
}

// Finish records j's terminal result and wakes any Wait caller. It is
// safe to call at most once.
func (j *Job) Finish(result Result, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.done {
		return
	}
	j.done = true
	j.result = result
	j.err = err
	close(j.waiter)
}

// Done reports whether j has finished.
func (j *Job) Done() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.done
}

// Result returns j's terminal result and error, assuming Done already
// reported true; it never blocks, unlike Wait.
func (j *Job) Result() (Result, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result, j.err
}

// Wait blocks until j finishes or timeout elapses.
func (j *Job) Wait(timeout time.Duration) (Result, error) {
	select {
	case <-j.waiter:
	case <-time.After(timeout):
		return ResultTimeout, fmt.Errorf("job %s timed out waiting for completion", j.ID)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result, j.err
}

// Transaction is the set of Jobs derived from a single user request by
// transitive closure under pull-in and conflict relations, per
// spec.md §4.6.
type Transaction struct {
	ID    string
	Mode  Mode
	Jobs  []*Job
	Order []string // unit names in start order; reverse for stop

	Dropped []resolver.WantEdge
}

// Engine owns the pending job queue and commits transactions against a
// Registry's current snapshot and a freshly-built resolver.Graph.
type Engine struct {
	Log *logray.Logger

	reg *registry.Registry

	mu      sync.Mutex
	pending map[string]*Job // unit name -> job currently queued for it
}

// New returns an Engine that resolves units through reg.
func New(reg *registry.Registry) *Engine {
	return &Engine{
		Log:     logray.New(),
		reg:     reg,
		pending: make(map[string]*Job),
	}
}

// buildGraph snapshots the registry into a fresh resolver.Graph. A
// fresh graph per transaction means cycle-breaking edge drops from one
// transaction never leak into the next.
func (e *Engine) buildGraph() *resolver.Graph {
	g := resolver.New()
	g.Build(e.reg.List())
	return g
}
