package cgroup

import (
	"path"

	"github.com/apcera/sysd/unit"
)

// PathFor returns the cgroup path for a unit given its resource
// control slice assignment, matching spec.md §4.5's "<slice>/<name>"
// layout. Units with no Slice= nest directly under system.slice.
func PathFor(unitName string, r unit.ResourceControl) string {
	slice := r.Slice
	if slice == "" {
		slice = "system.slice"
	}
	return path.Join(slice, unitName)
}

// Manager creates and applies limits to the cgroup backing a single
// unit. It owns nothing beyond that one node; slice cgroups (the
// parents) are created the same way, once, ahead of their members.
type Manager struct {
	*Cgroup
	resources unit.ResourceControl
}

// NewManager creates the cgroup for unitName nested under its
// configured slice, ensuring the slice cgroup itself exists first.
// The cgroup is created whether or not Delegate is set; Delegate only
// skips ApplyLimits.
func NewManager(unitName string, r unit.ResourceControl) (*Manager, error) {
	slice := r.Slice
	if slice == "" {
		slice = "system.slice"
	}

	sliceCg, err := New(slice)
	if err != nil {
		return nil, err
	}

	memberControllers := []string{"cpu", "memory", "pids"}
	if err := sliceCg.EnableControllers(memberControllers...); err != nil {
		return nil, err
	}

	cg, err := sliceCg.New(unitName)
	if err != nil {
		return nil, err
	}

	m := &Manager{Cgroup: cg, resources: r}
	if !r.Delegate {
		if err := m.ApplyLimits(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ApplyLimits writes the manager's configured CPUQuota/MemoryMax/
// MemoryHigh/TasksMax into the unit's cgroup. A no-op for any limit
// left unset. Skipped entirely by NewManager when Delegate=yes, per
// spec.md §4.5.
func (m *Manager) ApplyLimits() error {
	if m.resources.CPUQuota > 0 {
		if err := m.LimitCPU(m.resources.CPUQuota); err != nil {
			return err
		}
	}
	if m.resources.MemoryMax != nil {
		if err := m.LimitMemory(*m.resources.MemoryMax); err != nil {
			return err
		}
	}
	if m.resources.MemoryHigh != nil {
		if err := m.LimitMemoryHigh(*m.resources.MemoryHigh); err != nil {
			return err
		}
	}
	if m.resources.TasksMax != nil {
		if err := m.LimitPids(*m.resources.TasksMax); err != nil {
			return err
		}
	}
	return nil
}
