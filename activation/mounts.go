// Copyright 2015 Apcera Inc. All rights reserved.

package activation

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/apcera/sysd/unit"
)

// activateMount runs the mount(2) syscall for u's [Mount] section,
// generalizing pid1.handleMount from the boot-time essential-mount
// table to an arbitrary unit-declared mount point.
func (m *Manager) activateMount(ctx context.Context, u *unit.Unit) error {
	mnt := u.Mount
	if mnt == nil {
		return fmt.Errorf("unit %s has no [Mount] section", u.Name)
	}
	if mnt.Where == "" {
		return fmt.Errorf("unit %s: Where= is required", u.Name)
	}

	m.mu.Lock()
	if m.mounts[u.Name] {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if err := os.MkdirAll(mnt.Where, 0755); err != nil {
		return fmt.Errorf("creating mount point %s: %w", mnt.Where, err)
	}

	if err := unix.Mount(mnt.What, mnt.Where, mnt.Type, 0, mnt.Options); err != nil {
		return fmt.Errorf("mounting %s at %s: %w", mnt.What, mnt.Where, err)
	}

	m.mu.Lock()
	m.mounts[u.Name] = true
	m.mu.Unlock()
	return nil
}

// deactivateMount unmounts u.Mount.Where, the stop-side counterpart of
// activateMount.
func (m *Manager) deactivateMount(u *unit.Unit) error {
	m.mu.Lock()
	mounted := m.mounts[u.Name]
	delete(m.mounts, u.Name)
	m.mu.Unlock()
	if !mounted {
		return nil
	}
	return unix.Unmount(u.Mount.Where, unix.MNT_DETACH)
}
