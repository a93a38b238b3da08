package cgroup

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Populated reports the current value of this cgroup's cgroup.events
// "populated" field: whether it (or any descendant) contains a live
// process.
func (c *Cgroup) Populated() (bool, error) {
	b, err := osReadFile(filepath.Join(c.dir(), eventsFile))
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(string(b), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[0] == "populated" {
			n, err := strconv.Atoi(fields[1])
			if err != nil {
				return false, fmt.Errorf("parsing cgroup.events populated value %q: %w", fields[1], err)
			}
			return n != 0, nil
		}
	}
	return false, fmt.Errorf("cgroup.events for %s has no populated field", c.name)
}

// WaitEmpty blocks until this cgroup's cgroup.events reports
// "populated 0", or ctx is canceled. Used by the supervisor to detect
// a service's control group has emptied out, per spec.md §4.3's
// "cgroup becomes empty" transition.
func (c *Cgroup) WaitEmpty(ctx context.Context) error {
	populated, err := c.Populated()
	if err != nil {
		return err
	}
	if !populated {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating cgroup.events watcher: %w", err)
	}
	defer watcher.Close()

	eventsPath := filepath.Join(c.dir(), eventsFile)
	if err := watcher.Add(eventsPath); err != nil {
		return fmt.Errorf("watching %s: %w", eventsPath, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("cgroup.events watcher for %s closed", c.name)
			}
			return err
		case _, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("cgroup.events watcher for %s closed", c.name)
			}
			populated, err := c.Populated()
			if err != nil {
				return err
			}
			if !populated {
				return nil
			}
		}
	}
}
