// Copyright 2015 Apcera Inc. All rights reserved.

package pid1

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// dumpState writes a one-line-per-unit status report to w, the
// SIGUSR1 handler spec.md §4.8 names.
func (r *Runner) dumpState(w io.Writer) {
	for _, u := range r.Reg.List() {
		fmt.Fprintf(w, "%-40s %-12s %-10s pid=%d\n",
			u.Name, u.Runtime.Active, u.Runtime.Sub, u.Runtime.MainPID)
	}
}

// dumpStateToFile is the SIGUSR2 handler: the same report as
// dumpState, written under RuntimeDir instead of stdout so it survives
// a detached PID 1 with no attached console.
func (r *Runner) dumpStateToFile() {
	path := filepath.Join(r.RuntimeDir, fmt.Sprintf("dump-%d", time.Now().Unix()))
	f, err := os.Create(path)
	if err != nil {
		r.Log.Errorf("SIGUSR2 dump: %v", err)
		return
	}
	defer f.Close()
	r.dumpState(f)
	r.Log.Infof("state dumped to %s", path)
}
