// Copyright 2015 Apcera Inc. All rights reserved.

package sandbox

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/apcera/sysd/unit"
)

// applyRLimits applies each configured Limit* directive via setrlimit,
// per spec.md §4.4 step 2. An unset field (nil) leaves the inherited
// limit untouched.
func applyRLimits(r unit.RLimits) error {
	if r.NOFILE != nil {
		if err := setrlimit(unix.RLIMIT_NOFILE, *r.NOFILE); err != nil {
			return fmt.Errorf("RLIMIT_NOFILE: %w", err)
		}
	}
	if r.NPROC != nil {
		if err := setrlimit(unix.RLIMIT_NPROC, *r.NPROC); err != nil {
			return fmt.Errorf("RLIMIT_NPROC: %w", err)
		}
	}
	if r.CORE != nil {
		if err := setrlimit(unix.RLIMIT_CORE, *r.CORE); err != nil {
			return fmt.Errorf("RLIMIT_CORE: %w", err)
		}
	}
	if r.AS != nil {
		if err := setrlimit(unix.RLIMIT_AS, *r.AS); err != nil {
			return fmt.Errorf("RLIMIT_AS: %w", err)
		}
	}
	if r.NICE != nil {
		// RLIMIT_NICE's soft/hard value is 19 minus the lowest niceness
		// the process may set, per setrlimit(2).
		val := uint64(19 - *r.NICE)
		if err := setrlimit(unix.RLIMIT_NICE, val); err != nil {
			return fmt.Errorf("RLIMIT_NICE: %w", err)
		}
	}
	return nil
}

func setrlimit(resource int, limit uint64) error {
	rl := unix.Rlimit{Cur: limit, Max: limit}
	return unix.Setrlimit(resource, &rl)
}
