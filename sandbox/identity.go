// Copyright 2015 Apcera Inc. All rights reserved.

package sandbox

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// applyIdentity drops supplementary groups then sets gid and uid, in
// that order (uid must be dropped last; once it's non-root, setgid
// would fail), per spec.md §4.4 step 9. A Config with no User/Group
// configured and DynamicUser=false leaves the process running as
// whatever identity it was launched under.
func applyIdentity(cfg *Config) error {
	if cfg.Identity.User == "" && !cfg.Identity.DynamicUser && cfg.Identity.Group == "" {
		return nil
	}

	groups := cfg.SupplementaryGID
	if groups == nil {
		groups = []uint32{}
	}
	if err := unix.Setgroups(toIntSlice(groups)); err != nil {
		return fmt.Errorf("setgroups: %w", err)
	}

	if err := unix.Setregid(int(cfg.ResolvedGID), int(cfg.ResolvedGID)); err != nil {
		return fmt.Errorf("setgid %d: %w", cfg.ResolvedGID, err)
	}
	if err := unix.Setreuid(int(cfg.ResolvedUID), int(cfg.ResolvedUID)); err != nil {
		return fmt.Errorf("setuid %d: %w", cfg.ResolvedUID, err)
	}
	return nil
}

func toIntSlice(gids []uint32) []int {
	out := make([]int, len(gids))
	for i, g := range gids {
		out[i] = int(g)
	}
	return out
}
