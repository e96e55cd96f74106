// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package policy

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// readPrivileged reads a policy file that may be readable only by
// root. This is one of only two places in the whole system allowed to
// change privilege level (the other is the privileged executor's
// fork-time UID/GID transition); here it is a narrow
// raise-read-drop bracket around a single read, never a lasting
// elevation.
//
// If the process is not running setuid-root (real uid == effective
// uid, e.g. under SUDOSH_TEST_MODE with a fixture file), this is a
// plain read with no privilege change at all.
func readPrivileged(path string) ([]byte, error) {
	real, eff := os.Getuid(), os.Geteuid()
	if real == eff || eff != 0 {
		return os.ReadFile(path)
	}

	if err := unix.Seteuid(0); err != nil {
		return nil, fmt.Errorf("raise privilege to read %s: %w", path, err)
	}
	defer func() {
		// Best-effort drop back to the real uid; a failure here would
		// leave the process privileged, which readPrivileged's callers
		// cannot recover from safely, so it is reported loudly via
		// panic rather than silently continuing privileged.
		if err := unix.Seteuid(real); err != nil {
			panic(fmt.Sprintf("sudosh: failed to drop privilege after reading %s: %v", path, err))
		}
	}()

	return os.ReadFile(path)
}
