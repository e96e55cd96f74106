// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package validator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/morganforge/sudosh/internal/sherr"
)

// HomeDirResolver supplies the invoking user's home directory so `~` can
// be expanded the same way the shell would.
var HomeDirResolver = os.UserHomeDir

// ValidateRedirection enforces at most one redirection operator and
// that its target falls under a safe prefix, even after resolving
// symlinks.
func ValidateRedirection(line string) error {
	ops := countRedirectOps(line)
	if ops > 1 {
		return sherr.New(sherr.KindValidationReject, "at most one redirection operator is allowed")
	}
	target, ok := redirectionTarget(line)
	if !ok {
		return nil
	}
	return checkSafeTarget(target)
}

// countRedirectOps counts redirection operators, treating `>>` as one.
func countRedirectOps(line string) int {
	n := 0
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '>':
			n++
			if i+1 < len(line) && line[i+1] == '>' {
				i++
			}
		case '<':
			n++
		}
	}
	return n
}

func redirectionTarget(line string) (string, bool) {
	for _, op := range []string{">>", ">", "<"} {
		if idx := strings.Index(line, op); idx >= 0 {
			rest := strings.TrimSpace(line[idx+len(op):])
			if i := strings.IndexAny(rest, " \t"); i >= 0 {
				rest = rest[:i]
			}
			if rest == "" {
				return "", false
			}
			return rest, true
		}
	}
	return "", false
}

func checkSafeTarget(target string) error {
	expanded := expandTilde(target)
	resolved, err := resolveSymlinks(expanded)
	if err != nil {
		return sherr.Wrap(sherr.KindValidationReject, "cannot resolve redirection target", err)
	}

	for _, prefix := range []string{"/root", "/var/root"} {
		if strings.HasPrefix(resolved, prefix) {
			return sherr.New(sherr.KindValidationReject, fmt.Sprintf("redirection to %q is not allowed", resolved))
		}
	}

	if matchesSafePrefix(resolved, safePrefixes()) {
		return nil
	}
	return sherr.New(sherr.KindValidationReject, fmt.Sprintf("redirection target %q is outside the allowed prefixes", resolved))
}

func expandTilde(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := HomeDirResolver()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}

// resolveSymlinks returns the cleaned, symlink-resolved absolute form
// of path. A target that does not yet exist (common for a fresh `>`)
// is resolved against its existing parent directory instead.
func resolveSymlinks(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}
	parent, err := filepath.EvalSymlinks(filepath.Dir(abs))
	if err != nil {
		return "", err
	}
	return filepath.Join(parent, filepath.Base(abs)), nil
}

// safePrefixes are directory prefixes, each with a trailing separator
// so a sibling like "/tmpevil" can never match "/tmp".
func safePrefixes() []string {
	prefixes := []string{"/tmp/", "/var/tmp/"}
	if home, err := HomeDirResolver(); err == nil && home != "" {
		prefixes = append(prefixes, strings.TrimSuffix(home, "/")+"/")
	}
	return prefixes
}

// matchesSafePrefix reports whether resolved is exactly one of prefixes'
// directories or falls inside one of them.
func matchesSafePrefix(resolved string, prefixes []string) bool {
	for _, p := range prefixes {
		if resolved == strings.TrimSuffix(p, "/") || strings.HasPrefix(resolved, p) {
			return true
		}
	}
	return false
}
