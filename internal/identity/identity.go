// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package identity resolves the invoking user, the target user, and the
// host identity from the OS user/group database, modeling the "invoking
// Identity", "Target Identity", and "Host Identity".
package identity

import (
	"fmt"
	"net"
	"os"
	"os/user"
	"strconv"
	"strings"
)

// User is a resolved OS identity: uid, primary gid, name, home, and
// supplementary group names/ids.
type User struct {
	UID      int
	GID      int
	Name     string
	Home     string
	Shell    string
	Groups   []string // supplementary + primary group names
	GroupIDs []int    // supplementary + primary gids, for PE's Setgroups
}

// Invoker captures the real (not effective) uid's identity once at
// startup. It is immutable for the session.
func Invoker() (*User, error) {
	u, err := user.LookupId(strconv.Itoa(os.Getuid()))
	if err != nil {
		return nil, fmt.Errorf("resolve invoking user: %w", err)
	}
	return resolve(u)
}

// Resolve looks up an arbitrary target user by name, used both at start
// and before each command to confirm the target still exists.
func Resolve(name string) (*User, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return nil, fmt.Errorf("resolve user %q: %w", name, err)
	}
	return resolve(u)
}

func resolve(u *user.User) (*User, error) {
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return nil, fmt.Errorf("invalid uid %q: %w", u.Uid, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return nil, fmt.Errorf("invalid gid %q: %w", u.Gid, err)
	}
	shell := loginShell(u)
	groups, gids, err := groupNamesAndIDs(u)
	if err != nil {
		return nil, err
	}
	return &User{
		UID:      uid,
		GID:      gid,
		Name:     u.Username,
		Home:     u.HomeDir,
		Shell:    shell,
		Groups:   groups,
		GroupIDs: gids,
	}, nil
}

func groupNamesAndIDs(u *user.User) ([]string, []int, error) {
	ids, err := u.GroupIds()
	if err != nil {
		return nil, nil, fmt.Errorf("list groups for %s: %w", u.Username, err)
	}
	names := make([]string, 0, len(ids))
	gids := make([]int, 0, len(ids))
	for _, id := range ids {
		gid, err := strconv.Atoi(id)
		if err != nil {
			continue // a malformed gid is not fatal to identity resolution
		}
		g, err := user.LookupGroupId(id)
		if err != nil {
			continue // a stale/orphaned gid is not fatal to identity resolution
		}
		names = append(names, g.Name)
		gids = append(gids, gid)
	}
	return names, gids, nil
}

// loginShell is best-effort: the os/user package does not expose the
// shell field portably, so we fall back to $SHELL for the invoker and
// "/bin/sh" for any other resolved user.
func loginShell(u *user.User) string {
	if u.Uid == strconv.Itoa(os.Getuid()) {
		if sh := os.Getenv("SHELL"); sh != "" {
			return sh
		}
	}
	return "/bin/sh"
}

// InGroup reports whether the user is a member of groupName, including
// via primary gid.
func (u *User) InGroup(groupName string) bool {
	for _, g := range u.Groups {
		if g == groupName {
			return true
		}
	}
	return false
}

// Host is the short hostname and FQDN captured once at startup.
type Host struct {
	Short string
	FQDN  string
}

// CurrentHost resolves the local host identity.
func CurrentHost() (*Host, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("resolve hostname: %w", err)
	}
	short := strings.SplitN(hostname, ".", 2)[0]
	fqdn := hostname
	if !strings.Contains(hostname, ".") {
		if cname, err := net.LookupCNAME(hostname); err == nil && cname != "" {
			fqdn = strings.TrimSuffix(cname, ".")
		}
	}
	return &Host{Short: short, FQDN: fqdn}, nil
}

// Matches reports whether host matches the given short name or FQDN,
// case-insensitively.
func (h *Host) Matches(candidate string) bool {
	c := strings.ToLower(candidate)
	return c == strings.ToLower(h.Short) || c == strings.ToLower(h.FQDN)
}
