// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package authz

import (
	"net"
	"os/user"
	"path"
	"path/filepath"
	"strings"

	"github.com/morganforge/sudosh/internal/identity"
	"github.com/morganforge/sudosh/internal/policy"
)

// matchPrincipal reports whether entry (a literal username, a `%group`,
// or `ALL`) matches u.
func matchPrincipal(entry policy.Entry, u *identity.User) bool {
	hit := principalHits(entry.Value, u)
	if entry.Negated {
		return !hit
	}
	return hit
}

func principalHits(value string, u *identity.User) bool {
	if value == "ALL" {
		return true
	}
	if strings.HasPrefix(value, "%") {
		return u.InGroup(strings.TrimPrefix(value, "%"))
	}
	return value == u.Name
}

// matchHostList reports whether any entry in hosts matches either the
// short or FQDN name, honoring negation as a veto: a negated entry that
// hits means the whole list does not match for this host.
func matchHostList(hosts []policy.Entry, h *identity.Host) bool {
	matched := false
	for _, e := range hosts {
		hit := hostHits(e.Value, h)
		if e.Negated {
			if hit {
				return false
			}
			continue
		}
		if hit {
			matched = true
		}
	}
	return matched
}

func hostHits(value string, h *identity.Host) bool {
	if value == "ALL" {
		return true
	}
	if _, cidr, err := net.ParseCIDR(value); err == nil {
		if ip := resolveHostIP(h); ip != nil {
			return cidr.Contains(ip)
		}
		return false
	}
	if ip := net.ParseIP(value); ip != nil {
		return resolveHostIP(h) != nil && ip.Equal(resolveHostIP(h))
	}
	if h.Matches(value) {
		return true
	}
	ok, _ := path.Match(strings.ToLower(value), strings.ToLower(h.Short))
	if ok {
		return true
	}
	ok, _ = path.Match(strings.ToLower(value), strings.ToLower(h.FQDN))
	return ok
}

// resolveHostIP is a narrow best-effort helper: it is only consulted
// when a rule names an IPv4 literal or CIDR, which is uncommon, so a
// failed lookup simply means that entry cannot match (fail closed).
func resolveHostIP(h *identity.Host) net.IP {
	ips, err := net.LookupIP(h.FQDN)
	if err != nil || len(ips) == 0 {
		return nil
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return v4
		}
	}
	return ips[0]
}

// matchRunasUser reports whether entries permit running as target.
// An empty list matches nothing; parseRunas fills in "root" when a
// rule has no runas clause, so parsed rules never carry an empty list.
func matchRunasUser(entries []policy.Entry, target string) bool {
	return matchListGeneric(entries, func(v string) bool {
		return v == "ALL" || v == target
	})
}

func matchRunasGroup(entries []policy.Entry, targetGroup string, gdb GroupDB) bool {
	if targetGroup == "" {
		return true // no group requested: nothing to check
	}
	// Fail closed if the requested group cannot be resolved at all
	// Unresolvable group membership denies.
	if _, err := gdb.Lookup(targetGroup); err != nil {
		return false
	}
	return matchListGeneric(entries, func(v string) bool {
		if v == "ALL" {
			return true
		}
		return v == targetGroup
	})
}

func matchListGeneric(entries []policy.Entry, hit func(string) bool) bool {
	matched := false
	for _, e := range entries {
		h := hit(e.Value)
		if e.Negated {
			if h {
				return false
			}
			continue
		}
		if h {
			matched = true
		}
	}
	return matched
}

// matchCommand reports whether entry matches the resolved absolute
// command path: exact equality on absolute path;
// basename equality when both are bare names; fnmatch-style glob on
// both full path and basename; `ALL` matches everything.
func matchCommand(value, resolvedPath string) bool {
	if value == "ALL" {
		return true
	}
	base := filepath.Base(resolvedPath)
	if value == resolvedPath {
		return true
	}
	if !strings.Contains(value, "/") && value == base {
		return true
	}
	if ok, _ := path.Match(value, resolvedPath); ok {
		return true
	}
	if ok, _ := path.Match(value, base); ok {
		return true
	}
	return false
}

// GroupDB abstracts OS group-database lookups so AZ can fail closed
// when membership cannot be resolved.
type GroupDB interface {
	Lookup(name string) (*user.Group, error)
}

type osGroupDB struct{}

func (osGroupDB) Lookup(name string) (*user.Group, error) { return user.LookupGroup(name) }

// DefaultGroupDB is the OS-backed GroupDB used outside of tests.
var DefaultGroupDB GroupDB = osGroupDB{}
