// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package authz

import (
	"fmt"
	"strings"
	"time"

	"github.com/morganforge/sudosh/internal/identity"
	"github.com/morganforge/sudosh/internal/policy"
)

// List renders the classic sudo `-l` listing: every rule whose
// principal/host/validity-window filters apply to u on h, one line per
// rule.
func List(set *policy.Set, u *identity.User, h *identity.Host, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User %s may run the following commands on %s:\n", u.Name, h.Short)
	for _, r := range visibleRules(set.Rules, u, h, now) {
		b.WriteString("    ")
		b.WriteString(formatRule(r))
		b.WriteByte('\n')
	}
	return b.String()
}

// ListVerbose additionally appends the CV static sets, for `-ll`.
func ListVerbose(set *policy.Set, u *identity.User, h *identity.Host, now time.Time, safeCommands, blockedCommands []string) string {
	var b strings.Builder
	b.WriteString(List(set, u, h, now))
	b.WriteString("\nSafe read-only commands:\n    ")
	b.WriteString(strings.Join(safeCommands, ", "))
	b.WriteString("\n\nBlocked commands:\n    ")
	b.WriteString(strings.Join(blockedCommands, ", "))
	b.WriteByte('\n')
	return b.String()
}

func visibleRules(rules []policy.Rule, u *identity.User, h *identity.Host, now time.Time) []policy.Rule {
	req := Request{User: u, Host: h, Now: now}
	var out []policy.Rule
	for _, r := range rules {
		if r.NotBefore != nil && now.Before(*r.NotBefore) {
			continue
		}
		if r.NotAfter != nil && now.After(*r.NotAfter) {
			continue
		}
		if !matchesPrincipalList(r.Principals, req.User) {
			continue
		}
		if !matchHostList(r.Hosts, req.Host) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func formatRule(r policy.Rule) string {
	var b strings.Builder
	runas := "ALL"
	if len(r.RunasUsers) > 0 {
		vals := make([]string, len(r.RunasUsers))
		for i, e := range r.RunasUsers {
			vals[i] = e.Value
		}
		runas = strings.Join(vals, ",")
	}
	fmt.Fprintf(&b, "(%s) ", runas)
	if !r.RequiresPassword {
		b.WriteString("NOPASSWD: ")
	}
	cmds := make([]string, 0, len(r.Commands))
	for _, c := range r.Commands {
		v := c.Value
		if c.Negated {
			v = "!" + v
		}
		cmds = append(cmds, v)
	}
	b.WriteString(strings.Join(cmds, ", "))
	return b.String()
}
