// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package authz implements the Authorization Engine (AZ): given a rule
// set and a request tuple, it decides Allow{requires_password} or Deny.
package authz

import (
	"time"

	"github.com/morganforge/sudosh/internal/identity"
	"github.com/morganforge/sudosh/internal/policy"
)

// Request is the (user, host, runas_user, runas_group,
// command_resolved_absolute_path) tuple AZ decides over.
type Request struct {
	User         *identity.User
	Host         *identity.Host
	RunasUser    string
	RunasGroup   string // empty if no group requested
	Command      string // resolved absolute path
	Now          time.Time
}

// Outcome is AZ's decision.
type Outcome struct {
	Allow            bool
	RequiresPassword bool
	Options          policy.Options
	Matched          *policy.Rule // the last-matching rule, for -l/-ll and logging
}

// Decide evaluates req against set and returns the fail-closed decision.
func Decide(set *policy.Set, req Request, gdb GroupDB) Outcome {
	applicable := applicableRules(set.Rules, req, groupDBOrDefault(gdb))
	// Rules are already globally order-sorted by PS (policy.Load);
	// filtering preserves that order.

	var (
		allow            bool
		requiresPassword = true
		vetoed           bool
		opts             = set.Defaults.Options
		matched          *policy.Rule
	)

	for i := range applicable {
		r := &applicable[i]
		if len(r.Commands) == 0 {
			continue // "a rule that matches with an empty command list is ignored"
		}
		ruleHit := false
		ruleVeto := false
		for _, c := range r.Commands {
			hit := matchCommand(c.Value, req.Command)
			if c.Negated {
				if hit {
					ruleVeto = true
				}
				// "a negated command match where the negation pattern
				// alone would not match the command => no veto" is
				// exactly hit==false here, so nothing to do.
				continue
			}
			if hit {
				ruleHit = true
			}
		}
		if ruleVeto {
			vetoed = true
		}
		if ruleHit {
			allow = true
			requiresPassword = r.RequiresPassword
			opts = opts.Merge(r.Options)
			matched = r
		}
	}

	if vetoed {
		return Outcome{Allow: false, Options: opts, Matched: matched}
	}
	if !allow {
		return Outcome{Allow: false, Options: opts}
	}
	return Outcome{Allow: true, RequiresPassword: requiresPassword, Options: opts, Matched: matched}
}

// applicableRules is AZ steps 1-3: validity window, principal, host,
// and runas filtering.
func applicableRules(rules []policy.Rule, req Request, gdb GroupDB) []policy.Rule {
	var out []policy.Rule
	for _, r := range rules {
		if r.NotBefore != nil && req.Now.Before(*r.NotBefore) {
			continue
		}
		if r.NotAfter != nil && req.Now.After(*r.NotAfter) {
			continue
		}
		if !matchesPrincipalList(r.Principals, req.User) {
			continue
		}
		if !matchHostList(r.Hosts, req.Host) {
			continue
		}
		if !matchRunasUser(r.RunasUsers, req.RunasUser) {
			continue
		}
		if req.RunasGroup != "" && !matchRunasGroup(r.RunasGroups, req.RunasGroup, gdb) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func groupDBOrDefault(gdb GroupDB) GroupDB {
	if gdb != nil {
		return gdb
	}
	return DefaultGroupDB
}

// matchesPrincipalList applies negation-as-veto across the whole list:
// any negated entry that hits vetoes applicability of the rule,
// regardless of positive matches elsewhere in the same list.
func matchesPrincipalList(entries []policy.Entry, u *identity.User) bool {
	matched := false
	for _, e := range entries {
		hit := principalHits(e.Value, u)
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
