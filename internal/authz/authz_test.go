// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package authz

import (
	"os/user"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/morganforge/sudosh/internal/identity"
	"github.com/morganforge/sudosh/internal/policy"
)

func entry(v string) policy.Entry             { return policy.Entry{Value: v} }
func negEntry(v string) policy.Entry          { return policy.Entry{Value: v, Negated: true} }
func user1(name string, groups ...string) *identity.User {
	return &identity.User{Name: name, Groups: groups}
}
func host(short string) *identity.Host { return &identity.Host{Short: short, FQDN: short + ".example.com"} }

type fakeGroupDB struct{ known map[string]bool }

func (f fakeGroupDB) Lookup(name string) (*user.Group, error) {
	if f.known[name] {
		return &user.Group{Name: name}, nil
	}
	return nil, user.UnknownGroupError(name)
}

func TestDecideAllowsNoPasswdAll(t *testing.T) {
	set := &policy.Set{Rules: []policy.Rule{{
		Principals:       []policy.Entry{entry("alice")},
		Hosts:            []policy.Entry{entry("ALL")},
		RunasUsers:       []policy.Entry{entry("ALL")},
		Commands:         []policy.Entry{entry("ALL")},
		RequiresPassword: false,
	}}}
	out := Decide(set, Request{User: user1("alice"), Host: host("box1"), RunasUser: "root", Command: "/bin/ls", Now: time.Now()}, nil)
	require.True(t, out.Allow)
	require.False(t, out.RequiresPassword)
}

func TestDecideDeniesWithNoMatchingRules(t *testing.T) {
	set := &policy.Set{}
	out := Decide(set, Request{User: user1("nobody"), Host: host("box1"), RunasUser: "root", Command: "/bin/ls", Now: time.Now()}, nil)
	require.False(t, out.Allow)
}

func TestDecideNegatedCommandVetoesDespitePositiveMatch(t *testing.T) {
	set := &policy.Set{Rules: []policy.Rule{{
		Principals: []policy.Entry{entry("alice")},
		Hosts:      []policy.Entry{entry("ALL")},
		RunasUsers: []policy.Entry{entry("ALL")},
		Commands:   []policy.Entry{entry("ALL"), negEntry("/bin/rm")},
	}}}
	out := Decide(set, Request{User: user1("alice"), Host: host("box1"), RunasUser: "root", Command: "/bin/rm", Now: time.Now()}, nil)
	require.False(t, out.Allow)
}

func TestDecideGroupPrincipalMatch(t *testing.T) {
	set := &policy.Set{Rules: []policy.Rule{{
		Principals: []policy.Entry{entry("%wheel")},
		Hosts:      []policy.Entry{entry("ALL")},
		RunasUsers: []policy.Entry{entry("ALL")},
		Commands:   []policy.Entry{entry("ALL")},
	}}}
	out := Decide(set, Request{User: user1("carol", "wheel"), Host: host("box1"), RunasUser: "root", Command: "/bin/ls", Now: time.Now()}, nil)
	require.True(t, out.Allow)
}

func TestDecideEmptyCommandListIsIgnored(t *testing.T) {
	set := &policy.Set{Rules: []policy.Rule{
		{Principals: []policy.Entry{entry("alice")}, Hosts: []policy.Entry{entry("ALL")}, RunasUsers: []policy.Entry{entry("ALL")}},
		{Principals: []policy.Entry{entry("alice")}, Hosts: []policy.Entry{entry("ALL")}, RunasUsers: []policy.Entry{entry("ALL")}, Commands: []policy.Entry{entry("ALL")}},
	}}
	out := Decide(set, Request{User: user1("alice"), Host: host("box1"), RunasUser: "root", Command: "/bin/ls", Now: time.Now()}, nil)
	require.True(t, out.Allow)
}

func TestDecideLastMatchingRuleSetsRequiresPassword(t *testing.T) {
	set := &policy.Set{Rules: []policy.Rule{
		{Principals: []policy.Entry{entry("alice")}, Hosts: []policy.Entry{entry("ALL")}, RunasUsers: []policy.Entry{entry("ALL")}, Commands: []policy.Entry{entry("/bin/ls")}, RequiresPassword: true, Order: 1, HasOrder: true},
		{Principals: []policy.Entry{entry("alice")}, Hosts: []policy.Entry{entry("ALL")}, RunasUsers: []policy.Entry{entry("ALL")}, Commands: []policy.Entry{entry("/bin/ls")}, RequiresPassword: false, Order: 2, HasOrder: true},
	}}
	out := Decide(set, Request{User: user1("alice"), Host: host("box1"), RunasUser: "root", Command: "/bin/ls", Now: time.Now()}, nil)
	require.True(t, out.Allow)
	require.False(t, out.RequiresPassword)
}

func TestDecideValidityWindow(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	set := &policy.Set{Rules: []policy.Rule{{
		Principals: []policy.Entry{entry("alice")},
		Hosts:      []policy.Entry{entry("ALL")},
		RunasUsers: []policy.Entry{entry("ALL")},
		Commands:   []policy.Entry{entry("ALL")},
		NotAfter:   &past,
	}}}
	out := Decide(set, Request{User: user1("alice"), Host: host("box1"), RunasUser: "root", Command: "/bin/ls", Now: time.Now()}, nil)
	require.False(t, out.Allow)
}

func TestDecideUnknownRunasGroupDeniesFailClosed(t *testing.T) {
	set := &policy.Set{Rules: []policy.Rule{{
		Principals:  []policy.Entry{entry("alice")},
		Hosts:       []policy.Entry{entry("ALL")},
		RunasUsers:  []policy.Entry{entry("ALL")},
		RunasGroups: []policy.Entry{entry("ALL")},
		Commands:    []policy.Entry{entry("ALL")},
	}}}
	gdb := fakeGroupDB{known: map[string]bool{}}
	out := Decide(set, Request{User: user1("alice"), Host: host("box1"), RunasUser: "root", RunasGroup: "ghostgroup", Command: "/bin/ls", Now: time.Now()}, gdb)
	require.False(t, out.Allow)
}

func TestDecideBasenameGlobMatch(t *testing.T) {
	set := &policy.Set{Rules: []policy.Rule{{
		Principals: []policy.Entry{entry("alice")},
		Hosts:      []policy.Entry{entry("ALL")},
		RunasUsers: []policy.Entry{entry("ALL")},
		Commands:   []policy.Entry{entry("system*")},
	}}}
	out := Decide(set, Request{User: user1("alice"), Host: host("box1"), RunasUser: "root", Command: "/usr/bin/systemctl", Now: time.Now()}, nil)
	require.True(t, out.Allow)
}

func TestDecideIsOrderStableAcrossRepeatedCalls(t *testing.T) {
	set := &policy.Set{Rules: []policy.Rule{{
		Principals: []policy.Entry{entry("alice")},
		Hosts:      []policy.Entry{entry("ALL")},
		RunasUsers: []policy.Entry{entry("ALL")},
		Commands:   []policy.Entry{entry("ALL")},
	}}}
	req := Request{User: user1("alice"), Host: host("box1"), RunasUser: "root", Command: "/bin/ls", Now: time.Now()}
	first := Decide(set, req, nil)
	second := Decide(set, req, nil)
	require.Equal(t, first.Allow, second.Allow)
	require.Equal(t, first.RequiresPassword, second.RequiresPassword)
}
