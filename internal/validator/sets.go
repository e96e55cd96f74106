// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package validator implements the Command Validator (CV): a layered,
// fail-closed parser/checker that accepts or rejects a typed line
// before it ever reaches the authorization engine or a privileged exec.
package validator

import (
	"sort"
	"strings"
)

// MaxLineLength is the hard cap on an accepted line's length.
const MaxLineLength = 4096

var secureEditors = set("vi", "vim", "view", "nano", "pico")

var shells = set(
	"sh", "bash", "zsh", "csh", "tcsh", "ksh", "fish", "dash",
	"python", "python3", "perl", "ruby", "node", "irb", "pry", "ipython",
)

var sshPrograms = set("ssh")

var sudoeditPrograms = set("sudoedit")

var interactiveInsecureEditors = set("emacs", "nvim", "joe", "mcedit", "ed", "ex")

var dangerousPrograms = set(
	"init", "shutdown", "halt", "reboot", "poweroff", "telinit",
	"mount", "umount", "mkfs", "fsck", "fdisk", "parted",
	"dd", "shred", "wipe",
	"iptables", "ip6tables", "nft", "ufw", "firewall-cmd",
	"wall", "write", "mesg",
	"su", "sudo", "pkexec",
)

// dangerousSystemctlVerbs power-cycle the machine or drop it into a
// rescue/emergency target; any other systemctl verb is left to policy.
var dangerousSystemctlVerbs = set(
	"poweroff", "reboot", "halt", "rescue", "emergency",
)

// recursiveForceFlagged programs are safe on their own but dangerous
// with a recursive or force switch; checkDangerous inspects their
// arguments rather than blocking the program name outright.
var recursiveForceFlagged = set("rm", "chmod", "chown", "chgrp")

var pipeWhitelist = set(
	"awk", "gawk", "sed", "grep", "egrep", "fgrep", "cut", "sort", "uniq",
	"head", "tail", "tr", "wc", "nl", "cat", "tac", "rev",
	"ps", "ls", "df", "du", "who", "w", "id", "whoami",
	"date", "uptime", "uname", "hostname", "pwd", "env", "printenv",
	"less", "more", "ping", "traceroute", "nslookup", "dig", "host",
	"file", "stat", "find", "locate", "which", "whereis", "type", "echo",
)

// SafeReadOnly is the set of programs CV accepts unconditionally absent
// any other rejection reason, mirrored into the `-ll` listing.
var SafeReadOnly = set(
	"ls", "cat", "pwd", "whoami", "id", "date", "uptime", "uname",
	"hostname", "df", "du", "ps", "who", "w", "env", "printenv",
	"stat", "file", "which", "whereis", "type",
)

// BlockedCommands is the union of the shell/ssh/sudoedit/insecure-editor
// sets plus the dangerous set, mirrored into the `-ll` listing.
var BlockedCommands = func() map[string]bool {
	out := map[string]bool{}
	for _, s := range []map[string]bool{shells, sshPrograms, sudoeditPrograms, interactiveInsecureEditors, dangerousPrograms} {
		for k := range s {
			out[k] = true
		}
	}
	return out
}()

func set(names ...string) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}

// NamesOf returns the sorted program names in a set, for the `-ll`
// listing.
func NamesOf(s map[string]bool) []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// basename returns the final path element of a program token so
// `/usr/bin/bash` and `bash` are treated identically.
func basename(program string) string {
	if i := strings.LastIndexByte(program, '/'); i >= 0 {
		return program[i+1:]
	}
	return program
}
