// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sanitize implements the Environment Sanitizer (ES): it builds
// the exact environment a privileged child inherits, dropping anything
// that could redirect dynamic linking, shell startup, or pager/editor
// behavior, and enforcing a hardcoded PATH.
package sanitize

import (
	"fmt"
	"regexp"
	"strings"
)

// SecurePATH is the only PATH a privileged child ever sees; it is never
// derived from the invoker's own $PATH.
const SecurePATH = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

// dropExact are env var names removed outright.
var dropExact = map[string]bool{
	"IFS": true, "CDPATH": true, "ENV": true, "BASH_ENV": true,
	"GLOBIGNORE": true, "PS4": true, "SHELLOPTS": true,
	"LD_PRELOAD": true, "LD_LIBRARY_PATH": true, "SHLIB_PATH": true, "LIBPATH": true,
	"TMPDIR": true, "TMP": true, "TEMP": true,
	"EDITOR": true, "VISUAL": true, "SUDO_EDITOR": true, "PAGER": true, "BROWSER": true,
	"FCEDIT": true, "MANPAGER": true, "MANOPT": true,
	"PERL5LIB": true, "PERLLIB": true, "PYTHONPATH": true, "RUBYLIB": true,
	"TCLLIBPATH": true, "JAVA_TOOL_OPTIONS": true, "CLASSPATH": true,
}

// dropPrefix are env var name prefixes removed outright.
var dropPrefix = []string{"HIST", "DYLD_", "LESS"}

// dropSuffix are env var name suffixes removed outright.
var dropSuffix = []string{"ROFF_COMMAND"}

func isDropped(name string) bool {
	if dropExact[name] {
		return true
	}
	for _, p := range dropPrefix {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	for _, s := range dropSuffix {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

// TargetIdentity carries the values used to build HOME/USER/LOGNAME for
// the privileged child.
type TargetIdentity struct {
	Username string
	HomeDir  string
}

// Mode selects additional lockdown applied on top of the baseline drop
// and enforce sets.
type Mode int

const (
	// ModeNormal applies only the baseline sanitization.
	ModeNormal Mode = iota
	// ModeSecureEditor additionally neutralizes shell-escape vectors in
	// vi/vim/view/nano/pico.
	ModeSecureEditor
	// ModeSecurePager additionally neutralizes shell-escape vectors in
	// less/more.
	ModeSecurePager
)

// envCheckPattern rejects values that themselves carry shell
// metacharacters, so a policy-whitelisted env_check key cannot become a
// smuggling vector.
var envCheckPattern = regexp.MustCompile(`[%$` + "`" + `;|&<>]|\.\./|\.\.\\`)

// Build returns the full sanitized environment (as "KEY=VALUE" pairs)
// for a child running as target, given the invoker's raw environment
// and any policy-approved env_check overrides.
func Build(raw []string, target TargetIdentity, mode Mode, envCheck map[string]string) []string {
	out := map[string]string{
		"PATH":    SecurePATH,
		"HOME":    target.HomeDir,
		"USER":    target.Username,
		"LOGNAME": target.Username,
	}

	for _, kv := range raw {
		name, value, ok := splitKV(kv)
		if !ok || isDropped(name) {
			continue
		}
		if _, reserved := out[name]; reserved {
			continue
		}
		out[name] = value
	}

	for name, value := range envCheck {
		if isDropped(name) && !envCheckPattern.MatchString(value) {
			out[name] = value
		}
	}

	switch mode {
	case ModeSecureEditor:
		applySecureEditor(out)
	case ModeSecurePager:
		applySecurePager(out)
	}

	result := make([]string, 0, len(out))
	for k, v := range out {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	return result
}

func applySecureEditor(out map[string]string) {
	out["SHELL"] = "/bin/false"
	out["EDITOR"] = "/bin/false"
	out["VISUAL"] = "/bin/false"
	out["PAGER"] = "/bin/false"
	out["MANPAGER"] = "/bin/false"
	out["VIMINIT"] = "set nomodeline noexrc secure"
	for k := range out {
		if strings.HasPrefix(k, "BASH_") {
			delete(out, k)
		}
	}
}

func applySecurePager(out map[string]string) {
	out["LESSSECURE"] = "1"
	out["LESSOPEN"] = ""
	out["LESSCLOSE"] = ""
	out["SHELL"] = "/bin/false"
	out["PAGER"] = "/bin/false"
	out["MANPAGER"] = "/bin/false"
}

func splitKV(kv string) (name, value string, ok bool) {
	i := strings.IndexByte(kv, '=')
	if i < 0 {
		return "", "", false
	}
	return kv[:i], kv[i+1:], true
}

// Umask returns the umask for mode: 0077 under ModeSecureEditor or
// ModeSecurePager, 022 otherwise. The executor does not apply it; the
// child inherits the parent's umask.
func Umask(mode Mode) int {
	if mode == ModeSecureEditor || mode == ModeSecurePager {
		return 0077
	}
	return 022
}
