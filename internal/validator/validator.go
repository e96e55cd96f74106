// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package validator

import (
	"fmt"
	"strings"

	"github.com/morganforge/sudosh/internal/sherr"
)

// Verdict is CV's outcome for one line.
type Verdict int

const (
	// VerdictEmpty is a whitespace-only line: ignored, not rejected.
	VerdictEmpty Verdict = iota
	// VerdictAccept means the line may proceed to authorization.
	VerdictAccept
	// VerdictReject means the line is denied outright.
	VerdictReject
	// VerdictRedirectToInteractive is CV's signal that a bare shell was
	// typed under the sudo-compatibility name; the driver never execs
	// the shell for it.
	VerdictRedirectToInteractive
)

// Result is CV's full answer for one line.
type Result struct {
	Verdict     Verdict
	Program     string // basename of the resolved first token
	Reason      error
	SecureEdit  bool // line targets a secure editor; ES should apply ModeSecureEditor
	HasPipeline bool
	HasRedirect bool
}

// Options tune validation for call sites that differ from the plain
// interactive case.
type Options struct {
	// SudoCompatMode is true when the process is running under the
	// sudo-compatibility name, enabling the shell redirect-to-interactive
	// special case.
	SudoCompatMode bool
	// AliasExpanded marks a line that was already expanded once from a
	// shell alias. Validate does not read it: such a line gets the same
	// checks as any other.
	AliasExpanded bool
}

// Validate runs every CV check, in order, against line.
func Validate(line string, opts Options) Result {
	if err := checkLength(line); err != nil {
		return Result{Verdict: VerdictReject, Reason: err}
	}
	if err := checkByteClass(line); err != nil {
		return Result{Verdict: VerdictReject, Reason: err}
	}
	if strings.TrimSpace(line) == "" {
		return Result{Verdict: VerdictEmpty}
	}

	program := basename(firstToken(line))
	secureEdit := secureEditors[program]

	if !secureEdit {
		if err := checkPathTraversal(line); err != nil {
			return Result{Verdict: VerdictReject, Program: program, Reason: err}
		}
		if err := checkPercent(line); err != nil {
			return Result{Verdict: VerdictReject, Program: program, Reason: err}
		}
	}

	hasPipe := strings.ContainsRune(line, '|') && !strings.Contains(line, "||")

	// The pipeline sub-validator only accepts stages whose program is in
	// the text-processing whitelist, so a line with a pipe gets its
	// quote/$ allowance broadened here to permit sed patterns and awk
	// field references; ValidatePipeline below still rejects anything
	// that isn't a whitelisted stage.
	if !hasPipe {
		if program != "printenv" {
			if err := checkDollar(line); err != nil {
				return Result{Verdict: VerdictReject, Program: program, Reason: err}
			}
		}

		if program != "echo" {
			if err := checkQuotingAndBackslash(line); err != nil {
				return Result{Verdict: VerdictReject, Program: program, Reason: err}
			}
		}
	}

	if err := checkInlineEnvAssignment(line); err != nil {
		return Result{Verdict: VerdictReject, Program: program, Reason: err}
	}
	if err := checkInjectionMetacharacters(line); err != nil {
		return Result{Verdict: VerdictReject, Program: program, Reason: err}
	}

	if hasPipe {
		if err := ValidatePipeline(line); err != nil {
			return Result{Verdict: VerdictReject, Program: program, Reason: err, HasPipeline: true}
		}
	}

	hasRedirect := strings.ContainsAny(line, "><")
	if hasRedirect {
		if err := ValidateRedirection(line); err != nil {
			return Result{Verdict: VerdictReject, Program: program, Reason: err, HasRedirect: true}
		}
	}

	if opts.SudoCompatMode && shells[program] && !strings.Contains(line, "-c") && !strings.Contains(line, "--command") {
		return Result{Verdict: VerdictRedirectToInteractive, Program: program}
	}

	if SafeReadOnly[program] {
		return Result{Verdict: VerdictAccept, Program: program, SecureEdit: secureEdit, HasPipeline: hasPipe, HasRedirect: hasRedirect}
	}

	if err := checkBlocked(line, program); err != nil {
		return Result{Verdict: VerdictReject, Program: program, Reason: err}
	}
	if err := checkDangerous(line, program); err != nil {
		return Result{Verdict: VerdictReject, Program: program, Reason: err}
	}

	return Result{Verdict: VerdictAccept, Program: program, SecureEdit: secureEdit, HasPipeline: hasPipe, HasRedirect: hasRedirect}
}

func firstToken(line string) string {
	trimmed := strings.TrimSpace(line)
	if i := strings.IndexAny(trimmed, " \t"); i >= 0 {
		return trimmed[:i]
	}
	return trimmed
}

func checkLength(line string) error {
	if len(line) > MaxLineLength {
		return sherr.New(sherr.KindValidationReject, fmt.Sprintf("line exceeds %d bytes", MaxLineLength))
	}
	return nil
}

func checkByteClass(line string) error {
	for i := 0; i < len(line); i++ {
		b := line[i]
		if b < 0x20 || b > 0x7E {
			return sherr.New(sherr.KindValidationReject, fmt.Sprintf("non-printable byte at offset %d", i))
		}
	}
	return nil
}

func checkPathTraversal(line string) error {
	lower := strings.ToLower(line)
	for _, pat := range []string{"../", "..\\", "%2e%2e%2f", "%2e%2e%5c"} {
		if strings.Contains(lower, pat) {
			return sherr.New(sherr.KindValidationReject, "path traversal sequence")
		}
	}
	return nil
}

func checkPercent(line string) error {
	if strings.ContainsRune(line, '%') {
		return sherr.New(sherr.KindValidationReject, "percent-encoding not allowed")
	}
	return nil
}

func checkDollar(line string) error {
	if strings.ContainsRune(line, '$') {
		return sherr.New(sherr.KindValidationReject, "environment expansion not allowed")
	}
	return nil
}

func checkQuotingAndBackslash(line string) error {
	if strings.ContainsAny(line, `'"\`) {
		return sherr.New(sherr.KindValidationReject, "quoting not allowed")
	}
	return nil
}

func checkInlineEnvAssignment(line string) error {
	first := firstToken(line)
	eq := strings.IndexByte(first, '=')
	if eq <= 0 {
		return nil
	}
	name := first[:eq]
	if !isValidEnvName(name) {
		return nil
	}
	return sherr.New(sherr.KindValidationReject, "inline environment assignment not allowed")
}

func isValidEnvName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z'):
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

func checkInjectionMetacharacters(line string) error {
	for _, pat := range []string{";", "&&", "||", "&", "`", "$("} {
		if strings.Contains(line, pat) {
			return sherr.New(sherr.KindValidationReject, fmt.Sprintf("command composition metacharacter %q", pat))
		}
	}
	return nil
}

func checkBlocked(line, program string) error {
	if shells[program] {
		return sherr.New(sherr.KindValidationReject, "shell invocation blocked")
	}
	if sshPrograms[program] {
		return sherr.New(sherr.KindValidationReject, "ssh invocation blocked")
	}
	if sudoeditPrograms[program] || strings.Contains(line, "sudo -e") || strings.Contains(line, "sudo --edit") {
		return sherr.New(sherr.KindValidationReject, "sudoedit-style invocation blocked")
	}
	if interactiveInsecureEditors[program] {
		return sherr.New(sherr.KindValidationReject, "interactive editor blocked")
	}
	return nil
}

func checkDangerous(line, program string) error {
	if program == "systemctl" {
		for verb := range dangerousSystemctlVerbs {
			if strings.Contains(line, verb) {
				return sherr.New(sherr.KindValidationReject, fmt.Sprintf("systemctl verb %q blocked", verb))
			}
		}
		return nil
	}
	if recursiveForceFlagged[program] {
		return checkRecursiveForceFlags(line, program)
	}
	if !dangerousPrograms[program] {
		return nil
	}
	return sherr.New(sherr.KindValidationReject, fmt.Sprintf("program %q is in the dangerous-command set", program))
}

// checkRecursiveForceFlags rejects rm/chmod/chown/chgrp invocations that
// carry a recursive or force switch, short (`-r`, `-R`, `-f`, `-rf`) or
// long (`--recursive`, `--force`, `--no-preserve-root`).
func checkRecursiveForceFlags(line, program string) error {
	fields := strings.Fields(line)
	for _, tok := range fields[1:] {
		if isRecursiveOrForceFlag(tok) {
			return sherr.New(sherr.KindValidationReject, fmt.Sprintf("%s with recursive/force flag %q blocked", program, tok))
		}
	}
	return nil
}

func isRecursiveOrForceFlag(tok string) bool {
	switch tok {
	case "--recursive", "--force", "--no-preserve-root":
		return true
	}
	if len(tok) < 2 || tok[0] != '-' || tok[1] == '-' {
		return false
	}
	for _, r := range tok[1:] {
		if r == 'r' || r == 'R' || r == 'f' {
			return true
		}
	}
	return false
}
