// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package shell implements the Shell Driver (SD): the REPL loop that
// reads one line from the line editor, records it to history, checks it
// against the command validator, authorizes it, authenticates the user
// when the matching rule demands it, and hands the accepted command to
// the privileged executor. Every step that can deny or fail does so
// before anything reaches a privileged exec.
package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/morganforge/sudosh/internal/audit"
	"github.com/morganforge/sudosh/internal/auth"
	"github.com/morganforge/sudosh/internal/authz"
	"github.com/morganforge/sudosh/internal/history"
	"github.com/morganforge/sudosh/internal/identity"
	"github.com/morganforge/sudosh/internal/lineeditor"
	"github.com/morganforge/sudosh/internal/policy"
	"github.com/morganforge/sudosh/internal/privexec"
	"github.com/morganforge/sudosh/internal/sanitize"
	"github.com/morganforge/sudosh/internal/sherr"
	"github.com/morganforge/sudosh/internal/term"
	"github.com/morganforge/sudosh/internal/validator"
)

// Driver strings every component into one interactive or single-shot
// session for one invoking user.
type Driver struct {
	Invoker *identity.User
	Host    *identity.Host
	Policy  *policy.Set
	Auth    *auth.Authenticator
	History *history.Store
	Audit   *audit.Logger
	Index   *audit.Index // nil disables --audit-report indexing
	Term    *term.Manager
	Editor  *lineeditor.Editor

	ProgramName string // argv[0] basename presented in the prompt
	SudoCompat  bool   // running under the sudo-compatibility name
	SessionID   string
	TTY         string

	RunasUser  string // default "root"
	RunasGroup string // empty unless `-g` style group was requested

	// TestMode skips the real uid/gid transition so the driver can be
	// exercised without running setuid-root.
	TestMode bool
}

// New returns a Driver with RunasUser defaulted to "root" when empty.
func New(d Driver) *Driver {
	if d.RunasUser == "" {
		d.RunasUser = "root"
	}
	return &d
}

// Run drives the interactive loop until EOF, an inactivity timeout, a
// terminating signal, or a built-in exit. It returns the process exit
// code.
func (d *Driver) Run(ctx context.Context) int {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.logEvent(audit.EventSessionStart, "", true, "")
	defer d.logEvent(audit.EventSessionEnd, "", true, "")

	if d.Term != nil {
		d.Term.WatchSignals(func(sig os.Signal) {
			switch sig {
			case os.Interrupt:
				// Ctrl-C during the prompt is handled by the line editor
				// itself (SetCtrlCAborts); nothing to do here.
			default:
				cancel()
			}
		})
		defer d.Term.StopWatchingSignals()
	}

	for {
		if ctx.Err() != nil {
			return 0
		}

		cwd, err := os.Getwd()
		if err != nil {
			cwd = "?"
		}
		prompt := lineeditor.Prompt(d.ProgramName, cwd, os.Geteuid())

		line, err := d.Editor.ReadLine(prompt)
		switch {
		case errors.Is(err, lineeditor.ErrTimeout):
			d.logEvent(audit.EventTimeout, "", true, "")
			fmt.Fprintln(os.Stderr, "sudosh: session timed out due to inactivity")
			return 0
		case errors.Is(err, lineeditor.ErrEOF):
			return 0
		case err != nil:
			fmt.Fprintf(os.Stderr, "sudosh: %v\n", err)
			return 1
		}

		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if handled, shouldExit := d.runBuiltin(os.Stdout, trimmed); handled {
			if shouldExit {
				return 0
			}
			continue
		}

		_ = d.History.Append(trimmed)

		if code, exit := d.handleLine(ctx, trimmed); exit {
			return code
		}
	}
}

// RunOnce executes a single line non-interactively (the `-c`/`--command`
// and compatibility single-shot modes) and returns the process exit
// code.
func (d *Driver) RunOnce(ctx context.Context, line string) int {
	d.logEvent(audit.EventSessionStart, "", true, "")
	defer d.logEvent(audit.EventSessionEnd, "", true, "")

	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return 0
	}
	_ = d.History.Append(trimmed)
	code, _ := d.handleLine(ctx, trimmed)
	return code
}

// handleLine runs CV, AZ, AU, and PE over one non-empty, non-builtin
// line. The bool return reports whether the driver should stop (an
// exit-worthy outcome for RunOnce, or a fatal condition for Run).
func (d *Driver) handleLine(ctx context.Context, line string) (exitCode int, stop bool) {
	result := validator.Validate(line, validator.Options{SudoCompatMode: d.SudoCompat})

	switch result.Verdict {
	case validator.VerdictEmpty:
		return 0, false
	case validator.VerdictReject:
		d.logEvent(audit.EventCommandDenied, line, false, result.Reason.Error())
		fmt.Fprintf(os.Stderr, "sudosh: %v\n", result.Reason)
		return 1, false
	case validator.VerdictRedirectToInteractive:
		// Nothing is executed. In Run the loop reads the next line; in
		// RunOnce the line ends with exit code 0 and no interactive loop
		// is started.
		return 0, false
	}

	parsed, err := splitLine(line)
	if err != nil {
		d.logEvent(audit.EventCommandDenied, line, false, err.Error())
		fmt.Fprintf(os.Stderr, "sudosh: %v\n", err)
		return 1, false
	}

	resolvedPath, err := privexec.Resolve(parsed.Stages[0][0])
	if err != nil {
		d.logEvent(audit.EventCommandDenied, line, false, err.Error())
		fmt.Fprintf(os.Stderr, "sudosh: %v\n", err)
		return 127, false
	}

	decision := authz.Decide(d.Policy, authz.Request{
		User:       d.Invoker,
		Host:       d.Host,
		RunasUser:  d.RunasUser,
		RunasGroup: d.RunasGroup,
		Command:    resolvedPath,
		Now:        time.Now(),
	}, nil)

	if !decision.Allow {
		d.logEvent(audit.EventCommandDenied, line, false, "not permitted by policy")
		fmt.Fprintf(os.Stderr, "sudosh: %s is not permitted to run %q as %s\n", d.Invoker.Name, line, d.RunasUser)
		return 1, false
	}

	if decision.RequiresPassword {
		if ok, err := d.authenticate(ctx, decision); err != nil || !ok {
			reason := "authentication failed"
			if err != nil {
				reason = err.Error()
			}
			d.logEvent(audit.EventAuthFailure, line, false, reason)
			fmt.Fprintf(os.Stderr, "sudosh: %s\n", reason)
			return 1, false
		}
		d.logEvent(audit.EventAuthSuccess, "", true, "")
	}

	target, err := identity.Resolve(d.RunasUser)
	if err != nil {
		d.logEvent(audit.EventCommandDenied, line, false, err.Error())
		fmt.Fprintf(os.Stderr, "sudosh: %v\n", err)
		return 1, false
	}

	res, err := d.execute(parsed, result, target, decision)
	success := err == nil && res.ExitCode == 0
	al := audit.EventCommandAllowed
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	} else if res.ExitCode != 0 {
		errMsg = fmt.Sprintf("exit status %d", res.ExitCode)
	}
	d.logEvent(al, line, success, errMsg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sudosh: %v\n", err)
		return 1, false
	}
	return res.ExitCode, false
}

func (d *Driver) authenticate(ctx context.Context, decision authz.Outcome) (bool, error) {
	req := auth.Request{User: d.Invoker.Name, TTY: d.TTY}
	if decision.Options.MFA == "totp" {
		req.RequireTOTP = true
		code, err := d.promptTOTPCode()
		if err != nil {
			return false, err
		}
		req.TOTPCode = code
	}
	return d.Auth.Authenticate(ctx, req)
}

func (d *Driver) promptTOTPCode() (string, error) {
	fmt.Fprint(os.Stdout, "[sudosh] verification code: ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read verification code: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (d *Driver) execute(parsed parsedLine, cv validator.Result, target *identity.User, decision authz.Outcome) (privexec.Result, error) {
	reqs := d.buildRequests(parsed, cv, target, decision)
	if len(reqs) == 1 {
		return privexec.Run(reqs[0])
	}
	return privexec.RunPipeline(reqs)
}

// buildRequests derives the sanitized environment and per-stage PE
// requests for parsed. Kept separate from execute so the derivation
// (mode selection, env sanitization, redirect placement) is directly
// testable without forking a child process.
func (d *Driver) buildRequests(parsed parsedLine, cv validator.Result, target *identity.User, decision authz.Outcome) []privexec.Request {
	mode := sanitize.ModeNormal
	switch {
	case cv.SecureEdit:
		mode = sanitize.ModeSecureEditor
	case parsed.Stages[len(parsed.Stages)-1][0] == "less" || parsed.Stages[len(parsed.Stages)-1][0] == "more":
		mode = sanitize.ModeSecurePager
	}

	envCheck := map[string]string{}
	for _, name := range decision.Options.EnvCheck {
		if v, ok := os.LookupEnv(name); ok {
			envCheck[name] = v
		}
	}
	env := sanitize.Build(os.Environ(), sanitize.TargetIdentity{Username: target.Name, HomeDir: target.Home}, mode, envCheck)

	groups := target.GroupIDs

	reqs := make([]privexec.Request, len(parsed.Stages))
	for i, argv := range parsed.Stages {
		reqs[i] = privexec.Request{
			Argv:               argv,
			Target:             privexec.Target{UID: target.UID, GID: target.GID, Groups: groups},
			Env:                env,
			SkipPrivTransition: d.TestMode,
		}
	}
	if parsed.Redirect != nil {
		last := len(reqs) - 1
		if parsed.Redirect.Input {
			reqs[0].Redirect = parsed.Redirect
		} else {
			reqs[last].Redirect = parsed.Redirect
		}
	}
	return reqs
}

func (d *Driver) logEvent(t audit.EventType, command string, success bool, errMsg string) {
	if d.Audit == nil {
		return
	}
	cwd, _ := os.Getwd()
	e := audit.Event{
		SessionID:  d.SessionID,
		Type:       t,
		User:       d.Invoker.Name,
		RunasUser:  d.RunasUser,
		RunasGroup: d.RunasGroup,
		TTY:        d.TTY,
		PWD:        cwd,
		Command:    command,
		Success:    success,
		Error:      errMsg,
	}
	if err := d.Audit.Log(e); err != nil {
		// Fail-closed: an audit write failure ends the session rather
		// than letting any further privileged command run unaudited.
		fmt.Fprintf(os.Stderr, "sudosh: audit logging failed, ending session: %v\n", err)
		os.Exit(sherr.ExitCode(sherr.KindFatal))
	}
	if d.Index != nil {
		_ = d.Index.Record(context.Background(), e)
	}
}

// List renders the `-l`/`-ll` listing for the invoker.
func (d *Driver) List(verbose bool) string {
	if verbose {
		return authz.ListVerbose(d.Policy, d.Invoker, d.Host, time.Now(), safeReadOnlyNames(), blockedCommandNames())
	}
	return authz.List(d.Policy, d.Invoker, d.Host, time.Now())
}

func safeReadOnlyNames() []string {
	return validator.NamesOf(validator.SafeReadOnly)
}

func blockedCommandNames() []string {
	return validator.NamesOf(validator.BlockedCommands)
}
