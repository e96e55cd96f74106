// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Command sudosh is the entrypoint for the restricted, audited shell:
// it wires the policy store, authorization engine, credential cache,
// authenticator, command validator, environment sanitizer, privileged
// executor, line editor, history store, audit logger, and signal/
// terminal manager together into one shell driver session.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/morganforge/sudosh/internal/audit"
	"github.com/morganforge/sudosh/internal/auth"
	"github.com/morganforge/sudosh/internal/cliargs"
	"github.com/morganforge/sudosh/internal/config"
	"github.com/morganforge/sudosh/internal/credcache"
	"github.com/morganforge/sudosh/internal/history"
	"github.com/morganforge/sudosh/internal/identity"
	"github.com/morganforge/sudosh/internal/lineeditor"
	"github.com/morganforge/sudosh/internal/policy"
	"github.com/morganforge/sudosh/internal/shell"
	"github.com/morganforge/sudosh/internal/term"
)

const version = "1.0.0"

func main() {
	os.Exit(run())
}

func run() int {
	progName := filepath.Base(os.Args[0])
	sudoCompat := progName == "sudo"

	args, err := cliargs.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", progName, err)
		return 1
	}

	if args.Help {
		printHelp(progName)
		return 0
	}
	if args.Version {
		fmt.Printf("%s %s\n", progName, version)
		return 0
	}

	cfg := config.Global()
	testMode := config.TestMode()

	invoker, err := identity.Invoker()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", progName, err)
		return 1
	}
	host, err := identity.CurrentHost()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", progName, err)
		return 1
	}

	set, err := policy.Load(config.SudoersPath(), config.SudoersDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: failed to load policy: %v\n", progName, err)
		return 1
	}
	for _, w := range set.ParseWarnings {
		fmt.Fprintf(os.Stderr, "%s: warning: %s\n", progName, w)
	}

	tm := term.New(int(os.Stdin.Fd()))

	if args.Verbose {
		term.WriteDiagnostics(os.Stderr, tm.Diagnose())
	}

	cache, err := credcache.New(cfg.Credential.Dir, cfg.CredentialTTL())
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", progName, err)
		return 1
	}
	backend := auth.NewBcryptBackend()
	// TOTP secrets are provisioned out of band into the credential cache
	// directory as <user>.totp, alongside the cache entries themselves.
	totpVerifier := auth.FileTOTPVerifier{Dir: cfg.Credential.Dir}
	authenticator := auth.New(cache, backend, tm, totpVerifier)

	if err := config.EnsureDir(cfg.Audit.SessionLogDir, 0700); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", progName, err)
		return 1
	}
	sessionLogPath := filepath.Join(cfg.Audit.SessionLogDir, invoker.Name+".log")
	if args.LogSession != "" {
		sessionLogPath = args.LogSession
	}
	auditLogger, err := audit.New(sessionLogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", progName, err)
		return 1
	}
	defer auditLogger.Close()

	if watcher, err := policy.NewWatcher(config.SudoersPath(), config.SudoersDir(), func(path string) {
		_ = auditLogger.Log(audit.Event{
			Type:    audit.EventPolicyChanged,
			User:    invoker.Name,
			Command: path,
			Success: true,
		})
	}); err == nil {
		defer watcher.Close()
	}

	var auditIndex *audit.Index
	if idx, err := audit.OpenIndex(cfg.Audit.SQLiteIndexPath); err == nil {
		auditIndex = idx
		defer auditIndex.Close()
	}

	if args.AuditReport {
		return runAuditReport(progName, auditIndex, args)
	}

	historyDir := filepath.Join(cfg.Audit.SessionLogDir, "..", "history")
	if err := config.EnsureDir(historyDir, 0700); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", progName, err)
		return 1
	}
	historyPath := filepath.Join(historyDir, invoker.Name+".history")
	hs, err := history.New(historyPath, cfg.Session.HistoryCapacity)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", progName, err)
		return 1
	}

	runasUser := "root"
	if args.RunasUser != "" {
		runasUser = args.RunasUser
	}

	d := shell.New(shell.Driver{
		Invoker:     invoker,
		Host:        host,
		Policy:      set,
		Auth:        authenticator,
		History:     hs,
		Audit:       auditLogger,
		Index:       auditIndex,
		Term:        tm,
		ProgramName: progName,
		SudoCompat:  sudoCompat,
		SessionID:   uuid.NewString(),
		TTY:         ttyName(),
		RunasUser:   runasUser,
		TestMode:    testMode,
	})

	if args.List {
		fmt.Print(d.List(args.ListVerbose))
		return 0
	}

	ctx := context.Background()

	if args.Command != "" {
		return d.RunOnce(ctx, args.Command)
	}
	if len(args.Positional) > 0 {
		return d.RunOnce(ctx, joinArgs(args.Positional))
	}

	editor := lineeditor.New(hs, builtinNames(), cfg.InactivityTimeout())
	defer editor.Close()
	d.Editor = editor

	if tm.IsTerminal() {
		if err := tm.EnterRaw(); err == nil {
			defer tm.Restore()
		}
	}

	return d.Run(ctx)
}

func runAuditReport(progName string, idx *audit.Index, args cliargs.Args) int {
	if idx == nil {
		fmt.Fprintf(os.Stderr, "%s: audit index is not available\n", progName)
		return 1
	}
	user := args.AuditUser
	if user == "" {
		user = args.RunasUser
	}
	reports, err := idx.Query(context.Background(), user, time.Time{}, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", progName, err)
		return 1
	}
	for _, r := range reports {
		status := "OK"
		if !r.Success {
			status = "FAIL"
		}
		fmt.Printf("%s %-10s %-10s %-8s %s\n", r.Timestamp.Format(time.RFC3339), r.User, r.RunasUser, status, r.Command)
	}
	return 0
}

func builtinNames() []string {
	return []string{"exit", "quit", "help", "history"}
}

func joinArgs(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += " " + p
	}
	return out
}

func ttyName() string {
	if name, err := os.Readlink("/proc/self/fd/0"); err == nil {
		return name
	}
	return "?"
}

func printHelp(progName string) {
	fmt.Printf(`%s: a restricted, audited shell for running a limited set of commands as another user.

Usage:
  %s [-l|-ll] [-u user] [-c command] [--audit-report [-u user]]

Flags:
  -h, --help             show this help and exit
  -V, --version          show version and exit
  -v, --verbose          print terminal capability diagnostics to stderr
  -l, --list             list the commands your policy permits
  -ll                    list commands plus the validator's static sets
  -u, --user NAME        run as NAME instead of root
  -c, --command LINE     run LINE non-interactively and exit
  -L, --log-session PATH override the session transcript path
  --audit-report         print recorded audit events and exit
`, progName, progName)
}
