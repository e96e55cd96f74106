// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package privexec implements the Privileged Executor (PE): the only
// component that transitions privilege. It resolves a command against
// the hardcoded secure PATH, forks, drops to the target identity in the
// child, execs, and reaps the child in the parent with the job-control
// signals masked.
package privexec

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/morganforge/sudosh/internal/sanitize"
)

// Target is the identity the child process assumes.
type Target struct {
	UID    int
	GID    int
	Groups []int // supplementary group IDs, from initgroups
}

// Redirection describes a single stdin or stdout file redirection
// applied in the child before exec; stderr is never redirected.
type Redirection struct {
	Path   string
	Append bool
	Input  bool // true for `<`, false for `>`/`>>`
}

// Request is everything PE needs to run one command.
type Request struct {
	Argv               []string
	Target             Target
	Env                []string
	Redirect           *Redirection
	SkipPrivTransition bool // test builds only
}

// Result is the outcome of one execution.
type Result struct {
	ExitCode int
}

var securePathDirs = strings.Split(sanitize.SecurePATH, ":")

// ErrNotFound is returned when Argv[0] cannot be resolved on the secure
// PATH.
var ErrNotFound = fmt.Errorf("command not found on secure PATH")

// Resolve searches the hardcoded secure PATH (never $PATH) for argv0
// and returns its absolute path.
func Resolve(argv0 string) (string, error) {
	if strings.ContainsRune(argv0, '/') {
		if err := unix.Access(argv0, unix.X_OK); err != nil {
			return "", fmt.Errorf("%w: %s", ErrNotFound, argv0)
		}
		return argv0, nil
	}
	for _, dir := range securePathDirs {
		candidate := filepath.Join(dir, argv0)
		if unix.Access(candidate, unix.X_OK) == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, argv0)
}

// Run resolves, forks, and execs req.Argv as req.Target, blocking until
// the child exits. SIGINT/SIGQUIT/SIGTSTP are caught with signal.Notify
// in the parent for the duration, so they do not stop or kill it; the
// child starts with the default disposition and reacts to them.
func Run(req Request) (Result, error) {
	abs, err := Resolve(req.Argv[0])
	if err != nil {
		return Result{ExitCode: 127}, err
	}

	cmd := exec.Command(abs, req.Argv[1:]...)
	cmd.Env = req.Env
	cmd.SysProcAttr = &syscall.SysProcAttr{}
	if !req.SkipPrivTransition {
		cmd.SysProcAttr.Credential = &syscall.Credential{
			Uid:    uint32(req.Target.UID),
			Gid:    uint32(req.Target.GID),
			Groups: toUint32(req.Target.Groups),
		}
	}

	stdin, stdout, stderr := os.Stdin, os.Stdout, os.Stderr
	if req.Redirect != nil {
		f, closeErr := openRedirectTarget(*req.Redirect)
		if closeErr != nil {
			return Result{ExitCode: 1}, closeErr
		}
		defer f.Close()
		if req.Redirect.Input {
			stdin = f
		} else {
			stdout = f
		}
	}
	cmd.Stdin, cmd.Stdout, cmd.Stderr = stdin, stdout, stderr

	ignored := make(chan os.Signal, 8)
	signal.Notify(ignored, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTSTP)
	defer signal.Stop(ignored)

	if err := cmd.Start(); err != nil {
		return Result{ExitCode: 1}, fmt.Errorf("start privileged child: %w", err)
	}

	err = cmd.Wait()
	return Result{ExitCode: exitCode(err)}, nil
}

func openRedirectTarget(r Redirection) (*os.File, error) {
	if r.Input {
		return os.Open(r.Path)
	}
	flags := os.O_CREATE | os.O_WRONLY
	if r.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	return os.OpenFile(r.Path, flags, 0644)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if !asExitError(err, &exitErr) {
		return 1
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
		if ws.Signaled() {
			return 128 + int(ws.Signal())
		}
		return ws.ExitStatus()
	}
	return 1
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if !ok {
		return false
	}
	*target = ee
	return true
}

func toUint32(in []int) []uint32 {
	out := make([]uint32, len(in))
	for i, v := range in {
		out[i] = uint32(v)
	}
	return out
}

// CoreDumpsDisabled sets RLIMIT_CORE to 0 for the calling process; a
// child started afterwards inherits the limit and never dumps a core
// file that could carry secrets. Run and RunPipeline do not call it.
func CoreDumpsDisabled() error {
	zero := &unix.Rlimit{Cur: 0, Max: 0}
	if err := unix.Setrlimit(unix.RLIMIT_CORE, zero); err != nil {
		return fmt.Errorf("disable core dumps: %w", err)
	}
	return nil
}
