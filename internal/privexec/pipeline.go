// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package privexec

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
)

// RunPipeline resolves and execs each stage's Argv[0], connecting stage
// i's stdout to stage i+1's stdin the way a shell pipeline would. Every
// stage runs as its own Target identity and each is independently
// resolved against the secure PATH; only the first stage's Redirect
// applies to stdin and only the last stage's applies to stdout, mirroring
// the classic `cmd1 < in | cmd2 | cmd3 > out` shape the command
// validator's pipeline check accepts.
func RunPipeline(stages []Request) (Result, error) {
	if len(stages) == 0 {
		return Result{ExitCode: 1}, fmt.Errorf("empty pipeline")
	}
	if len(stages) == 1 {
		return Run(stages[0])
	}

	cmds := make([]*exec.Cmd, len(stages))
	closers := make([]func(), 0, len(stages)*2)
	defer func() {
		for _, c := range closers {
			c()
		}
	}()

	for i, req := range stages {
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
		cmd.Stderr = os.Stderr
		cmds[i] = cmd
	}

	if stages[0].Redirect != nil && stages[0].Redirect.Input {
		f, err := openRedirectTarget(*stages[0].Redirect)
		if err != nil {
			return Result{ExitCode: 1}, err
		}
		closers = append(closers, func() { f.Close() })
		cmds[0].Stdin = f
	} else {
		cmds[0].Stdin = os.Stdin
	}

	last := len(cmds) - 1
	if stages[last].Redirect != nil && !stages[last].Redirect.Input {
		f, err := openRedirectTarget(*stages[last].Redirect)
		if err != nil {
			return Result{ExitCode: 1}, err
		}
		closers = append(closers, func() { f.Close() })
		cmds[last].Stdout = f
	} else {
		cmds[last].Stdout = os.Stdout
	}

	for i := 0; i < last; i++ {
		r, w, err := os.Pipe()
		if err != nil {
			return Result{ExitCode: 1}, fmt.Errorf("create pipeline stage pipe: %w", err)
		}
		cmds[i].Stdout = w
		cmds[i+1].Stdin = r
		closers = append(closers, func() { r.Close() }, func() { w.Close() })
	}

	ignored := make(chan os.Signal, 8)
	signal.Notify(ignored, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTSTP)
	defer signal.Stop(ignored)

	for i, cmd := range cmds {
		if err := cmd.Start(); err != nil {
			return Result{ExitCode: 1}, fmt.Errorf("start pipeline stage %d: %w", i, err)
		}
		if wc, ok := cmd.Stdout.(*os.File); ok && i < last {
			wc.Close()
		}
	}

	var waitErr error
	for i, cmd := range cmds {
		err := cmd.Wait()
		if i == last {
			waitErr = err
		}
	}
	return Result{ExitCode: exitCode(waitErr)}, nil
}
