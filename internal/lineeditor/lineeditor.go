// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package lineeditor implements the Line Editor (LE): a thin wrapper
// around peterh/liner that adds an inactivity timeout, restricted
// `!N`/`!!`-only history expansion, and PATH/built-in-aware Tab completion.
package lineeditor

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/peterh/liner"

	"github.com/morganforge/sudosh/internal/history"
	"github.com/morganforge/sudosh/internal/sanitize"
)

// ErrTimeout is returned by ReadLine when no input arrives before the
// configured inactivity deadline.
var ErrTimeout = errors.New("inactivity timeout waiting for input")

// ErrEOF is returned when the user sends Ctrl-D on an empty line.
var ErrEOF = errors.New("end of input")

// Editor wraps a liner.State with sudosh's recall and completion rules.
type Editor struct {
	state       *liner.State
	history     *history.Store
	builtins    []string
	idleTimeout time.Duration
}

// New returns an Editor backed by hs for `!N` recall, offering builtins
// plus PATH executables for Tab completion.
func New(hs *history.Store, builtins []string, idleTimeout time.Duration) *Editor {
	state := liner.NewLiner()
	state.SetCtrlCAborts(true)

	e := &Editor{state: state, history: hs, builtins: builtins, idleTimeout: idleTimeout}
	state.SetCompleter(e.complete)

	if entries, err := hs.Load(); err == nil {
		for _, ent := range entries {
			state.AppendHistory(ent.Line)
		}
	}
	return e
}

// Prompt renders the standard `<program>:<cwd><sep> ` prompt, where sep
// is `#` for an effective uid of 0 and `$` otherwise.
func Prompt(program, cwd string, euid int) string {
	sep := "$"
	if euid == 0 {
		sep = "#"
	}
	return fmt.Sprintf("%s:%s%s ", program, cwd, sep)
}

// ReadLine blocks for one line, applying the idle timeout and
// expanding a leading `!N`/`!!` history reference before returning.
func (e *Editor) ReadLine(prompt string) (string, error) {
	type result struct {
		line string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		line, err := e.state.Prompt(prompt)
		done <- result{line, err}
	}()

	var timeoutCh <-chan time.Time
	if e.idleTimeout > 0 {
		timer := time.NewTimer(e.idleTimeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case r := <-done:
		if r.err == liner.ErrPromptAborted {
			return "", nil
		}
		if r.err != nil {
			return "", ErrEOF
		}
		if strings.TrimSpace(r.line) != "" {
			e.state.AppendHistory(r.line)
		}
		entries, _ := e.history.Load()
		return history.Expand(r.line, entries)
	case <-timeoutCh:
		return "", ErrTimeout
	}
}

// Close persists terminal state held by the underlying liner.State.
func (e *Editor) Close() error {
	return e.state.Close()
}

func (e *Editor) complete(prefix string) []string {
	var matches []string
	for _, b := range e.builtins {
		if strings.HasPrefix(b, prefix) {
			matches = append(matches, b)
		}
	}
	for _, dir := range strings.Split(sanitize.SecurePATH, ":") {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, ent := range entries {
			if ent.IsDir() {
				continue
			}
			if strings.HasPrefix(ent.Name(), prefix) {
				matches = append(matches, ent.Name())
			}
		}
	}
	sort.Strings(matches)
	return dedup(matches)
}

func dedup(in []string) []string {
	if len(in) == 0 {
		return in
	}
	out := in[:1]
	for _, s := range in[1:] {
		if s != out[len(out)-1] {
			out = append(out, s)
		}
	}
	return out
}

// DisplayWidth returns the terminal column width s would occupy,
// honoring wide (CJK) runes the way the prompt and completion listing
// must for correct cursor placement.
func DisplayWidth(s string) int {
	return runewidth.StringWidth(s)
}
