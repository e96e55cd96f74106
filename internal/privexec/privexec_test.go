// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package privexec

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveRejectsUnknownProgram(t *testing.T) {
	_, err := Resolve("this-program-does-not-exist-anywhere")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestResolveFindsLsOnSecurePATH(t *testing.T) {
	path, err := Resolve("ls")
	require.NoError(t, err)
	require.True(t, filepath.IsAbs(path))
}

func TestResolveRejectsAbsolutePathNotExecutable(t *testing.T) {
	f := filepath.Join(t.TempDir(), "not-executable")
	require.NoError(t, os.WriteFile(f, []byte("x"), 0644))
	_, err := Resolve(f)
	require.Error(t, err)
}

func TestRunSkipPrivTransitionExecutesAsCallingUser(t *testing.T) {
	result, err := Run(Request{
		Argv:               []string{"true"},
		SkipPrivTransition: true,
		Env:                os.Environ(),
	})
	require.NoError(t, err)
	require.Equal(t, 0, result.ExitCode)
}

func TestRunNonZeroExitIsReported(t *testing.T) {
	result, err := Run(Request{
		Argv:               []string{"false"},
		SkipPrivTransition: true,
		Env:                os.Environ(),
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.ExitCode)
}

func TestRunUnresolvableCommandReturns127(t *testing.T) {
	result, err := Run(Request{Argv: []string{"this-program-does-not-exist-anywhere"}, SkipPrivTransition: true})
	require.Error(t, err)
	require.Equal(t, 127, result.ExitCode)
}

func TestRunRedirectsOutputToFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.txt")
	_, err := Run(Request{
		Argv:               []string{"echo", "hello"},
		SkipPrivTransition: true,
		Env:                os.Environ(),
		Redirect:           &Redirection{Path: out},
	})
	require.NoError(t, err)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "hello\n", string(data))
}
