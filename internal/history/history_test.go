// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package history

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "sudosh_history"), 0)
	require.NoError(t, err)
	return s
}

func TestNewCreatesFileWithStrictMode(t *testing.T) {
	s := newTestStore(t)
	info, err := os.Stat(s.Path)
	require.NoError(t, err)
	require.Equal(t, "-rw-------", info.Mode().String())
}

func TestAppendThenLoadRoundTrips(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Append("systemctl restart nginx"))
	require.NoError(t, s.Append("apt-get update"))

	entries, err := s.Load()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "systemctl restart nginx", entries[0].Line)
	require.Equal(t, "apt-get update", entries[1].Line)
}

func TestLoadMissingFileReturnsEmpty(t *testing.T) {
	s := &Store{Path: filepath.Join(t.TempDir(), "does-not-exist")}
	entries, err := s.Load()
	require.NoError(t, err)
	require.Nil(t, entries)
}

func TestLoadTrimsToMaxSize(t *testing.T) {
	s := newTestStore(t)
	s.MaxSize = 2
	require.NoError(t, s.Append("one"))
	require.NoError(t, s.Append("two"))
	require.NoError(t, s.Append("three"))

	entries, err := s.Load()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "two", entries[0].Line)
	require.Equal(t, "three", entries[1].Line)
}

func TestLoadIgnoresMalformedLines(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Append("valid command"))
	f, err := os.OpenFile(s.Path, os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.WriteString("not a history line\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entries, err := s.Load()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "valid command", entries[0].Line)
}

func TestExpandBangBangUsesLastEntry(t *testing.T) {
	entries := []Entry{{Line: "first"}, {Line: "second"}}
	out, err := Expand("!!", entries)
	require.NoError(t, err)
	require.Equal(t, "second", out)
}

func TestExpandBangNUsesOneIndexedEntry(t *testing.T) {
	entries := []Entry{{Line: "first"}, {Line: "second"}}
	out, err := Expand("!1", entries)
	require.NoError(t, err)
	require.Equal(t, "first", out)
}

func TestExpandOutOfRangeErrors(t *testing.T) {
	entries := []Entry{{Line: "first"}}
	_, err := Expand("!5", entries)
	require.Error(t, err)
}

func TestExpandNonReferenceLineIsUnchanged(t *testing.T) {
	out, err := Expand("systemctl status", nil)
	require.NoError(t, err)
	require.Equal(t, "systemctl status", out)
}

func TestExpandBangBangWithEmptyHistoryErrors(t *testing.T) {
	_, err := Expand("!!", nil)
	require.Error(t, err)
}
