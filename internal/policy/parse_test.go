// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestParseSimpleNoPasswdAll(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "sudoers", "alice ALL=(ALL) NOPASSWD: ALL\n")

	set, err := Load(path, "")
	require.NoError(t, err)
	require.Len(t, set.Rules, 1)
	r := set.Rules[0]
	require.Equal(t, "alice", r.Principals[0].Value)
	require.False(t, r.RequiresPassword)
	require.Equal(t, "ALL", r.Commands[0].Value)
}

func TestParseRequiresPasswordByDefault(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "sudoers", "bob ALL=(ALL) ALL\n")

	set, err := Load(path, "")
	require.NoError(t, err)
	require.True(t, set.Rules[0].RequiresPassword)
}

func TestParseExplicitRunasAndMultipleCommands(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "sudoers",
		"deploy host1,host2 = (www-data) NOPASSWD: /usr/bin/systemctl restart nginx, /usr/bin/tail\n")

	set, err := Load(path, "")
	require.NoError(t, err)
	r := set.Rules[0]
	require.Equal(t, "www-data", r.RunasUsers[0].Value)
	require.Len(t, r.Hosts, 2)
	require.Len(t, r.Commands, 2)
	require.Equal(t, "/usr/bin/systemctl restart nginx", r.Commands[0].Value)
}

func TestParseNegatedCommandVeto(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "sudoers", "alice ALL=(ALL) ALL, !/bin/rm\n")

	set, err := Load(path, "")
	require.NoError(t, err)
	r := set.Rules[0]
	require.False(t, r.Commands[0].Negated)
	require.True(t, r.Commands[1].Negated)
	require.Equal(t, "/bin/rm", r.Commands[1].Value)
}

func TestIncludeDirSkipsBackupAndDotFiles(t *testing.T) {
	dir := t.TempDir()
	incDir := filepath.Join(dir, "sudoers.d")
	require.NoError(t, os.MkdirAll(incDir, 0755))
	primary := writeFile(t, dir, "sudoers", "")
	writeFile(t, incDir, "10-good", "alice ALL=(ALL) NOPASSWD: /bin/ls\n")
	writeFile(t, incDir, "bad~", "alice ALL=(ALL) NOPASSWD: /bin/whoami\n")
	writeFile(t, incDir, "README.md", "alice ALL=(ALL) NOPASSWD: /bin/pwd\n")

	set, err := Load(primary, incDir)
	require.NoError(t, err)
	require.Len(t, set.Rules, 1)
	require.Equal(t, "/bin/ls", set.Rules[0].Commands[0].Value)
}

func TestIncludeDirOrderIsFilenameSorted(t *testing.T) {
	dir := t.TempDir()
	incDir := filepath.Join(dir, "sudoers.d")
	require.NoError(t, os.MkdirAll(incDir, 0755))
	primary := writeFile(t, dir, "sudoers", "")
	writeFile(t, incDir, "20-second", "bob ALL=(ALL) ALL\n")
	writeFile(t, incDir, "10-first", "alice ALL=(ALL) ALL\n")

	set, err := Load(primary, incDir)
	require.NoError(t, err)
	require.Len(t, set.Rules, 2)
	require.Equal(t, "alice", set.Rules[0].Principals[0].Value)
	require.Equal(t, "bob", set.Rules[1].Principals[0].Value)
}

func TestUnreadablePrimaryIsFatal(t *testing.T) {
	_, err := Load("/nonexistent/path/sudoers", "")
	require.Error(t, err)
}

func TestUnreadableIncludeIsSkippedWithWarning(t *testing.T) {
	dir := t.TempDir()
	primary := writeFile(t, dir, "sudoers", "#include /nonexistent/extra\nalice ALL=(ALL) ALL\n")

	set, err := Load(primary, "")
	require.NoError(t, err)
	require.Len(t, set.Rules, 1)
	require.NotEmpty(t, set.ParseWarnings)
}

func TestDefaultsLineUpdatesSecurePath(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "sudoers", "Defaults secure_path=\"/usr/bin:/bin\"\nalice ALL=(ALL) ALL\n")

	set, err := Load(path, "")
	require.NoError(t, err)
	require.Equal(t, "/usr/bin:/bin", set.Defaults.Options.SecurePath)
}

func TestSyntaxErrorFailsClosed(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "sudoers", "this is not valid\n")

	set, err := Load(path, "")
	require.Error(t, err)
	require.Empty(t, set.Rules)
}

func TestOrderTieBreakIsStableInsertionOrder(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "sudoers",
		"zebra ALL=(ALL) ALL\nalice ALL=(ALL) ALL\n")

	set, err := Load(path, "")
	require.NoError(t, err)
	require.Equal(t, "zebra", set.Rules[0].Principals[0].Value)
	require.Equal(t, "alice", set.Rules[1].Principals[0].Value)
}
