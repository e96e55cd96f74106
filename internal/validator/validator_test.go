// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package validator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateAcceptsSafeReadOnlyCommand(t *testing.T) {
	r := Validate("/bin/ls -la /etc", Options{})
	require.Equal(t, VerdictAccept, r.Verdict)
	require.Equal(t, "ls", r.Program)
}

func TestValidateEmptyLineIsEmptyNotReject(t *testing.T) {
	r := Validate("   ", Options{})
	require.Equal(t, VerdictEmpty, r.Verdict)
}

func TestValidateRejectsOverlongLine(t *testing.T) {
	r := Validate(string(make([]byte, MaxLineLength+1)), Options{})
	require.Equal(t, VerdictReject, r.Verdict)
}

func TestValidateRejectsControlBytes(t *testing.T) {
	r := Validate("ls \x01\x02", Options{})
	require.Equal(t, VerdictReject, r.Verdict)
}

func TestValidateAllowsSecureEditor(t *testing.T) {
	r := Validate("vim /etc/hosts", Options{})
	require.Equal(t, VerdictAccept, r.Verdict)
	require.True(t, r.SecureEdit)
}

func TestValidateRejectsPathTraversal(t *testing.T) {
	r := Validate("cat /etc/../etc/shadow", Options{})
	require.Equal(t, VerdictReject, r.Verdict)
}

func TestValidateRejectsDollarExpansion(t *testing.T) {
	r := Validate("ls $HOME", Options{})
	require.Equal(t, VerdictReject, r.Verdict)
}

func TestValidateAllowsDollarForPrintenv(t *testing.T) {
	r := Validate("printenv $FOO", Options{})
	require.Equal(t, VerdictAccept, r.Verdict)
}

func TestValidateRejectsQuoting(t *testing.T) {
	r := Validate(`ls "foo"`, Options{})
	require.Equal(t, VerdictReject, r.Verdict)
}

func TestValidateAllowsQuotingForEcho(t *testing.T) {
	r := Validate(`echo "hello"`, Options{})
	require.Equal(t, VerdictAccept, r.Verdict)
}

func TestValidateRejectsInlineEnvAssignment(t *testing.T) {
	r := Validate("FOO=bar ls", Options{})
	require.Equal(t, VerdictReject, r.Verdict)
}

func TestValidateRejectsSemicolonComposition(t *testing.T) {
	r := Validate("ls; rm -rf /", Options{})
	require.Equal(t, VerdictReject, r.Verdict)
}

func TestValidateRejectsBacktickSubstitution(t *testing.T) {
	r := Validate("ls `whoami`", Options{})
	require.Equal(t, VerdictReject, r.Verdict)
}

func TestValidateRejectsShellInvocation(t *testing.T) {
	r := Validate("/bin/bash", Options{})
	require.Equal(t, VerdictReject, r.Verdict)
}

func TestValidateRedirectsToInteractiveUnderSudoCompatMode(t *testing.T) {
	r := Validate("bash", Options{SudoCompatMode: true})
	require.Equal(t, VerdictRedirectToInteractive, r.Verdict)
}

func TestValidateRejectsSSH(t *testing.T) {
	r := Validate("ssh root@example.com", Options{})
	require.Equal(t, VerdictReject, r.Verdict)
}

func TestValidateRejectsDangerousCommand(t *testing.T) {
	r := Validate("/sbin/reboot", Options{})
	require.Equal(t, VerdictReject, r.Verdict)
}

func TestValidateRejectsSystemctlPoweroff(t *testing.T) {
	r := Validate("systemctl poweroff", Options{})
	require.Equal(t, VerdictReject, r.Verdict)
}

func TestValidateAllowsOtherSystemctlVerbs(t *testing.T) {
	r := Validate("systemctl restart nginx", Options{})
	require.Equal(t, VerdictAccept, r.Verdict)
}

func TestValidatePipelineAcceptsWhitelistedStages(t *testing.T) {
	r := Validate("ps | grep nginx", Options{})
	require.Equal(t, VerdictAccept, r.Verdict)
	require.True(t, r.HasPipeline)
}

func TestValidatePipelineRejectsNonWhitelistedStage(t *testing.T) {
	r := Validate("ps | bash", Options{})
	require.Equal(t, VerdictReject, r.Verdict)
}

func TestValidatePipelineRejectsFindExec(t *testing.T) {
	err := ValidatePipeline("find / -name foo -exec rm {} \\;")
	require.Error(t, err)
}

func TestValidateRedirectionAcceptsTmpTarget(t *testing.T) {
	r := Validate("ls > /tmp/out.txt", Options{})
	require.Equal(t, VerdictAccept, r.Verdict)
	require.True(t, r.HasRedirect)
}

func TestValidateRedirectionRejectsRoot(t *testing.T) {
	r := Validate("ls > /root/out.txt", Options{})
	require.Equal(t, VerdictReject, r.Verdict)
}

func TestValidateRedirectionRejectsMultipleOperators(t *testing.T) {
	r := Validate("ls > /tmp/a > /tmp/b", Options{})
	require.Equal(t, VerdictReject, r.Verdict)
}

func TestValidateRedirectionAllowsSingleAppend(t *testing.T) {
	r := Validate("ls >> /tmp/out.txt", Options{})
	require.Equal(t, VerdictAccept, r.Verdict)
}

func TestMatchesSafePrefixRejectsSiblingDirectory(t *testing.T) {
	require.False(t, matchesSafePrefix("/tmpevil/out.txt", []string{"/tmp/", "/var/tmp/"}))
}

func TestMatchesSafePrefixAcceptsRealPrefixedPath(t *testing.T) {
	require.True(t, matchesSafePrefix("/tmp/out.txt", []string{"/tmp/", "/var/tmp/"}))
}

func TestMatchesSafePrefixAcceptsPrefixDirectoryItself(t *testing.T) {
	require.True(t, matchesSafePrefix("/tmp", []string{"/tmp/", "/var/tmp/"}))
}

func TestValidateRejectsBareRmRecursiveForce(t *testing.T) {
	r := Validate("rm -rf /", Options{})
	require.Equal(t, VerdictReject, r.Verdict)
}

func TestValidateRejectsRmLongRecursiveFlag(t *testing.T) {
	r := Validate("rm --recursive --force /tmp/stuff", Options{})
	require.Equal(t, VerdictReject, r.Verdict)
}

func TestValidateAllowsRmWithoutDangerousFlags(t *testing.T) {
	r := Validate("rm /tmp/onefile.txt", Options{})
	require.Equal(t, VerdictAccept, r.Verdict)
}

func TestValidateRejectsChmodRecursive(t *testing.T) {
	r := Validate("chmod -R 777 /etc", Options{})
	require.Equal(t, VerdictReject, r.Verdict)
}

func TestValidatePipelineAllowsAwkFieldReference(t *testing.T) {
	r := Validate("ps | awk '{print $1}'", Options{})
	require.Equal(t, VerdictAccept, r.Verdict)
	require.True(t, r.HasPipeline)
}

func TestValidatePipelineAllowsSedPattern(t *testing.T) {
	r := Validate(`cat /etc/hosts | sed 's/a/b/'`, Options{})
	require.Equal(t, VerdictAccept, r.Verdict)
	require.True(t, r.HasPipeline)
}
