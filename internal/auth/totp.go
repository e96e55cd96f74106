// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"fmt"
	"os"
	"strings"

	"github.com/pquerna/otp/totp"
)

// FileTOTPVerifier reads a user's base32 TOTP secret from
// `<dir>/<user>.totp` (provisioned out of band by an enrollment step
// this package does not implement) and verifies a 6-digit code against
// it with the standard 30-second step.
type FileTOTPVerifier struct {
	Dir string
}

// Verify checks code against the secret stored for user.
func (v FileTOTPVerifier) Verify(user, code string) (bool, error) {
	secret, err := v.loadSecret(user)
	if err != nil {
		return false, err
	}
	return totp.Validate(code, secret), nil
}

func (v FileTOTPVerifier) loadSecret(user string) (string, error) {
	data, err := os.ReadFile(v.Dir + "/" + user + ".totp")
	if err != nil {
		return "", fmt.Errorf("read TOTP secret for %s: %w", user, err)
	}
	return strings.TrimSpace(string(data)), nil
}
