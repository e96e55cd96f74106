// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// BcryptBackend authenticates against an in-memory table of bcrypt
// password hashes. It exists for tests and for deployments that do not
// want to depend on the host's PAM stack; production deployments are
// expected to supply their own PasswordBackend.
type BcryptBackend struct {
	hashes map[string][]byte
}

// NewBcryptBackend returns a backend with no registered users.
func NewBcryptBackend() *BcryptBackend {
	return &BcryptBackend{hashes: make(map[string][]byte)}
}

// SetPassword hashes password at the default bcrypt cost and stores it
// for user, replacing any prior hash.
func (b *BcryptBackend) SetPassword(user, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	b.hashes[user] = hash
	return nil
}

// Authenticate reports whether password matches the stored hash for
// user. An unknown user always fails rather than erroring, so callers
// cannot distinguish "no such user" from "wrong password".
func (b *BcryptBackend) Authenticate(_ context.Context, user, password string) (bool, error) {
	hash, ok := b.hashes[user]
	if !ok {
		return false, nil
	}
	err := bcrypt.CompareHashAndPassword(hash, []byte(password))
	if err == bcrypt.ErrMismatchedHashAndPassword {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("compare password: %w", err)
	}
	return true, nil
}
