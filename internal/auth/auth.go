// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth implements the Authenticator (AU): username validation,
// credential-cache consultation, a single call into a pluggable
// password backend, and an optional TOTP second factor, all behind a
// per-(user,TTY) rate limiter.
package auth

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"golang.org/x/time/rate"

	"github.com/morganforge/sudosh/internal/credcache"
)

// validUsername matches the conservative username grammar AU enforces
// before ever touching the cache or a backend.
var validUsername = regexp.MustCompile(`^[A-Za-z0-9._-]{1,32}$`)

var blacklistedUsernames = map[string]bool{
	"root ": true, "..": true, "null": true, "admin'--": true,
}

// MaxUsernameLength bounds AU's username sanity check.
const MaxUsernameLength = 32

// ValidUsername reports whether user passes AU's syntactic check: no
// empty string, no length over the limit, only `[A-Za-z0-9._-]`, no
// leading `-`, and not a blacklisted literal.
func ValidUsername(user string) bool {
	if user == "" || len(user) > MaxUsernameLength {
		return false
	}
	if user[0] == '-' {
		return false
	}
	if !validUsername.MatchString(user) {
		return false
	}
	return !blacklistedUsernames[user]
}

// PasswordBackend is the single pluggable authentication call AU makes.
// A backend may internally enforce its own retry/lockout policy; AU
// itself never loops.
type PasswordBackend interface {
	Authenticate(ctx context.Context, user, password string) (bool, error)
}

// PasswordPrompter reads one password line from the controlling
// terminal with echo disabled.
type PasswordPrompter interface {
	PromptPassword(prompt string) (string, error)
}

// TOTPVerifier verifies a 6-digit time-based one-time code against the
// secret provisioned for user.
type TOTPVerifier interface {
	Verify(user, code string) (bool, error)
}

// Authenticator ties the cache, backend, prompter, rate limiter, and
// optional second factor together into the single AU.Authenticate
// entry point.
type Authenticator struct {
	Cache    *credcache.Cache
	Backend  PasswordBackend
	Prompter PasswordPrompter
	TOTP     TOTPVerifier // nil disables the second factor
	limiters map[string]*rate.Limiter
}

// New returns an Authenticator. TOTP may be nil to disable the second
// factor entirely.
func New(cache *credcache.Cache, backend PasswordBackend, prompter PasswordPrompter, totp TOTPVerifier) *Authenticator {
	return &Authenticator{
		Cache:    cache,
		Backend:  backend,
		Prompter: prompter,
		TOTP:     totp,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (a *Authenticator) limiterFor(key string) *rate.Limiter {
	if l, ok := a.limiters[key]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Every(2*time.Second), 1)
	a.limiters[key] = l
	return l
}

// Request carries everything one Authenticate call needs.
type Request struct {
	User        string
	TTY         string
	TOTPCode    string // required only when mfa=totp is in effect for this rule
	RequireTOTP bool
}

// Authenticate runs AU's full contract: syntax check, credential-cache
// consultation, and (on a cache miss) the rate limit, a single
// password-backend call plus the optional TOTP check.
func (a *Authenticator) Authenticate(ctx context.Context, req Request) (bool, error) {
	if !ValidUsername(req.User) {
		return false, fmt.Errorf("invalid username %q", req.User)
	}

	fresh, err := a.Cache.Check(req.User, req.TTY)
	if err != nil {
		return false, fmt.Errorf("check credential cache: %w", err)
	}
	if fresh {
		return true, nil
	}

	key := req.User + ":" + req.TTY
	if !a.limiterFor(key).Allow() {
		return false, fmt.Errorf("authentication attempts for %s are rate limited", req.User)
	}

	password, err := a.Prompter.PromptPassword(fmt.Sprintf("[sudosh] password for %s: ", req.User))
	if err != nil {
		return false, fmt.Errorf("read password: %w", err)
	}

	ok, err := a.Backend.Authenticate(ctx, req.User, password)
	if err != nil {
		_ = a.Cache.Invalidate(req.User, req.TTY)
		return false, fmt.Errorf("authenticate: %w", err)
	}
	if !ok {
		_ = a.Cache.Invalidate(req.User, req.TTY)
		return false, nil
	}

	if req.RequireTOTP {
		if a.TOTP == nil {
			_ = a.Cache.Invalidate(req.User, req.TTY)
			return false, fmt.Errorf("TOTP required but no verifier is configured")
		}
		totpOK, err := a.TOTP.Verify(req.User, req.TOTPCode)
		if err != nil || !totpOK {
			_ = a.Cache.Invalidate(req.User, req.TTY)
			return false, err
		}
	}

	if err := a.Cache.Update(req.User, req.TTY); err != nil {
		return false, fmt.Errorf("update credential cache: %w", err)
	}
	return true, nil
}
