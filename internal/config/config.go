// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading for sudosh's
// ambient settings: the inactivity timeout, the credential cache TTL,
// the hardcoded secure PATH, and the session-log directory.
//
// These are NOT policy (that is the policy store's job); they are
// knobs that govern the shell's own runtime behavior and are expected
// to live in /etc/sudosh/sudosh.toml, backed by a single TOML file
// plus hardcoded defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

// Path env overrides, used by test-mode switches.
const (
	EnvConfigPath  = "SUDOSH_CONFIG_PATH"
	EnvTestMode    = "SUDOSH_TEST_MODE"
	EnvSudoersPath = "SUDOSH_SUDOERS_PATH"
	EnvSudoersDir  = "SUDOSH_SUDOERS_DIR"
)

const defaultConfigPath = "/etc/sudosh/sudosh.toml"

// DefaultSecurePath is the hardcoded PATH enforced at exec time.
const DefaultSecurePath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

// Config is the ambient configuration for one sudosh process.
type Config struct {
	Session    SessionConfig    `toml:"session"`
	Credential CredentialConfig `toml:"credential"`
	Exec       ExecConfig       `toml:"exec"`
	Audit      AuditConfig      `toml:"audit"`
}

// SessionConfig governs the interactive loop (LE/STM).
type SessionConfig struct {
	// InactivityTimeoutSeconds is the idle duration after which LE
	// returns EOF. Default 300.
	InactivityTimeoutSeconds int `toml:"inactivity_timeout_seconds"`
	// HistoryCapacity bounds the in-memory recall ring.
	HistoryCapacity int `toml:"history_capacity"`
}

// CredentialConfig governs the per-(user,TTY) credential cache.
type CredentialConfig struct {
	// TTLSeconds is the password-cache timeout. Default 900 (15 min).
	TTLSeconds int `toml:"ttl_seconds"`
	// Dir is the root-owned, mode-0700 cache directory.
	Dir string `toml:"dir"`
}

// ExecConfig governs the privileged executor / environment sanitizer.
type ExecConfig struct {
	// SecurePath is loaded from the config file but not read by the
	// executor, which resolves commands against sanitize.SecurePATH.
	SecurePath string `toml:"secure_path"`
	// Umask is loaded from the config file but not applied to the child.
	Umask int `toml:"umask"`
}

// AuditConfig governs AL's outputs.
type AuditConfig struct {
	// SessionLogDir holds the default audit log <invoker>.log; a
	// -L/--log-session value replaces that path and is used as given.
	SessionLogDir string `toml:"session_log_dir"`
	// SQLiteIndexPath backs the supplemental --audit-report query surface.
	SQLiteIndexPath string `toml:"sqlite_index_path"`
}

func defaults() *Config {
	return &Config{
		Session: SessionConfig{
			InactivityTimeoutSeconds: 300,
			HistoryCapacity:          500,
		},
		Credential: CredentialConfig{
			TTLSeconds: 900,
			Dir:        "/var/run/sudosh/cc",
		},
		Exec: ExecConfig{
			SecurePath: DefaultSecurePath,
			Umask:      0022,
		},
		Audit: AuditConfig{
			SessionLogDir:   "/var/log/sudosh/sessions",
			SQLiteIndexPath: "/var/log/sudosh/audit.db",
		},
	}
}

var (
	global     *Config
	globalOnce sync.Once
)

// Global returns the process-wide config, loading it on first use.
// A missing file is not an error: defaults() alone is returned.
func Global() *Config {
	globalOnce.Do(func() {
		cfg, err := Load(path())
		if err != nil {
			cfg = defaults()
		}
		global = cfg
	})
	return global
}

func path() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return defaultConfigPath
}

// Load reads path and merges it over defaults(). A missing file returns
// defaults with no error (matching PS's "missing optional sources are
// not errors" rule, extended here to ambient config).
func Load(path string) (*Config, error) {
	cfg := defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return defaults(), fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Session.InactivityTimeoutSeconds <= 0 {
		cfg.Session.InactivityTimeoutSeconds = 300
	}
	if cfg.Credential.TTLSeconds <= 0 {
		cfg.Credential.TTLSeconds = 900
	}
	if cfg.Exec.SecurePath == "" {
		cfg.Exec.SecurePath = DefaultSecurePath
	}
	return cfg, nil
}

// InactivityTimeout is SessionConfig.InactivityTimeoutSeconds as a Duration.
func (c *Config) InactivityTimeout() time.Duration {
	return time.Duration(c.Session.InactivityTimeoutSeconds) * time.Second
}

// CredentialTTL is CredentialConfig.TTLSeconds as a Duration.
func (c *Config) CredentialTTL() time.Duration {
	return time.Duration(c.Credential.TTLSeconds) * time.Second
}

// TestMode reports whether SUDOSH_TEST_MODE=1 is set, the single seam
// that lets the privileged executor skip the real uid/gid transition in
// CI. Authentication is not affected: password prompts still happen.
func TestMode() bool {
	return os.Getenv(EnvTestMode) == "1"
}

// SudoersPath returns the primary policy file path, honoring the test
// override.
func SudoersPath() string {
	if p := os.Getenv(EnvSudoersPath); p != "" {
		return p
	}
	return "/etc/sudoers"
}

// SudoersDir returns the includedir path, honoring the test override.
func SudoersDir() string {
	if p := os.Getenv(EnvSudoersDir); p != "" {
		return p
	}
	return "/etc/sudoers.d"
}

// EnsureDir creates dir with the given mode if it does not exist.
func EnsureDir(dir string, mode os.FileMode) error {
	if dir == "" {
		return fmt.Errorf("empty directory path")
	}
	return os.MkdirAll(filepath.Clean(dir), mode)
}
