// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package credcache implements the Credential Cache (CC): a per-
// (user,TTY) on-disk token with strict permissions and a TTL, read under
// a shared flock(2) lock and written atomically (temp file + fsync +
// rename) without taking a lock.
package credcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/morganforge/sudosh/internal/util"
)

// ErrInsecurePermissions is returned when a cache file or its directory
// do not meet the required mode and ownership.
var ErrInsecurePermissions = errors.New("credential cache entry has insecure permissions or ownership")

// entry is the on-disk record. Its encoding is a private implementation
// detail; only the syslog audit line format is held stable externally.
type entry struct {
	Username  string    `json:"username"`
	TTY       string    `json:"tty_identifier"`
	CreatedAt time.Time `json:"created_at"`
	NotAfter  time.Time `json:"not_after"`
}

// Cache is the credential cache rooted at Dir, a root-owned, mode-0700
// directory created by New.
type Cache struct {
	Dir string
	TTL time.Duration
}

// New returns a Cache rooted at dir, creating dir with mode 0700 if it
// does not yet exist.
func New(dir string, ttl time.Duration) (*Cache, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create credential cache dir: %w", err)
	}
	if err := os.Chmod(dir, 0700); err != nil {
		return nil, fmt.Errorf("secure credential cache dir: %w", err)
	}
	return &Cache{Dir: dir, TTL: ttl}, nil
}

func (c *Cache) path(username, tty string) string {
	return filepath.Join(c.Dir, fmt.Sprintf("%s:%s", sanitizeComponent(username), sanitizeComponent(tty)))
}

// sanitizeComponent strips path separators from a cache key component
// so a hostile TTY/username value (already rejected far upstream by AU,
// but defense in depth costs nothing here) cannot escape Dir.
func sanitizeComponent(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '/' || s[i] == '\\' || s[i] == 0 {
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}

// Check reports whether the (user,tty) pair has a fresh cache entry.
// Reads happen under a shared flock(2) lock.
func (c *Cache) Check(username, tty string) (bool, error) {
	path := c.path(username, tty)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("open credential cache entry: %w", err)
	}
	defer f.Close()

	if err := flock(f, unix.LOCK_SH); err != nil {
		return false, fmt.Errorf("lock credential cache entry: %w", err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	if err := verifyPermissions(f); err != nil {
		return false, err
	}

	var e entry
	if err := json.NewDecoder(f).Decode(&e); err != nil {
		return false, fmt.Errorf("decode credential cache entry: %w", err)
	}
	if e.Username != username || e.TTY != tty {
		return false, nil
	}
	return time.Now().Before(e.NotAfter), nil
}

// Update writes a fresh entry for (user,tty) with not_after = now+TTL,
// atomically (write tmp, fsync, rename).
func (c *Cache) Update(username, tty string) error {
	now := time.Now()
	e := entry{Username: username, TTY: tty, CreatedAt: now, NotAfter: now.Add(c.TTL)}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal credential cache entry: %w", err)
	}
	path := c.path(username, tty)
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write credential cache entry: %w", err)
	}
	return nil
}

// Invalidate removes the cache entry for (user,tty).
func (c *Cache) Invalidate(username, tty string) error {
	err := os.Remove(c.path(username, tty))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("invalidate credential cache entry: %w", err)
	}
	return nil
}

// verifyPermissions enforces that cache files are readable and writable
// only by uid 0.
func verifyPermissions(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat credential cache entry: %w", err)
	}
	if info.Mode().Perm() != 0600 {
		return ErrInsecurePermissions
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok && stat.Uid != 0 {
		return ErrInsecurePermissions
	}
	return nil
}

func flock(f *os.File, how int) error {
	return unix.Flock(int(f.Fd()), how)
}
