// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package policy

import (
	"bufio"
	"os"
	"strings"
)

// NSSConfig is the parsed nameservice-switch configuration, controlling
// database, controlling which backends PS consults and in what order.
type NSSConfig struct {
	Sources map[string][]string
}

// DefaultNSSPath is the standard location of nsswitch.conf.
const DefaultNSSPath = "/etc/nsswitch.conf"

// LoadNSSConfig parses path. A missing file is not an error: it yields
// the conservative default of consulting only "files" for every
// database. Missing optional sources are not errors.
func LoadNSSConfig(path string) (*NSSConfig, error) {
	cfg := &NSSConfig{Sources: map[string][]string{}}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		db, rest, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		db = strings.TrimSpace(db)
		var sources []string
		for _, tok := range strings.Fields(rest) {
			// Ignore reaction specifiers like "[NOTFOUND=return]".
			if strings.HasPrefix(tok, "[") {
				continue
			}
			sources = append(sources, tok)
		}
		if len(sources) > 0 {
			cfg.Sources[db] = sources
		}
	}
	return cfg, scanner.Err()
}

// SourcesFor returns the configured source order for db ("passwd" or
// "sudoers"), defaulting to {"files"} when unconfigured.
func (c *NSSConfig) SourcesFor(db string) []string {
	if c == nil {
		return []string{"files"}
	}
	if s, ok := c.Sources[db]; ok && len(s) > 0 {
		return s
	}
	return []string{"files"}
}

// HasSource reports whether db is configured to consult source.
func (c *NSSConfig) HasSource(db, source string) bool {
	for _, s := range c.SourcesFor(db) {
		if s == source {
			return true
		}
	}
	return false
}
