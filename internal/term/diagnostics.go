// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package term

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// Capabilities describes what the controlling terminal supports, for
// `-v`/`--verbose` diagnostic output only; nothing in the normal
// session path branches on it.
type Capabilities struct {
	IsTerminal   bool
	Width        int
	Height       int
	ColorProfile termenv.Profile
	Unicode      bool
}

// Diagnose probes m's terminal for Capabilities.
func (m *Manager) Diagnose() Capabilities {
	w, h := m.Size()
	profile := termenv.Ascii
	if m.IsTerminal() {
		profile = termenv.ColorProfile()
	}
	return Capabilities{
		IsTerminal:   m.IsTerminal(),
		Width:        w,
		Height:       h,
		ColorProfile: profile,
		Unicode:      profile != termenv.Ascii,
	}
}

// WriteDiagnostics prints c in human-readable form, for `-v`.
func WriteDiagnostics(w io.Writer, c Capabilities) {
	fmt.Fprintf(w, "terminal: %v\n", c.IsTerminal)
	fmt.Fprintf(w, "size: %dx%d\n", c.Width, c.Height)
	fmt.Fprintf(w, "color profile: %s\n", profileName(c.ColorProfile))
	fmt.Fprintf(w, "unicode: %v\n", c.Unicode)
}

func profileName(p termenv.Profile) string {
	switch p {
	case termenv.Ascii:
		return "none"
	case termenv.ANSI:
		return "ansi"
	case termenv.ANSI256:
		return "ansi256"
	case termenv.TrueColor:
		return "truecolor"
	default:
		return "unknown"
	}
}
