// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package shell

import (
	"fmt"
	"strings"

	"github.com/morganforge/sudosh/internal/privexec"
)

// parsedLine is one accepted line split into its pipeline stages and, if
// present, the single redirection the command validator allows.
type parsedLine struct {
	Stages   [][]string
	Redirect *privexec.Redirection
}

// redirectOps are tried in this order since ">>" must be matched before
// the shorter ">".
var redirectOps = []string{">>", ">", "<"}

// splitLine tokenizes an already-validated line into pipeline stages and
// an optional trailing redirection. The validator has already rejected
// quoting and guarantees at most one redirection operator in the whole
// line, so a whitespace split on each `|`-delimited stage is sufficient.
func splitLine(line string) (parsedLine, error) {
	body, redirect, err := extractRedirect(line)
	if err != nil {
		return parsedLine{}, err
	}

	rawStages := strings.Split(body, "|")
	stages := make([][]string, 0, len(rawStages))
	for _, raw := range rawStages {
		fields := strings.Fields(raw)
		if len(fields) == 0 {
			return parsedLine{}, fmt.Errorf("empty pipeline stage")
		}
		stages = append(stages, fields)
	}
	if len(stages) == 0 {
		return parsedLine{}, fmt.Errorf("empty command line")
	}
	return parsedLine{Stages: stages, Redirect: redirect}, nil
}

func extractRedirect(line string) (string, *privexec.Redirection, error) {
	for _, op := range redirectOps {
		idx := strings.Index(line, op)
		if idx < 0 {
			continue
		}
		before := line[:idx]
		after := strings.TrimSpace(line[idx+len(op):])
		fields := strings.Fields(after)
		if len(fields) == 0 {
			return "", nil, fmt.Errorf("redirection operator %q has no target", op)
		}
		target := fields[0]
		rest := strings.Join(fields[1:], " ")
		body := before
		if rest != "" {
			body += " " + rest
		}
		return body, &privexec.Redirection{
			Path:   target,
			Append: op == ">>",
			Input:  op == "<",
		}, nil
	}
	return line, nil, nil
}
