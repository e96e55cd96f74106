// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package validator

import (
	"fmt"
	"strings"

	"github.com/morganforge/sudosh/internal/sherr"
)

// ValidatePipeline accepts a `|`-separated command iff every stage's
// program is in the text-processing whitelist. find with -exec,
// -execdir, or -delete is rejected even though find itself is
// whitelisted.
func ValidatePipeline(line string) error {
	stages := strings.Split(line, "|")
	for _, stage := range stages {
		stage = strings.TrimSpace(stage)
		if stage == "" {
			return sherr.New(sherr.KindValidationReject, "empty pipeline stage")
		}
		program := basename(firstToken(stage))
		if !pipeWhitelist[program] {
			return sherr.New(sherr.KindValidationReject, fmt.Sprintf("program %q not allowed in a pipeline", program))
		}
		if program == "find" {
			for _, flag := range []string{"-exec", "-execdir", "-delete"} {
				if strings.Contains(stage, flag) {
					return sherr.New(sherr.KindValidationReject, fmt.Sprintf("find %s is not allowed in a pipeline", flag))
				}
			}
		}
	}
	return nil
}
