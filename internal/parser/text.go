package parser

import (
	"strings"

	"clink/internal/result"
)

// parseText handles plain-text output: stdout is the answer verbatim.
// Stderr becomes the error detail only on a nonzero exit.
func parseText(raw Raw) result.Result {
	res := result.Result{
		Answer: strings.TrimRight(raw.Stdout, "\n"),
		Status: result.StatusOK,
	}
	if raw.ExitCode != 0 {
		res.Status = result.StatusAgentError
		res.ErrorDetail = exitDetail(raw)
	}
	return res
}
