package parser

import (
	"encoding/json"
	"strings"

	"clink/internal/result"
)

// parseJSONL handles line-delimited JSON: each line is an independent
// object. The last well-formed object carrying a recognized answer
// field wins; earlier lines are progress telemetry. When the process
// exited nonzero, the last parseable object's error field (if any)
// populates the error detail.
func parseJSONL(raw Raw) result.Result {
	var (
		answer    string
		found     bool
		lastError string
		usage     map[string]any
		events    int
	)

	for _, line := range strings.Split(raw.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "{") {
			continue
		}

		var payload map[string]any
		if err := json.Unmarshal([]byte(line), &payload); err != nil {
			continue
		}
		events++

		if text, ok := extractAnswer(payload); ok {
			answer = text
			found = true
		}
		if detail := extractError(payload); detail != "" {
			lastError = detail
		}
		if u, ok := payload["usage"].(map[string]any); ok {
			usage = u
		}
	}

	res := result.Result{Answer: answer}
	res.SetMeta("events", events)
	if usage != nil {
		res.SetMeta("usage", usage)
	}

	switch {
	case raw.ExitCode != 0:
		res.Status = result.StatusAgentError
		if lastError != "" {
			res.ErrorDetail = lastError
		} else {
			res.ErrorDetail = exitDetail(raw)
		}
	case !found:
		res.Status = result.StatusAgentError
		res.ErrorDetail = "no JSONL object contained a recognized answer field"
		if lastError != "" {
			res.ErrorDetail = lastError
		}
	default:
		res.Status = result.StatusOK
	}
	return res
}
