// Package parser normalizes heterogeneous CLI agent output.
//
// Each configured output format has its own parser; dispatch is by the
// agent's format tag. Parsers never fail hard: malformed output is
// itself a reportable agent error, and any answer text that can be
// recovered is kept even when the process exited nonzero.
package parser

import (
	"strings"

	"clink/internal/registry"
	"clink/internal/result"
)

// Raw is the captured output of one subprocess invocation.
type Raw struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Keys recognized as carrying the final answer, probed in order.
var answerKeys = []string{"answer", "result", "response", "text", "content"}

// Parse normalizes raw process output according to the format tag. The
// returned status is StatusOK only for a clean exit with a parsable
// answer; a nonzero exit code forces at least StatusAgentError while
// preserving whatever answer text was recoverable.
func Parse(format registry.OutputFormat, raw Raw) result.Result {
	var res result.Result
	switch format {
	case registry.FormatJSONL:
		res = parseJSONL(raw)
	case registry.FormatJSON:
		res = parseJSON(raw)
	case registry.FormatText:
		res = parseText(raw)
	default:
		res = result.Result{
			Status:      result.StatusAgentError,
			ErrorDetail: "unsupported output format: " + string(format),
		}
	}

	res.ExitCode = raw.ExitCode
	if raw.ExitCode != 0 && res.Status == result.StatusOK {
		res.Status = result.StatusAgentError
		if res.ErrorDetail == "" {
			res.ErrorDetail = exitDetail(raw)
		}
	}
	return res
}

// exitDetail derives an error description for a nonzero exit.
func exitDetail(raw Raw) string {
	if detail := strings.TrimSpace(raw.Stderr); detail != "" {
		return detail
	}
	return "process exited with nonzero status"
}

// extractAnswer probes a decoded JSON object for a recognized answer
// field. String lists are joined conservatively, as some CLIs emit the
// final message in fragments.
func extractAnswer(payload map[string]any) (string, bool) {
	for _, key := range answerKeys {
		value, ok := payload[key]
		if !ok {
			continue
		}
		switch v := value.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v), true
			}
		case []any:
			var parts []string
			for _, item := range v {
				if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
					parts = append(parts, strings.TrimSpace(s))
				}
			}
			if len(parts) > 0 {
				return strings.Join(parts, "\n"), true
			}
		}
	}
	return "", false
}

// extractError probes a decoded JSON object for an error description.
func extractError(payload map[string]any) string {
	switch v := payload["error"].(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		if msg, ok := v["message"].(string); ok {
			return strings.TrimSpace(msg)
		}
	}
	if msg, ok := payload["message"].(string); ok && payload["type"] == "error" {
		return strings.TrimSpace(msg)
	}
	return ""
}
