package parser

import (
	"encoding/json"
	"strings"

	"clink/internal/result"
)

// rawPreviewLimit bounds how much malformed output is carried in the
// error detail. The full text stays in metadata.
const rawPreviewLimit = 2048

// parseJSON handles single-object output: the entire stdout must decode
// as one JSON object with at least an answer field. Malformed JSON
// yields an agent error with the raw text preserved.
func parseJSON(raw Raw) result.Result {
	trimmed := strings.TrimSpace(raw.Stdout)
	if trimmed == "" {
		return result.Result{
			Status:      result.StatusAgentError,
			ErrorDetail: "empty stdout while JSON output was expected",
		}
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		res := result.Result{
			Status:      result.StatusAgentError,
			ErrorDetail: "malformed JSON output: " + err.Error() + "\n" + preview(trimmed),
		}
		res.SetMeta("raw", trimmed)
		return res
	}

	res := result.Result{}
	res.SetMeta("raw", payload)
	if model, ok := payload["model"].(string); ok {
		res.SetMeta("model_used", model)
	}
	if usage, ok := payload["usage"].(map[string]any); ok {
		res.SetMeta("usage", usage)
	}

	answer, found := extractAnswer(payload)
	res.Answer = answer

	switch {
	case raw.ExitCode != 0:
		res.Status = result.StatusAgentError
		if detail := extractError(payload); detail != "" {
			res.ErrorDetail = detail
		} else {
			res.ErrorDetail = exitDetail(raw)
		}
	case !found:
		res.Status = result.StatusAgentError
		if detail := extractError(payload); detail != "" {
			res.ErrorDetail = detail
		} else {
			res.ErrorDetail = "JSON output missing a recognized answer field"
		}
	default:
		res.Status = result.StatusOK
	}
	return res
}

func preview(s string) string {
	if len(s) <= rawPreviewLimit {
		return s
	}
	return s[:rawPreviewLimit] + "…"
}
