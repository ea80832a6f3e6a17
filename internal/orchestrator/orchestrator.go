// Package orchestrator drives one agent invocation end to end: resolve
// the agent and role, compose the prompt with conversation history,
// launch the subprocess, normalize its output, and record the turn.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"clink/internal/continuation"
	"clink/internal/launcher"
	"clink/internal/logging"
	"clink/internal/parser"
	"clink/internal/registry"
	"clink/internal/result"
	"clink/internal/roles"
	"clink/internal/telemetry"
)

// DefaultMaxAnswerChars caps the answer text carried back to the
// caller. Oversized answers are replaced by their <SUMMARY> section
// when the agent provided one.
const DefaultMaxAnswerChars = 100_000

const (
	summaryOpen  = "<SUMMARY>"
	summaryClose = "</SUMMARY>"
)

// Launcher is the subprocess boundary, satisfied by launcher.Launcher.
type Launcher interface {
	Launch(ctx context.Context, req launcher.Request) (launcher.Output, error)
}

// Options tune the orchestrator.
type Options struct {
	MaxAnswerChars  int // 0 means DefaultMaxAnswerChars
	MaxHistoryTurns int
	MaxHistoryBytes int
	RoleFallback    bool // fall back to the agent's default role
}

// Orchestrator executes invocations against a fixed registry, role
// store, and continuation store. Safe for concurrent use.
type Orchestrator struct {
	registry *registry.Registry
	roles    *roles.Store
	launcher Launcher
	store    continuation.Store
	log      *logging.Logger
	opts     Options
}

// New wires an Orchestrator.
func New(reg *registry.Registry, roleStore *roles.Store, l Launcher, store continuation.Store, log *logging.Logger, opts Options) *Orchestrator {
	if opts.MaxAnswerChars <= 0 {
		opts.MaxAnswerChars = DefaultMaxAnswerChars
	}
	return &Orchestrator{
		registry: reg,
		roles:    roleStore,
		launcher: l,
		store:    store,
		log:      log.WithComponent("orchestrator"),
		opts:     opts,
	}
}

// Request describes one invocation.
type Request struct {
	Agent          string
	Role           string // empty means the agent's default role
	Task           string
	ContinuationID string // empty starts a new conversation
	FileRefs       []string
	ImageRefs      []string
	Timeout        time.Duration // 0 means the agent's configured timeout
}

// Response is the outcome of one invocation. Result is always populated
// when the error is nil, including for timeouts and agent errors.
type Response struct {
	Result         result.Result
	ContinuationID string
	Turn           int
}

// Invoke runs one agent invocation. Pre-spawn failures (unknown agent,
// unknown role, unknown continuation id) return typed errors before any
// process starts; everything after the spawn comes back as a structured
// Result. The only post-spawn error is caller cancellation.
func (o *Orchestrator) Invoke(ctx context.Context, req Request) (Response, error) {
	ctx, span := telemetry.StartSpan(ctx, "invoke")
	defer span.End()
	span.SetAttributes(
		telemetry.StringAttr("agent", req.Agent),
		telemetry.StringAttr("role", req.Role),
	)

	if strings.TrimSpace(req.Task) == "" {
		err := errors.New("task must not be empty")
		telemetry.RecordError(span, err)
		return Response{}, err
	}

	cfg, err := o.registry.Resolve(req.Agent)
	if err != nil {
		telemetry.RecordError(span, err)
		return Response{}, err
	}
	tmpl, err := o.roles.Resolve(cfg.Name, req.Role, o.opts.RoleFallback)
	if err != nil {
		telemetry.RecordError(span, err)
		return Response{}, err
	}

	// Resolve history before spawning so a bogus continuation id costs
	// nothing.
	var history []roles.Exchange
	contID := req.ContinuationID
	if contID != "" {
		conv, err := o.store.Get(contID)
		if err != nil {
			telemetry.RecordError(span, err)
			return Response{}, err
		}
		history = toExchanges(conv.Turns)
	} else {
		contID, err = o.store.Create()
		if err != nil {
			telemetry.RecordError(span, err)
			return Response{}, fmt.Errorf("create conversation: %w", err)
		}
	}

	o.log.InvokeStart(cfg.Name, tmpl.Name, contID)

	composed := roles.Compose(tmpl, req.Task, history, roles.ComposeOptions{
		MaxHistoryTurns:    o.opts.MaxHistoryTurns,
		MaxHistoryBytes:    o.opts.MaxHistoryBytes,
		AnnounceTruncation: true,
	})

	out, err := o.launcher.Launch(ctx, launcher.Request{
		Config:    cfg,
		Prompt:    composed.Prompt,
		RoleArgs:  tmpl.Args,
		FileRefs:  req.FileRefs,
		ImageRefs: req.ImageRefs,
		Timeout:   req.Timeout,
	})

	var res result.Result
	switch {
	case err != nil && errors.Is(err, launcher.ErrLaunch):
		res = result.Result{
			Status:      result.StatusLaunchFailure,
			ErrorDetail: err.Error(),
			ExitCode:    -1,
		}
	case err != nil:
		// Caller cancellation: nothing to record, the conversation is
		// unchanged.
		telemetry.RecordError(span, err)
		return Response{}, err
	case out.TimedOut:
		timeout := req.Timeout
		if timeout <= 0 {
			timeout = cfg.Timeout
		}
		res = result.Result{
			Status:      result.StatusTimeout,
			ErrorDetail: fmt.Sprintf("agent %q timed out after %s", cfg.Name, timeout),
			ExitCode:    out.ExitCode,
		}
		if partial := strings.TrimSpace(out.Stdout); partial != "" {
			res.SetMeta("partial_output", capText(partial, o.opts.MaxAnswerChars))
		}
	default:
		res = parser.Parse(cfg.Format, parser.Raw{
			Stdout:   out.Stdout,
			Stderr:   out.Stderr,
			ExitCode: out.ExitCode,
		})
	}

	res.Duration = out.Duration
	res.SetMeta("agent", cfg.Name)
	res.SetMeta("role", tmpl.Name)
	res.SetMeta("duration_seconds", out.Duration.Seconds())
	res.SetMeta("output_format", string(cfg.Format))
	if len(out.Command) > 0 {
		res.SetMeta("command", strings.Join(out.Command, " "))
	}
	if composed.Truncated {
		res.SetMeta("history_truncated", true)
	}
	if len(history) > 0 {
		res.SetMeta("history_turns", composed.IncludedTurns)
	}

	o.capAnswer(&res)

	conv, err := o.store.Append(contID, continuation.Turn{
		Agent:  cfg.Name,
		Role:   tmpl.Name,
		Task:   req.Task,
		Prompt: composed.Prompt,
		Result: res,
	})
	if err != nil {
		// Evicted between Get and Append. The result is still returned;
		// only the thread is gone.
		o.log.Warn("turn_not_recorded", map[string]interface{}{
			"continuation": contID,
			"error":        err.Error(),
		})
		telemetry.RecordError(span, err)
		return Response{Result: res, ContinuationID: ""}, nil
	}

	span.SetAttributes(
		telemetry.StringAttr("status", string(res.Status)),
		telemetry.IntAttr("turn", conv.Turns[len(conv.Turns)-1].Index),
	)
	o.log.InvokeComplete(cfg.Name, tmpl.Name, string(res.Status), out.Duration)

	return Response{
		Result:         res,
		ContinuationID: contID,
		Turn:           conv.Turns[len(conv.Turns)-1].Index,
	}, nil
}

// capAnswer enforces the answer size cap. An oversized answer is
// replaced by its <SUMMARY> section when present, otherwise truncated.
func (o *Orchestrator) capAnswer(res *result.Result) {
	if len(res.Answer) <= o.opts.MaxAnswerChars {
		return
	}
	original := len(res.Answer)
	if summary, ok := extractSummary(res.Answer); ok {
		res.Answer = summary
		res.SetMeta("summarized", true)
	} else {
		res.Answer = capText(res.Answer, o.opts.MaxAnswerChars) +
			"\n[response truncated: exceeded size limit]"
	}
	res.SetMeta("output_truncated", true)
	res.SetMeta("original_answer_chars", original)
}

// extractSummary pulls the text between <SUMMARY> markers, if any.
func extractSummary(text string) (string, bool) {
	start := strings.Index(text, summaryOpen)
	if start < 0 {
		return "", false
	}
	rest := text[start+len(summaryOpen):]
	end := strings.Index(rest, summaryClose)
	if end < 0 {
		return "", false
	}
	summary := strings.TrimSpace(rest[:end])
	return summary, summary != ""
}

func capText(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit]
}

// toExchanges renders stored turns into compose history. Only the
// caller's original task and the answer travel forward, so composed
// prompts never nest.
func toExchanges(turns []continuation.Turn) []roles.Exchange {
	history := make([]roles.Exchange, 0, len(turns))
	for _, turn := range turns {
		answer := turn.Result.Answer
		if answer == "" && turn.Result.ErrorDetail != "" {
			answer = "[no answer: " + turn.Result.ErrorDetail + "]"
		}
		history = append(history, roles.Exchange{
			Agent:  turn.Agent,
			Role:   turn.Role,
			Task:   turn.Task,
			Answer: answer,
		})
	}
	return history
}
