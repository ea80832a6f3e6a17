package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"clink/internal/orchestrator"
	"clink/internal/result"
)

// invocationOutput is the JSON document printed for every invocation.
// Pre-spawn failures (unknown agent, unknown role, stale continuation
// id) use status "error" so callers always parse one shape.
type invocationOutput struct {
	Status          string         `json:"status"`
	Answer          string         `json:"answer,omitempty"`
	ErrorDetail     string         `json:"error_detail,omitempty"`
	ExitCode        int            `json:"exit_code"`
	DurationSeconds float64        `json:"duration_seconds"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	ContinuationID  string         `json:"continuation_id,omitempty"`
	Turn            int            `json:"turn"`
}

func renderResponse(resp orchestrator.Response) invocationOutput {
	return invocationOutput{
		Status:          string(resp.Result.Status),
		Answer:          resp.Result.Answer,
		ErrorDetail:     resp.Result.ErrorDetail,
		ExitCode:        resp.Result.ExitCode,
		DurationSeconds: resp.Result.Duration.Seconds(),
		Metadata:        resp.Result.Metadata,
		ContinuationID:  resp.ContinuationID,
		Turn:            resp.Turn,
	}
}

func renderError(err error) invocationOutput {
	return invocationOutput{
		Status:      "error",
		ErrorDetail: err.Error(),
		ExitCode:    -1,
	}
}

func printJSON(w io.Writer, doc invocationOutput) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// Run invokes one agent and prints the normalized result.
func (r *RunCmd) Run(a *app) error {
	task := r.Task
	if task == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read task from stdin: %w", err)
		}
		task = string(data)
	}
	if strings.TrimSpace(task) == "" {
		return fmt.Errorf("no task given (pass it as an argument or on stdin)")
	}

	var timeout time.Duration
	if r.Timeout != "" {
		var err error
		timeout, err = time.ParseDuration(r.Timeout)
		if err != nil {
			return fmt.Errorf("invalid --timeout: %w", err)
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	resp, err := a.orch.Invoke(ctx, orchestrator.Request{
		Agent:          r.Agent,
		Role:           r.Role,
		Task:           task,
		ContinuationID: r.Continue,
		FileRefs:       r.File,
		ImageRefs:      r.Image,
		Timeout:        timeout,
	})
	if err != nil {
		printJSON(os.Stdout, renderError(err))
		os.Exit(2)
	}

	if err := printJSON(os.Stdout, renderResponse(resp)); err != nil {
		return err
	}
	if resp.Result.Status != result.StatusOK {
		os.Exit(1)
	}
	return nil
}

// Run lists configured agents.
func (c *AgentsCmd) Run(a *app) error {
	for _, name := range a.registry.List() {
		cfg, err := a.registry.Resolve(name)
		if err != nil {
			continue
		}
		command := cfg.Executable
		if len(cfg.Args) > 0 {
			command += " " + strings.Join(cfg.Args, " ")
		}
		fmt.Printf("%-12s %-6s timeout=%-8s %s\n", cfg.Name, cfg.Format, cfg.Timeout, command)
	}
	return nil
}

// Run lists roles configured for one agent.
func (c *RolesCmd) Run(a *app) error {
	if _, err := a.registry.Resolve(c.Agent); err != nil {
		return err
	}
	names := a.roles.Roles(c.Agent)
	if len(names) == 0 {
		fmt.Printf("no roles configured for %s (runs with a bare prompt)\n", c.Agent)
		return nil
	}
	for _, name := range names {
		tmpl, err := a.roles.Resolve(c.Agent, name, false)
		if err != nil {
			continue
		}
		desc := tmpl.Description
		if desc == "" {
			desc = "-"
		}
		fmt.Printf("%-16s %s\n", name, desc)
	}
	return nil
}

// Run prints version information.
func (c *VersionCmd) Run(a *app) error {
	fmt.Printf("clink version %s (commit: %s, built: %s)\n", version, commit, buildTime)
	return nil
}
