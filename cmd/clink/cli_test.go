package main

import (
	"errors"
	"testing"
	"time"

	"github.com/alecthomas/kong"

	"clink/internal/orchestrator"
	"clink/internal/result"
)

func parseCLI(t *testing.T, args ...string) (*CLI, *kong.Context) {
	t.Helper()
	var cli CLI
	parser, err := kong.New(&cli, kongVars())
	if err != nil {
		t.Fatal(err)
	}
	ctx, err := parser.Parse(args)
	if err != nil {
		t.Fatalf("parse %v: %v", args, err)
	}
	return &cli, ctx
}

func TestCLI_RunCmd(t *testing.T) {
	cli, ctx := parseCLI(t, "run", "codex", "review this diff",
		"-r", "codereviewer", "-c", "abc-123",
		"-f", "main.go", "-f", "util.go",
		"--timeout", "90s")

	if ctx.Command() != "run <agent> <task>" {
		t.Fatalf("command: %s", ctx.Command())
	}
	if cli.Run.Agent != "codex" || cli.Run.Task != "review this diff" {
		t.Errorf("positional args: %+v", cli.Run)
	}
	if cli.Run.Role != "codereviewer" || cli.Run.Continue != "abc-123" {
		t.Errorf("flags: %+v", cli.Run)
	}
	if len(cli.Run.File) != 2 {
		t.Errorf("files: %v", cli.Run.File)
	}
	if cli.Run.Timeout != "90s" {
		t.Errorf("timeout: %s", cli.Run.Timeout)
	}
}

func TestCLI_RunCmd_TaskOptional(t *testing.T) {
	cli, _ := parseCLI(t, "run", "gemini")
	if cli.Run.Task != "" {
		t.Errorf("expected empty task, got %q", cli.Run.Task)
	}
}

func TestCLI_GlobalFlags(t *testing.T) {
	cli, _ := parseCLI(t, "--log-level", "debug", "--store", "sqlite", "--db", "/tmp/c.db", "agents")
	if cli.LogLevel != "debug" {
		t.Errorf("log level: %s", cli.LogLevel)
	}
	if cli.Store != "sqlite" || cli.DB != "/tmp/c.db" {
		t.Errorf("store flags: %s %s", cli.Store, cli.DB)
	}
}

func TestCLI_RejectsBadEnums(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli, kongVars())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := parser.Parse([]string{"--store", "redis", "agents"}); err == nil {
		t.Error("expected error for unknown store backend")
	}
	if _, err := parser.Parse([]string{"--log-level", "loud", "agents"}); err == nil {
		t.Error("expected error for unknown log level")
	}
}

func TestRenderResponse(t *testing.T) {
	resp := orchestrator.Response{
		Result: result.Result{
			Status:   result.StatusTimeout,
			ExitCode: -1,
			Duration: 1500 * time.Millisecond,
			Metadata: map[string]any{"agent": "codex"},
		},
		ContinuationID: "abc",
		Turn:           3,
	}

	doc := renderResponse(resp)
	if doc.Status != "timeout" {
		t.Errorf("status: %s", doc.Status)
	}
	if doc.DurationSeconds != 1.5 {
		t.Errorf("duration: %v", doc.DurationSeconds)
	}
	if doc.ContinuationID != "abc" || doc.Turn != 3 {
		t.Errorf("continuation: %+v", doc)
	}
}

func TestRenderError(t *testing.T) {
	doc := renderError(errors.New("unknown agent"))
	if doc.Status != "error" || doc.ErrorDetail != "unknown agent" {
		t.Errorf("error doc: %+v", doc)
	}
	if doc.ExitCode != -1 {
		t.Errorf("exit code: %d", doc.ExitCode)
	}
}
