// Package launcher spawns external CLI agents as subprocesses.
//
// One subprocess per invocation, prompt on stdin, stdout/stderr fully
// captured. A wall-clock timeout (or caller cancellation, same path)
// terminates the process group. No retries: external agents may have
// side effects that are unsafe to repeat.
package launcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"clink/internal/logging"
	"clink/internal/registry"
)

// ErrLaunch marks failures to start the process at all (executable
// missing, permission denied). Distinct from the agent running and
// reporting an error.
var ErrLaunch = errors.New("launch failure")

// waitDelay bounds how long Wait blocks on lingering pipe readers after
// the context fires, in case the agent leaked the pipes to a child.
const waitDelay = 5 * time.Second

// Request describes one subprocess invocation.
type Request struct {
	Config    registry.AgentConfig
	Prompt    string
	RoleArgs  []string // per-role extra arguments
	FileRefs  []string // passed as path arguments, never opened here
	ImageRefs []string
	Timeout   time.Duration // 0 means Config.Timeout
}

// Output is the raw, unparsed outcome of one invocation.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
	Command  []string // resolved argv, for diagnostics
}

// Launcher runs subprocess invocations.
type Launcher struct {
	log *logging.Logger
}

// New creates a Launcher.
func New(log *logging.Logger) *Launcher {
	return &Launcher{log: log.WithComponent("launcher")}
}

// Launch runs the configured agent once and captures its output. The
// returned error is non-nil only for launch failures and caller
// cancellation; a timeout or a nonzero exit is reported in Output.
func (l *Launcher) Launch(ctx context.Context, req Request) (Output, error) {
	cfg := req.Config

	executable, err := exec.LookPath(cfg.Executable)
	if err != nil {
		return Output{}, fmt.Errorf("%w: executable %q not found for agent %q: %v",
			ErrLaunch, cfg.Executable, cfg.Name, err)
	}

	args := make([]string, 0, len(cfg.Args)+len(req.RoleArgs)+len(req.FileRefs)+len(req.ImageRefs)+2)
	args = append(args, cfg.Args...)
	args = append(args, req.RoleArgs...)
	args = append(args, req.FileRefs...)
	args = append(args, req.ImageRefs...)

	var captureFile string
	if cfg.Capture != nil {
		f, err := os.CreateTemp("", "clink-*.json")
		if err != nil {
			return Output{}, fmt.Errorf("%w: create capture file: %v", ErrLaunch, err)
		}
		captureFile = f.Name()
		f.Close()
		rendered := strings.ReplaceAll(cfg.Capture.FlagTemplate, "{path}", captureFile)
		args = append(args, strings.Fields(rendered)...)
		if cfg.Capture.Cleanup {
			defer os.Remove(captureFile)
		}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = cfg.Timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, executable, args...)
	cmd.Dir = cfg.WorkingDir
	cmd.Env = overlayEnv(cfg.Env)
	cmd.Stdin = strings.NewReader(req.Prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	// Terminate the whole process group so children the agent spawned
	// for its own tool use do not outlive it.
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return terminate(cmd) }

	l.log.LaunchStart(cfg.Name, executable)
	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	out := Output{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: -1,
		Duration: duration,
		Command:  append([]string{executable}, args...),
	}
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
	}

	switch {
	case runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil:
		out.TimedOut = true
	case ctx.Err() != nil:
		// Caller cancellation shares the termination path with timeout;
		// partial output still travels back for diagnostics.
		l.log.LaunchComplete(cfg.Name, out.ExitCode, false, duration)
		return out, ctx.Err()
	case runErr != nil:
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return out, fmt.Errorf("%w: agent %q: %v", ErrLaunch, cfg.Name, runErr)
		}
	}

	if captureFile != "" && strings.TrimSpace(out.Stdout) == "" {
		if content, err := os.ReadFile(captureFile); err == nil && len(content) > 0 {
			out.Stdout = string(content)
		}
	}

	l.log.LaunchComplete(cfg.Name, out.ExitCode, out.TimedOut, duration)
	return out, nil
}

// overlayEnv merges the agent's env vars over the parent environment.
func overlayEnv(overlay map[string]string) []string {
	if len(overlay) == 0 {
		return nil // inherit as-is
	}
	env := os.Environ()
	for k, v := range overlay {
		env = append(env, k+"="+v)
	}
	return env
}
