// Package main defines the CLI structure using kong.
package main

import "github.com/alecthomas/kong"

// CLI defines the command-line interface.
type CLI struct {
	Config   []string `help:"Agent config file or directory (repeatable, later overrides earlier)" type:"path"`
	RolesDir string   `help:"Role manifest directory" type:"path"`
	LogLevel string   `default:"info" enum:"debug,info,warn,error" help:"Log level"`
	Trace    bool     `help:"Emit OpenTelemetry traces to stdout"`
	Store    string   `default:"memory" enum:"memory,sqlite" help:"Continuation store backend"`
	DB       string   `help:"SQLite database path (store=sqlite)" type:"path"`

	Run     RunCmd     `cmd:"" help:"Invoke an external CLI agent"`
	Agents  AgentsCmd  `cmd:"" help:"List configured agents"`
	Roles   RolesCmd   `cmd:"" help:"List roles configured for an agent"`
	Serve   ServeCmd   `cmd:"" help:"Run invocations from stdin, watching config for changes"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// RunCmd invokes one agent and prints the normalized result as JSON.
type RunCmd struct {
	Agent    string   `arg:"" help:"Agent name from the registry"`
	Task     string   `arg:"" optional:"" help:"Task text (reads stdin when omitted)"`
	Role     string   `short:"r" help:"Role preset (agent's default role when omitted)"`
	Continue string   `short:"c" help:"Continuation id from a previous invocation"`
	File     []string `short:"f" help:"File path passed to the agent (repeatable)"`
	Image    []string `help:"Image path passed to the agent (repeatable)"`
	Timeout  string   `help:"Override the agent's timeout (e.g. 90s, 10m)"`
}

// AgentsCmd lists configured agents.
type AgentsCmd struct{}

// RolesCmd lists roles for one agent.
type RolesCmd struct {
	Agent string `arg:"" help:"Agent name"`
}

// ServeCmd reads newline-delimited JSON invocation requests from stdin
// and hot-reloads agent configs on change.
type ServeCmd struct{}

// VersionCmd shows version information.
type VersionCmd struct{}

// kongVars returns variables for kong (version info).
func kongVars() kong.Vars {
	return kong.Vars{
		"version": version,
	}
}
