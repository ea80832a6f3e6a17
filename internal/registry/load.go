package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// ConfigPathEnv overrides or extends the agent configuration search
// path with an extra file or directory.
const ConfigPathEnv = "CLINK_AGENTS_PATH"

// DefaultTimeout applies when an agent definition omits timeout_seconds.
const DefaultTimeout = 5 * time.Minute

// fileConfig is the raw TOML shape of one configuration file.
type fileConfig struct {
	Agents map[string]agentEntry `toml:"agents"`
}

// agentEntry is one [agents.NAME] table before defaults are applied.
type agentEntry struct {
	Command        string            `toml:"command"`
	Args           []string          `toml:"args"`
	Env            map[string]string `toml:"env"`
	WorkingDir     string            `toml:"working_dir"`
	Format         string            `toml:"format"`
	TimeoutSeconds int               `toml:"timeout_seconds"`
	OutputToFile   *OutputCapture    `toml:"output_to_file"`
}

// LoadFile reads agent definitions from a single TOML file.
func LoadFile(path string) ([]AgentConfig, error) {
	var raw fileConfig
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	names := make([]string, 0, len(raw.Agents))
	for name := range raw.Agents {
		names = append(names, name)
	}
	sort.Strings(names)

	configs := make([]AgentConfig, 0, len(names))
	for _, name := range names {
		cfg, err := resolveEntry(name, raw.Agents[name])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

func resolveEntry(name string, entry agentEntry) (AgentConfig, error) {
	executable, leading := splitCommand(entry.Command)

	timeout := DefaultTimeout
	if entry.TimeoutSeconds > 0 {
		timeout = time.Duration(entry.TimeoutSeconds) * time.Second
	}

	format := OutputFormat(entry.Format)
	if entry.Format == "" {
		format = FormatText
	}

	args := append(leading, entry.Args...)

	cfg := AgentConfig{
		Name:       name,
		Executable: executable,
		Args:       args,
		Env:        entry.Env,
		WorkingDir: entry.WorkingDir,
		Format:     format,
		Timeout:    timeout,
		Capture:    entry.OutputToFile,
	}
	if err := cfg.Validate(); err != nil {
		return AgentConfig{}, err
	}
	return cfg, nil
}

// splitCommand breaks "codex exec" into executable plus leading args.
// Whitespace-only splitting: quoting belongs in the args list.
func splitCommand(command string) (string, []string) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}

// LoadDir reads every *.toml file in dir, lexically ordered.
func LoadDir(dir string) ([]AgentConfig, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read config dir: %w", err)
	}

	var configs []AgentConfig
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}
		fileConfigs, err := LoadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		configs = append(configs, fileConfigs...)
	}
	return configs, nil
}

// SearchPaths returns the configuration locations in override order:
// the built-in directory, then CLINK_AGENTS_PATH, then the user
// directory. Later entries override earlier ones by agent name.
func SearchPaths(builtinDir string) []string {
	paths := []string{builtinDir}
	if env := os.Getenv(ConfigPathEnv); env != "" {
		paths = append(paths, env)
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".clink", "agents"))
	}
	return paths
}

// Load reads agent definitions from the given locations. Each location
// may be a file or a directory; missing locations are skipped. A later
// definition replaces an earlier one with the same name.
func Load(paths ...string) ([]AgentConfig, error) {
	merged := make(map[string]AgentConfig)
	var order []string

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}

		var configs []AgentConfig
		if info.IsDir() {
			configs, err = LoadDir(path)
		} else {
			configs, err = LoadFile(path)
		}
		if err != nil {
			return nil, err
		}

		for _, cfg := range configs {
			key := strings.ToLower(cfg.Name)
			if _, seen := merged[key]; !seen {
				order = append(order, key)
			}
			merged[key] = cfg
		}
	}

	if len(merged) == 0 {
		return nil, fmt.Errorf("no agents configured in %s", strings.Join(paths, ", "))
	}

	configs := make([]AgentConfig, 0, len(order))
	for _, key := range order {
		configs = append(configs, merged[key])
	}
	return configs, nil
}
