// Package config provides configuration loading and management for trailbench.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/trailbench/trailbench/internal/agent"
)

// AgentConfig defines how to launch an agent inside the sandbox.
type AgentConfig struct {
	Command        []string          `toml:"command"`         // Argv starting an agent session over stdio
	Config         string            `toml:"config"`          // In-container destination for the staged config file
	Credential     string            `toml:"credential"`      // In-container destination for the staged credential file
	ConfigPath     string            `toml:"config_path"`     // Local config file to stage, if any
	CredentialPath string            `toml:"credential_path"` // Local credential file to stage, if any
	Env            map[string]string `toml:"env"`             // Environment variables for the agent process
	Install        string            `toml:"install"`         // Containerfile fragment installing the agent
}

// Agent converts the config entry into the runtime agent description.
func (a AgentConfig) Agent(name string) agent.Agent {
	return agent.Agent{
		ID:             name,
		Command:        append([]string(nil), a.Command...),
		ConfigPath:     a.ConfigPath,
		ConfigDest:     a.Config,
		CredentialPath: a.CredentialPath,
		CredentialDest: a.Credential,
		Env:            a.Env,
		InstallBlock:   a.Install,
	}
}

// DefaultAgents provides built-in configurations for popular coding agents.
var DefaultAgents = map[string]AgentConfig{
	"claude": {
		Command:    []string{"claude-code-acp"},
		Config:     "/root/.claude/settings.json",
		Credential: "/root/.claude/.credentials.json",
		Install:    "RUN npm install -g @zed-industries/claude-code-acp",
	},
	"gemini": {
		Command: []string{"gemini", "--experimental-acp"},
		Config:  "/root/.gemini/settings.json",
		Install: "RUN npm install -g @google/gemini-cli",
	},
	"codex": {
		Command:    []string{"codex-acp"},
		Config:     "/root/.codex/config.toml",
		Credential: "/root/.codex/auth.json",
		Install:    "RUN npm install -g @openai/codex-acp",
	},
}

// Config holds all configuration for trailbench.
type Config struct {
	Harness HarnessConfig          `toml:"harness"`
	Docker  DockerConfig           `toml:"docker"`
	Agents  map[string]AgentConfig `toml:"agents"`
}

// HarnessConfig contains harness-specific settings.
type HarnessConfig struct {
	ResultsDir      string `toml:"results_dir"`
	TrialCount      int    `toml:"trial_count"`
	Concurrency     int    `toml:"concurrency"`
	ConcurrentGrade bool   `toml:"concurrent_grade"`
}

// DockerConfig contains Docker-related settings.
type DockerConfig struct {
	KeepImages bool              `toml:"keep_images"`
	BuildArgs  map[string]string `toml:"build_args"`
}

// Default configuration values.
var Default = Config{
	Harness: HarnessConfig{
		ResultsDir:  "./runs",
		TrialCount:  1,
		Concurrency: 1,
	},
}

// configPaths returns the list of paths to search for config files.
func configPaths() []string {
	paths := []string{"./trailbench.toml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".trailbench.toml"))
		paths = append(paths, filepath.Join(home, ".config", "trailbench", "config.toml"))
	}

	return paths
}

// Load loads configuration from a file or discovers it automatically.
// If configFile is empty, it searches standard locations.
// Returns default config if no file is found.
func Load(configFile string) (*Config, error) {
	cfg := Default // Start with defaults

	var path string
	if configFile != "" {
		path = configFile
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	} else {
		for _, p := range configPaths() {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}

	if path == "" {
		return &cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	// Ensure critical fields aren't zeroed out by partial config
	if cfg.Harness.ResultsDir == "" {
		cfg.Harness.ResultsDir = Default.Harness.ResultsDir
	}
	if cfg.Harness.TrialCount <= 0 {
		cfg.Harness.TrialCount = Default.Harness.TrialCount
	}
	if cfg.Harness.Concurrency <= 0 {
		cfg.Harness.Concurrency = Default.Harness.Concurrency
	}

	return &cfg, nil
}

// GetAgent returns the agent configuration for the given name.
// User-configured agents take precedence over built-in defaults.
// Returns nil if the agent is not found.
func (c *Config) GetAgent(name string) *AgentConfig {
	// Check user-configured agents first
	if c.Agents != nil {
		if a, ok := c.Agents[name]; ok {
			return &a
		}
	}
	// Fall back to built-in defaults
	if a, ok := DefaultAgents[name]; ok {
		return &a
	}
	return nil
}

// ListAgents returns all available agent names (built-in + user-configured), sorted.
func (c *Config) ListAgents() []string {
	seen := make(map[string]bool)
	var names []string

	for name := range c.Agents {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	for name := range DefaultAgents {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	sort.Strings(names)

	return names
}
