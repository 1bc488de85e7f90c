// Package agent defines the agent under evaluation and the session protocol
// collaborator interfaces the harness drives it through.
package agent

import "strings"

// installPlaceholder marks where a containerfile template expects the agent's
// install steps.
const installPlaceholder = "{agent_install}"

// Agent describes the external agent process under evaluation.
type Agent struct {
	// ID identifies the agent in results, e.g. "claude" or "gemini".
	ID string

	// Command is the argv launched inside the sandbox to start an agent
	// session over stdio.
	Command []string

	// ConfigPath and ConfigDest stage an optional local config file into the
	// sandbox before the session starts.
	ConfigPath string
	ConfigDest string

	// CredentialPath and CredentialDest stage an optional credential file.
	CredentialPath string
	CredentialDest string

	// Env is extra environment for the agent process.
	Env map[string]string

	// InstallBlock is the containerfile fragment that installs the agent,
	// substituted into the {agent_install} placeholder of templates.
	InstallBlock string
}

// FormatContainerfile substitutes the agent's install steps into a
// containerfile template. Templates without the placeholder pass through
// unchanged.
func (a Agent) FormatContainerfile(template string) string {
	return strings.ReplaceAll(template, installPlaceholder, a.InstallBlock)
}

// FormatCommand returns a copy of the launch argv.
func (a Agent) FormatCommand() []string {
	return append([]string(nil), a.Command...)
}
