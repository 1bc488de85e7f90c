// Package cli provides the command-line interface for trailbench.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/trailbench/trailbench/internal/agent"
	"github.com/trailbench/trailbench/internal/config"
)

var (
	cfgFile string
	verbose bool
	cfg     *config.Config
	logger  *slog.Logger

	// dialer is the wire-level codec for agent sessions, registered by the
	// embedding program. The harness itself carries no message framing.
	dialer agent.Dialer
)

// SetDialer registers the wire codec used to talk to agent processes. It must
// be called before Execute for the run command to work.
func SetDialer(d agent.Dialer) {
	dialer = d
}

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "trailbench",
	Short: "Evaluation harness for autonomous coding agents",
	Long: `Trailbench runs autonomous coding agents against benchmark tasks in
isolated Docker containers, records every session update to a replayable
raw log, grades the outcomes, and aggregates metrics like pass@k across
repeated trials.

A benchmark is a YAML manifest naming task directories, graders, and
metrics. Each task ships its own prompt and optional Containerfile.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for help
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		// Setup logger
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))

		// Load config
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./trailbench.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Add subcommands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(versionCmd)
}

// Version information (set by build flags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("trailbench version %s\n", Version)
		fmt.Printf("  commit: %s\n", Commit)
		fmt.Printf("  built:  %s\n", BuildDate)
	},
}
