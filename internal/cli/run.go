package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/trailbench/trailbench/internal/bench"
	"github.com/trailbench/trailbench/internal/harness"
	"github.com/trailbench/trailbench/internal/report"
	"github.com/trailbench/trailbench/internal/sandbox"
	"github.com/trailbench/trailbench/internal/store"
)

var (
	runAgent           string
	runTrials          int
	runConcurrency     int
	runConcurrentGrade bool
	runResultsDir      string
	runKeepImages      bool
)

var runCmd = &cobra.Command{
	Use:   "run <benchmark.yaml>",
	Short: "Run a benchmark against an agent",
	Long: `Runs every task in the benchmark manifest against the selected agent.

Each trial builds the task's container image, drives an agent session
inside it, persists the raw update log, and grades the result. Repeated
trials feed pass@k and the other configured metrics.

Examples:
  trailbench run --agent claude benchmarks/smoke/benchmark.yaml
  trailbench run --agent gemini --trials 5 --concurrency 4 bench.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if dialer == nil {
			return fmt.Errorf("no session dialer registered: embed trailbench and call cli.SetDialer with your wire codec")
		}

		agentCfg := cfg.GetAgent(runAgent)
		if agentCfg == nil {
			return fmt.Errorf("unknown agent %q (see 'trailbench agents')", runAgent)
		}

		b, err := bench.LoadManifest(args[0])
		if err != nil {
			return fmt.Errorf("loading benchmark: %w", err)
		}

		builder, err := sandbox.NewDockerBuilder(runKeepImages || cfg.Docker.KeepImages, logger)
		if err != nil {
			return err
		}
		defer builder.Close()

		opts := harness.Options{
			TrialCount:      cfg.Harness.TrialCount,
			Concurrency:     cfg.Harness.Concurrency,
			ConcurrentGrade: cfg.Harness.ConcurrentGrade || runConcurrentGrade,
		}
		if runTrials > 0 {
			opts.TrialCount = runTrials
		}
		if runConcurrency > 0 {
			opts.Concurrency = runConcurrency
		}

		resultsDir := runResultsDir
		if resultsDir == "" {
			resultsDir = cfg.Harness.ResultsDir
		}
		runDir := filepath.Join(resultsDir,
			fmt.Sprintf("%s-%s", time.Now().Format("2006-01-02T150405"), runAgent))

		st, err := store.New(runDir, runAgent, b.Metadata().ID)
		if err != nil {
			return fmt.Errorf("creating run store: %w", err)
		}

		h := harness.New(agentCfg.Agent(runAgent), b, builder, dialer, st, opts, logger)

		result, err := h.Run(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Print(report.FormatTerminal(result))

		if err := report.WriteSummary(runDir, result); err != nil {
			return fmt.Errorf("writing summary: %w", err)
		}
		fmt.Printf("\nResults written to %s\n", runDir)

		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&runAgent, "agent", "a", "", "agent to evaluate (required)")
	runCmd.Flags().IntVarP(&runTrials, "trials", "n", 0, "trials per task (default: from config)")
	runCmd.Flags().IntVarP(&runConcurrency, "concurrency", "c", 0, "concurrent trials (default: from config)")
	runCmd.Flags().BoolVar(&runConcurrentGrade, "concurrent-grade", false, "run a trial's graders in parallel")
	runCmd.Flags().StringVarP(&runResultsDir, "results-dir", "o", "", "results directory (default: from config)")
	runCmd.Flags().BoolVar(&runKeepImages, "keep-images", false, "keep built container images after the run")
	_ = runCmd.MarkFlagRequired("agent")
}
