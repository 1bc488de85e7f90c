package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/trailbench/trailbench/internal/store"
)

var tailDebounce time.Duration

var tailCmd = &cobra.Command{
	Use:   "tail <run-dir>",
	Short: "Watch a run directory for new trial logs",
	Long: `Watches a run directory and reprints the trial listing whenever a log is
written. Useful alongside a long 'trailbench run' in another terminal.

Stop with Ctrl-C.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runDir := args[0]

		if _, err := os.Stat(runDir); err != nil {
			return fmt.Errorf("run directory not found: %s", runDir)
		}

		printTrials := func() {
			st, err := store.Open(runDir)
			if err != nil {
				// The manifest may not exist yet early in a run.
				fmt.Printf("waiting for run manifest in %s\n", runDir)
				return
			}
			trials, err := st.ListTrials()
			if err != nil {
				logger.Error("listing trials", "error", err)
				return
			}

			fmt.Printf("\n%s  %d trial log(s)\n", time.Now().Format("15:04:05"), len(trials))
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TASK\tTRIAL\tPATH")
			for _, trial := range trials {
				fmt.Fprintf(w, "%s\t%d\t%s\n", trial.TaskID, trial.Index, trial.Path)
			}
			_ = w.Flush()
		}

		printTrials()

		watcher := store.NewWatcher(runDir, tailDebounce, printTrials, logger)
		return watcher.Watch(cmd.Context())
	},
}

func init() {
	tailCmd.Flags().DurationVar(&tailDebounce, "debounce", 500*time.Millisecond, "delay before reacting to a burst of writes")
}
