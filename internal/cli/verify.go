package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trailbench/trailbench/internal/store"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <run-dir>",
	Short: "Verify integrity of a run's raw logs",
	Long: `Verifies that the persisted trial logs of a run still match the digests
recorded in its manifest.

No trials are re-run; this only validates digest integrity.

Examples:
  trailbench verify runs/2026-08-30T120000-claude`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening run: %w", err)
		}

		manifest := st.Manifest()

		fmt.Println()
		fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		fmt.Println(" TRAILBENCH - Run Verification")
		fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		fmt.Println()
		fmt.Printf(" Agent:     %s\n", manifest.AgentID)
		fmt.Printf(" Benchmark: %s\n", manifest.Benchmark)
		fmt.Printf(" Created:   %s\n", manifest.Created.Format("2006-01-02 15:04:05 MST"))
		fmt.Printf(" Logs:      %d\n", len(manifest.Digests))
		fmt.Println()

		problems := st.Verify()
		if len(problems) == 0 {
			fmt.Printf(" ✓ PASSED: all %d log digests match\n", len(manifest.Digests))
			fmt.Println()
			fmt.Println(" The raw logs are unmodified since the run.")
			return nil
		}

		for _, problem := range problems {
			marker := "✗"
			if !errors.Is(problem, store.ErrDigestMismatch) {
				marker = "?"
			}
			fmt.Printf(" %s %v\n", marker, problem)
		}
		fmt.Println()
		fmt.Printf(" ✗ FAILED: %d of %d logs did not verify\n", len(problems), len(manifest.Digests))

		return fmt.Errorf("verification failed")
	},
}
