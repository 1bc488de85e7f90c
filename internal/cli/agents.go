package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List available agents",
	Long:  `Lists the agents available for evaluation, built-in and user-configured.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSOURCE\tCOMMAND")
		fmt.Fprintln(w, "----\t------\t-------")

		for _, name := range cfg.ListAgents() {
			source := "builtin"
			if _, ok := cfg.Agents[name]; ok {
				source = "config"
			}
			a := cfg.GetAgent(name)
			fmt.Fprintf(w, "%s\t%s\t%s\n", name, source, strings.Join(a.Command, " "))
		}

		if err := w.Flush(); err != nil {
			return err
		}

		if len(cfg.Agents) == 0 {
			fmt.Println("\nAdd custom agents under [agents.<name>] in ./trailbench.toml")
		}
		return nil
	},
}
