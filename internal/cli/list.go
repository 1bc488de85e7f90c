package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/trailbench/trailbench/internal/bench"
)

var listJSON bool

var listCmd = &cobra.Command{
	Use:   "list <benchmark.yaml>",
	Short: "List the tasks of a benchmark",
	Long:  `Lists every task declared in the benchmark manifest.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := bench.LoadManifest(args[0])
		if err != nil {
			return fmt.Errorf("loading benchmark: %w", err)
		}

		taskList, err := b.LoadTasks()
		if err != nil {
			return err
		}

		if listJSON {
			type taskInfo struct {
				ID          string `json:"id"`
				Name        string `json:"name,omitempty"`
				Description string `json:"description,omitempty"`
				Root        string `json:"root"`
				Workdir     string `json:"workdir"`
			}
			infos := make([]taskInfo, 0, len(taskList))
			for _, t := range taskList {
				infos = append(infos, taskInfo{
					ID:          t.Metadata.ID,
					Name:        t.Metadata.Name,
					Description: t.Metadata.Description,
					Root:        t.RootPath,
					Workdir:     t.Workdir(),
				})
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(infos)
		}

		meta := b.Metadata()
		fmt.Printf("%s (%d tasks, graders: %v)\n\n", meta.ID, len(taskList), b.Graders().IDs())

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tDESCRIPTION")
		fmt.Fprintln(w, "--\t----\t-----------")

		for _, t := range taskList {
			desc := t.Metadata.Description
			if len(desc) > 50 {
				desc = desc[:47] + "..."
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", t.Metadata.ID, t.Metadata.Name, desc)
		}

		return w.Flush()
	},
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "output as JSON")
}
