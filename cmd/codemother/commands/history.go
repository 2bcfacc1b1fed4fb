package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/codemother/codemother/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		appID int64
		limit int
	)

	cmd := &cobra.Command{
		Use:   "history [execution-id]",
		Short: "Show recorded workflow executions",
		Long: `List recorded executions, newest first, or show the node events of one
execution.`,
		Example: `  # Last executions of app 42
  codemother history --app-id 42

  # Node timeline of one execution
  codemother history 42_1700000000000`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			store, err := stores.Open(ctx, cfg.Stores.SQLitePath)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 1 {
				exec, err := store.GetExecution(ctx, args[0])
				if err != nil {
					return err
				}
				events, err := store.ListNodeEvents(ctx, exec.ID)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(map[string]interface{}{"execution": exec, "nodes": events})
				}
				printExecutions([]*stores.Execution{exec})
				fmt.Println()
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "NODE\tSTATUS\tDURATION\tERROR")
				for _, ev := range events {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ev.Node, ev.Status, ev.Duration, deref(ev.Error))
				}
				return w.Flush()
			}

			execs, err := store.ListExecutions(ctx, appID, limit, 0)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(execs)
			}
			printExecutions(execs)
			return nil
		},
	}

	cmd.Flags().Int64Var(&appID, "app-id", 0, "only executions of this app")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of executions")

	return cmd
}

func printExecutions(execs []*stores.Execution) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tAPP\tTYPE\tSTATUS\tFIXES\tFORCED\tSTARTED")
	for _, e := range execs {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%d\t%t\t%s\n",
			e.ID, e.AppID, e.GenerationType, e.Status, e.FixRetryCount, e.ForcedPass,
			e.StartedAt.Local().Format(time.DateTime))
	}
	_ = w.Flush()
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
