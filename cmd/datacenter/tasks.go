package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func tasksCmd(ctx context.Context) *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List registered collection tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.close()

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TASK\tCATEGORY\tPRIORITY\tSCHEDULE\tDESCRIPTION")
			for _, meta := range app.tasks.List(category) {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					meta.TaskID, meta.Category, meta.Priority, meta.Schedule, meta.Description)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "filter by category")
	return cmd
}
