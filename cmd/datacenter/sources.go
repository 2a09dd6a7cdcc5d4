package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func sourcesCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List configured sources and their health",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.close()

			snapshots := app.sources.Snapshots()
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SOURCE\tSTATUS\tREQUESTS\tSUCCESS RATE\tAVG MS")
			for _, id := range app.sources.IDs() {
				snap := snapshots[id]
				fmt.Fprintf(w, "%s\t%s\t%d\t%.1f%%\t%.0f\n",
					id, snap.Status, snap.TotalRequests, snap.SuccessRate*100, snap.AvgResponseTimeMS)
			}
			return w.Flush()
		},
	}
	return cmd
}
