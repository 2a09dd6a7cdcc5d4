package main

import (
	"context"

	"github.com/spf13/cobra"
)

var (
	flagConfig     string
	flagCollectors string
	flagTables     string
)

// Execute wires and runs the CLI.
func Execute(ctx context.Context) error {
	root := &cobra.Command{
		Use:   "datacenter",
		Short: "Market data acquisition and integration service",
		Long: "datacenter collects quotes, financials, news and macro series from\n" +
			"configured upstream sources, normalizes them into canonical records\n" +
			"and upserts them into Postgres.",
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "config/datacenter.yaml", "path to the main config file")
	root.PersistentFlags().StringVar(&flagCollectors, "collectors", "config/collectors", "directory of collector spec files")
	root.PersistentFlags().StringVar(&flagTables, "tables", "config/tables.yaml", "path to the table registry")

	root.AddCommand(collectCmd(ctx))
	root.AddCommand(serveCmd(ctx))
	root.AddCommand(tasksCmd(ctx))
	root.AddCommand(sourcesCmd(ctx))
	root.AddCommand(calendarCmd(ctx))
	return root.ExecuteContext(ctx)
}
