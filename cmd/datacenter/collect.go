package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfinance/datacenter/internal/models"
	"github.com/openfinance/datacenter/internal/task"
)

func collectCmd(ctx context.Context) *cobra.Command {
	var (
		paramFlags []string
		timeoutSec int
	)
	cmd := &cobra.Command{
		Use:   "collect <task-id>",
		Short: "Run one collection task and print its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.close()

			exec, err := app.tasks.Get(args[0])
			if err != nil {
				return err
			}
			params, err := parseParams(paramFlags)
			if err != nil {
				return err
			}

			result, err := task.Run(ctx, exec, params, task.RunOptions{
				Timeout: time.Duration(timeoutSec) * time.Second,
				OnProgress: func(p task.Progress) {
					log.Info().Str("stage", string(p.Stage)).Int("total", p.Total).Msg("progress")
				},
			})
			if err != nil {
				return err
			}
			meta := exec.Metadata()
			app.observeRun(result, models.DataType(meta.Category), meta.TaskID)

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return err
			}
			if result.Stage != task.StageCompleted {
				return fmt.Errorf("run ended %s: %s", result.Stage, result.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&paramFlags, "param", "p", nil, "task parameter as key=value (repeatable)")
	cmd.Flags().IntVar(&timeoutSec, "timeout", 0, "run timeout in seconds (0 = default)")
	return cmd
}

// parseParams turns key=value flags into a parameter map. Comma-separated
// values stay strings; collectors split them as needed.
func parseParams(flags []string) (map[string]interface{}, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	params := make(map[string]interface{}, len(flags))
	for _, f := range flags {
		k, v, ok := strings.Cut(f, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("bad --param %q, want key=value", f)
		}
		params[k] = v
	}
	return params, nil
}
