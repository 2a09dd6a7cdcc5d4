package main

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfinance/datacenter/internal/scheduler"
	"github.com/openfinance/datacenter/internal/server"
)

func serveCmd(ctx context.Context) *cobra.Command {
	var (
		addr     string
		jobsPath string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admin API, and the job scheduler when configured",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.close()

			var sched *scheduler.Scheduler
			if jobsPath != "" {
				schedCfg, err := scheduler.LoadConfig(jobsPath)
				if err != nil {
					return err
				}
				sched, err = scheduler.New(schedCfg, app.tasks, app.cal)
				if err != nil {
					return err
				}
				sched.SetRunGauge(app.metrics.JobsRunning)
				sched.Start(ctx)
				defer sched.Stop()
			}

			srv := server.New(server.Options{
				Addr:      addr,
				Health:    app.health,
				Sources:   app.sources,
				Tasks:     app.tasks,
				Scheduler: sched,
				Metrics:   app.metrics,
			})

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			log.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "admin API listen address")
	cmd.Flags().StringVar(&jobsPath, "jobs", "", "scheduler config file; empty disables scheduling")
	return cmd
}
