package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

const calendarDateLayout = "2006-01-02"

func calendarCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Trading calendar queries",
	}
	cmd.AddCommand(calendarCheckCmd(ctx), calendarLatestCmd(ctx), calendarNextCmd(ctx))
	return cmd
}

func parseDateArg(args []string, loc *time.Location) (time.Time, error) {
	if len(args) == 0 {
		return time.Now().In(loc), nil
	}
	t, err := time.ParseInLocation(calendarDateLayout, args[0], loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad date %q, want YYYY-MM-DD", args[0])
	}
	return t, nil
}

func calendarCheckCmd(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "check [date]",
		Short: "Report whether a date is a trading day",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.close()

			day, err := parseDateArg(args, app.cal.Location())
			if err != nil {
				return err
			}
			if app.cal.IsTradingDay(day) {
				fmt.Printf("%s is a trading day\n", day.Format(calendarDateLayout))
			} else {
				fmt.Printf("%s is not a trading day\n", day.Format(calendarDateLayout))
			}
			return nil
		},
	}
}

func calendarLatestCmd(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "latest [date]",
		Short: "Print the latest trading day at or before a date",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.close()

			day, err := parseDateArg(args, app.cal.Location())
			if err != nil {
				return err
			}
			latest, err := app.cal.LatestTradingDay(day)
			if err != nil {
				return err
			}
			fmt.Println(latest.Format(calendarDateLayout))
			return nil
		},
	}
}

func calendarNextCmd(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "next [date]",
		Short: "Print the first trading day after a date",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.close()

			day, err := parseDateArg(args, app.cal.Location())
			if err != nil {
				return err
			}
			next, err := app.cal.NextTradingDay(day)
			if err != nil {
				return err
			}
			fmt.Println(next.Format(calendarDateLayout))
			return nil
		},
	}
}
