package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"example.com/healthassistant/internal/aggregate"
	"example.com/healthassistant/internal/domain"
	"example.com/healthassistant/internal/events"
	"example.com/healthassistant/internal/projection"
)

// serviceOpener builds the domain service and returns a cleanup func.
type serviceOpener func(ctx context.Context) (*domain.Service, func(), error)

func newRootCommand(open serviceOpener) *cobra.Command {
	root := &cobra.Command{
		Use:           "reproject",
		Short:         "Rebuild projections from the event log",
		Long:          "reproject deletes projections and derives them again from the effective event log. Every command is safe to re-run.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(workoutsCommand(open), dateCommand(open))
	return root
}

func workoutsCommand(open serviceOpener) *cobra.Command {
	var deviceID string
	cmd := &cobra.Command{
		Use:   "workouts",
		Short: "Rebuild every workout projection of a device",
		RunE: func(cmd *cobra.Command, args []string) error {
			if deviceID == "" {
				return fmt.Errorf("--device is required")
			}
			svc, cleanup, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := svc.ReprojectAllWorkouts(cmd.Context(), deviceID)
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), "workouts", report)
			return nil
		},
	}
	cmd.Flags().StringVar(&deviceID, "device", "", "device identifier")
	return cmd
}

func dateCommand(open serviceOpener) *cobra.Command {
	var deviceID, from, to string
	cmd := &cobra.Command{
		Use:   "date",
		Short: "Rebuild the projections of one date or an inclusive range of dates",
		RunE: func(cmd *cobra.Command, args []string) error {
			if deviceID == "" || from == "" {
				return fmt.Errorf("--device and --date are required")
			}
			start, err := events.ParseDate(from)
			if err != nil {
				return fmt.Errorf("--date: %w", err)
			}
			end := start
			if to != "" {
				if end, err = events.ParseDate(to); err != nil {
					return fmt.Errorf("--to: %w", err)
				}
			}
			if err := aggregate.ValidateRange(start, end); err != nil {
				return err
			}

			svc, cleanup, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			var failed error
			for _, d := range events.DatesBetween(start, end) {
				report, err := svc.ReprojectDate(cmd.Context(), deviceID, d)
				if err != nil {
					failed = errors.Join(failed, fmt.Errorf("%s: %w", events.FormatDate(d), err))
					continue
				}
				printReport(cmd.OutOrStdout(), events.FormatDate(d), report)
			}
			return failed
		},
	}
	cmd.Flags().StringVar(&deviceID, "device", "", "device identifier")
	cmd.Flags().StringVar(&from, "date", "", "date to rebuild (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "last date of the range to rebuild (YYYY-MM-DD)")
	return cmd
}

func printReport(w io.Writer, label string, report projection.Report) {
	fmt.Fprintf(w, "%s\tprojected=%d\talready_projected=%d\tfailed=%d\n",
		label, report.Projected, report.AlreadyProjected, report.Failed())
}
