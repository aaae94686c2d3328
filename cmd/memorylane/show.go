package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/memorylane/memorylane/internal/config"
	"github.com/memorylane/memorylane/internal/factory"
	"github.com/memorylane/memorylane/internal/logger"
	"github.com/memorylane/memorylane/internal/model"
	"github.com/memorylane/memorylane/internal/provider"
)

const showDateLayout = "02-01-2006"

func newShowCmd() *cobra.Command {
	var (
		onFlag           string
		seekDays         int
		providersFlag    []string
		ignoreGroupsFlag bool
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the timeline for a date on stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			on, err := time.Parse(showDateLayout, onFlag)
			if err != nil {
				return fmt.Errorf("date format invalid, use dd-mm-yyyy")
			}
			if seekDays < 0 {
				seekDays = 0
			}

			cfg, err := config.New()
			if err != nil {
				return err
			}
			agg, err := factory.NewAggregator(cfg, logger.New("memorylane"))
			if err != nil {
				return err
			}

			return runShow(cmd.Context(), agg, model.DateOf(on), seekDays, providersFlag, ignoreGroupsFlag, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&onFlag, "on", "", "The date in dd-mm-yyyy format (required)")
	cmd.Flags().IntVar(&seekDays, "seek-days", 0, "Number of days before/after to look")
	cmd.Flags().StringSliceVar(&providersFlag, "providers", nil, "Restrict to these providers")
	cmd.Flags().BoolVar(&ignoreGroupsFlag, "ignore-groups", false, "Skip group conversations")
	_ = cmd.MarkFlagRequired("on")
	return cmd
}

type eventSource interface {
	EventsForDates(ctx context.Context, q provider.Query, providerNames []string) ([]model.Message, error)
}

// runShow prints one section per day so sparse days are still visible.
func runShow(ctx context.Context, src eventSource, on model.Date, seekDays int, providers []string, ignoreGroups bool, w io.Writer) error {
	for delta := -seekDays; delta <= seekDays; delta++ {
		day := on.AddDays(delta)
		fmt.Fprintf(w, "\n=== Memories for %s ===\n", day.Start().Format(showDateLayout))

		q := provider.Query{OnDate: &day, IgnoreGroups: ignoreGroups}
		events, err := src.EventsForDates(ctx, q, providers)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			fmt.Fprintln(w, "No memories found.")
			continue
		}
		for _, e := range events {
			fmt.Fprintf(w, "[%s] %s: %s: %s\n", e.Timestamp.Format("2006-01-02 15:04:05"), e.Provider, e.Sender, e.Text)
		}
	}
	return nil
}
