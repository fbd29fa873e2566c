/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/friendsincode/slotwatch/internal/channel"
	"github.com/friendsincode/slotwatch/internal/models"
	"github.com/friendsincode/slotwatch/internal/scheduler"
	"github.com/friendsincode/slotwatch/internal/server"
)

var commandTimeout time.Duration

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current and next timeslot",
	Long: `Fetch the schedule aggregate from the configured channel and print the
current timeslot, the next timeslot and every known timeslot in start order.`,
	RunE: runStatus,
}

var clearExpiredCmd = &cobra.Command{
	Use:   "clear-expired",
	Short: "Remove timeslots that have already ended",
	Long: `Fetch the schedule aggregate, drop every timeslot whose end time has
passed and publish the result to all instances sharing the channel.`,
	RunE: runClearExpired,
}

var clearAllCmd = &cobra.Command{
	Use:   "clear-all",
	Short: "Publish an empty schedule",
	Long: `Replace the shared schedule aggregate with an empty one.

WARNING: every instance watching the channel stops firing callbacks until a
new schedule is published.`,
	RunE: runClearAll,
}

func init() {
	for _, cmd := range []*cobra.Command{statusCmd, clearExpiredCmd, clearAllCmd} {
		cmd.Flags().DurationVar(&commandTimeout, "timeout", 30*time.Second, "Overall command timeout")
		rootCmd.AddCommand(cmd)
	}
}

// withController connects to the configured channel, loads the aggregate
// into a controller and runs fn against it.
func withController(fn func(ctx context.Context, ch channel.Channel, ctrl *scheduler.Controller) error) error {
	if err := loadConfig(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	nodeID := cfg.InstanceID
	if nodeID == "" {
		nodeID = "cli-" + uuid.NewString()
	}
	ch, err := server.OpenChannel(ctx, cfg, nodeID, logger)
	if err != nil {
		return err
	}
	defer ch.Close()

	ctrl := scheduler.New(ch, logger)
	defer ctrl.Close()
	if err := reload(ctx, ch, ctrl); err != nil {
		return fmt.Errorf("load schedule: %w", err)
	}
	return fn(ctx, ch, ctrl)
}

// reload ingests the current aggregate. One-shot commands read the channel
// directly instead of subscribing.
func reload(ctx context.Context, ch channel.Channel, ctrl *scheduler.Controller) error {
	current, err := ch.FetchAggregate(ctx)
	if err != nil {
		return err
	}
	return ctrl.Ingest(ctx, current)
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withController(func(_ context.Context, _ channel.Channel, ctrl *scheduler.Controller) error {
		return printStatus(cmd.OutOrStdout(), ctrl.CurrentTimeslot(), ctrl.NextTimeslot(), ctrl.SortedTimeslots())
	})
}

func runClearExpired(cmd *cobra.Command, args []string) error {
	return withController(func(ctx context.Context, ch channel.Channel, ctrl *scheduler.Controller) error {
		before := len(ctrl.SortedTimeslots())
		if err := ctrl.ClearExpiredTimeslots(ctx); err != nil {
			return err
		}
		if err := reload(ctx, ch, ctrl); err != nil {
			return fmt.Errorf("reload schedule: %w", err)
		}
		after := len(ctrl.SortedTimeslots())
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired timeslot(s), %d remaining\n", before-after, after)
		return nil
	})
}

func runClearAll(cmd *cobra.Command, args []string) error {
	return withController(func(ctx context.Context, _ channel.Channel, ctrl *scheduler.Controller) error {
		if err := ctrl.ClearAllScheduleEvents(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Published empty schedule")
		return nil
	})
}

func printStatus(out io.Writer, current, next *models.Timeslot, slots []*models.Timeslot) error {
	fmt.Fprintf(out, "Current: %s\n", describeSlot(current))
	fmt.Fprintf(out, "Next:    %s\n", describeSlot(next))
	if len(slots) == 0 {
		return nil
	}

	fmt.Fprintln(out)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "START\tEND\tMODE\tEDITED")
	for _, slot := range slots {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n",
			slot.StartTime.UTC().Format(time.RFC3339),
			slot.EndTime.UTC().Format(time.RFC3339),
			slot.Mode,
			slot.Edited)
	}
	return tw.Flush()
}

func describeSlot(slot *models.Timeslot) string {
	if slot == nil {
		return "none"
	}
	return fmt.Sprintf("%s - %s (%s)",
		slot.StartTime.UTC().Format(time.RFC3339),
		slot.EndTime.UTC().Format(time.RFC3339),
		slot.Mode)
}
