package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"stride/internal/apiclient"
	"stride/internal/maintenance"
	"stride/internal/store"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the dispatcher queue",
	}
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueStatsCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueHealthCommand(ctx))
	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var (
		statuses []string
		output   string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(output)
			if err != nil {
				return err
			}
			for _, s := range statuses {
				if _, ok := store.ParseEntryStatus(s); !ok {
					return fmt.Errorf("unknown entry status %q", s)
				}
			}
			return ctx.withClient(cmd, func(c context.Context, client *apiclient.Client) error {
				entries, err := client.Queue(c, statuses...)
				if err != nil {
					return err
				}
				if ok, err := writeStructured(cmd, format, entries); ok {
					return err
				}
				if len(entries) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				rows := make([][]string, 0, len(entries))
				for _, e := range entries {
					rows = append(rows, []string{
						strconv.FormatInt(e.ID, 10),
						e.SessionID,
						e.Kind,
						formatPriority(e.Priority),
						e.Status,
						fmt.Sprintf("%d/%d", e.RetryCount, e.MaxRetries),
						orDash(e.LastError),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Session", "Kind", "Priority", "Status", "Retries", "Last Error"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (pending, processing, completed, failed)")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table, json, or yaml")
	return cmd
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue entry counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(c context.Context, client *apiclient.Client) error {
				counts, err := client.QueueStats(c)
				if err != nil {
					return err
				}
				order := []string{"pending", "processing", "completed", "failed", "total"}
				rows := make([][]string, 0, len(order))
				for _, status := range order {
					rows = append(rows, []string{stateLabel(status), strconv.Itoa(counts[status])})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Status", "Count"},
					rows,
					[]columnAlignment{alignLeft, alignRight},
				))
				return nil
			})
		},
	}
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <entry-id>",
		Short: "Show one queue entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("invalid entry id %q", args[0])
			}
			return ctx.withClient(cmd, func(c context.Context, client *apiclient.Client) error {
				entry, err := client.QueueEntry(c, args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd, entry)
			})
		},
	}
}

func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Run the daemon self-check",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(c context.Context, client *apiclient.Client) error {
				report, err := client.Health(c)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, report)
				}
				renderHealth(cmd, report)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}

func renderHealth(cmd *cobra.Command, report maintenance.Report) {
	sw := newStatusWriter(cmd.OutOrStdout())

	sw.header("Health")
	overall, overallMsg := statusOK, "healthy"
	if !report.Healthy {
		overall, overallMsg = statusError, "unhealthy"
	}
	sw.line("Overall", overall, overallMsg)

	db := report.Database
	switch {
	case db.Healthy():
		sw.line("Database", statusOK, fmt.Sprintf("schema v%d, %d sessions", db.SchemaVersion, db.TotalSessions))
	case db.Error != "":
		sw.line("Database", statusError, db.Error)
	default:
		sw.line("Database", statusError, "checks failed")
	}

	q := report.Queue
	queueMsg := fmt.Sprintf("%d pending, %d processing, %d failed", q.Pending, q.Processing, q.Failed)
	queueKind := statusOK
	if q.Failed > 0 {
		queueKind = statusWarn
	}
	sw.line("Queue", queueKind, queueMsg)

	disk := report.Disk
	switch {
	case disk.Error != "":
		sw.line("Disk", statusError, disk.Error)
	case disk.Low:
		sw.line("Disk", statusError, fmt.Sprintf("%d MiB free", disk.FreeBytes>>20))
	default:
		sw.line("Disk", statusOK, fmt.Sprintf("%d MiB free", disk.FreeBytes>>20))
	}

	for _, dep := range report.Dependencies {
		kind, msg := statusOK, dep.Command
		if !dep.Available {
			kind, msg = statusError, orDash(dep.Detail)
			if dep.Optional {
				kind = statusWarn
			}
		}
		sw.line(dep.Name, kind, msg)
	}
	for _, dir := range report.Directories {
		kind := statusOK
		if !dir.Passed {
			kind = statusError
		}
		sw.line(dir.Name, kind, dir.Detail)
	}
	for _, col := range report.Collaborators {
		kind, msg := statusOK, "ready"
		if !col.Ready {
			kind, msg = statusError, orDash(col.Detail)
		}
		sw.line(col.Name, kind, msg)
	}
	for _, problem := range report.Problems {
		sw.line("Problem", statusWarn, problem)
	}
}
