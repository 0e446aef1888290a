package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"stride/internal/apiclient"
	"stride/internal/maintenance"
)

func newMaintenanceCommand(ctx *commandContext) *cobra.Command {
	maintenanceCmd := &cobra.Command{
		Use:   "maintenance",
		Short: "Run or inspect maintenance tasks",
	}

	runCmd := &cobra.Command{
		Use:       "run <task>",
		Short:     "Run a maintenance task immediately",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{maintenance.TaskRetention, maintenance.TaskHealth, maintenance.TaskAggregates, maintenance.TaskLogs},
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(c context.Context, client *apiclient.Client) error {
				if err := client.RunMaintenance(c, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Maintenance task %s completed\n", args[0])
				return nil
			})
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Show registered tasks and their last runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(c context.Context, client *apiclient.Client) error {
				status, err := client.DaemonStatus(c)
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(status.Maintenance))
				for _, task := range status.Maintenance {
					last := "-"
					if !task.LastRun.IsZero() {
						last = task.LastRun.Local().Format("2006-01-02 15:04:05")
					}
					rows = append(rows, []string{
						task.Name,
						task.Interval.String(),
						strconv.Itoa(task.Runs),
						strconv.Itoa(task.Failures),
						last,
						orDash(task.LastError),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Task", "Interval", "Runs", "Failures", "Last Run", "Last Error"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	maintenanceCmd.AddCommand(runCmd, listCmd)
	return maintenanceCmd
}
