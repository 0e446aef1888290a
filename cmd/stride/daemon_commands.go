package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"stride/internal/apiclient"
)

func newDaemonStatusCommand(ctx *commandContext) *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Inspect the running daemon",
	}

	var asJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, dispatcher, and dependency status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(c context.Context, client *apiclient.Client) error {
				status, err := client.DaemonStatus(c)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, status)
				}

				out := cmd.OutOrStdout()
				sw := newStatusWriter(out)
				sw.header("Daemon")
				sw.line("Running", statusOK, fmt.Sprintf("pid %d", status.PID))
				sw.line("Database", statusInfo, status.DatabasePath)

				d := status.Dispatcher
				dispatcherKind, dispatcherMsg := statusOK, "running"
				if !d.Running {
					dispatcherKind, dispatcherMsg = statusWarn, "stopped"
				}
				sw.line("Dispatcher", dispatcherKind, dispatcherMsg)
				sw.line("Attempts", statusInfo,
					fmt.Sprintf("%d completed, %d retried, %d failed", d.Completed, d.Retried, d.Failed))
				sw.line("Queue", statusInfo,
					fmt.Sprintf("%d pending, %d processing", d.QueueStats["pending"], d.QueueStats["processing"]))
				if d.LastError != "" {
					sw.line("Last error", statusError, d.LastError)
				}

				fmt.Fprintln(out)
				sw.header("Dependencies")
				for _, dep := range status.Dependencies {
					kind, msg := statusOK, dep.Command
					if !dep.Available {
						kind, msg = statusError, orDash(dep.Detail)
						if dep.Optional {
							kind = statusWarn
						}
					}
					sw.line(dep.Name, kind, msg)
				}
				return nil
			})
		},
	}
	statusCmd.Flags().BoolVar(&asJSON, "json", false, "Print status as JSON")

	daemonCmd.AddCommand(statusCmd)
	return daemonCmd
}
