package main

import (
	"context"

	"github.com/spf13/cobra"

	"stride/internal/apiclient"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Ask the daemon to send a test push notification",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withClient(cmd, func(c context.Context, client *apiclient.Client) error {
				sent, message, err := client.TestNotification(c)
				sw := newStatusWriter(cmd.OutOrStdout())
				switch {
				case err != nil:
					if message != "" {
						sw.line("Notification", statusError, message)
					}
					return err
				case sent:
					sw.line("Notification", statusOK, orDefault(message, "test notification sent"))
				default:
					sw.line("Notification", statusWarn, orDefault(message, "not sent; is notifications.ntfy_topic set?"))
				}
				return nil
			})
		},
	}
}
