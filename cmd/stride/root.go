package main

import "github.com/spf13/cobra"

const (
	groupSessions = "sessions"
	groupQueue    = "queue"
	groupDaemon   = "daemon"
)

func newRootCommand() *cobra.Command {
	var flags globalFlags
	ctx := newCommandContext(&flags)

	root := &cobra.Command{
		Use:           "stride",
		Short:         "Submit media for analysis and inspect the strided daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.config, "config", "c", "", "Configuration file path")
	pf.StringVar(&flags.api, "api", "", "Daemon API address (overrides paths.api_bind)")
	pf.StringVar(&flags.token, "token", "", "Daemon API bearer token (overrides paths.api_token)")

	root.AddGroup(
		&cobra.Group{ID: groupSessions, Title: "Sessions:"},
		&cobra.Group{ID: groupQueue, Title: "Queue:"},
		&cobra.Group{ID: groupDaemon, Title: "Daemon:"},
	)
	grouped := map[string][]*cobra.Command{
		groupSessions: {
			newSubmitCommand(ctx),
			newStatusCommand(ctx),
			newResultsCommand(ctx),
			newMetricsCommand(ctx),
			newSessionsCommand(ctx),
			newTrendsCommand(ctx),
		},
		groupQueue: {
			newEnqueueCommand(ctx),
			newQueueCommand(ctx),
		},
		groupDaemon: {
			newDaemonStatusCommand(ctx),
			newMaintenanceCommand(ctx),
			newTestNotifyCommand(ctx),
		},
	}
	for group, cmds := range grouped {
		for _, cmd := range cmds {
			cmd.GroupID = group
			root.AddCommand(cmd)
		}
	}
	root.AddCommand(newConfigCommand(ctx))
	return root
}
