package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"stride/internal/api"
	"stride/internal/apiclient"
	"stride/internal/store"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var (
		spec     store.SessionSpec
		metadata []string
		enqueue  bool
		priority int
		kind     string
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Create an analysis session for an uploaded artifact",
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := parseMetadata(metadata)
			if err != nil {
				return err
			}
			spec.Metadata = meta
			req := api.SubmitRequest{SessionSpec: spec, Enqueue: enqueue, Kind: kind}
			if cmd.Flags().Changed("priority") {
				req.Priority = &priority
			}
			return ctx.withClient(cmd, func(c context.Context, client *apiclient.Client) error {
				resp, err := client.Submit(c, req)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Session %s created (%s)\n", resp.SessionID, stateLabel(resp.State))
				if resp.Entry != nil {
					fmt.Fprintf(out, "Queued as entry %d with priority %d\n", resp.Entry.ID, resp.Entry.Priority)
				}
				return nil
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&spec.Subject, "subject", "", "Subject the session belongs to")
	flags.StringVar(&spec.Category, "category", "", "Activity category")
	flags.StringVar(&spec.ArtifactRef, "artifact", "", "Artifact reference (path under artifact_dir or URL)")
	flags.Int64Var(&spec.ArtifactSize, "size", 0, "Artifact size in bytes")
	flags.Float64Var(&spec.DurationSeconds, "duration", 0, "Artifact duration in seconds")
	flags.Float64Var(&spec.FrameRate, "fps", 0, "Capture frame rate")
	flags.IntVar(&spec.Width, "width", 0, "Frame width in pixels")
	flags.IntVar(&spec.Height, "height", 0, "Frame height in pixels")
	flags.BoolVar(&spec.Retain, "retain", false, "Keep the artifact after retention expires")
	flags.StringArrayVar(&metadata, "metadata", nil, "Submit metadata as key=value (repeatable)")
	flags.BoolVar(&enqueue, "enqueue", false, "Enqueue the session for processing immediately")
	flags.IntVar(&priority, "priority", 0, "Queue priority when enqueueing (lower runs first)")
	flags.StringVar(&kind, "kind", "", "Queue entry kind when enqueueing")
	_ = cmd.MarkFlagRequired("subject")
	_ = cmd.MarkFlagRequired("category")
	_ = cmd.MarkFlagRequired("artifact")
	return cmd
}

func parseMetadata(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid metadata %q (expected key=value)", pair)
		}
		out[key] = strings.TrimSpace(value)
	}
	return out, nil
}

func newEnqueueCommand(ctx *commandContext) *cobra.Command {
	var (
		priority int
		kind     string
	)
	cmd := &cobra.Command{
		Use:   "enqueue <session-id>",
		Short: "Queue an uploaded session for processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p *int
			if cmd.Flags().Changed("priority") {
				p = &priority
			}
			return ctx.withClient(cmd, func(c context.Context, client *apiclient.Client) error {
				entry, err := client.Enqueue(c, args[0], kind, p)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Session %s queued as entry %d (%s, priority %d)\n",
					entry.SessionID, entry.ID, entry.Kind, entry.Priority)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&priority, "priority", 0, "Queue priority (lower runs first)")
	cmd.Flags().StringVar(&kind, "kind", "", "Queue entry kind")
	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var (
		wait     bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show a session's progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(c context.Context, client *apiclient.Client) error {
				sw := newStatusWriter(cmd.OutOrStdout())
				for {
					view, err := client.Status(c, args[0])
					if err != nil {
						return err
					}
					sw.line(view.SessionID, stateKind(view.State), describeStatus(view))
					if !wait || terminalState(view.State) {
						return nil
					}
					select {
					case <-c.Done():
						return c.Err()
					case <-time.After(interval):
					}
				}
			})
		},
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Poll until the session completes or fails")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Polling interval with --wait")
	return cmd
}

func describeStatus(view api.StatusView) string {
	msg := fmt.Sprintf("%s %d%%", stateLabel(view.State), view.ProgressPercent)
	if view.EstimatedTimeRemainingSeconds > 0 {
		msg += fmt.Sprintf(", ~%s remaining", time.Duration(view.EstimatedTimeRemainingSeconds)*time.Second)
	}
	return msg
}

func terminalState(state string) bool {
	parsed, ok := store.ParseSessionState(state)
	return ok && parsed.IsTerminal()
}

func newMetricsCommand(ctx *commandContext) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "metrics <session-id>",
		Short: "List the measurements stored for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(output)
			if err != nil {
				return err
			}
			return ctx.withClient(cmd, func(c context.Context, client *apiclient.Client) error {
				list, err := client.Metrics(c, args[0])
				if err != nil {
					return err
				}
				if ok, err := writeStructured(cmd, format, list); ok {
					return err
				}
				if len(list) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No metrics recorded")
					return nil
				}
				rows := make([][]string, 0, len(list))
				for _, m := range list {
					rows = append(rows, []string{m.Name, formatFloat(m.Value), orDash(m.Unit), formatFloat(m.Confidence), orDash(m.Region)})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Metric", "Value", "Unit", "Confidence", "Region"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table, json, or yaml")
	return cmd
}

func newSessionsCommand(ctx *commandContext) *cobra.Command {
	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect analysis sessions",
	}

	var (
		states   []string
		subject  string
		category string
		limit    int
		output   string
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(output)
			if err != nil {
				return err
			}
			for _, s := range states {
				if _, ok := store.ParseSessionState(s); !ok {
					return fmt.Errorf("unknown session state %q", s)
				}
			}
			query := apiclient.SessionQuery{States: states, Subject: subject, Category: category, Limit: limit}
			return ctx.withClient(cmd, func(c context.Context, client *apiclient.Client) error {
				list, err := client.ListSessions(c, query)
				if err != nil {
					return err
				}
				if ok, err := writeStructured(cmd, format, list); ok {
					return err
				}
				if len(list) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No sessions found")
					return nil
				}
				rows := make([][]string, 0, len(list))
				for _, s := range list {
					rows = append(rows, []string{s.ID, s.Subject, s.Category, stateLabel(s.State), s.CreatedAt})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Subject", "Category", "State", "Created"},
					rows,
					nil,
				))
				return nil
			})
		},
	}
	listCmd.Flags().StringSliceVar(&states, "state", nil, "Filter by state (repeatable)")
	listCmd.Flags().StringVar(&subject, "subject", "", "Filter by subject")
	listCmd.Flags().StringVar(&category, "category", "", "Filter by category")
	listCmd.Flags().IntVar(&limit, "limit", 0, "Maximum sessions to return")
	listCmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table, json, or yaml")

	var showJSON bool
	showCmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show one session and its queue history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(c context.Context, client *apiclient.Client) error {
				sess, err := client.Session(c, args[0])
				if err != nil {
					return err
				}
				history, err := client.SessionQueue(c, args[0])
				if err != nil {
					return err
				}
				if showJSON {
					return writeJSON(cmd, struct {
						Session api.Session      `json:"session"`
						Queue   []api.QueueEntry `json:"queue"`
					}{sess, history})
				}
				renderSession(cmd, sess, history)
				return nil
			})
		},
	}
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Print the session and its queue history as JSON")

	var release bool
	retainCmd := &cobra.Command{
		Use:   "retain <session-id>",
		Short: "Keep a session out of the retention sweep",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(c context.Context, client *apiclient.Client) error {
				sess, err := client.SetRetain(c, args[0], !release)
				if err != nil {
					return err
				}
				if sess.Retain {
					fmt.Fprintf(cmd.OutOrStdout(), "Session %s will be kept indefinitely\n", sess.ID)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Session %s is subject to retention again\n", sess.ID)
				}
				return nil
			})
		},
	}
	retainCmd.Flags().BoolVar(&release, "release", false, "Clear the flag so retention may remove the session")

	sessionsCmd.AddCommand(listCmd, showCmd, retainCmd)
	return sessionsCmd
}

func formatPriority(p int) string {
	return strconv.Itoa(p)
}

func renderSession(cmd *cobra.Command, sess api.Session, history []api.QueueEntry) {
	out := cmd.OutOrStdout()
	sw := newStatusWriter(out)
	sw.header("Session "+sess.ID)
	sw.line("State", stateKind(sess.State), stateLabel(sess.State))
	sw.line("Subject", statusInfo, sess.Subject+" / "+sess.Category)
	sw.line("Artifact", statusInfo, sess.ArtifactRef)
	sw.line("Media", statusInfo,
		fmt.Sprintf("%dx%d @ %s fps, %ss", sess.Width, sess.Height, formatFloat(sess.FrameRate), formatFloat(sess.DurationSeconds)))
	if sess.GatewaySessionID != "" {
		sw.line("Gateway session", statusInfo, sess.GatewaySessionID)
	}
	if sess.Retain {
		sw.line("Retention", statusInfo, "kept indefinitely")
	}
	if sess.ErrorMessage != "" {
		sw.line("Error", statusError, sess.ErrorMessage)
	}
	if len(history) == 0 {
		return
	}
	fmt.Fprintln(out)
	rows := make([][]string, 0, len(history))
	for _, e := range history {
		rows = append(rows, []string{
			strconv.FormatInt(e.ID, 10),
			e.Kind,
			e.Status,
			fmt.Sprintf("%d/%d", e.RetryCount, e.MaxRetries),
			orDash(e.LastError),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Entry", "Kind", "Status", "Retries", "Last Error"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft},
	))
}
