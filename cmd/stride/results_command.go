package main

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"stride/internal/api"
	"stride/internal/apiclient"
	"stride/internal/pipeline"
)

func newResultsCommand(ctx *commandContext) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "results <session-id>",
		Short: "Show a session's analysis results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(output)
			if err != nil {
				return err
			}
			return ctx.withClient(cmd, func(c context.Context, client *apiclient.Client) error {
				view, err := client.Results(c, args[0])
				if err != nil {
					return err
				}
				if ok, err := writeStructured(cmd, format, view); ok {
					return err
				}
				return renderResults(cmd, view)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table, json, or yaml")
	return cmd
}

func renderResults(cmd *cobra.Command, view api.ResultsView) error {
	out := cmd.OutOrStdout()
	sw := newStatusWriter(out)

	sw.header("Session "+view.SessionID)
	sw.line("State", stateKind(view.State), stateLabel(view.State))
	if view.ProcessingDurationMs > 0 {
		elapsed := time.Duration(view.ProcessingDurationMs) * time.Millisecond
		sw.line("Processing time", statusInfo, elapsed.String())
	}
	if view.ErrorMessage != "" {
		sw.line("Error", statusError, view.ErrorMessage)
	}
	if len(view.Result) == 0 {
		if !terminalState(view.State) {
			sw.line("Results", statusInfo, "not available yet")
		}
		return nil
	}

	var result pipeline.Result
	if err := json.Unmarshal(view.Result, &result); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	if result.GatewaySessionID != "" {
		sw.line("Gateway session", statusInfo, result.GatewaySessionID)
	}
	telemetry := statusOK
	telemetryMsg := "delivered"
	if !result.TelemetryDelivered {
		telemetry = statusWarn
		telemetryMsg = "not delivered"
	}
	sw.line("Telemetry", telemetry, telemetryMsg)
	sw.line("Confidence", statusInfo, formatFloat(result.Measurements.Confidence))
	fmt.Fprintln(out)

	m := result.Measurements
	rows := make([][]string, 0, len(m.Metrics))
	for _, name := range slices.Sorted(maps.Keys(m.Metrics)) {
		rows = append(rows, []string{name, formatFloat(m.Metrics[name]), orDash(m.Units[name]), orDash(m.Regions[name])})
	}
	if len(rows) == 0 {
		fmt.Fprintln(out, "No measurements recorded")
		return nil
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Metric", "Value", "Unit", "Region"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft},
	))
	return nil
}
