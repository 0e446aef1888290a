package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"stride/internal/apiclient"
)

func newTrendsCommand(ctx *commandContext) *cobra.Command {
	var (
		category string
		output   string
	)
	cmd := &cobra.Command{
		Use:   "trends <subject>",
		Short: "Show per-metric aggregates and trends for a subject",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(output)
			if err != nil {
				return err
			}
			return ctx.withClient(cmd, func(c context.Context, client *apiclient.Client) error {
				trends, err := client.Trends(c, args[0], category)
				if err != nil {
					return err
				}
				if ok, err := writeStructured(cmd, format, trends); ok {
					return err
				}
				if len(trends) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No aggregates for %s yet\n", args[0])
					return nil
				}
				rows := make([][]string, 0, len(trends))
				for _, tr := range trends {
					rows = append(rows, []string{
						tr.Category,
						tr.Metric,
						strconv.Itoa(tr.SampleCount),
						formatFloat(tr.Mean),
						formatFloat(tr.Min),
						formatFloat(tr.Max),
						formatFloat(tr.Latest),
						stateLabel(tr.Trend),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Category", "Metric", "Samples", "Mean", "Min", "Max", "Latest", "Trend"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "Limit to one category")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table, json, or yaml")
	return cmd
}
