package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/catalystbot/catalystbot/internal/heartbeat"
)

func newReportCmd() *cobra.Command {
	var (
		day  string
		post bool
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Build the nightly performance report for a past day",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			asOf := time.Now().UTC().Add(-24 * time.Hour)
			if day != "" {
				asOf, err = time.Parse("2006-01-02", day)
				if err != nil {
					return fmt.Errorf("invalid --day %q: %w", day, err)
				}
			}

			report, err := a.reporter.Build(ctx, asOf, a.cfg.Get())
			if err != nil {
				return err
			}
			printReport(cmd, report)

			if post {
				if a.file.Runtime.Webhook.URL == "" {
					return dependencyErr(fmt.Errorf("webhook url not configured"))
				}
				msg := heartbeat.BuildReportMessage(a.file.Runtime.Webhook.Channel, report)
				if err := a.dispatcher.Send(ctx, msg); err != nil {
					return fmt.Errorf("report delivery: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "report posted")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&day, "day", "", "report day as YYYY-MM-DD (default yesterday)")
	cmd.Flags().BoolVar(&post, "post", false, "post the report to the configured webhook")
	return cmd
}

func printReport(cmd *cobra.Command, r *heartbeat.Report) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "report for %s\n", r.Day.Format("2006-01-02"))
	fmt.Fprintf(out, "dispatched %d, rejected %d, win rate %.0f%% (%d/%d evaluated)\n",
		r.Dispatched, r.Rejected, r.WinRate*100, r.Wins, r.Evaluated)
	if len(r.TopKeywords) > 0 {
		fmt.Fprintln(out, "top catalysts:")
		for _, kw := range r.TopKeywords {
			fmt.Fprintf(out, "  %-24s alerts %-4d win rate %.0f%%\n", kw.Tag, kw.Alerts, kw.WinRate*100)
		}
	}
	if len(r.BottomKeywords) > 0 {
		fmt.Fprintln(out, "underperformers:")
		for _, kw := range r.BottomKeywords {
			fmt.Fprintf(out, "  %-24s alerts %-4d win rate %.0f%%\n", kw.Tag, kw.Alerts, kw.WinRate*100)
		}
	}
	for _, rec := range r.Recommendations {
		fmt.Fprintf(out, "recommend %s: %.4f -> %.4f (%s)\n", rec.Key, rec.Current, rec.Proposed, rec.Rationale)
	}
}
