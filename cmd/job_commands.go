package main

import (
	"fmt"
	"time"

	"videoshop/internal/service"
	"videoshop/internal/task"

	"github.com/spf13/cobra"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var opts service.RunOptions
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the discovery pipeline once and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			// follow-ups are only scheduled by checkout and fulfillment
			deps, err := initDependencies(cmd.Context(), cfg, task.NewManualScheduler())
			if err != nil {
				return err
			}
			defer deps.Close()

			sigCtx, stop := signalContext(cmd.Context())
			defer stop()
			runCtx, cancel := withOptionalTimeout(sigCtx, timeout)
			defer cancel()

			rep, err := deps.Services.Automation.RunPipeline(runCtx, opts)
			if rep != nil {
				fmt.Fprintln(cmd.OutOrStdout(), renderRunReport(rep))
			}
			return err
		},
	}
	cmd.Flags().StringVar(&opts.TimeWindow, "time-frame", "", "Trend window: hour, day, week, month, year or all")
	cmd.Flags().IntVar(&opts.ScanLimit, "limit", 0, "Posts to scan per channel")
	cmd.Flags().IntVar(&opts.MaxProductsToMatch, "max-products", 0, "Candidates to match against suppliers")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Minute, "Abort the run after this long (0 disables)")
	return cmd
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	var window time.Duration

	cmd := &cobra.Command{
		Use:   "retry-fulfillment",
		Short: "Re-dispatch failed fulfillment of recent paid orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			scheduler := task.NewManualScheduler()
			deps, err := initDependencies(cmd.Context(), cfg, scheduler)
			if err != nil {
				return err
			}
			defer deps.Close()

			sigCtx, stop := signalContext(cmd.Context())
			defer stop()

			rep, err := deps.Services.Fulfillment.RetryFailed(sigCtx, window)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderRetryReport(rep))
			if pending := len(scheduler.Pending()); pending > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%d delayed follow-ups not run outside the server\n", pending)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&window, "window", 0, "Only orders created within this window (default from config)")
	return cmd
}

func newQuotaCommand(ctx *commandContext) *cobra.Command {
	var reset bool

	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Show or reset today's video API quota",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			deps, err := initDependencies(cmd.Context(), cfg, task.NewManualScheduler())
			if err != nil {
				return err
			}
			defer deps.Close()

			videos := deps.Services.Videos
			if reset {
				if err := videos.ResetQuota(cmd.Context()); err != nil {
					return err
				}
			}
			status, err := videos.QuotaStatus(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderQuota(status))
			return nil
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "Reset the counter before showing it")
	return cmd
}
