package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"disputeflow/app"
	"disputeflow/db"
)

func newFollowUpsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "followups",
		Short: "Process due follow-up actions",
	}
	var workers, batch int
	run := &cobra.Command{
		Use:   "run",
		Short: "Handle every follow-up due now, then exit",
		Long: `Claim and handle due follow-ups: status checks and reminder letters emit
follow_up_due notifications, reminders past the response window record
no_response, and escalations past the ceiling fail the execution.
Intended to be invoked by cron.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(cmd.Context(), c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.Runner.WithWorkers(workers).WithBatchSize(batch).RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), c.output, report, func(w io.Writer) {
				printSuccess(w, fmt.Sprintf("claimed %d: %d done, %d cancelled, %d responses, %d failed",
					report.Claimed, report.Done, report.Cancelled, report.Responses, report.Failed))
			})
		},
	}
	run.Flags().IntVar(&workers, "workers", 0, "Concurrent workers (default FOLLOWUP_WORKERS)")
	run.Flags().IntVar(&batch, "batch", 0, "Follow-ups claimed per pass")
	cmd.AddCommand(run)
	return cmd
}

func newOutboxCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and drain the notification outbox",
	}
	var batch, maxAttempts int
	relay := &cobra.Command{
		Use:   "relay",
		Short: "Deliver one batch of pending notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(cmd.Context(), c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.Relay.WithLimits(batch, maxAttempts).RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), c.output, report, func(w io.Writer) {
				printSuccess(w, fmt.Sprintf("claimed %d: %d delivered, %d retried, %d dead",
					report.Claimed, report.Delivered, report.Retried, report.Dead))
			})
		},
	}
	relay.Flags().IntVar(&batch, "batch", 0, "Messages per pass")
	relay.Flags().IntVar(&maxAttempts, "max-attempts", 0, "Attempts before a message is dead-lettered")
	cmd.AddCommand(relay)
	return cmd
}

func newMigrateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := db.NewPool(cmd.Context(), c.cfg.DatabaseURL, c.logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			version, err := db.Migrate(cmd.Context(), pool, c.logger)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), c.output, map[string]int64{"version": version}, func(w io.Writer) {
				printSuccess(w, fmt.Sprintf("schema at version %d", version))
			})
		},
	}
}

func newItemsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "items",
		Short: "Manage stored credit items",
	}
	var path string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Store the profile and items from an items file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				return errors.New("--items is required")
			}
			f, err := loadItemsFile(path)
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := uuid.Parse(f.Profile.ID); err != nil {
				f.Profile.ID = ""
			}
			profile, err := a.Consumers.Save(cmd.Context(), f.Profile)
			if err != nil {
				return err
			}
			for i := range f.Items {
				f.Items[i].ID = ""
				f.Items[i].OwnerID = profile.ID
			}
			stored, err := a.Items.Ingest(cmd.Context(), f.Items)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), c.output, stored, func(w io.Writer) {
				printSuccess(w, fmt.Sprintf("stored %d items for %s (%s)", len(stored), profile.FullName, profile.ID))
				for _, it := range stored {
					fmt.Fprintf(w, "  %s  %s\n", it.ID, it.CreditorName)
				}
			})
		},
	}
	importCmd.Flags().StringVar(&path, "items", "", "YAML file with a profile and items")
	cmd.AddCommand(importCmd)
	return cmd
}
