package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"disputeflow/config"
	"disputeflow/logging"
)

// cli carries state shared by every subcommand.
type cli struct {
	output  string
	verbose bool
	cfg     config.Config
	logger  *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{logger: zap.NewNop()}
	rootCmd := &cobra.Command{
		Use:   "disputectl",
		Short: "Operate the credit dispute engine",
		Long: `disputectl plans disputes from item files, previews letters and runs the
maintenance passes (follow-ups, outbox relay, migrations) against the database.

Database commands read DATABASE_URL and the other settings from the
environment or CONFIG_FILE.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if c.verbose {
				cfg.LogLevel = "debug"
			}
			logger, err := logging.New(cfg)
			if err != nil {
				return err
			}
			c.cfg, c.logger = cfg, logger
			switch c.output {
			case "human", "json", "yaml":
				return nil
			}
			return fmt.Errorf("unknown output format %q (human, json, yaml)", c.output)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = c.logger.Sync()
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVarP(&c.output, "output", "o", "human", "Output format (human, json, yaml)")
	rootCmd.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Debug logging")

	rootCmd.AddCommand(
		newCatalogCmd(c),
		newPlanCmd(c),
		newLetterCmd(c),
		newFollowUpsCmd(c),
		newOutboxCmd(c),
		newMigrateCmd(c),
		newItemsCmd(c),
		newVersionCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "disputectl %s\n", version)
		},
	}
}
