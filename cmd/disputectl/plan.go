package main

import (
	"errors"
	"io"

	"github.com/spf13/cobra"

	"disputeflow/app"
)

func newPlanCmd(c *cli) *cobra.Command {
	var itemsPath string
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Rank items and build an action plan from an items file",
		Long: `Score every disputable item, select eligible strategies and order them into
a dependency-respecting plan. Nothing is written to the database.

Examples:
  # Human-readable plan
  disputectl plan --items report.yaml

  # Machine-readable
  disputectl plan --items report.yaml -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if itemsPath == "" {
				return errors.New("--items is required")
			}
			f, err := loadItemsFile(itemsPath)
			if err != nil {
				return err
			}
			engine, err := app.NewEngine(cmd.Context(), c.cfg, c.logger)
			if err != nil {
				return err
			}
			analysis, err := engine.Planner(nil, nil, c.logger).Analyze(cmd.Context(), f.Items)
			if err != nil {
				return err
			}
			analysis.OwnerID = f.Profile.ID
			return render(cmd.OutOrStdout(), c.output, analysis, func(w io.Writer) {
				printAnalysis(w, analysis)
			})
		},
	}
	cmd.Flags().StringVar(&itemsPath, "items", "", "YAML file with a profile and items")
	return cmd
}
