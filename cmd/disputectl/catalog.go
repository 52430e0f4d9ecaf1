package main

import (
	"io"

	"github.com/spf13/cobra"

	"disputeflow/app"
	"disputeflow/strategy"
)

func newCatalogCmd(c *cli) *cobra.Command {
	var class string
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List the strategy catalog",
		Long: `List every strategy the selector can recommend, with tier, class, nominal
success rate and recipient. STRATEGY_CATALOG_FILE overrides are applied.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := app.NewEngine(cmd.Context(), c.cfg, c.logger)
			if err != nil {
				return err
			}
			strategies := engine.Catalog.All()
			if class != "" {
				strategies = engine.Catalog.ByClass(strategy.Class(class))
			}
			return render(cmd.OutOrStdout(), c.output, strategies, func(w io.Writer) {
				printCatalog(w, strategies)
			})
		},
	}
	cmd.Flags().StringVar(&class, "class", "", "Only strategies of this class")
	return cmd
}
