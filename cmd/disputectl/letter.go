package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"disputeflow/app"
	"disputeflow/consumer"
)

// staticProfile serves the profile from the items file.
type staticProfile consumer.Profile

func (p staticProfile) GetByID(context.Context, string) (consumer.Profile, error) {
	return consumer.Profile(p), nil
}

func newLetterCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "letter",
		Short: "Work with dispute letters",
	}
	cmd.AddCommand(newLetterRenderCmd(c))
	return cmd
}

func newLetterRenderCmd(c *cli) *cobra.Command {
	var itemsPath, itemID, strategyID string
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render the letter for one item and strategy",
		Long: `Render the dispute letter a strategy would send for an item in the items
file. When COMPLETION_PROVIDER is set the letter is polished by the model;
any failure falls back to the template text.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if itemsPath == "" || itemID == "" || strategyID == "" {
				return errors.New("--items, --item and --strategy are required")
			}
			f, err := loadItemsFile(itemsPath)
			if err != nil {
				return err
			}
			it, err := f.find(itemID)
			if err != nil {
				return err
			}
			engine, err := app.NewEngine(cmd.Context(), c.cfg, c.logger)
			if err != nil {
				return err
			}

			var s *spinner.Spinner
			if c.output == "human" && c.cfg.Completion.Provider != "" && c.cfg.Completion.Provider != "none" {
				s = spinner.New(spinner.CharSets[11], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
				s.Suffix = " Enhancing letter..."
				s.Start()
			}
			rendered, err := engine.Planner(nil, staticProfile(f.Profile), c.logger).PreviewItem(cmd.Context(), it, strategyID)
			if s != nil {
				s.Stop()
			}
			if err != nil {
				return err
			}

			return render(cmd.OutOrStdout(), c.output, rendered, func(w io.Writer) {
				heading.Fprintf(w, "Subject: %s\n\n", rendered.Subject)
				fmt.Fprintln(w, rendered.Body)
				if rendered.Enhanced {
					printSuccess(w, "enhanced")
				}
			})
		},
	}
	cmd.Flags().StringVar(&itemsPath, "items", "", "YAML file with a profile and items")
	cmd.Flags().StringVar(&itemID, "item", "", "Item id")
	cmd.Flags().StringVar(&strategyID, "strategy", "", "Strategy id")
	return cmd
}
