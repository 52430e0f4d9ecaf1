package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"disputeflow/orchestrator"
	"disputeflow/plan"
	"disputeflow/strategy"
)

// render writes v as JSON or YAML, or calls human for the default format.
func render(w io.Writer, format string, v any, human func(io.Writer)) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		human(w)
		return nil
	}
}

var (
	heading = color.New(color.FgCyan, color.Bold)
	good    = color.New(color.FgGreen)
	warn    = color.New(color.FgYellow)
	bad     = color.New(color.FgRed)
)

func printSuccess(w io.Writer, msg string) {
	good.Fprintf(w, "✓ %s\n", msg)
}

func tierColor(tier int) *color.Color {
	switch {
	case tier <= 2:
		return good
	case tier <= 4:
		return warn
	default:
		return bad
	}
}

func printCatalog(w io.Writer, strategies []strategy.Strategy) {
	heading.Fprintf(w, "%d strategies\n\n", len(strategies))
	for _, st := range strategies {
		tierColor(st.Tier).Fprintf(w, "T%d ", st.Tier)
		fmt.Fprintf(w, "%-32s %-24s %4.0f%%  %s\n", st.ID, st.Class, st.NominalRate*100, st.Recipient)
	}
}

func printPriority(w io.Writer, p plan.Priority) {
	switch p {
	case plan.PriorityHigh:
		bad.Fprintf(w, "%-6s", p)
	case plan.PriorityMedium:
		warn.Fprintf(w, "%-6s", p)
	default:
		good.Fprintf(w, "%-6s", p)
	}
}

func printAnalysis(w io.Writer, a orchestrator.Analysis) {
	heading.Fprintln(w, "PRIORITIES")
	for i, r := range a.Ranked {
		fmt.Fprintf(w, "  %d. %-12s %-28s %6.1f\n", i+1, r.ItemID, r.CreditorName, r.Score)
	}
	fmt.Fprintln(w)

	heading.Fprintln(w, "RECOMMENDATIONS")
	for _, rec := range a.Recommendations {
		fmt.Fprintf(w, "  %-12s %-32s p=%.2f  impact=%.1f  ev=%.1f  %s\n",
			rec.ItemID, rec.StrategyID, rec.SuccessProbability, rec.ImpactScore, rec.ExpectedValue(), rec.ExpectedTimeline)
	}
	fmt.Fprintln(w)

	heading.Fprintln(w, "PLAN")
	for _, step := range a.Steps {
		fmt.Fprintf(w, "  %s ", step.ID)
		printPriority(w, step.Priority)
		fmt.Fprintf(w, " %s (%s, %.0f%%)", step.Title, step.Duration, step.SuccessRate*100)
		if len(step.DependsOn) > 0 {
			fmt.Fprintf(w, " after %s", strings.Join(step.DependsOn, ", "))
		}
		fmt.Fprintln(w)
	}
}
