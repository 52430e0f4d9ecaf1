package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"disputeflow/letter"
	"disputeflow/orchestrator"
	"disputeflow/strategy"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("COMPLETION_PROVIDER", "none")
	t.Setenv("STRATEGY_CATALOG_FILE", "")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeItems(t *testing.T) string {
	t.Helper()
	opened := time.Now().AddDate(-3, 0, 0).Format("2006-01-02")
	reported := time.Now().AddDate(-1, 0, 0).Format("2006-01-02")
	doc := fmt.Sprintf(`
profile:
  id: owner-1
  full_name: Jordan Rivera
  address: 12 Elm St
  city: Austin
  state: TX
  postal_code: "78701"
items:
  - id: item-1
    type: collection
    bureau: experian
    creditor_name: ACME Recovery
    furnisher_address: PO Box 100, Dallas, TX 75201
    account_number: "9876543210"
    balance: 2400
    opened_at: %s
    reported_at: %s
    payment_status: Collection
    jurisdiction: TX
`, opened, reported)
	path := filepath.Join(t.TempDir(), "items.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}

func TestCatalog_JSON(t *testing.T) {
	out, err := execute(t, "catalog", "-o", "json")
	require.NoError(t, err)

	var strategies []strategy.Strategy
	require.NoError(t, json.Unmarshal([]byte(out), &strategies))
	assert.Len(t, strategies, strategy.Default().Len())
}

func TestCatalog_ClassFilterHuman(t *testing.T) {
	out, err := execute(t, "catalog", "--class", string(strategy.ClassVerificationChallenge))
	require.NoError(t, err)
	assert.Contains(t, out, "method_of_verification")
	assert.NotContains(t, out, "debt_validation")
}

func TestPlan_CollectionScenario(t *testing.T) {
	out, err := execute(t, "plan", "--items", writeItems(t), "-o", "yaml")
	require.NoError(t, err)

	var analysis orchestrator.Analysis
	require.NoError(t, yaml.Unmarshal([]byte(out), &analysis))
	assert.Equal(t, "owner-1", analysis.OwnerID)
	require.Len(t, analysis.Ranked, 1)
	assert.Equal(t, 125.0, analysis.Ranked[0].Score)

	var ids []string
	for _, rec := range analysis.Recommendations {
		ids = append(ids, rec.StrategyID)
	}
	assert.ElementsMatch(t, []string{"factual_dispute", "debt_validation"}, ids)
	assert.Len(t, analysis.Steps, 2)
}

func TestPlan_Human(t *testing.T) {
	out, err := execute(t, "plan", "--items", writeItems(t))
	require.NoError(t, err)
	assert.Contains(t, out, "PRIORITIES")
	assert.Contains(t, out, "ACME Recovery")
	assert.Contains(t, out, "step-1")
}

func TestPlan_RequiresItems(t *testing.T) {
	_, err := execute(t, "plan")
	assert.ErrorContains(t, err, "--items")
}

func TestLetterRender(t *testing.T) {
	out, err := execute(t, "letter", "render", "--items", writeItems(t), "--item", "item-1", "--strategy", "debt_validation", "-o", "json")
	require.NoError(t, err)

	var rendered letter.Rendered
	require.NoError(t, json.Unmarshal([]byte(out), &rendered))
	assert.False(t, letter.HasPlaceholder(rendered.Body))
	assert.Contains(t, rendered.Body, "Jordan Rivera")
	assert.False(t, strings.Contains(rendered.Body, "9876543210"), "account number must be masked")
	assert.False(t, rendered.Enhanced)
}

func TestLetterRender_Ineligible(t *testing.T) {
	_, err := execute(t, "letter", "render", "--items", writeItems(t), "--item", "item-1", "--strategy", "method_of_verification")
	assert.ErrorIs(t, err, strategy.ErrIneligible)
}

func TestUnknownOutputFormat(t *testing.T) {
	_, err := execute(t, "catalog", "-o", "xml")
	assert.ErrorContains(t, err, "unknown output format")
}
