package strategy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCatalog_AdjustsDisablesAndAdds(t *testing.T) {
	doc := `
strategies:
  - id: debt_validation
    nominal_rate: 0.8
  - id: method_of_verification
    disabled: true
  - id: bureau_portal_dispute
    name: Online Portal Dispute
    tier: 2
    legal_basis: FCRA reinvestigation through the bureau portal
    citations: ["15 U.S.C. § 1681i(a)"]
    nominal_rate: 0.5
    targets: [account, collection]
    recipient: bureau
    impact_factor: 0.9
    follows: [factual_dispute]
`
	c, err := ParseCatalog(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, 28, c.Len())

	dv, err := c.Get("debt_validation")
	require.NoError(t, err)
	assert.Equal(t, 0.8, dv.NominalRate)
	assert.Equal(t, 1, dv.Tier, "unset fields keep built-in value")

	_, err = c.Get("method_of_verification")
	assert.ErrorIs(t, err, ErrUnknownStrategy)

	proc, err := c.Get("procedural_request")
	require.NoError(t, err)
	assert.Empty(t, proc.Follows, "edges to disabled strategies are dropped")

	added, err := c.Get("bureau_portal_dispute")
	require.NoError(t, err)
	assert.Equal(t, ClassStandard, added.Class)
}

func TestParseCatalog_Invalid(t *testing.T) {
	cases := map[string]string{
		"unknown key":     "strategies:\n  - id: factual_dispute\n    colour: red\n",
		"incomplete new":  "strategies:\n  - id: brand_new\n    tier: 2\n",
		"missing id":      "strategies:\n  - tier: 2\n",
		"bad rate":        "strategies:\n  - id: factual_dispute\n    nominal_rate: 2\n",
		"introduce cycle": "strategies:\n  - id: factual_dispute\n    follows: [method_of_verification]\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCatalog(strings.NewReader(doc))
			assert.ErrorIs(t, err, ErrInvalidCatalog)
		})
	}
}

func TestLoadCatalogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("strategies:\n  - id: cfpb_complaint\n    disabled: true\n"), 0o600))

	c, err := LoadCatalogFile(path)
	require.NoError(t, err)
	assert.Equal(t, 27, c.Len())

	_, err = LoadCatalogFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseCatalog_EmptyDocumentIsDefault(t *testing.T) {
	c, err := ParseCatalog(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default().Len(), c.Len())
}
