package strategy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"disputeflow/directory"
	"disputeflow/item"
)

// Override adjusts or adds one catalog entry. Unset fields keep the built-in
// value; an id not present in the built-in catalog defines a new strategy and
// must be complete.
type Override struct {
	ID                string          `yaml:"id"`
	Disabled          bool            `yaml:"disabled"`
	Name              *string         `yaml:"name"`
	Tier              *int            `yaml:"tier"`
	Class             *Class          `yaml:"class"`
	LegalBasis        *string         `yaml:"legal_basis"`
	Citations         []string        `yaml:"citations"`
	NominalRate       *float64        `yaml:"nominal_rate"`
	Targets           []item.Type     `yaml:"targets"`
	RequiredTactics   []string        `yaml:"required_tactics"`
	Prerequisites     []Condition     `yaml:"prerequisites"`
	Contraindications []Condition     `yaml:"contraindications"`
	Follows           []string        `yaml:"follows"`
	Recipient         *directory.Kind `yaml:"recipient"`
	ImpactFactor      *float64        `yaml:"impact_factor"`
}

// CatalogFile is the on-disk override document.
type CatalogFile struct {
	Strategies []Override `yaml:"strategies"`
}

// LoadCatalogFile reads overrides from path and applies them to the built-in
// catalog.
func LoadCatalogFile(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("strategy: read catalog file: %w", err)
	}
	return ParseCatalog(bytes.NewReader(raw))
}

// ParseCatalog decodes an override document and applies it to the built-in
// catalog. Unknown keys are rejected.
func ParseCatalog(r io.Reader) (*Catalog, error) {
	var file CatalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidCatalog, err)
	}
	entries, err := ApplyOverrides(defaultStrategies(), file.Strategies)
	if err != nil {
		return nil, err
	}
	return NewCatalog(entries)
}

// ApplyOverrides merges overrides into base, preserving base order and
// appending new strategies in file order. Disabled strategies are removed
// along with any Follows edges pointing at them.
func ApplyOverrides(base []Strategy, overrides []Override) ([]Strategy, error) {
	entries := make([]Strategy, len(base))
	copy(entries, base)
	index := make(map[string]int, len(entries))
	for i, s := range entries {
		index[s.ID] = i
	}

	disabled := make(map[string]bool)
	for _, o := range overrides {
		if o.ID == "" {
			return nil, fmt.Errorf("%w: override without id", ErrInvalidCatalog)
		}
		if o.Disabled {
			disabled[o.ID] = true
			continue
		}
		i, ok := index[o.ID]
		if !ok {
			index[o.ID] = len(entries)
			entries = append(entries, Strategy{ID: o.ID})
			i = len(entries) - 1
		}
		entries[i] = o.apply(entries[i])
	}

	out := entries[:0]
	for _, s := range entries {
		if disabled[s.ID] {
			continue
		}
		follows := s.Follows[:0:0]
		for _, dep := range s.Follows {
			if !disabled[dep] {
				follows = append(follows, dep)
			}
		}
		s.Follows = follows
		out = append(out, s)
	}
	return out, nil
}

func (o Override) apply(s Strategy) Strategy {
	if o.Name != nil {
		s.Name = *o.Name
	}
	if o.Tier != nil {
		s.Tier = *o.Tier
	}
	if o.Class != nil {
		s.Class = *o.Class
	}
	if o.LegalBasis != nil {
		s.LegalBasis = *o.LegalBasis
	}
	if o.Citations != nil {
		s.Citations = o.Citations
	}
	if o.NominalRate != nil {
		s.NominalRate = *o.NominalRate
	}
	if o.Targets != nil {
		s.Targets = o.Targets
	}
	if o.RequiredTactics != nil {
		s.RequiredTactics = o.RequiredTactics
	}
	if o.Prerequisites != nil {
		s.Prerequisites = o.Prerequisites
	}
	if o.Contraindications != nil {
		s.Contraindications = o.Contraindications
	}
	if o.Follows != nil {
		s.Follows = o.Follows
	}
	if o.Recipient != nil {
		s.Recipient = *o.Recipient
	}
	if o.ImpactFactor != nil {
		s.ImpactFactor = *o.ImpactFactor
	}
	if s.Class == "" {
		s.Class = ClassStandard
	}
	return s
}
