// Package directory is the read-only lookup of dispute recipients: the three
// national bureaus, regulators, and furnishers taken from the item itself.
package directory

import (
	"errors"
	"fmt"
	"strings"

	"disputeflow/item"
)

var ErrUnknownRecipient = errors.New("directory: unknown recipient")

// Kind is the category of party a letter is addressed to.
type Kind string

const (
	KindBureau    Kind = "bureau"
	KindFurnisher Kind = "furnisher"
	KindRegulator Kind = "regulator"
)

type Recipient struct {
	Kind    Kind   `json:"kind" yaml:"kind"`
	Key     string `json:"key" yaml:"key"`
	Name    string `json:"name" yaml:"name"`
	Address string `json:"address" yaml:"address"`
	Phone   string `json:"phone,omitempty" yaml:"phone,omitempty"`
}

// Directory maps bureau and regulator keys to mailing details.
type Directory struct {
	bureaus    map[string]Recipient
	regulators map[string]Recipient
}

// Default returns the directory of national bureaus and federal regulators.
func Default() *Directory {
	return New(
		[]Recipient{
			{Kind: KindBureau, Key: "equifax", Name: "Equifax Information Services LLC", Address: "P.O. Box 740256\nAtlanta, GA 30374", Phone: "866-349-5191"},
			{Kind: KindBureau, Key: "experian", Name: "Experian", Address: "P.O. Box 4500\nAllen, TX 75013", Phone: "888-397-3742"},
			{Kind: KindBureau, Key: "transunion", Name: "TransUnion LLC Consumer Dispute Center", Address: "P.O. Box 2000\nChester, PA 19016", Phone: "800-916-8800"},
		},
		[]Recipient{
			{Kind: KindRegulator, Key: "cfpb", Name: "Consumer Financial Protection Bureau", Address: "1700 G Street NW\nWashington, DC 20552", Phone: "855-411-2372"},
			{Kind: KindRegulator, Key: "ftc", Name: "Federal Trade Commission", Address: "600 Pennsylvania Avenue NW\nWashington, DC 20580"},
		},
	)
}

func New(bureaus, regulators []Recipient) *Directory {
	d := &Directory{
		bureaus:    make(map[string]Recipient, len(bureaus)),
		regulators: make(map[string]Recipient, len(regulators)),
	}
	for _, r := range bureaus {
		d.bureaus[normalize(r.Key)] = r
	}
	for _, r := range regulators {
		d.regulators[normalize(r.Key)] = r
	}
	return d
}

// Bureau looks a bureau up by key; "TransUnion", "trans union" and
// "transunion" are the same key.
func (d *Directory) Bureau(key string) (Recipient, error) {
	r, ok := d.bureaus[normalize(key)]
	if !ok {
		return Recipient{}, fmt.Errorf("%w: bureau %q", ErrUnknownRecipient, key)
	}
	return r, nil
}

func (d *Directory) Regulator(key string) (Recipient, error) {
	r, ok := d.regulators[normalize(key)]
	if !ok {
		return Recipient{}, fmt.Errorf("%w: regulator %q", ErrUnknownRecipient, key)
	}
	return r, nil
}

// StateAttorneyGeneral builds the recipient for a state attorney general
// complaint. The directory carries no per-state addresses.
func (d *Directory) StateAttorneyGeneral(state string) Recipient {
	state = strings.ToUpper(strings.TrimSpace(state))
	return Recipient{
		Kind: KindRegulator,
		Key:  "state_ag_" + strings.ToLower(state),
		Name: strings.TrimSpace("Office of the Attorney General " + state),
	}
}

// Resolve picks the recipient of kind for an item. Furnishers come from the
// item record; regulator letters default to the CFPB.
func (d *Directory) Resolve(kind Kind, it item.CreditItem) (Recipient, error) {
	switch kind {
	case KindBureau:
		return d.Bureau(it.Bureau)
	case KindFurnisher:
		if strings.TrimSpace(it.CreditorName) == "" {
			return Recipient{}, fmt.Errorf("%w: item %s has no furnisher", ErrUnknownRecipient, it.ID)
		}
		return Recipient{Kind: KindFurnisher, Key: normalize(it.CreditorName), Name: it.CreditorName, Address: it.FurnisherAddress}, nil
	case KindRegulator:
		return d.Regulator("cfpb")
	default:
		return Recipient{}, fmt.Errorf("%w: kind %q", ErrUnknownRecipient, kind)
	}
}

func normalize(key string) string {
	return strings.ToLower(strings.NewReplacer(" ", "", "-", "", "_", "").Replace(strings.TrimSpace(key)))
}
