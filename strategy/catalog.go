package strategy

import (
	"errors"
	"fmt"
	"sort"

	"disputeflow/directory"
	"disputeflow/item"
)

var (
	ErrUnknownStrategy = errors.New("strategy: unknown strategy")
	ErrIneligible      = errors.New("strategy: strategy not eligible for item")
	ErrInvalidCatalog  = errors.New("strategy: invalid catalog")
)

// Class groups strategies the escalation policy reasons about.
type Class string

const (
	ClassStandard              Class = "standard"
	ClassValidation            Class = "validation"
	ClassVerificationChallenge Class = "verification_challenge"
	ClassSilenceEstoppel       Class = "silence_estoppel"
	ClassFactualFollowup       Class = "factual_followup"
	ClassStatutory             Class = "statutory"
	ClassRegulatory            Class = "regulatory"
	ClassNegotiation           Class = "negotiation"
	ClassLitigation            Class = "litigation"
)

const (
	MinTier = 1
	MaxTier = 6

	// MaxAttemptsPerStrategy is how often a strategy may have been tried on an
	// item before it is contraindicated.
	MaxAttemptsPerStrategy = 1
)

// Strategy is one catalog entry. Entries are immutable once the catalog is built.
type Strategy struct {
	ID                string         `yaml:"id" json:"id"`
	Name              string         `yaml:"name" json:"name"`
	Tier              int            `yaml:"tier" json:"tier"`
	Class             Class          `yaml:"class" json:"class"`
	LegalBasis        string         `yaml:"legal_basis" json:"legal_basis"`
	Citations         []string       `yaml:"citations" json:"citations"`
	NominalRate       float64        `yaml:"nominal_rate" json:"nominal_rate"`
	Targets           []item.Type    `yaml:"targets" json:"targets"`
	RequiredTactics   []string       `yaml:"required_tactics" json:"required_tactics"`
	Prerequisites     []Condition    `yaml:"prerequisites" json:"prerequisites"`
	Contraindications []Condition    `yaml:"contraindications" json:"contraindications"`
	Follows           []string       `yaml:"follows" json:"follows"`
	Recipient         directory.Kind `yaml:"recipient" json:"recipient"`
	ImpactFactor      float64        `yaml:"impact_factor" json:"impact_factor"`
}

// TargetsType reports whether t is one of the strategy's target item types.
func (s Strategy) TargetsType(t item.Type) bool {
	for _, target := range s.Targets {
		if target == t {
			return true
		}
	}
	return false
}

// Catalog is an ordered, validated set of strategies.
type Catalog struct {
	strategies []Strategy
	byID       map[string]int
}

// NewCatalog validates entries and builds a catalog preserving their order.
func NewCatalog(entries []Strategy) (*Catalog, error) {
	c := &Catalog{
		strategies: make([]Strategy, 0, len(entries)),
		byID:       make(map[string]int, len(entries)),
	}
	for _, s := range entries {
		if err := validateEntry(s); err != nil {
			return nil, err
		}
		if _, dup := c.byID[s.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidCatalog, s.ID)
		}
		c.byID[s.ID] = len(c.strategies)
		c.strategies = append(c.strategies, s)
	}
	for _, s := range c.strategies {
		for _, dep := range s.Follows {
			if _, ok := c.byID[dep]; !ok {
				return nil, fmt.Errorf("%w: %s follows unknown strategy %q", ErrInvalidCatalog, s.ID, dep)
			}
		}
	}
	if cycle := c.followsCycle(); cycle != "" {
		return nil, fmt.Errorf("%w: follows cycle through %q", ErrInvalidCatalog, cycle)
	}
	return c, nil
}

func validateEntry(s Strategy) error {
	switch {
	case s.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidCatalog)
	case s.Name == "":
		return fmt.Errorf("%w: %s: missing name", ErrInvalidCatalog, s.ID)
	case s.Tier < MinTier || s.Tier > MaxTier:
		return fmt.Errorf("%w: %s: tier %d out of range", ErrInvalidCatalog, s.ID, s.Tier)
	case s.NominalRate <= 0 || s.NominalRate > 1:
		return fmt.Errorf("%w: %s: nominal rate %.2f out of range", ErrInvalidCatalog, s.ID, s.NominalRate)
	case len(s.Targets) == 0:
		return fmt.Errorf("%w: %s: no target types", ErrInvalidCatalog, s.ID)
	case s.ImpactFactor <= 0:
		return fmt.Errorf("%w: %s: impact factor must be positive", ErrInvalidCatalog, s.ID)
	}
	switch s.Recipient {
	case directory.KindBureau, directory.KindFurnisher, directory.KindRegulator:
	default:
		return fmt.Errorf("%w: %s: unknown recipient %q", ErrInvalidCatalog, s.ID, s.Recipient)
	}
	for _, c := range append(append([]Condition{}, s.Prerequisites...), s.Contraindications...) {
		if !c.Known() {
			return fmt.Errorf("%w: %s: unknown condition %q", ErrInvalidCatalog, s.ID, c)
		}
	}
	return nil
}

func (c *Catalog) followsCycle() string {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(c.strategies))
	var visit func(id string) string
	visit = func(id string) string {
		switch state[id] {
		case visiting:
			return id
		case done:
			return ""
		}
		state[id] = visiting
		for _, dep := range c.strategies[c.byID[id]].Follows {
			if found := visit(dep); found != "" {
				return found
			}
		}
		state[id] = done
		return ""
	}
	for _, s := range c.strategies {
		if found := visit(s.ID); found != "" {
			return found
		}
	}
	return ""
}

// All returns the strategies in catalog order.
func (c *Catalog) All() []Strategy {
	out := make([]Strategy, len(c.strategies))
	copy(out, c.strategies)
	return out
}

func (c *Catalog) Len() int { return len(c.strategies) }

func (c *Catalog) Get(id string) (Strategy, error) {
	idx, ok := c.byID[id]
	if !ok {
		return Strategy{}, fmt.Errorf("%w: %q", ErrUnknownStrategy, id)
	}
	return c.strategies[idx], nil
}

// ByClass returns the strategies of class ordered by tier, then catalog order.
func (c *Catalog) ByClass(class Class) []Strategy {
	var out []Strategy
	for _, s := range c.strategies {
		if s.Class == class {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Tier < out[j].Tier })
	return out
}

// Default returns the built-in catalog. It panics if the table is invalid,
// which tests guard against.
func Default() *Catalog {
	c, err := NewCatalog(defaultStrategies())
	if err != nil {
		panic(err)
	}
	return c
}

var (
	allTypes       = []item.Type{item.TypeAccount, item.TypeInquiry, item.TypePublicRecord, item.TypeCollection}
	tradelines     = []item.Type{item.TypeAccount, item.TypeCollection}
	reportedDebts  = []item.Type{item.TypeAccount, item.TypeCollection, item.TypePublicRecord}
	collectionOnly = []item.Type{item.TypeCollection}
	accountOnly    = []item.Type{item.TypeAccount}
)

func defaultStrategies() []Strategy {
	return []Strategy{
		// Tier 1
		{
			ID: "factual_dispute", Name: "Factual Accuracy Dispute", Tier: 1, Class: ClassStandard,
			LegalBasis:      "FCRA Section 611 reinvestigation of disputed information",
			Citations:       []string{"15 U.S.C. § 1681i(a)"},
			NominalRate:     0.70,
			Targets:         allTypes,
			RequiredTactics: []string{"itemized inaccuracies", "request for deletion or correction"},
			Recipient:       directory.KindBureau, ImpactFactor: 1.0,
		},
		{
			ID: "debt_validation", Name: "Debt Validation Request", Tier: 1, Class: ClassValidation,
			LegalBasis:      "FDCPA Section 809 validation of debts",
			Citations:       []string{"15 U.S.C. § 1692g(b)"},
			NominalRate:     0.75,
			Targets:         collectionOnly,
			RequiredTactics: []string{"demand original creditor documentation", "demand proof of assignment"},
			Recipient:       directory.KindFurnisher, ImpactFactor: 1.1,
		},
		{
			ID: "method_of_verification", Name: "Method of Verification Demand", Tier: 1, Class: ClassVerificationChallenge,
			LegalBasis:      "FCRA Section 611(a)(7) description of the reinvestigation procedure",
			Citations:       []string{"15 U.S.C. § 1681i(a)(6)(B)(iii)", "15 U.S.C. § 1681i(a)(7)"},
			NominalRate:     0.65,
			Targets:         reportedDebts,
			RequiredTactics: []string{"request verification procedure", "request furnisher contact details"},
			Prerequisites:   []Condition{CondPriorVerified},
			Follows:         []string{"factual_dispute"},
			Recipient:       directory.KindBureau, ImpactFactor: 1.0,
		},
		{
			ID: "estoppel_by_silence", Name: "Estoppel by Silence Notice", Tier: 1, Class: ClassSilenceEstoppel,
			LegalBasis:      "FCRA Section 611(a)(5)(A) deletion of information not reinvestigated within 30 days",
			Citations:       []string{"15 U.S.C. § 1681i(a)(1)(A)", "15 U.S.C. § 1681i(a)(5)(A)"},
			NominalRate:     0.60,
			Targets:         allTypes,
			RequiredTactics: []string{"cite original dispute date", "demand deletion for failure to respond"},
			Prerequisites:   []Condition{CondPriorNoResponse},
			Follows:         []string{"factual_dispute"},
			Recipient:       directory.KindBureau, ImpactFactor: 1.0,
		},
		{
			ID: "obsolete_item_removal", Name: "Obsolete Information Removal", Tier: 1, Class: ClassStatutory,
			LegalBasis:    "FCRA Section 605 reporting period limits",
			Citations:     []string{"15 U.S.C. § 1681c(a)"},
			NominalRate:   0.90,
			Targets:       reportedDebts,
			Prerequisites: []Condition{CondItemObsolete},
			Recipient:     directory.KindBureau, ImpactFactor: 1.2,
		},

		// Tier 2
		{
			ID: "unauthorized_inquiry", Name: "Unauthorized Inquiry Removal", Tier: 2, Class: ClassStandard,
			LegalBasis:    "FCRA Section 604 permissible purpose",
			Citations:     []string{"15 U.S.C. § 1681b(a)", "15 U.S.C. § 1681b(f)"},
			NominalRate:   0.55,
			Targets:       []item.Type{item.TypeInquiry},
			Prerequisites: []Condition{CondRecentInquiry},
			Recipient:     directory.KindBureau, ImpactFactor: 0.6,
		},
		{
			ID: "statute_of_limitations", Name: "Time-Barred Debt Notice", Tier: 2, Class: ClassStatutory,
			LegalBasis:    "State statute of limitations and FDCPA prohibition on suing on time-barred debt",
			Citations:     []string{"15 U.S.C. § 1692e(2)(A)", "12 C.F.R. § 1006.26(b)"},
			NominalRate:   0.60,
			Targets:       tradelines,
			Prerequisites: []Condition{CondPastStatuteOfLimitations},
			Recipient:     directory.KindFurnisher, ImpactFactor: 1.0,
		},
		{
			ID: "bankruptcy_court_verification", Name: "Bankruptcy Court Verification Challenge", Tier: 2, Class: ClassStatutory,
			LegalBasis:    "Courts do not furnish data to bureaus, so bureau verification claims are unsupported",
			Citations:     []string{"15 U.S.C. § 1681i(a)(6)(B)(iii)", "15 U.S.C. § 1681e(b)"},
			NominalRate:   0.55,
			Targets:       []item.Type{item.TypePublicRecord},
			Prerequisites: []Condition{CondCourtListedAsFurnisher},
			Recipient:     directory.KindBureau, ImpactFactor: 1.2,
		},
		{
			ID: "incomplete_information", Name: "Incomplete Information Dispute", Tier: 2, Class: ClassStandard,
			LegalBasis:    "FCRA Section 607(b) maximum possible accuracy",
			Citations:     []string{"15 U.S.C. § 1681e(b)", "15 U.S.C. § 1681s-2(a)(2)"},
			NominalRate:   0.50,
			Targets:       tradelines,
			Prerequisites: []Condition{CondMissingReportableFields},
			Recipient:     directory.KindBureau, ImpactFactor: 0.9,
		},
		{
			ID: "identity_theft_block", Name: "Identity Theft Block Request", Tier: 2, Class: ClassStatutory,
			LegalBasis:    "FCRA Section 605B block of information resulting from identity theft",
			Citations:     []string{"15 U.S.C. § 1681c-2(a)"},
			NominalRate:   0.80,
			Targets:       allTypes,
			Prerequisites: []Condition{CondIdentityTheftReported},
			Recipient:     directory.KindBureau, ImpactFactor: 1.3,
		},

		// Tier 3
		{
			ID: "furnisher_direct_dispute", Name: "Direct Furnisher Dispute", Tier: 3, Class: ClassStandard,
			LegalBasis:    "FCRA Section 623 duties of furnishers upon direct dispute",
			Citations:     []string{"15 U.S.C. § 1681s-2(a)(8)", "12 C.F.R. § 1022.43"},
			NominalRate:   0.45,
			Targets:       tradelines,
			Prerequisites: []Condition{CondPriorDispute},
			Follows:       []string{"factual_dispute"},
			Recipient:     directory.KindFurnisher, ImpactFactor: 0.9,
		},
		{
			ID: "procedural_request", Name: "Reinvestigation Procedure Request", Tier: 3, Class: ClassVerificationChallenge,
			LegalBasis:    "FCRA Section 611(a)(6)(B)(iii) and 611(a)(7) procedure disclosure",
			Citations:     []string{"15 U.S.C. § 1681i(a)(6)(B)(iii)", "15 U.S.C. § 1681i(a)(7)"},
			NominalRate:   0.40,
			Targets:       reportedDebts,
			Prerequisites: []Condition{CondPriorVerified},
			Follows:       []string{"method_of_verification"},
			Recipient:     directory.KindBureau, ImpactFactor: 0.8,
		},
		{
			ID: "reinvestigation_followup", Name: "Partial Correction Follow-up", Tier: 3, Class: ClassFactualFollowup,
			LegalBasis:    "FCRA Section 611 reinvestigation of remaining inaccuracies",
			Citations:     []string{"15 U.S.C. § 1681i(a)", "15 U.S.C. § 1681i(a)(5)(A)"},
			NominalRate:   0.55,
			Targets:       allTypes,
			Prerequisites: []Condition{CondPriorPartialSuccess},
			Follows:       []string{"factual_dispute"},
			Recipient:     directory.KindBureau, ImpactFactor: 0.9,
		},
		{
			ID: "re_aging_challenge", Name: "Re-aging Challenge", Tier: 3, Class: ClassStatutory,
			LegalBasis:    "FCRA Section 605(c) running of the reporting period",
			Citations:     []string{"15 U.S.C. § 1681c(c)", "15 U.S.C. § 1681s-2(a)(5)"},
			NominalRate:   0.50,
			Targets:       tradelines,
			Prerequisites: []Condition{CondReAged},
			Recipient:     directory.KindBureau, ImpactFactor: 1.0,
		},
		{
			ID: "metro2_compliance", Name: "Metro 2 Reporting Inconsistency Dispute", Tier: 3, Class: ClassStandard,
			LegalBasis:    "FCRA accuracy and integrity requirements for furnished data",
			Citations:     []string{"15 U.S.C. § 1681e(b)", "12 C.F.R. § 1022.42"},
			NominalRate:   0.45,
			Targets:       tradelines,
			Prerequisites: []Condition{CondReportingInconsistency},
			Recipient:     directory.KindBureau, ImpactFactor: 0.9,
		},

		// Tier 4
		{
			ID: "pay_for_delete", Name: "Pay for Delete Offer", Tier: 4, Class: ClassNegotiation,
			LegalBasis:        "Negotiated settlement conditioned on deletion",
			Citations:         []string{"15 U.S.C. § 1681s-2(a)(1)"},
			NominalRate:       0.40,
			Targets:           collectionOnly,
			Prerequisites:     []Condition{CondBalanceReported, CondPriorDispute},
			Contraindications: []Condition{CondPaidOrSettled},
			Follows:           []string{"debt_validation"},
			Recipient:         directory.KindFurnisher, ImpactFactor: 0.8,
		},
		{
			ID: "cease_and_desist", Name: "Cease Communication Demand", Tier: 4, Class: ClassStatutory,
			LegalBasis:    "FDCPA Section 805(c) ceasing communication",
			Citations:     []string{"15 U.S.C. § 1692c(c)"},
			NominalRate:   0.35,
			Targets:       collectionOnly,
			Prerequisites: []Condition{CondCollectorMisconduct},
			Recipient:     directory.KindFurnisher, ImpactFactor: 0.5,
		},
		{
			ID: "cfpb_complaint", Name: "CFPB Complaint", Tier: 4, Class: ClassRegulatory,
			LegalBasis:    "Regulatory complaint over an unsatisfactory reinvestigation",
			Citations:     []string{"12 U.S.C. § 5534", "15 U.S.C. § 1681i(a)"},
			NominalRate:   0.45,
			Targets:       reportedDebts,
			Prerequisites: []Condition{CondPriorUnfavorable},
			Follows:       []string{"factual_dispute"},
			Recipient:     directory.KindRegulator, ImpactFactor: 0.9,
		},
		{
			ID: "state_ag_complaint", Name: "State Attorney General Complaint", Tier: 4, Class: ClassRegulatory,
			LegalBasis:    "State consumer protection enforcement",
			Citations:     []string{"15 U.S.C. § 1681s(c)"},
			NominalRate:   0.35,
			Targets:       tradelines,
			Prerequisites: []Condition{CondPriorUnfavorable, CondJurisdictionKnown},
			Follows:       []string{"cfpb_complaint"},
			Recipient:     directory.KindRegulator, ImpactFactor: 0.8,
		},
		{
			ID: "medical_debt_validation", Name: "Medical Debt Validation", Tier: 4, Class: ClassValidation,
			LegalBasis:    "Restrictions on medical information and validation of medical collections",
			Citations:     []string{"15 U.S.C. § 1681b(g)", "15 U.S.C. § 1692g(b)"},
			NominalRate:   0.65,
			Targets:       tradelines,
			Prerequisites: []Condition{CondMedicalDebt},
			Recipient:     directory.KindFurnisher, ImpactFactor: 1.0,
		},

		// Tier 5
		{
			ID: "goodwill_adjustment", Name: "Goodwill Adjustment Letter", Tier: 5, Class: ClassNegotiation,
			LegalBasis:        "Creditor discretion to update reporting",
			Citations:         []string{"15 U.S.C. § 1681s-2(a)(2)"},
			NominalRate:       0.30,
			Targets:           accountOnly,
			Prerequisites:     []Condition{CondLatePaymentHistory, CondGoodStanding},
			Contraindications: []Condition{CondIdentityTheftReported},
			Recipient:         directory.KindFurnisher, ImpactFactor: 0.7,
		},
		{
			ID: "hardship_consideration", Name: "Hardship Consideration Request", Tier: 5, Class: ClassNegotiation,
			LegalBasis:    "Creditor discretion for documented hardship",
			Citations:     []string{"15 U.S.C. § 1681s-2(a)(2)"},
			NominalRate:   0.30,
			Targets:       tradelines,
			Prerequisites: []Condition{CondHardshipNoted},
			Recipient:     directory.KindFurnisher, ImpactFactor: 0.7,
		},
		{
			ID: "payment_history_correction", Name: "Payment History Correction", Tier: 5, Class: ClassStandard,
			LegalBasis:    "Furnisher duty to correct and update information",
			Citations:     []string{"15 U.S.C. § 1681s-2(a)(2)", "15 U.S.C. § 1681s-2(b)"},
			NominalRate:   0.35,
			Targets:       accountOnly,
			Prerequisites: []Condition{CondLatePaymentHistory, CondPriorDispute},
			Follows:       []string{"factual_dispute"},
			Recipient:     directory.KindFurnisher, ImpactFactor: 0.8,
		},
		{
			ID: "creditor_executive_escalation", Name: "Executive Office Escalation", Tier: 5, Class: ClassNegotiation,
			LegalBasis:    "Escalation above the furnisher's dispute desk",
			Citations:     []string{"15 U.S.C. § 1681s-2(b)"},
			NominalRate:   0.25,
			Targets:       tradelines,
			Prerequisites: []Condition{CondPriorRejected},
			Follows:       []string{"furnisher_direct_dispute"},
			Recipient:     directory.KindFurnisher, ImpactFactor: 0.8,
		},

		// Tier 6
		{
			ID: "fcra_intent_to_sue", Name: "Notice of Intent to Sue (FCRA)", Tier: 6, Class: ClassLitigation,
			LegalBasis:    "Civil liability for willful and negligent noncompliance",
			Citations:     []string{"15 U.S.C. § 1681n", "15 U.S.C. § 1681o"},
			NominalRate:   0.45,
			Targets:       reportedDebts,
			Prerequisites: []Condition{CondRepeatedVerification},
			Follows:       []string{"method_of_verification"},
			Recipient:     directory.KindBureau, ImpactFactor: 1.1,
		},
		{
			ID: "small_claims_filing", Name: "Small Claims Filing Notice", Tier: 6, Class: ClassLitigation,
			LegalBasis:    "FCRA private right of action brought in small claims court",
			Citations:     []string{"15 U.S.C. § 1681p", "15 U.S.C. § 1681n"},
			NominalRate:   0.40,
			Targets:       tradelines,
			Prerequisites: []Condition{CondRepeatedVerification, CondJurisdictionKnown},
			Follows:       []string{"fcra_intent_to_sue"},
			Recipient:     directory.KindFurnisher, ImpactFactor: 1.1,
		},
		{
			ID: "arbitration_demand", Name: "Arbitration Demand", Tier: 6, Class: ClassLitigation,
			LegalBasis:    "Contractual arbitration clause invoked by the consumer",
			Citations:     []string{"9 U.S.C. § 4", "15 U.S.C. § 1681n"},
			NominalRate:   0.35,
			Targets:       tradelines,
			Prerequisites: []Condition{CondRepeatedVerification, CondArbitrationClause},
			Recipient:     directory.KindFurnisher, ImpactFactor: 1.0,
		},
		{
			ID: "fdcpa_violation_notice", Name: "FDCPA Violation Notice", Tier: 6, Class: ClassLitigation,
			LegalBasis:    "Civil liability of debt collectors",
			Citations:     []string{"15 U.S.C. § 1692k", "15 U.S.C. § 1692e"},
			NominalRate:   0.40,
			Targets:       collectionOnly,
			Prerequisites: []Condition{CondCollectorMisconduct, CondPriorDispute},
			Follows:       []string{"debt_validation"},
			Recipient:     directory.KindFurnisher, ImpactFactor: 1.0,
		},
	}
}
