// Package letter renders dispute correspondence from fixed per-strategy
// templates and optionally polishes it through a completion service.
package letter

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"disputeflow/consumer"
	"disputeflow/directory"
	"disputeflow/item"
	"disputeflow/strategy"
)

var ErrUnknownTemplate = errors.New("letter: unknown template")

// DefaultResponseWindowDays is the statutory period recipients have to answer.
const DefaultResponseWindowDays = 30

const dateLayout = "January 2, 2006"

var (
	tokenPattern  = regexp.MustCompile(`\{[a-z0-9_]+\}`)
	residualToken = regexp.MustCompile(`\{[^{}\n]*\}`)
	braceStripper = strings.NewReplacer("{", "", "}", "")
)

// Input is everything a template can draw from.
type Input struct {
	Item      item.CreditItem
	Strategy  strategy.Strategy
	Consumer  consumer.Profile
	Recipient directory.Recipient
	// Prior defaults to the item's history when nil.
	Prior []item.Attempt
	// Date defaults to the engine clock when zero.
	Date time.Time
}

type Engine struct {
	directory      *directory.Directory
	enhancer       *Fallback
	responseWindow int
	now            func() time.Time
}

func NewEngine(dir *directory.Directory) *Engine {
	if dir == nil {
		dir = directory.Default()
	}
	return &Engine{
		directory:      dir,
		responseWindow: DefaultResponseWindowDays,
		now:            time.Now,
	}
}

// WithEnhancement enables the best-effort polishing pass.
func (e *Engine) WithEnhancement(f *Fallback) *Engine {
	e.enhancer = f
	return e
}

func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

func (e *Engine) WithResponseWindow(days int) *Engine {
	if days > 0 {
		e.responseWindow = days
	}
	return e
}

// Render fills the template for templateID. Strategies without a dedicated
// template use the generic one for their recipient kind. Enhancement
// failures never surface; the templated text is returned instead.
func (e *Engine) Render(ctx context.Context, templateID string, in Input) (Rendered, error) {
	tpl, ok := templates[templateID]
	if !ok {
		tpl, ok = genericTemplates[in.Strategy.Recipient]
	}
	if !ok {
		return Rendered{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, templateID)
	}
	if in.Date.IsZero() {
		in.Date = e.now()
	}
	if in.Prior == nil {
		in.Prior = in.Item.History
	}

	vars := e.Variables(in)
	out := Rendered{
		TemplateID: templateID,
		Subject:    strings.Join(strings.Fields(substitute(tpl.Subject, vars)), " "),
		Body:       substitute(header+tpl.Body+closing, vars),
		Citations:  append([]string(nil), in.Strategy.Citations...),
	}

	if e.enhancer != nil {
		guard := Guard{Required: append([]string(nil), out.Citations...)}
		if masked := vars["masked_account"]; masked != "" {
			guard.Required = append(guard.Required, masked)
		}
		if raw := alnum(in.Item.AccountNumber); len(raw) > 4 {
			guard.Forbidden = append(guard.Forbidden, raw)
		}
		if raw := digits(in.Consumer.SSN); len(raw) > 4 {
			guard.Forbidden = append(guard.Forbidden, raw)
		}
		out.Body, out.Enhanced = e.enhancer.Apply(ctx, out.Body, guard)
	}
	return out, nil
}

// Variables computes the substitution map for in. Every token in Tokens has
// an entry; unknown values are empty strings.
func (e *Engine) Variables(in Input) map[string]string {
	it := in.Item
	vars := make(map[string]string, len(Tokens))
	for _, tok := range Tokens {
		vars[tok] = ""
	}

	vars["date"] = formatDate(&in.Date)
	vars["consumer_name"] = in.Consumer.FullName
	vars["consumer_address"] = in.Consumer.MailingAddress()
	vars["masked_ssn"] = MaskSSN(in.Consumer.SSN)
	vars["date_of_birth"] = formatDate(in.Consumer.DateOfBirth)
	vars["recipient_name"] = in.Recipient.Name
	vars["recipient_address"] = in.Recipient.Address
	vars["bureau_name"] = e.bureauName(in)
	vars["creditor_name"] = it.CreditorName
	vars["masked_account"] = MaskAccount(it.AccountNumber)
	vars["item_type"] = strings.ReplaceAll(string(it.Type), "_", " ")
	vars["balance"] = formatMoney(it.Balance)
	vars["opened_date"] = formatDate(it.OpenedAt)
	vars["reported_date"] = formatDate(it.ReportedAt)
	vars["payment_status"] = it.PaymentStatus
	vars["strategy_name"] = in.Strategy.Name
	vars["legal_basis"] = in.Strategy.LegalBasis
	vars["citations"] = strings.Join(in.Strategy.Citations, "; ")
	vars["jurisdiction"] = strings.ToUpper(it.Jurisdiction)
	if years, ok := strategy.LimitationYears(it.Jurisdiction); ok {
		vars["limitation_years"] = strconv.Itoa(years)
	}
	if len(in.Prior) > 0 {
		last := in.Prior[len(in.Prior)-1]
		vars["prior_dispute_date"] = formatDate(&last.RecordedAt)
		vars["prior_outcome"] = strings.ReplaceAll(string(last.Outcome), "_", " ")
		vars["prior_strategy"] = last.StrategyID
	}
	deadline := in.Date.AddDate(0, 0, e.responseWindow)
	vars["response_deadline"] = formatDate(&deadline)

	for k, v := range vars {
		vars[k] = braceStripper.Replace(v)
	}
	return vars
}

func (e *Engine) bureauName(in Input) string {
	if in.Recipient.Kind == directory.KindBureau && in.Recipient.Name != "" {
		return in.Recipient.Name
	}
	if r, err := e.directory.Bureau(in.Item.Bureau); err == nil {
		return r.Name
	}
	return in.Item.Bureau
}

// substitute replaces every {token} with its value and drops anything still
// shaped like a placeholder.
func substitute(text string, vars map[string]string) string {
	out := tokenPattern.ReplaceAllStringFunc(text, func(tok string) string {
		return vars[tok[1:len(tok)-1]]
	})
	return residualToken.ReplaceAllString(out, "")
}

// HasPlaceholder reports whether text still contains a {token}.
func HasPlaceholder(text string) bool {
	return residualToken.MatchString(text)
}

func formatDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

func formatMoney(amount float64) string {
	cents := int64(amount*100 + 0.5)
	if amount < 0 {
		cents = int64(amount*100 - 0.5)
	}
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	whole := strconv.FormatInt(cents/100, 10)
	var grouped strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			grouped.WriteByte(',')
		}
		grouped.WriteRune(r)
	}
	return fmt.Sprintf("%s$%s.%02d", sign, grouped.String(), cents%100)
}
