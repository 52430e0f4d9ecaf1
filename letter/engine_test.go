package letter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"disputeflow/consumer"
	"disputeflow/directory"
	"disputeflow/item"
	"disputeflow/strategy"
)

var letterDate = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func fullInput(t *testing.T, strategyID string) Input {
	t.Helper()
	st, err := strategy.Default().Get(strategyID)
	require.NoError(t, err)

	opened := letterDate.AddDate(-3, 0, 0)
	reported := letterDate.AddDate(0, -2, 0)
	dob := time.Date(1985, 7, 4, 0, 0, 0, 0, time.UTC)
	it := item.CreditItem{
		ID:               "item-1",
		Type:             item.TypeCollection,
		Bureau:           "experian",
		CreditorName:     "ACME Recovery",
		FurnisherAddress: "PO Box 100\nDallas, TX 75201",
		AccountNumber:    "9876-5432-1098",
		Balance:          2400,
		OpenedAt:         &opened,
		ReportedAt:       &reported,
		PaymentStatus:    "Collection",
		Jurisdiction:     "tx",
		History: []item.Attempt{{
			StrategyID: "factual_dispute", Outcome: item.OutcomeNoResponse, RecordedAt: letterDate.AddDate(0, 0, -40),
		}},
	}
	dir := directory.Default()
	recipient, err := dir.Resolve(st.Recipient, it)
	require.NoError(t, err)
	return Input{
		Item:     it,
		Strategy: st,
		Consumer: consumer.Profile{
			FullName: "Jane Q. Consumer", Address: "12 Elm St", City: "Austin", State: "TX", PostalCode: "78701",
			SSN: "123-45-6789", DateOfBirth: &dob,
		},
		Recipient: recipient,
		Date:      letterDate,
	}
}

func TestRender_EveryCatalogStrategyHasTemplate(t *testing.T) {
	have := map[string]bool{}
	for _, id := range TemplateIDs() {
		have[id] = true
	}
	for _, s := range strategy.Default().All() {
		assert.True(t, have[s.ID], "no template for %s", s.ID)
	}
}

func TestRender_NoPlaceholdersAndMasked(t *testing.T) {
	e := NewEngine(nil)
	ctx := context.Background()

	for _, s := range strategy.Default().All() {
		t.Run(s.ID, func(t *testing.T) {
			full := fullInput(t, s.ID)
			out, err := e.Render(ctx, s.ID, full)
			require.NoError(t, err)

			for _, text := range []string{out.Subject, out.Body} {
				assert.False(t, HasPlaceholder(text), "placeholder left in %q", text)
				assert.NotContains(t, text, "9876")
				assert.NotContains(t, text, "5432")
				assert.NotContains(t, text, "123-45")
				assert.NotContains(t, text, "45-6789")
			}
			assert.Contains(t, out.Body, "****1098")
			assert.Contains(t, out.Body, "XXX-XX-6789")
			for _, c := range s.Citations {
				assert.Contains(t, out.Body, c)
			}

			// Empty variable map: everything substitutes to "".
			empty, err := e.Render(ctx, s.ID, Input{Strategy: s})
			require.NoError(t, err)
			assert.False(t, HasPlaceholder(empty.Subject))
			assert.False(t, HasPlaceholder(empty.Body))
		})
	}
}

func TestRender_ScenarioDebtValidation(t *testing.T) {
	out, err := NewEngine(nil).Render(context.Background(), "debt_validation", fullInput(t, "debt_validation"))
	require.NoError(t, err)

	assert.Equal(t, "Request for validation of debt: account ****1098", out.Subject)
	assert.Contains(t, out.Body, "ACME Recovery")
	assert.Contains(t, out.Body, "$2,400.00")
	assert.Contains(t, out.Body, "March 1, 2025")
	assert.Contains(t, out.Body, "March 31, 2025", "response deadline is 30 days out")
	assert.Contains(t, out.Body, "PO Box 100")
	assert.False(t, out.Enhanced)
}

func TestRender_ValuesCannotInjectTokens(t *testing.T) {
	in := fullInput(t, "factual_dispute")
	in.Item.CreditorName = "Evil {consumer_name} Corp"
	out, err := NewEngine(nil).Render(context.Background(), "factual_dispute", in)
	require.NoError(t, err)
	assert.Contains(t, out.Body, "Evil consumer_name Corp")
	assert.False(t, HasPlaceholder(out.Body))
}

func TestRender_GenericAndUnknownTemplates(t *testing.T) {
	e := NewEngine(nil)
	in := fullInput(t, "factual_dispute")
	in.Strategy.ID = "bureau_portal_dispute"
	in.Strategy.Name = "Online Portal Dispute"

	out, err := e.Render(context.Background(), "bureau_portal_dispute", in)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out.Subject, "Online Portal Dispute:"))

	_, err = e.Render(context.Background(), "nope", Input{})
	assert.ErrorIs(t, err, ErrUnknownTemplate)
}

func TestRender_DefaultsDateFromClock(t *testing.T) {
	e := NewEngine(nil).WithClock(func() time.Time { return letterDate })
	in := fullInput(t, "factual_dispute")
	in.Date = time.Time{}
	out, err := e.Render(context.Background(), "factual_dispute", in)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out.Body, "March 1, 2025"))
}

func TestMasking(t *testing.T) {
	assert.Equal(t, "****1234", MaskAccount("5555 6666 7777 1234"))
	assert.Equal(t, "****x9z1", MaskAccount("ab-12-x9z1"))
	assert.Equal(t, "****12", MaskAccount("12"))
	assert.Equal(t, "", MaskAccount(""))
	assert.Equal(t, "XXX-XX-6789", MaskSSN("123-45-6789"))
	assert.Equal(t, "XXX-XX-6789", MaskSSN("123456789"))
	assert.Equal(t, "", MaskSSN(""))
}

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "$0.00", formatMoney(0))
	assert.Equal(t, "$999.50", formatMoney(999.5))
	assert.Equal(t, "$2,400.00", formatMoney(2400))
	assert.Equal(t, "$1,234,567.89", formatMoney(1234567.89))
}

func enhancedRender(t *testing.T, enhancer Enhancer, timeout time.Duration) (Rendered, Rendered) {
	t.Helper()
	in := fullInput(t, "debt_validation")
	plain, err := NewEngine(nil).Render(context.Background(), "debt_validation", in)
	require.NoError(t, err)

	e := NewEngine(nil).WithEnhancement(WithFallback(enhancer, timeout).WithLogger(zaptest.NewLogger(t)))
	got, err := e.Render(context.Background(), "debt_validation", in)
	require.NoError(t, err)
	return plain, got
}

func TestEnhancement_AcceptsValidRewrite(t *testing.T) {
	plain, got := enhancedRender(t, EnhancerFunc(func(ctx context.Context, text string) (string, error) {
		return strings.Replace(text, "To whom it may concern:", "Dear Collections Manager:", 1), nil
	}), time.Second)

	assert.True(t, got.Enhanced)
	assert.NotEqual(t, plain.Body, got.Body)
	assert.Contains(t, got.Body, "Dear Collections Manager:")
	assert.Equal(t, plain.Subject, got.Subject)
}

func TestEnhancement_FallsBack(t *testing.T) {
	cases := map[string]EnhancerFunc{
		"error": func(ctx context.Context, text string) (string, error) {
			return "", errors.New("service unavailable")
		},
		"too short": func(ctx context.Context, text string) (string, error) {
			return "Please delete this.", nil
		},
		"drops citation": func(ctx context.Context, text string) (string, error) {
			return strings.ReplaceAll(text, "15 U.S.C. § 1692g(b)", "the law"), nil
		},
		"drops masked account": func(ctx context.Context, text string) (string, error) {
			return strings.ReplaceAll(text, "****1098", "my account"), nil
		},
		"adds placeholder": func(ctx context.Context, text string) (string, error) {
			return text + "\n{signature}", nil
		},
		"leaks account": func(ctx context.Context, text string) (string, error) {
			return text + "\nFull account: 9876-5432-1098", nil
		},
		"panics": func(ctx context.Context, text string) (string, error) {
			panic("boom")
		},
		"times out": func(ctx context.Context, text string) (string, error) {
			<-ctx.Done()
			return text, ctx.Err()
		},
	}
	for name, enhancer := range cases {
		t.Run(name, func(t *testing.T) {
			plain, got := enhancedRender(t, enhancer, 20*time.Millisecond)
			assert.False(t, got.Enhanced)
			assert.Equal(t, plain.Body, got.Body)
		})
	}
}

func TestFromCompletion(t *testing.T) {
	var prompt string
	enhancer := FromCompletion(completionStub(func(p string) (string, error) {
		prompt = p
		return "  rewritten  ", nil
	}))
	out, err := enhancer.Enhance(context.Background(), "letter text")
	require.NoError(t, err)
	assert.Equal(t, "rewritten", out)
	assert.True(t, strings.HasSuffix(prompt, "letter text"))
}

type completionStub func(prompt string) (string, error)

func (c completionStub) Complete(ctx context.Context, prompt string) (string, error) {
	return c(prompt)
}
