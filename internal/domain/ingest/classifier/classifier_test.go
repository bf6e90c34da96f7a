package classifier

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/dmarulanda/finledger/internal/domain/ingest"
)

type stubRemote struct {
	cls   *ingest.Classification
	err   error
	calls int
}

func (s *stubRemote) ClassifyDescription(_ context.Context, _ string) (*ingest.Classification, error) {
	s.calls++
	return s.cls, s.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func strPtr(s string) *string { return &s }

func TestClassify_UserRuleWinsOverEverything(t *testing.T) {
	remote := &stubRemote{cls: &ingest.Classification{Category: ingest.CategoryOperational, Counterparty: "X", Confidence: 0.9}}
	c := New(remote, testLogger())

	rules := []ingest.Rule{
		{Keyword: "facebook", Category: ingest.CategorySoftwareTools, Counterparty: strPtr("Mi Regla"), Priority: 5, Active: true},
	}
	got := c.Classify(context.Background(), "PAGO FACEBOOK ADS", rules)

	if got.Category != ingest.CategorySoftwareTools {
		t.Errorf("expected rule category, got %s", got.Category)
	}
	if got.Counterparty != "Mi Regla" {
		t.Errorf("expected rule counterparty, got %q", got.Counterparty)
	}
	if got.Confidence != 1 {
		t.Errorf("rule matches carry maximum certainty, got %v", got.Confidence)
	}
	if got.Reason != ReasonRuleMatch {
		t.Errorf("unexpected reason %q", got.Reason)
	}
	if remote.calls != 0 {
		t.Error("remote classifier must not run when a rule matched")
	}
}

func TestClassify_RulePrecedenceByPriority(t *testing.T) {
	c := New(nil, testLogger())

	// Both rules match; the higher priority one must win regardless of
	// insertion order.
	rules := []ingest.Rule{
		{Keyword: "ADS", Category: ingest.CategoryOperational, Priority: 1, Active: true},
		{Keyword: "FACEBOOK", Category: ingest.CategoryAdsFacebook, Priority: 10, Active: true},
	}
	got := c.Classify(context.Background(), "pago facebook ads", rules)
	if got.Category != ingest.CategoryAdsFacebook {
		t.Fatalf("expected the priority-10 rule to win, got %s", got.Category)
	}

	// Reversed insertion order, same outcome.
	reversed := []ingest.Rule{rules[1], rules[0]}
	got = c.Classify(context.Background(), "pago facebook ads", reversed)
	if got.Category != ingest.CategoryAdsFacebook {
		t.Fatalf("rule precedence depends on insertion order, got %s", got.Category)
	}
}

func TestClassify_InactiveRuleIgnored(t *testing.T) {
	c := New(nil, testLogger())
	rules := []ingest.Rule{
		{Keyword: "FACEBOOK", Category: ingest.CategoryInventory, Priority: 10, Active: false},
	}
	got := c.Classify(context.Background(), "PAGO FACEBOOK ADS", rules)
	if got.Category != ingest.CategoryAdsFacebook || got.Reason != ReasonStaticMatch {
		t.Fatalf("inactive rule must not match; got %s via %q", got.Category, got.Reason)
	}
}

func TestClassify_RemoteSecondTier(t *testing.T) {
	remote := &stubRemote{cls: &ingest.Classification{
		Category:     ingest.CategoryInventory,
		Counterparty: "Proveedor Textil",
		Confidence:   0.85,
		Reason:       "semantic classifier",
	}}
	c := New(remote, testLogger())

	got := c.Classify(context.Background(), "PAGO PEDIDO TELAS MEDELLIN", nil)
	if got.Category != ingest.CategoryInventory {
		t.Errorf("expected remote result, got %s", got.Category)
	}
	if got.Counterparty != "Proveedor Textil" {
		t.Errorf("expected remote counterparty, got %q", got.Counterparty)
	}
}

func TestClassify_RemoteInvalidCategoryFallsThrough(t *testing.T) {
	remote := &stubRemote{cls: &ingest.Classification{Category: "NOT_A_LABEL", Counterparty: "X"}}
	c := New(remote, testLogger())

	got := c.Classify(context.Background(), "PAGO FACEBOOK ADS", nil)
	if got.Category != ingest.CategoryAdsFacebook || got.Reason != ReasonStaticMatch {
		t.Fatalf("malformed remote output must fall back to the static table, got %s via %q", got.Category, got.Reason)
	}
}

func TestClassify_RemoteErrorFallsBackToStaticTable(t *testing.T) {
	remote := &stubRemote{err: errors.New("connection refused")}
	c := New(remote, testLogger())

	got := c.Classify(context.Background(), "SUSCRIPCION SHOPIFY MENSUAL", nil)
	if got.Category != ingest.CategorySoftwareTools {
		t.Errorf("expected static table match, got %s", got.Category)
	}
	if got.Counterparty != "Shopify" {
		t.Errorf("expected Shopify counterparty, got %q", got.Counterparty)
	}
}

func TestClassify_TerminalOtherUnknown(t *testing.T) {
	remote := &stubRemote{err: errors.New("unreachable")}
	c := New(remote, testLogger())

	got := c.Classify(context.Background(), "ZZZZ 9881 MOVIMIENTO RARO", nil)
	if got.Category != ingest.CategoryOther {
		t.Errorf("expected OTHER, got %s", got.Category)
	}
	if got.Counterparty != ingest.UnknownCounterparty {
		t.Errorf("expected UNKNOWN, got %q", got.Counterparty)
	}
	if got.Confidence != 0 {
		t.Errorf("expected confidence 0, got %v", got.Confidence)
	}
	if got.Reason != ReasonNoMatch {
		t.Errorf("expected reason %q, got %q", ReasonNoMatch, got.Reason)
	}
}

func TestClassify_StaticFacebookKeyword(t *testing.T) {
	c := New(nil, testLogger())
	got := c.Classify(context.Background(), "PAGO FACEBOOK ADS", nil)
	if got.Category != ingest.CategoryAdsFacebook {
		t.Fatalf("expected ADS_FACEBOOK via static keyword, got %s", got.Category)
	}
}
