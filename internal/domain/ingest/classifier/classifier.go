// Package classifier assigns a category and counterparty to extracted
// transactions. Classification is total: user rules are tried first, then the
// remote semantic classifier, then a built-in keyword table, and finally the
// OTHER/UNKNOWN terminal value. It never returns an error to the caller.
package classifier

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/dmarulanda/finledger/internal/domain/ingest"
)

const (
	// ReasonRuleMatch marks a classification produced by a user rule.
	ReasonRuleMatch = "matched user rule"
	// ReasonStaticMatch marks a classification produced by the built-in table.
	ReasonStaticMatch = "matched built-in keyword"
	// ReasonNoMatch marks the terminal OTHER/UNKNOWN value.
	ReasonNoMatch = "no match"
)

// staticEntry is one row of the built-in fallback table. Distinct from user
// rules; evaluated in order with the same substring algorithm.
type staticEntry struct {
	keyword      string
	category     ingest.Category
	counterparty string
}

var staticTable = []staticEntry{
	{"FACEBOOK", ingest.CategoryAdsFacebook, "Meta Ads"},
	{"META PLATFORMS", ingest.CategoryAdsFacebook, "Meta Ads"},
	{"RECAUDO CONTRAENTREGA", ingest.CategoryRevDropiCOD, "Dropi"},
	{"DROPI", ingest.CategoryRevDropiCOD, "Dropi"},
	{"CONTRAENTREGA", ingest.CategoryRevDropiCOD, "Dropi"},
	{"ENVIO", ingest.CategoryFulfillment, "Transportadora"},
	{"FLETE", ingest.CategoryFulfillment, "Transportadora"},
	{"COORDINADORA", ingest.CategoryFulfillment, "Coordinadora"},
	{"INTERRAPIDISIMO", ingest.CategoryFulfillment, "Inter Rapidísimo"},
	{"SERVIENTREGA", ingest.CategoryFulfillment, "Servientrega"},
	{"RETIRO", ingest.CategoryWithdrawals, ingest.UnknownCounterparty},
	{"WITHDRAWAL", ingest.CategoryWithdrawals, ingest.UnknownCounterparty},
	{"SHOPIFY", ingest.CategorySoftwareTools, "Shopify"},
	{"CANVA", ingest.CategorySoftwareTools, "Canva"},
	{"OPENAI", ingest.CategorySoftwareTools, "OpenAI"},
	{"GOOGLE", ingest.CategorySoftwareTools, "Google"},
	{"TRANSFERENCIA ENTRE CUENTAS", ingest.CategoryInternalTransfer, ingest.UnknownCounterparty},
	{"TRASLADO", ingest.CategoryInternalTransfer, ingest.UnknownCounterparty},
	{"PROVEEDOR", ingest.CategoryInventory, ingest.UnknownCounterparty},
	{"COMPRA MERCANCIA", ingest.CategoryInventory, ingest.UnknownCounterparty},
	{"NOMINA", ingest.CategoryOperational, ingest.UnknownCounterparty},
	{"ARRIENDO", ingest.CategoryOperational, ingest.UnknownCounterparty},
	{"COMISION", ingest.CategoryOperational, ingest.UnknownCounterparty},
}

// Classifier runs the three-tier fallback chain.
type Classifier struct {
	remote ingest.RemoteClassifier
	logger *slog.Logger
}

// New creates a classifier. remote may be nil, in which case tier two is
// skipped entirely.
func New(remote ingest.RemoteClassifier, logger *slog.Logger) *Classifier {
	return &Classifier{remote: remote, logger: logger}
}

// Classify resolves {category, counterparty, confidence, reason} for one
// description. rules are the caller's active user rules; they are evaluated
// by descending priority, first match wins.
func (c *Classifier) Classify(ctx context.Context, description string, rules []ingest.Rule) ingest.Classification {
	upper := strings.ToUpper(description)

	if cls, ok := matchRules(upper, rules); ok {
		return cls
	}

	if c.remote != nil {
		cls, err := c.remote.ClassifyDescription(ctx, description)
		if err == nil && cls != nil && ingest.ValidCategory(cls.Category) {
			out := *cls
			if out.Counterparty == "" {
				out.Counterparty = ingest.UnknownCounterparty
			}
			return out
		}
		if err != nil {
			// Degraded, not fatal: fall through to the static table.
			c.logger.Warn("remote classifier unavailable, using static table", "error", err)
		}
	}

	if cls, ok := matchStatic(upper); ok {
		return cls
	}

	return ingest.Classification{
		Category:     ingest.CategoryOther,
		Counterparty: ingest.UnknownCounterparty,
		Confidence:   0,
		Reason:       ReasonNoMatch,
	}
}

// matchRules evaluates active user rules ordered by descending priority with
// case-insensitive substring matching. Ordering is enforced here so the
// outcome does not depend on insertion order.
func matchRules(upperDescription string, rules []ingest.Rule) (ingest.Classification, bool) {
	ordered := make([]ingest.Rule, 0, len(rules))
	for _, r := range rules {
		if r.Active && strings.TrimSpace(r.Keyword) != "" {
			ordered = append(ordered, r)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	for _, r := range ordered {
		if strings.Contains(upperDescription, strings.ToUpper(r.Keyword)) {
			counterparty := ingest.UnknownCounterparty
			if r.Counterparty != nil && *r.Counterparty != "" {
				counterparty = *r.Counterparty
			}
			return ingest.Classification{
				Category:     r.Category,
				Counterparty: counterparty,
				Confidence:   1,
				Reason:       ReasonRuleMatch,
			}, true
		}
	}
	return ingest.Classification{}, false
}

func matchStatic(upperDescription string) (ingest.Classification, bool) {
	for _, entry := range staticTable {
		if strings.Contains(upperDescription, entry.keyword) {
			return ingest.Classification{
				Category:     entry.category,
				Counterparty: entry.counterparty,
				Confidence:   0.6,
				Reason:       ReasonStaticMatch,
			}, true
		}
	}
	return ingest.Classification{}, false
}
