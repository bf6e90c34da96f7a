// Package currency converts original-currency amounts into the reporting
// currency using a read-only rate table.
package currency

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/dmarulanda/finledger/internal/domain/ingest"
)

// ReportingPrecision is the reporting currency's minor-unit precision. COP
// has no minor units in practice, so amounts round to whole pesos.
const ReportingPrecision = 0

// FallbackRates is the static process-wide table used when the rate store is
// unavailable. Read-only after init; safe to share across goroutines.
var FallbackRates = map[string]decimal.Decimal{
	"USD": decimal.NewFromInt(4100),
	"EUR": decimal.NewFromInt(4450),
	"MXN": decimal.NewFromInt(210),
	"PEN": decimal.NewFromInt(1100),
	"CLP": decimal.NewFromFloat(4.3),
}

// Normalizer converts classified transactions into the reporting currency.
type Normalizer struct {
	reporting string
	rates     map[string]decimal.Decimal
}

// New creates a normalizer for the given reporting currency. rates maps
// 3-letter codes to the reporting-currency rate; nil falls back to the static
// table.
func New(reporting string, rates map[string]decimal.Decimal) *Normalizer {
	if rates == nil {
		rates = FallbackRates
	}
	return &Normalizer{reporting: reporting, rates: rates}
}

// Normalize computes amountReporting = round(amountOriginal × rate). When the
// transaction currency equals the reporting currency the rate is always 1,
// regardless of table contents, and no note is attached. A currency missing
// from the table also gets rate 1, but the note flags the unresolved rate so
// the reviewer can see the discrepancy.
func (n *Normalizer) Normalize(tx ingest.ClassifiedTransaction) ingest.NormalizedTransaction {
	out := ingest.NormalizedTransaction{
		ClassifiedTransaction: tx,
		ReportingCurrency:     n.reporting,
	}

	if tx.Currency == n.reporting {
		out.AmountReporting = tx.AmountOriginal.Round(ReportingPrecision)
		return out
	}

	rate, ok := n.rates[tx.Currency]
	if !ok {
		out.AmountReporting = tx.AmountOriginal.Round(ReportingPrecision)
		note := fmt.Sprintf("sin tasa %s→%s; monto sin convertir", tx.Currency, n.reporting)
		out.ConversionNote = &note
		return out
	}

	out.AmountReporting = tx.AmountOriginal.Mul(rate).Round(ReportingPrecision)
	note := fmt.Sprintf("convertido de %s a %s (tasa %s)", tx.Currency, n.reporting, rate)
	out.ConversionNote = &note
	return out
}

// NormalizeAll converts a batch in order.
func (n *Normalizer) NormalizeAll(txs []ingest.ClassifiedTransaction) []ingest.NormalizedTransaction {
	out := make([]ingest.NormalizedTransaction, 0, len(txs))
	for _, tx := range txs {
		out = append(out, n.Normalize(tx))
	}
	return out
}
