package extractor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dmarulanda/finledger/internal/domain/common"
	"github.com/dmarulanda/finledger/internal/domain/ingest"
)

// Dropi wallet statements carry one movement per line:
//
//	2025-01-05  RECAUDO CONTRAENTREGA PEDIDO 88123  CRÉDITO  APROBADO  $ 95.000,00  $ 1.250.000,00
//
// date, free-text description, operation type, status, signed amount, running
// balance. Extraction is purely pattern based; no semantic inference runs for
// a recognized vendor layout.
var dropiRecordRe = regexp.MustCompile(`(?mi)^\s*` +
	`(\d{4}-\d{2}-\d{2}|\d{2}/\d{2}/\d{4})\s+` + // date
	`(.+?)\s+` + // description
	`(CR[EÉ]DITO|D[EÉ]BITO)\s+` + // operation type
	`(APROBADO|PROCESADO|PENDIENTE|RECHAZADO)\s+` + // status
	`(-?\$?\s*[\d.,]+)\s+` + // signed amount
	`(-?\$?\s*[\d.,]+)\s*$`) // running balance

// dropiCurrency is the only currency Dropi wallets settle in.
const dropiCurrency = "COP"

func (e *Extractor) extractVendor(vendorID string, content []byte) ([]ingest.CandidateTransaction, error) {
	switch vendorID {
	case "dropi":
		return e.extractDropi(content)
	default:
		return nil, fmt.Errorf("%w: unsupported vendor %q", common.ErrExtractionFailed, vendorID)
	}
}

func (e *Extractor) extractDropi(content []byte) ([]ingest.CandidateTransaction, error) {
	matches := dropiRecordRe.FindAllStringSubmatch(string(content), -1)
	if len(matches) == 0 {
		// Zero matches on a supposed vendor statement means the vendor was
		// mis-detected, not that the statement is empty.
		return nil, fmt.Errorf("%w: no movements matched the dropi layout", common.ErrExtractionFailed)
	}

	out := make([]ingest.CandidateTransaction, 0, len(matches))
	for _, m := range matches {
		date, err := parseFlexibleDate(m[1])
		if err != nil {
			e.logger.Warn("skipping dropi movement with bad date", "date", m[1])
			continue
		}
		amount, err := parseVendorAmount(m[5])
		if err != nil {
			e.logger.Warn("skipping dropi movement with bad amount", "amount", m[5])
			continue
		}

		direction := ingest.DirectionIn
		if strings.HasPrefix(strings.ToUpper(m[3]), "D") {
			direction = ingest.DirectionOut
		}

		tx := ingest.CandidateTransaction{
			Date:           date,
			Description:    collapseSpaces(m[2]),
			AmountOriginal: amount.Abs(),
			Currency:       dropiCurrency,
			Direction:      direction,
		}
		if balance, err := parseVendorAmount(m[6]); err == nil {
			tx.BalanceAfter = &balance
		}
		out = append(out, tx)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%w: every matched dropi movement was unparseable", common.ErrExtractionFailed)
	}
	return out, nil
}

// parseVendorAmount parses es-CO formatted money ("1.234.567,89", optionally
// with a currency sign): dots are thousands separators and the comma is the
// decimal mark.
func parseVendorAmount(raw string) (decimal.Decimal, error) {
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' || r == '-' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" || cleaned == "-" {
		return decimal.Zero, fmt.Errorf("no numeric content in %q", raw)
	}
	cleaned = strings.ReplaceAll(cleaned, ".", "")
	cleaned = strings.ReplaceAll(cleaned, ",", ".")
	return decimal.NewFromString(cleaned)
}
