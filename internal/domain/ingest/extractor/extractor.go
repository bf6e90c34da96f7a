// Package extractor walks a detected statement structure and emits one
// candidate transaction per source row. Single bad rows are skipped and
// logged; they never abort the batch.
package extractor

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dmarulanda/finledger/internal/domain/ingest"
)

// PlaceholderDescription is used when a delimited row has no mapped or
// non-empty description field.
const PlaceholderDescription = "(sin descripción)"

// Textual operation-type values that force a direction, in the two languages
// of the user base. Substring match against the lowercased type field.
var (
	incomeVocabulary  = []string{"ingreso", "abono", "recaudo", "credito", "crédito", "credit", "deposit", "depósito", "deposito"}
	expenseVocabulary = []string{"egreso", "cargo", "retiro", "debito", "débito", "debit", "withdrawal", "pago", "compra"}
)

var dateFormats = []string{
	"2006-01-02",
	"02/01/2006",
	"02-01-2006",
	"2006/01/02",
	"01/02/2006",
	"02.01.2006",
	"2006-01-02 15:04:05",
	"02/01/2006 15:04",
}

// Extractor converts detected structures into candidate transactions.
type Extractor struct {
	logger *slog.Logger
	// fallbackCurrency applies when neither the row nor the structure
	// descriptor declares a currency.
	fallbackCurrency string
	now              func() time.Time
}

// New creates an extractor. fallbackCurrency is normally the reporting
// currency.
func New(logger *slog.Logger, fallbackCurrency string) *Extractor {
	return &Extractor{
		logger:           logger,
		fallbackCurrency: strings.ToUpper(fallbackCurrency),
		now:              time.Now,
	}
}

// Extract dispatches on the structure variant. Output order matches source
// row order for every path.
func (e *Extractor) Extract(desc *ingest.StructureDescriptor, content []byte) ([]ingest.CandidateTransaction, error) {
	switch desc.Kind {
	case ingest.StructureDelimited:
		return e.extractDelimited(desc, content), nil
	case ingest.StructureDocumentVendor:
		return e.extractVendor(desc.VendorID, content)
	case ingest.StructureDocumentGeneric:
		return e.convertDocTransactions(desc.DocTransactions), nil
	default:
		return nil, fmt.Errorf("unknown structure kind %q", desc.Kind)
	}
}

func (e *Extractor) extractDelimited(desc *ingest.StructureDescriptor, content []byte) []ingest.CandidateTransaction {
	lines := strings.Split(strings.ReplaceAll(string(content), "\r\n", "\n"), "\n")

	start := 0
	if desc.HasHeader {
		start = 1
	}

	indexes := fieldIndexes(desc.ColumnMapping)

	var out []ingest.CandidateTransaction
	for i := start; i < len(lines); i++ {
		line := lines[i]
		if strings.TrimSpace(line) == "" {
			continue
		}
		tx, err := e.parseDelimitedRow(line, desc, indexes)
		if err != nil {
			// Row-level failure: skip the line, keep the batch going.
			e.logger.Warn("skipping unparseable statement row", "line", i+1, "error", err)
			continue
		}
		out = append(out, tx)
	}
	return out
}

// fieldIndexes inverts a column mapping into field → column index. When the
// inference maps several columns to the same field the lowest index wins, so
// identical input always extracts identically.
func fieldIndexes(mapping map[int]ingest.Field) map[ingest.Field]int {
	indexes := make(map[ingest.Field]int, len(mapping))
	for idx, field := range mapping {
		if prev, ok := indexes[field]; ok && prev <= idx {
			continue
		}
		indexes[field] = idx
	}
	return indexes
}

func (e *Extractor) parseDelimitedRow(line string, desc *ingest.StructureDescriptor, indexes map[ingest.Field]int) (ingest.CandidateTransaction, error) {
	fields := splitDelimited(line, desc.Separator)

	lookup := func(name ingest.Field) (string, bool) {
		idx, ok := indexes[name]
		if !ok || idx < 0 || idx >= len(fields) {
			return "", false
		}
		v := strings.TrimSpace(fields[idx])
		if v == "" {
			return "", false
		}
		return v, true
	}

	var tx ingest.CandidateTransaction

	if raw, ok := lookup(ingest.FieldDate); ok {
		if parsed, err := parseFlexibleDate(raw); err == nil {
			tx.Date = parsed
		} else {
			tx.Date = e.today()
		}
	} else {
		tx.Date = e.today()
	}

	if raw, ok := lookup(ingest.FieldDescription); ok {
		tx.Description = collapseSpaces(raw)
	} else {
		tx.Description = PlaceholderDescription
	}

	rawAmount, ok := lookup(ingest.FieldAmount)
	if !ok {
		return tx, fmt.Errorf("no amount value")
	}
	amount, err := parseAmount(rawAmount)
	if err != nil {
		return tx, fmt.Errorf("invalid amount %q: %w", rawAmount, err)
	}

	// Direction defaults to the amount sign and is overridden by the type
	// field's vocabulary; the amount is absolute-valued afterwards.
	direction := ingest.DirectionIn
	if amount.IsNegative() {
		direction = ingest.DirectionOut
	}
	if raw, ok := lookup(ingest.FieldType); ok {
		if d, ok := directionFromType(raw); ok {
			direction = d
		}
	}
	tx.Direction = direction
	tx.AmountOriginal = amount.Abs()

	if raw, ok := lookup(ingest.FieldCurrency); ok {
		tx.Currency = strings.ToUpper(raw)
	} else if desc.DefaultCurrency != "" {
		tx.Currency = desc.DefaultCurrency
	} else {
		tx.Currency = e.fallbackCurrency
	}

	if raw, ok := lookup(ingest.FieldReference); ok {
		ref := raw
		tx.Reference = &ref
	}

	return tx, nil
}

func (e *Extractor) convertDocTransactions(docs []ingest.DocTransaction) []ingest.CandidateTransaction {
	out := make([]ingest.CandidateTransaction, 0, len(docs))
	for i, doc := range docs {
		tx := ingest.CandidateTransaction{
			Description: collapseSpaces(doc.Description),
			Currency:    strings.ToUpper(strings.TrimSpace(doc.Currency)),
			Reference:   doc.Reference,
		}
		if tx.Description == "" {
			tx.Description = PlaceholderDescription
		}
		if tx.Currency == "" {
			tx.Currency = e.fallbackCurrency
		}
		if parsed, err := parseFlexibleDate(doc.Date); err == nil {
			tx.Date = parsed
		} else {
			e.logger.Warn("document transaction has unparseable date, defaulting to today", "row", i, "date", doc.Date)
			tx.Date = e.today()
		}

		amount := decimal.NewFromFloat(doc.Amount)
		tx.Direction = ingest.DirectionIn
		if amount.IsNegative() {
			tx.Direction = ingest.DirectionOut
		}
		tx.AmountOriginal = amount.Abs()

		if doc.BalanceAfter != nil {
			balance := decimal.NewFromFloat(*doc.BalanceAfter)
			tx.BalanceAfter = &balance
		}
		out = append(out, tx)
	}
	return out
}

func (e *Extractor) today() time.Time {
	return e.now().UTC().Truncate(24 * time.Hour)
}

// splitDelimited splits a line on sep, honoring double-quoted fields: a
// quoted field may contain the separator literally. Quote state toggles on
// each quote character.
func splitDelimited(line string, sep rune) []string {
	var fields []string
	var b strings.Builder
	inQuotes := false
	for _, r := range line {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case r == sep && !inQuotes:
			fields = append(fields, b.String())
			b.Reset()
		default:
			b.WriteRune(r)
		}
	}
	fields = append(fields, b.String())
	return fields
}

// parseAmount strips every character that is not a digit, a decimal point or
// a leading minus sign, then parses the remainder. Only a minus at index 0
// counts as a sign: formats like "$-150" or "(150)" parse as positive and rely
// on the type column for direction.
func parseAmount(raw string) (decimal.Decimal, error) {
	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.':
			b.WriteRune(r)
		case r == '-' && i == 0:
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" || cleaned == "-" {
		return decimal.Zero, fmt.Errorf("no numeric content")
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

func directionFromType(raw string) (ingest.Direction, bool) {
	lowered := strings.ToLower(raw)
	if lowered == "in" {
		return ingest.DirectionIn, true
	}
	if lowered == "out" {
		return ingest.DirectionOut, true
	}
	for _, word := range incomeVocabulary {
		if strings.Contains(lowered, word) {
			return ingest.DirectionIn, true
		}
	}
	for _, word := range expenseVocabulary {
		if strings.Contains(lowered, word) {
			return ingest.DirectionOut, true
		}
	}
	return "", false
}

func parseFlexibleDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, format := range dateFormats {
		if t, err := time.ParseInLocation(format, raw, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}

func collapseSpaces(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}
