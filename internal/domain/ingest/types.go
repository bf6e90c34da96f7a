// Package ingest defines the data model shared by the statement-ingestion
// pipeline: structure descriptors produced by format detection, candidate
// transactions produced by extraction, and the classified/normalized records
// that end up in a review buffer.
package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Direction indicates whether money moved into or out of the account.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Category is one of the closed set of spending/revenue labels.
type Category string

const (
	CategoryFulfillment      Category = "FULFILLMENT"
	CategoryRevDropiCOD      Category = "REV_DROPI_COD"
	CategoryWithdrawals      Category = "WITHDRAWALS"
	CategoryAdsFacebook      Category = "ADS_FACEBOOK"
	CategorySoftwareTools    Category = "SOFTWARE_TOOLS"
	CategoryInternalTransfer Category = "INTERNAL_TRANSFER"
	CategoryInventory        Category = "INVENTORY"
	CategoryOperational      Category = "OPERATIONAL"
	CategoryOther            Category = "OTHER"
)

// AllCategories lists every valid category label, in a stable order.
var AllCategories = []Category{
	CategoryFulfillment,
	CategoryRevDropiCOD,
	CategoryWithdrawals,
	CategoryAdsFacebook,
	CategorySoftwareTools,
	CategoryInternalTransfer,
	CategoryInventory,
	CategoryOperational,
	CategoryOther,
}

// ValidCategory reports whether label is a member of the closed set.
func ValidCategory(label Category) bool {
	for _, c := range AllCategories {
		if c == label {
			return true
		}
	}
	return false
}

// UnknownCounterparty is the terminal counterparty value when nothing matched.
const UnknownCounterparty = "UNKNOWN"

// Field names a semantic column in a delimited statement.
type Field string

const (
	FieldDate        Field = "date"
	FieldDescription Field = "description"
	FieldAmount      Field = "amount"
	FieldCurrency    Field = "currency"
	FieldType        Field = "type"
	FieldReference   Field = "reference"
)

// StructureKind discriminates the StructureDescriptor variants.
type StructureKind string

const (
	StructureDelimited       StructureKind = "delimited"
	StructureDocumentGeneric StructureKind = "document_generic"
	StructureDocumentVendor  StructureKind = "document_vendor"
)

// StructureDescriptor is the result of format detection. Exactly one variant
// applies, selected by Kind; the remaining fields are zero-valued.
type StructureDescriptor struct {
	Kind StructureKind

	// Delimited variant.
	Separator       rune
	HasHeader       bool
	ColumnMapping   map[int]Field
	DefaultCurrency string

	// Document variants.
	Confidence float64
	VendorID   string

	// Fused extraction result for generic documents. The detector's semantic
	// inference step already produced the transaction list, so the extractor
	// must not re-extract.
	DocTransactions []DocTransaction
}

// DocTransaction is one transaction as returned by the semantic document
// extraction capability, before candidate validation.
type DocTransaction struct {
	Date         string   `json:"date"`
	Description  string   `json:"description"`
	Amount       float64  `json:"amount"`
	Currency     string   `json:"currency"`
	Reference    *string  `json:"reference"`
	BalanceAfter *float64 `json:"balance_after"`
}

// CandidateTransaction is one extracted, not-yet-classified transaction row.
// AmountOriginal is always non-negative; sign lives solely in Direction.
type CandidateTransaction struct {
	Date           time.Time
	Description    string
	AmountOriginal decimal.Decimal
	Currency       string
	Direction      Direction
	Reference      *string
	BalanceAfter   *decimal.Decimal
}

// Classification is the result of classifying a single description.
type Classification struct {
	Category     Category
	Counterparty string
	Confidence   float64
	Reason       string
}

// ClassifiedTransaction is a candidate plus its classification.
type ClassifiedTransaction struct {
	CandidateTransaction
	Classification
}

// NormalizedTransaction is a classified transaction converted into the
// reporting currency. When Currency equals ReportingCurrency the rate is 1
// and ConversionNote is nil.
type NormalizedTransaction struct {
	ClassifiedTransaction
	AmountReporting   decimal.Decimal
	ReportingCurrency string
	ConversionNote    *string
}

// Rule is a user-defined keyword-to-category mapping. Rules are read-only to
// the pipeline and evaluated in descending priority order with
// case-insensitive substring matching against the description.
type Rule struct {
	ID           uuid.UUID
	Keyword      string
	Category     Category
	Counterparty *string
	Priority     int
	Active       bool
}

// ColumnInference is the structured output of the semantic column-mapping
// capability for delimited text.
type ColumnInference struct {
	Mapping         map[int]Field
	DefaultCurrency string
}

// DocumentExtraction is the structured output of the fused document
// mapping+extraction capability.
type DocumentExtraction struct {
	Transactions []DocTransaction
	Confidence   float64
}

// StructureInferencer is the external semantic structure/extraction service.
// Implementations may fail with common.ErrRateLimited or
// common.ErrQuotaExceeded, which callers surface verbatim.
type StructureInferencer interface {
	// InferColumns maps positional columns of a delimited-text sample to
	// semantic fields.
	InferColumns(ctx context.Context, sample string) (*ColumnInference, error)
	// ExtractDocument performs fused structure detection and transaction
	// extraction over document content.
	ExtractDocument(ctx context.Context, content []byte, mimeType string) (*DocumentExtraction, error)
}

// RemoteClassifier is the external semantic classification service.
type RemoteClassifier interface {
	ClassifyDescription(ctx context.Context, description string) (*Classification, error)
}
