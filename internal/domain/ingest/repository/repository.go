// Package repository provides data access for the ingestion pipeline's
// external collaborators: the rule store, the rate table, the account store
// and the transaction store.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmarulanda/finledger/internal/domain/ingest"
)

// ProvenanceNote is the static note stamped on every manually-reviewed row at
// commit time.
const ProvenanceNote = "importado desde extracto y revisado manualmente"

// Account is a registered financial account owned by a user.
type Account struct {
	ID        uuid.UUID `db:"id"`
	UserID    uuid.UUID `db:"user_id"`
	Name      string    `db:"nombre"`
	Currency  string    `db:"moneda"`
	CreatedAt time.Time `db:"created_at"`
}

// IngestRepository defines the pipeline's data access operations. Rules and
// rates are read-only to the pipeline; the bulk insert is all-or-nothing.
type IngestRepository interface {
	// ListActiveRules returns the user's active categorization rules ordered
	// by descending priority.
	ListActiveRules(ctx context.Context, userID uuid.UUID) ([]ingest.Rule, error)

	// LoadExchangeRates returns base-currency → rate for the given quote
	// (reporting) currency.
	LoadExchangeRates(ctx context.Context, quoteCurrency string) (map[string]decimal.Decimal, error)

	// GetAccount resolves a destination account scoped to its owner.
	GetAccount(ctx context.Context, id, userID uuid.UUID) (*Account, error)

	// BulkInsertTransactions persists a reviewed batch tagged with the
	// destination account and owning user. All rows or none.
	BulkInsertTransactions(ctx context.Context, userID, accountID uuid.UUID, rows []ingest.NormalizedTransaction) (int, error)
}
