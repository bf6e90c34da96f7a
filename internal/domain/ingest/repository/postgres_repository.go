package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/dmarulanda/finledger/internal/domain/common"
	"github.com/dmarulanda/finledger/internal/domain/ingest"
)

// PgxPool abstracts the subset of pgxpool.Pool used by the repository to allow mocking in tests.
type PgxPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

var _ PgxPool = (*pgxpool.Pool)(nil)

// PostgresIngestRepository implements IngestRepository using PostgreSQL.
type PostgresIngestRepository struct {
	pgpool PgxPool
}

// NewPostgresIngestRepository creates a new PostgreSQL-backed ingest repository.
func NewPostgresIngestRepository(pgpool PgxPool) *PostgresIngestRepository {
	return &PostgresIngestRepository{pgpool: pgpool}
}

const listActiveRulesQuery = `
	SELECT id, keyword, category, counterparty, priority, active
	FROM categorization_rules
	WHERE user_id = $1 AND active
	ORDER BY priority DESC, created_at ASC
`

func (r *PostgresIngestRepository) ListActiveRules(ctx context.Context, userID uuid.UUID) ([]ingest.Rule, error) {
	rows, err := r.pgpool.Query(ctx, listActiveRulesQuery, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list categorization rules: %w", err)
	}
	defer rows.Close()

	var rules []ingest.Rule
	for rows.Next() {
		var rule ingest.Rule
		if err := rows.Scan(&rule.ID, &rule.Keyword, &rule.Category, &rule.Counterparty, &rule.Priority, &rule.Active); err != nil {
			return nil, fmt.Errorf("failed to scan categorization rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

const loadExchangeRatesQuery = `
	SELECT base_currency, rate
	FROM exchange_rates
	WHERE quote_currency = $1
`

func (r *PostgresIngestRepository) LoadExchangeRates(ctx context.Context, quoteCurrency string) (map[string]decimal.Decimal, error) {
	rows, err := r.pgpool.Query(ctx, loadExchangeRatesQuery, quoteCurrency)
	if err != nil {
		return nil, fmt.Errorf("failed to load exchange rates: %w", err)
	}
	defer rows.Close()

	rates := make(map[string]decimal.Decimal)
	for rows.Next() {
		var base string
		var rate decimal.Decimal
		if err := rows.Scan(&base, &rate); err != nil {
			return nil, fmt.Errorf("failed to scan exchange rate: %w", err)
		}
		rates[base] = rate
	}
	return rates, rows.Err()
}

const getAccountQuery = `
	SELECT id, user_id, nombre, moneda, created_at
	FROM accounts
	WHERE id = $1 AND user_id = $2
`

func (r *PostgresIngestRepository) GetAccount(ctx context.Context, id, userID uuid.UUID) (*Account, error) {
	var account Account
	err := r.pgpool.QueryRow(ctx, getAccountQuery, id, userID).Scan(
		&account.ID, &account.UserID, &account.Name, &account.Currency, &account.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

var transactionColumns = []string{
	"id", "user_id", "cuenta", "fecha", "descripcion", "tipo",
	"monto_original", "moneda", "monto_cop", "categoria", "contrapartida",
	"referencia", "notas", "confidence", "reason",
}

// BulkInsertTransactions persists the reviewed batch through a single COPY,
// which either inserts every row or fails as a whole.
func (r *PostgresIngestRepository) BulkInsertTransactions(ctx context.Context, userID, accountID uuid.UUID, txs []ingest.NormalizedTransaction) (int, error) {
	if len(txs) == 0 {
		return 0, nil
	}

	copyCount, err := r.pgpool.CopyFrom(ctx,
		pgx.Identifier{"transactions"},
		transactionColumns,
		pgx.CopyFromSlice(len(txs), func(i int) ([]any, error) {
			tx := txs[i]
			return []any{
				uuid.New(),
				userID,
				accountID,
				tx.Date,
				tx.Description,
				string(tx.Direction),
				tx.AmountOriginal,
				tx.Currency,
				tx.AmountReporting,
				string(tx.Category),
				tx.Counterparty,
				tx.Reference,
				buildNotes(tx),
				tx.Confidence,
				tx.Reason,
			}, nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", common.ErrCommitFailed, err)
	}

	return int(copyCount), nil
}

func buildNotes(tx ingest.NormalizedTransaction) string {
	notes := ProvenanceNote
	if tx.ConversionNote != nil {
		notes += "; " + *tx.ConversionNote
	}
	return notes
}
