package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmarulanda/finledger/internal/domain/common"
	"github.com/dmarulanda/finledger/internal/domain/ingest"
	"github.com/dmarulanda/finledger/internal/domain/ingest/classifier"
	"github.com/dmarulanda/finledger/internal/domain/ingest/detector"
	"github.com/dmarulanda/finledger/internal/domain/ingest/extractor"
	"github.com/dmarulanda/finledger/internal/domain/ingest/repository"
	"github.com/dmarulanda/finledger/internal/domain/ingest/review"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubInferencer struct {
	inference *ingest.ColumnInference
	calls     int
}

func (s *stubInferencer) InferColumns(_ context.Context, _ string) (*ingest.ColumnInference, error) {
	s.calls++
	if s.inference == nil {
		return nil, errors.New("unexpected InferColumns call")
	}
	return s.inference, nil
}

func (s *stubInferencer) ExtractDocument(_ context.Context, _ []byte, _ string) (*ingest.DocumentExtraction, error) {
	return nil, errors.New("unexpected ExtractDocument call")
}

type stubRemote struct {
	err   error
	calls int
}

func (s *stubRemote) ClassifyDescription(_ context.Context, _ string) (*ingest.Classification, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return nil, errors.New("unexpected remote call")
}

type stubRepo struct {
	rules        []ingest.Rule
	rates        map[string]decimal.Decimal
	account      *repository.Account
	accountCalls int
	insertErr    error
	inserted     []ingest.NormalizedTransaction
}

func (s *stubRepo) ListActiveRules(_ context.Context, _ uuid.UUID) ([]ingest.Rule, error) {
	return s.rules, nil
}

func (s *stubRepo) LoadExchangeRates(_ context.Context, _ string) (map[string]decimal.Decimal, error) {
	if s.rates == nil {
		return nil, errors.New("rates unavailable")
	}
	return s.rates, nil
}

func (s *stubRepo) GetAccount(_ context.Context, id, userID uuid.UUID) (*repository.Account, error) {
	s.accountCalls++
	if s.account == nil || s.account.ID != id || s.account.UserID != userID {
		return nil, common.ErrNotFound
	}
	return s.account, nil
}

func (s *stubRepo) BulkInsertTransactions(_ context.Context, _, _ uuid.UUID, rows []ingest.NormalizedTransaction) (int, error) {
	if s.insertErr != nil {
		return 0, s.insertErr
	}
	s.inserted = append(s.inserted, rows...)
	return len(rows), nil
}

func newTestService(repo *stubRepo, inf *stubInferencer, remote *stubRemote) *IngestService {
	logger := testLogger()
	return NewIngestService(
		repo,
		detector.New(inf, logger, detector.Config{}),
		extractor.New(logger, "COP"),
		classifier.New(remote, logger),
		review.NewManager(0),
		"COP",
		2,
		logger,
	)
}

func csvMapping() *ingest.ColumnInference {
	return &ingest.ColumnInference{
		Mapping: map[int]ingest.Field{
			0: ingest.FieldDate,
			1: ingest.FieldDescription,
			2: ingest.FieldAmount,
			3: ingest.FieldCurrency,
			4: ingest.FieldType,
		},
		DefaultCurrency: "COP",
	}
}

func TestAnalyzeStatement_CSVEndToEnd(t *testing.T) {
	repo := &stubRepo{rates: map[string]decimal.Decimal{"USD": decimal.NewFromInt(4100)}}
	remote := &stubRemote{err: errors.New("remote down")}
	svc := newTestService(repo, &stubInferencer{inference: csvMapping()}, remote)

	content := []byte("fecha,descripcion,monto,moneda,tipo\n" +
		"2025-01-05,PAGO FACEBOOK ADS,-150000,COP,Egreso\n" +
		"2025-01-06,RECAUDO CONTRAENTREGA PEDIDO 88123,95000,COP,Ingreso\n")

	result, err := svc.AnalyzeStatement(context.Background(), uuid.New(), "extracto.csv", content)
	if err != nil {
		t.Fatalf("AnalyzeStatement: %v", err)
	}
	if result.Kind != ingest.StructureDelimited {
		t.Errorf("expected delimited structure, got %s", result.Kind)
	}
	if result.RowsTotal != 2 {
		t.Fatalf("expected 2 rows, got %d", result.RowsTotal)
	}

	first := result.Rows[0]
	if first.Category != ingest.CategoryAdsFacebook {
		t.Errorf("expected ADS_FACEBOOK from the built-in table, got %s", first.Category)
	}
	if first.Direction != ingest.DirectionOut {
		t.Errorf("expected out, got %s", first.Direction)
	}
	if !first.AmountOriginal.Equal(decimal.NewFromInt(150000)) {
		t.Errorf("expected amount 150000, got %s", first.AmountOriginal)
	}
	if !first.AmountReporting.Equal(decimal.NewFromInt(150000)) || first.ConversionNote != nil {
		t.Errorf("COP row must pass through unconverted, got %s (note %v)", first.AmountReporting, first.ConversionNote)
	}

	second := result.Rows[1]
	if second.Category != ingest.CategoryRevDropiCOD || second.Direction != ingest.DirectionIn {
		t.Errorf("unexpected second row: %s %s", second.Category, second.Direction)
	}
}

func TestAnalyzeStatement_ConvertsForeignCurrency(t *testing.T) {
	repo := &stubRepo{rates: map[string]decimal.Decimal{"USD": decimal.NewFromInt(4100)}}
	svc := newTestService(repo, &stubInferencer{inference: csvMapping()}, &stubRemote{err: errors.New("down")})

	content := []byte("fecha,descripcion,monto,moneda,tipo\n" +
		"2025-01-05,SHOPIFY SUBSCRIPTION,-29,USD,Egreso\n")

	result, err := svc.AnalyzeStatement(context.Background(), uuid.New(), "extracto.csv", content)
	if err != nil {
		t.Fatalf("AnalyzeStatement: %v", err)
	}
	row := result.Rows[0]
	if !row.AmountReporting.Equal(decimal.NewFromInt(118900)) {
		t.Errorf("expected 29 USD -> 118900 COP, got %s", row.AmountReporting)
	}
	if row.ConversionNote == nil {
		t.Error("converted row must carry a conversion note")
	}
}

func TestAnalyzeStatement_RuleBeatsStaticTable(t *testing.T) {
	counterparty := "Meta"
	repo := &stubRepo{
		rules: []ingest.Rule{{
			ID: uuid.New(), Keyword: "FACEBOOK", Category: ingest.CategoryOperational,
			Counterparty: &counterparty, Priority: 10, Active: true,
		}},
		rates: map[string]decimal.Decimal{},
	}
	remote := &stubRemote{err: errors.New("down")}
	svc := newTestService(repo, &stubInferencer{inference: csvMapping()}, remote)

	content := []byte("fecha,descripcion,monto,moneda,tipo\n" +
		"2025-01-05,PAGO FACEBOOK ADS,-150000,COP,Egreso\n")

	result, err := svc.AnalyzeStatement(context.Background(), uuid.New(), "extracto.csv", content)
	if err != nil {
		t.Fatalf("AnalyzeStatement: %v", err)
	}
	row := result.Rows[0]
	if row.Category != ingest.CategoryOperational || row.Counterparty != "Meta" {
		t.Errorf("user rule must win: got %s / %s", row.Category, row.Counterparty)
	}
	if remote.calls != 0 {
		t.Errorf("remote classifier must not run after a rule match, got %d calls", remote.calls)
	}
}

func TestAnalyzeStatement_VendorDocumentSkipsInference(t *testing.T) {
	repo := &stubRepo{rates: map[string]decimal.Decimal{}}
	inf := &stubInferencer{}
	svc := newTestService(repo, inf, &stubRemote{err: errors.New("down")})

	content := []byte("BILLETERA DROPI - MOVIMIENTOS\n" +
		"2025-01-05  RECAUDO CONTRAENTREGA PEDIDO 88123  CRÉDITO  APROBADO  $ 95.000,00  $ 1.250.000,00\n")

	result, err := svc.AnalyzeStatement(context.Background(), uuid.New(), "extracto.pdf", content)
	if err != nil {
		t.Fatalf("AnalyzeStatement: %v", err)
	}
	if result.Kind != ingest.StructureDocumentVendor || result.VendorID != "dropi" {
		t.Fatalf("expected dropi vendor structure, got %s/%s", result.Kind, result.VendorID)
	}
	if inf.calls != 0 {
		t.Errorf("semantic inference must not run for a recognized vendor, got %d calls", inf.calls)
	}
	row := result.Rows[0]
	if !row.AmountOriginal.Equal(decimal.NewFromInt(95000)) || row.Currency != "COP" {
		t.Errorf("unexpected vendor row: %s %s", row.AmountOriginal, row.Currency)
	}
}

func TestCommit_SuccessConsumesBuffer(t *testing.T) {
	userID := uuid.New()
	account := &repository.Account{ID: uuid.New(), UserID: userID, Name: "Bancolombia", Currency: "COP"}
	repo := &stubRepo{rates: map[string]decimal.Decimal{}, account: account}
	svc := newTestService(repo, &stubInferencer{inference: csvMapping()}, &stubRemote{err: errors.New("down")})

	content := []byte("fecha,descripcion,monto,moneda,tipo\n" +
		"2025-01-05,PAGO FACEBOOK ADS,-150000,COP,Egreso\n")
	analyzed, err := svc.AnalyzeStatement(context.Background(), userID, "extracto.csv", content)
	if err != nil {
		t.Fatalf("AnalyzeStatement: %v", err)
	}

	result, err := svc.Commit(context.Background(), userID, analyzed.BufferID, account.ID)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if result.RowsInserted != 1 {
		t.Errorf("expected 1 inserted row, got %d", result.RowsInserted)
	}
	if len(repo.inserted) != 1 {
		t.Errorf("expected the row to reach the store, got %d", len(repo.inserted))
	}

	if _, err := svc.GetReview(context.Background(), userID, analyzed.BufferID); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("committed buffer must be gone, got %v", err)
	}
}

func TestCommit_InsertFailureLeavesBufferIntact(t *testing.T) {
	userID := uuid.New()
	account := &repository.Account{ID: uuid.New(), UserID: userID, Name: "Bancolombia", Currency: "COP"}
	repo := &stubRepo{
		rates:     map[string]decimal.Decimal{},
		account:   account,
		insertErr: common.ErrCommitFailed,
	}
	svc := newTestService(repo, &stubInferencer{inference: csvMapping()}, &stubRemote{err: errors.New("down")})

	content := []byte("fecha,descripcion,monto,moneda,tipo\n" +
		"2025-01-05,PAGO FACEBOOK ADS,-150000,COP,Egreso\n")
	analyzed, err := svc.AnalyzeStatement(context.Background(), userID, "extracto.csv", content)
	if err != nil {
		t.Fatalf("AnalyzeStatement: %v", err)
	}

	if _, err := svc.Commit(context.Background(), userID, analyzed.BufferID, account.ID); !errors.Is(err, common.ErrCommitFailed) {
		t.Fatalf("expected ErrCommitFailed, got %v", err)
	}

	buffer, err := svc.GetReview(context.Background(), userID, analyzed.BufferID)
	if err != nil {
		t.Fatalf("buffer must survive a failed commit: %v", err)
	}
	if buffer.State() != review.StatePopulated || len(buffer.Rows()) != 1 {
		t.Errorf("buffer must stay populated for retry, state=%s rows=%d", buffer.State(), len(buffer.Rows()))
	}
}

func TestCommit_EmptyBufferRejectedBeforeStoreCalls(t *testing.T) {
	userID := uuid.New()
	account := &repository.Account{ID: uuid.New(), UserID: userID, Name: "Bancolombia", Currency: "COP"}
	repo := &stubRepo{rates: map[string]decimal.Decimal{}, account: account}
	svc := newTestService(repo, &stubInferencer{inference: csvMapping()}, &stubRemote{err: errors.New("down")})

	buffer := svc.buffers.Create(userID, nil)

	if _, err := svc.Commit(context.Background(), userID, buffer.ID, account.ID); !errors.Is(err, common.ErrEmptyBuffer) {
		t.Fatalf("expected ErrEmptyBuffer, got %v", err)
	}
	if repo.accountCalls != 0 {
		t.Errorf("empty buffer must be rejected before any store call, got %d account lookups", repo.accountCalls)
	}
	if len(repo.inserted) != 0 {
		t.Error("nothing may be inserted for an empty buffer")
	}
}

func TestCommit_UnknownAccountRejected(t *testing.T) {
	userID := uuid.New()
	repo := &stubRepo{rates: map[string]decimal.Decimal{}}
	svc := newTestService(repo, &stubInferencer{inference: csvMapping()}, &stubRemote{err: errors.New("down")})

	content := []byte("fecha,descripcion,monto,moneda,tipo\n" +
		"2025-01-05,PAGO FACEBOOK ADS,-150000,COP,Egreso\n")
	analyzed, err := svc.AnalyzeStatement(context.Background(), userID, "extracto.csv", content)
	if err != nil {
		t.Fatalf("AnalyzeStatement: %v", err)
	}

	if _, err := svc.Commit(context.Background(), userID, analyzed.BufferID, uuid.New()); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign account, got %v", err)
	}
	if len(repo.inserted) != 0 {
		t.Error("nothing may be inserted when the account lookup fails")
	}
}

func TestEditAndRemoveThroughService(t *testing.T) {
	userID := uuid.New()
	repo := &stubRepo{rates: map[string]decimal.Decimal{}}
	svc := newTestService(repo, &stubInferencer{inference: csvMapping()}, &stubRemote{err: errors.New("down")})

	content := []byte("fecha,descripcion,monto,moneda,tipo\n" +
		"2025-01-05,PAGO FACEBOOK ADS,-150000,COP,Egreso\n" +
		"2025-01-06,RETIRO CAJERO,-200000,COP,Egreso\n")
	analyzed, err := svc.AnalyzeStatement(context.Background(), userID, "extracto.csv", content)
	if err != nil {
		t.Fatalf("AnalyzeStatement: %v", err)
	}

	if err := svc.EditRow(context.Background(), userID, analyzed.BufferID, 0, "category", "SOFTWARE_TOOLS"); err != nil {
		t.Fatalf("EditRow: %v", err)
	}
	if err := svc.RemoveRow(context.Background(), userID, analyzed.BufferID, 1); err != nil {
		t.Fatalf("RemoveRow: %v", err)
	}

	buffer, err := svc.GetReview(context.Background(), userID, analyzed.BufferID)
	if err != nil {
		t.Fatalf("GetReview: %v", err)
	}
	rows := buffer.Rows()
	if len(rows) != 1 || rows[0].Category != ingest.CategorySoftwareTools {
		t.Errorf("unexpected rows after edit+remove: %+v", rows)
	}
}

func TestDiscardDropsBuffer(t *testing.T) {
	userID := uuid.New()
	repo := &stubRepo{rates: map[string]decimal.Decimal{}}
	svc := newTestService(repo, &stubInferencer{inference: csvMapping()}, &stubRemote{err: errors.New("down")})

	content := []byte("fecha,descripcion,monto,moneda,tipo\n" +
		"2025-01-05,PAGO FACEBOOK ADS,-150000,COP,Egreso\n")
	analyzed, err := svc.AnalyzeStatement(context.Background(), userID, "extracto.csv", content)
	if err != nil {
		t.Fatalf("AnalyzeStatement: %v", err)
	}

	if err := svc.Discard(context.Background(), userID, analyzed.BufferID); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if _, err := svc.GetReview(context.Background(), userID, analyzed.BufferID); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("discarded buffer must be gone, got %v", err)
	}
	if len(repo.inserted) != 0 {
		t.Error("discard must not persist anything")
	}
}
