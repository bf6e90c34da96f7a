// Package service orchestrates the ingestion pipeline: detect the statement
// structure, extract candidate transactions, classify and normalize them, and
// stage the result in a review buffer until the user commits or discards it.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmarulanda/finledger/internal/domain/ingest"
	"github.com/dmarulanda/finledger/internal/domain/ingest/classifier"
	"github.com/dmarulanda/finledger/internal/domain/ingest/currency"
	"github.com/dmarulanda/finledger/internal/domain/ingest/detector"
	"github.com/dmarulanda/finledger/internal/domain/ingest/extractor"
	"github.com/dmarulanda/finledger/internal/domain/ingest/repository"
	"github.com/dmarulanda/finledger/internal/domain/ingest/review"
	"github.com/dmarulanda/finledger/pkg/observability"
)

// AnalyzeResult is the outcome of analyzing one uploaded statement.
type AnalyzeResult struct {
	BufferID  uuid.UUID
	Kind      ingest.StructureKind
	VendorID  string
	RowsTotal int
	Rows      []ingest.NormalizedTransaction
}

// CommitResult reports a successful commit.
type CommitResult struct {
	AccountID    uuid.UUID
	RowsInserted int
}

// IngestService wires the pipeline stages together.
type IngestService struct {
	repo              repository.IngestRepository
	detector          *detector.Detector
	extractor         *extractor.Extractor
	classifier        *classifier.Classifier
	buffers           *review.Manager
	reportingCurrency string
	logger            *slog.Logger
	workers           int
}

// NewIngestService creates the pipeline orchestrator. workers <= 0 sizes the
// classification pool from GOMAXPROCS.
func NewIngestService(
	repo repository.IngestRepository,
	det *detector.Detector,
	ext *extractor.Extractor,
	cls *classifier.Classifier,
	buffers *review.Manager,
	reportingCurrency string,
	workers int,
	logger *slog.Logger,
) *IngestService {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &IngestService{
		repo:              repo,
		detector:          det,
		extractor:         ext,
		classifier:        cls,
		buffers:           buffers,
		reportingCurrency: reportingCurrency,
		logger:            logger,
		workers:           workers,
	}
}

// AnalyzeStatement runs the full pipeline over an uploaded statement and
// stages the normalized rows in a fresh review buffer. Nothing is persisted.
func (s *IngestService) AnalyzeStatement(ctx context.Context, userID uuid.UUID, filename string, content []byte) (*AnalyzeResult, error) {
	start := time.Now()
	defer func() {
		observability.IngestDuration.Observe(time.Since(start).Seconds())
	}()

	desc, err := s.detector.Detect(ctx, content, filename)
	if err != nil {
		return nil, err
	}

	candidates, err := s.extractor.Extract(desc, content)
	if err != nil {
		return nil, err
	}
	observability.RowsExtracted.WithLabelValues(string(desc.Kind)).Add(float64(len(candidates)))

	rules, err := s.repo.ListActiveRules(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load categorization rules: %w", err)
	}

	classified := s.classifyAll(ctx, candidates, rules)

	rates, err := s.repo.LoadExchangeRates(ctx, s.reportingCurrency)
	if err != nil {
		// Conversion degrades to the built-in fallback table; every affected
		// row still carries a conversion note the reviewer can see.
		s.logger.Warn("failed to load exchange rates, using fallback table", "error", err)
		rates = nil
	}
	normalized := currency.New(s.reportingCurrency, rates).NormalizeAll(classified)

	buffer := s.buffers.Create(userID, normalized)
	s.logger.Info("statement analyzed",
		"buffer_id", buffer.ID,
		"kind", desc.Kind,
		"rows", len(normalized),
	)

	return &AnalyzeResult{
		BufferID:  buffer.ID,
		Kind:      desc.Kind,
		VendorID:  desc.VendorID,
		RowsTotal: len(normalized),
		Rows:      buffer.Rows(),
	}, nil
}

// classifyAll fans candidate rows out over a bounded worker pool. Results are
// written back by index, so statement order is preserved regardless of
// completion order.
func (s *IngestService) classifyAll(ctx context.Context, candidates []ingest.CandidateTransaction, rules []ingest.Rule) []ingest.ClassifiedTransaction {
	classified := make([]ingest.ClassifiedTransaction, len(candidates))

	jobs := make(chan int, s.workers*2)
	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				candidate := candidates[idx]
				classification := s.classifier.Classify(ctx, candidate.Description, rules)
				observability.ClassificationTier.WithLabelValues(classificationTier(classification)).Inc()
				classified[idx] = ingest.ClassifiedTransaction{
					CandidateTransaction: candidate,
					Classification:       classification,
				}
			}
		}()
	}
	for idx := range candidates {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()
	return classified
}

func classificationTier(c ingest.Classification) string {
	switch c.Reason {
	case classifier.ReasonRuleMatch:
		return "rule"
	case classifier.ReasonStaticMatch:
		return "static"
	case classifier.ReasonNoMatch:
		return "none"
	default:
		return "remote"
	}
}

// GetReview returns the current rows of a review session.
func (s *IngestService) GetReview(_ context.Context, userID, bufferID uuid.UUID) (*review.Buffer, error) {
	return s.buffers.Get(bufferID, userID)
}

// EditRow applies an authoritative manual edit to one staged row.
func (s *IngestService) EditRow(_ context.Context, userID, bufferID uuid.UUID, index int, field, value string) error {
	buffer, err := s.buffers.Get(bufferID, userID)
	if err != nil {
		return err
	}
	return buffer.Edit(index, field, value)
}

// RemoveRow drops one staged row.
func (s *IngestService) RemoveRow(_ context.Context, userID, bufferID uuid.UUID, index int) error {
	buffer, err := s.buffers.Get(bufferID, userID)
	if err != nil {
		return err
	}
	return buffer.Remove(index)
}

// Commit persists every staged row into the destination account in a single
// all-or-nothing insert. On failure the buffer is left intact for retry.
func (s *IngestService) Commit(ctx context.Context, userID, bufferID, accountID uuid.UUID) (*CommitResult, error) {
	buffer, err := s.buffers.Get(bufferID, userID)
	if err != nil {
		return nil, err
	}

	// Snapshot first: an empty or terminal buffer must be rejected before any
	// store call is attempted.
	rows, err := buffer.SnapshotForCommit()
	if err != nil {
		return nil, err
	}

	account, err := s.repo.GetAccount(ctx, accountID, userID)
	if err != nil {
		return nil, err
	}

	inserted, err := s.repo.BulkInsertTransactions(ctx, userID, account.ID, rows)
	if err != nil {
		observability.CommitsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	observability.CommitsTotal.WithLabelValues("success").Inc()

	buffer.MarkCommitted()
	s.buffers.Delete(buffer.ID)
	s.logger.Info("review buffer committed",
		"buffer_id", buffer.ID,
		"account_id", account.ID,
		"rows", inserted,
	)

	return &CommitResult{AccountID: account.ID, RowsInserted: inserted}, nil
}

// Discard drops a review session without persisting anything.
func (s *IngestService) Discard(_ context.Context, userID, bufferID uuid.UUID) error {
	buffer, err := s.buffers.Get(bufferID, userID)
	if err != nil {
		return err
	}
	buffer.Discard()
	s.buffers.Delete(buffer.ID)
	return nil
}
