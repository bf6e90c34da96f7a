package review

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmarulanda/finledger/internal/domain/common"
	"github.com/dmarulanda/finledger/internal/domain/ingest"
)

func sampleRows(n int) []ingest.NormalizedTransaction {
	rows := make([]ingest.NormalizedTransaction, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, ingest.NormalizedTransaction{
			ClassifiedTransaction: ingest.ClassifiedTransaction{
				CandidateTransaction: ingest.CandidateTransaction{
					Date:           time.Date(2025, 1, 5+i, 0, 0, 0, 0, time.UTC),
					Description:    "ROW",
					AmountOriginal: decimal.NewFromInt(int64(1000 * (i + 1))),
					Currency:       "COP",
					Direction:      ingest.DirectionOut,
				},
				Classification: ingest.Classification{
					Category:     ingest.CategoryOther,
					Counterparty: ingest.UnknownCounterparty,
				},
			},
			AmountReporting:   decimal.NewFromInt(int64(1000 * (i + 1))),
			ReportingCurrency: "COP",
		})
	}
	return rows
}

func TestBuffer_EditIsAuthoritative(t *testing.T) {
	m := NewManager(0)
	b := m.Create(uuid.New(), sampleRows(1))

	if err := b.Edit(0, "category", "inventory"); err != nil {
		t.Fatalf("Edit category failed: %v", err)
	}
	if err := b.Edit(0, "amount_original", "99999"); err != nil {
		t.Fatalf("Edit amount failed: %v", err)
	}
	if err := b.Edit(0, "currency", "usd"); err != nil {
		t.Fatalf("Edit currency failed: %v", err)
	}

	row := b.Rows()[0]
	if row.Category != ingest.CategoryInventory {
		t.Errorf("expected INVENTORY, got %s", row.Category)
	}
	if !row.AmountOriginal.Equal(decimal.NewFromInt(99999)) {
		t.Errorf("expected 99999, got %s", row.AmountOriginal)
	}
	if row.Currency != "USD" {
		t.Errorf("expected USD, got %q", row.Currency)
	}
	// Editing the currency must not re-run normalization.
	if !row.AmountReporting.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("amountReporting must stay untouched after edit, got %s", row.AmountReporting)
	}
}

func TestBuffer_EditValidation(t *testing.T) {
	b := NewManager(0).Create(uuid.New(), sampleRows(1))

	cases := []struct{ field, value string }{
		{"date", "05/01/2025"},
		{"description", "   "},
		{"amount_original", "-10"},
		{"currency", "PESOS"},
		{"direction", "sideways"},
		{"category", "NOT_A_CATEGORY"},
		{"unknown_field", "x"},
	}
	for _, c := range cases {
		if err := b.Edit(0, c.field, c.value); !errors.Is(err, common.ErrBadRequest) {
			t.Errorf("Edit(%q, %q): expected ErrBadRequest, got %v", c.field, c.value, err)
		}
	}

	if err := b.Edit(5, "description", "x"); !errors.Is(err, common.ErrBadRequest) {
		t.Errorf("out-of-range edit: expected ErrBadRequest, got %v", err)
	}
}

func TestBuffer_RemoveDropsRow(t *testing.T) {
	b := NewManager(0).Create(uuid.New(), sampleRows(3))

	if err := b.Remove(1); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	rows := b.Rows()
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if !rows[0].AmountOriginal.Equal(decimal.NewFromInt(1000)) || !rows[1].AmountOriginal.Equal(decimal.NewFromInt(3000)) {
		t.Errorf("wrong rows survived: %s, %s", rows[0].AmountOriginal, rows[1].AmountOriginal)
	}
}

func TestBuffer_EmptyCommitRejected(t *testing.T) {
	b := NewManager(0).Create(uuid.New(), sampleRows(1))
	if err := b.Remove(0); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if b.State() != StateEmpty {
		t.Errorf("expected empty state, got %s", b.State())
	}
	if _, err := b.SnapshotForCommit(); !errors.Is(err, common.ErrEmptyBuffer) {
		t.Fatalf("expected ErrEmptyBuffer, got %v", err)
	}
}

func TestBuffer_CommitLifecycle(t *testing.T) {
	b := NewManager(0).Create(uuid.New(), sampleRows(2))

	rows, err := b.SnapshotForCommit()
	if err != nil {
		t.Fatalf("SnapshotForCommit failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	// A failed insert leaves the buffer intact for retry.
	if b.State() != StatePopulated {
		t.Errorf("buffer must stay populated until MarkCommitted, got %s", b.State())
	}

	b.MarkCommitted()
	if b.State() != StateCommitted {
		t.Errorf("expected committed, got %s", b.State())
	}
	if err := b.Edit(0, "description", "x"); !errors.Is(err, common.ErrConflict) {
		t.Errorf("edits after commit must fail with ErrConflict, got %v", err)
	}
}

func TestBuffer_Discard(t *testing.T) {
	b := NewManager(0).Create(uuid.New(), sampleRows(2))
	b.Discard()
	if b.State() != StateDiscarded {
		t.Errorf("expected discarded, got %s", b.State())
	}
	if len(b.Rows()) != 0 {
		t.Error("discard must clear all rows")
	}
	if _, err := b.SnapshotForCommit(); !errors.Is(err, common.ErrConflict) {
		t.Errorf("commit after discard must fail, got %v", err)
	}
}

func TestManager_ScopedToOwner(t *testing.T) {
	m := NewManager(0)
	owner := uuid.New()
	b := m.Create(owner, sampleRows(1))

	if _, err := m.Get(b.ID, owner); err != nil {
		t.Fatalf("owner lookup failed: %v", err)
	}
	if _, err := m.Get(b.ID, uuid.New()); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("foreign user must not see the buffer, got %v", err)
	}

	m.Delete(b.ID)
	if _, err := m.Get(b.ID, owner); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestManager_TTLPrunesStaleBuffers(t *testing.T) {
	m := NewManager(time.Millisecond)
	owner := uuid.New()
	stale := m.Create(owner, sampleRows(1))
	stale.CreatedAt = time.Now().Add(-time.Minute)

	// Creating another buffer triggers the prune.
	m.Create(owner, sampleRows(1))

	if _, err := m.Get(stale.ID, owner); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected stale buffer to be pruned, got %v", err)
	}
}
