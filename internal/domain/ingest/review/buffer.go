// Package review holds normalized transactions in an in-memory, per-session
// staging buffer until the user confirms or discards them. Buffers are never
// persisted mid-review; a failed commit leaves the buffer intact for retry.
package review

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmarulanda/finledger/internal/domain/common"
	"github.com/dmarulanda/finledger/internal/domain/ingest"
)

// State of a review session.
type State string

const (
	StateEmpty     State = "empty"
	StatePopulated State = "populated"
	StateCommitted State = "committed"
	StateDiscarded State = "discarded"
)

// Buffer is one ingestion session's editable staging list.
type Buffer struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	CreatedAt time.Time

	mu    sync.Mutex
	rows  []ingest.NormalizedTransaction
	state State
}

func newBuffer(userID uuid.UUID, rows []ingest.NormalizedTransaction) *Buffer {
	state := StateEmpty
	if len(rows) > 0 {
		state = StatePopulated
	}
	return &Buffer{
		ID:        uuid.New(),
		UserID:    userID,
		CreatedAt: time.Now(),
		rows:      rows,
		state:     state,
	}
}

// Rows returns a copy of the staged rows in order.
func (b *Buffer) Rows() []ingest.NormalizedTransaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ingest.NormalizedTransaction, len(b.rows))
	copy(out, b.rows)
	return out
}

// State returns the session state.
func (b *Buffer) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Edit mutates a single field of a single row. The edit is authoritative:
// classification and currency conversion are not re-run.
func (b *Buffer) Edit(index int, field, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.mutable(); err != nil {
		return err
	}
	if index < 0 || index >= len(b.rows) {
		return fmt.Errorf("%w: row %d out of range", common.ErrBadRequest, index)
	}

	row := &b.rows[index]
	switch field {
	case "date":
		parsed, err := time.Parse("2006-01-02", value)
		if err != nil {
			return fmt.Errorf("%w: invalid date %q", common.ErrBadRequest, value)
		}
		row.Date = parsed
	case "description":
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%w: description cannot be empty", common.ErrBadRequest)
		}
		row.Description = value
	case "amount_original":
		amount, err := decimal.NewFromString(value)
		if err != nil || amount.IsNegative() {
			return fmt.Errorf("%w: invalid amount %q", common.ErrBadRequest, value)
		}
		row.AmountOriginal = amount
	case "amount_reporting":
		amount, err := decimal.NewFromString(value)
		if err != nil || amount.IsNegative() {
			return fmt.Errorf("%w: invalid amount %q", common.ErrBadRequest, value)
		}
		row.AmountReporting = amount
	case "currency":
		code := strings.ToUpper(strings.TrimSpace(value))
		if len(code) != 3 {
			return fmt.Errorf("%w: invalid currency code %q", common.ErrBadRequest, value)
		}
		row.Currency = code
	case "direction":
		switch ingest.Direction(value) {
		case ingest.DirectionIn, ingest.DirectionOut:
			row.Direction = ingest.Direction(value)
		default:
			return fmt.Errorf("%w: direction must be in or out", common.ErrBadRequest)
		}
	case "category":
		label := ingest.Category(strings.ToUpper(strings.TrimSpace(value)))
		if !ingest.ValidCategory(label) {
			return fmt.Errorf("%w: unknown category %q", common.ErrBadRequest, value)
		}
		row.Category = label
	case "counterparty":
		row.Counterparty = value
	case "reference":
		if value == "" {
			row.Reference = nil
		} else {
			v := value
			row.Reference = &v
		}
	default:
		return fmt.Errorf("%w: unknown field %q", common.ErrBadRequest, field)
	}
	return nil
}

// Remove drops a row. Removed rows are gone, not soft-deleted.
func (b *Buffer) Remove(index int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.mutable(); err != nil {
		return err
	}
	if index < 0 || index >= len(b.rows) {
		return fmt.Errorf("%w: row %d out of range", common.ErrBadRequest, index)
	}
	b.rows = append(b.rows[:index], b.rows[index+1:]...)
	if len(b.rows) == 0 {
		b.state = StateEmpty
	}
	return nil
}

// SnapshotForCommit returns the rows to persist, rejecting empty or already
// terminal buffers before any store call is attempted.
func (b *Buffer) SnapshotForCommit() ([]ingest.NormalizedTransaction, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.mutable(); err != nil {
		return nil, err
	}
	if len(b.rows) == 0 {
		return nil, common.ErrEmptyBuffer
	}
	out := make([]ingest.NormalizedTransaction, len(b.rows))
	copy(out, b.rows)
	return out, nil
}

// MarkCommitted consumes the buffer after a successful bulk insert.
func (b *Buffer) MarkCommitted() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rows = nil
	b.state = StateCommitted
}

// Discard clears the buffer unconditionally; no persistence side effect.
func (b *Buffer) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rows = nil
	b.state = StateDiscarded
}

func (b *Buffer) mutable() error {
	if b.state == StateCommitted || b.state == StateDiscarded {
		return fmt.Errorf("%w: review session already %s", common.ErrConflict, b.state)
	}
	return nil
}

// Manager tracks live review buffers by session ID. Buffers older than the
// TTL are pruned on the next access.
type Manager struct {
	mu      sync.RWMutex
	buffers map[uuid.UUID]*Buffer
	ttl     time.Duration
}

// NewManager creates a buffer manager. ttl <= 0 disables expiry.
func NewManager(ttl time.Duration) *Manager {
	return &Manager{
		buffers: make(map[uuid.UUID]*Buffer),
		ttl:     ttl,
	}
}

// Create stages rows in a new buffer owned by userID.
func (m *Manager) Create(userID uuid.UUID, rows []ingest.NormalizedTransaction) *Buffer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked()

	b := newBuffer(userID, rows)
	m.buffers[b.ID] = b
	return b
}

// Get resolves a buffer by ID, scoped to its owning user.
func (m *Manager) Get(id, userID uuid.UUID) (*Buffer, error) {
	m.mu.RLock()
	b, ok := m.buffers[id]
	m.mu.RUnlock()
	if !ok || b.UserID != userID {
		return nil, common.ErrNotFound
	}
	return b, nil
}

// Delete forgets a buffer.
func (m *Manager) Delete(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buffers, id)
}

func (m *Manager) pruneLocked() {
	if m.ttl <= 0 {
		return
	}
	cutoff := time.Now().Add(-m.ttl)
	for id, b := range m.buffers {
		if b.CreatedAt.Before(cutoff) {
			delete(m.buffers, id)
		}
	}
}
