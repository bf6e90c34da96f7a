// Package handler exposes the ingestion pipeline over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/dmarulanda/finledger/internal/domain/ingest"
	"github.com/dmarulanda/finledger/internal/domain/ingest/review"
	"github.com/dmarulanda/finledger/internal/domain/ingest/service"
	"github.com/dmarulanda/finledger/pkg/middleware"
)

// DefaultMaxUploadBytes caps statement uploads at 10 MiB.
const DefaultMaxUploadBytes = 10 << 20

// allowedExtensions gates uploads before detection even runs.
var allowedExtensions = map[string]bool{
	".csv": true,
	".tsv": true,
	".txt": true,
	".pdf": true,
}

// IngestService is the slice of the orchestration service the handler needs.
type IngestService interface {
	AnalyzeStatement(ctx context.Context, userID uuid.UUID, filename string, content []byte) (*service.AnalyzeResult, error)
	GetReview(ctx context.Context, userID, bufferID uuid.UUID) (*review.Buffer, error)
	EditRow(ctx context.Context, userID, bufferID uuid.UUID, index int, field, value string) error
	RemoveRow(ctx context.Context, userID, bufferID uuid.UUID, index int) error
	Commit(ctx context.Context, userID, bufferID, accountID uuid.UUID) (*service.CommitResult, error)
	Discard(ctx context.Context, userID, bufferID uuid.UUID) error
}

// IngestHandler serves the statement-ingestion endpoints.
type IngestHandler struct {
	svc            IngestService
	logger         *slog.Logger
	maxUploadBytes int64
}

// NewIngestHandler constructs the handler. maxUploadBytes <= 0 uses the
// default cap.
func NewIngestHandler(svc IngestService, logger *slog.Logger, maxUploadBytes int64) *IngestHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	return &IngestHandler{svc: svc, logger: logger, maxUploadBytes: maxUploadBytes}
}

// Register wires the ingestion routes into the mux.
func (h *IngestHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/ingest/analyze", h.Analyze)
	mux.HandleFunc("GET /api/ingest/review/{id}", h.GetReview)
	mux.HandleFunc("PATCH /api/ingest/review/{id}/rows/{index}", h.EditRow)
	mux.HandleFunc("DELETE /api/ingest/review/{id}/rows/{index}", h.RemoveRow)
	mux.HandleFunc("POST /api/ingest/review/{id}/commit", h.Commit)
	mux.HandleFunc("DELETE /api/ingest/review/{id}", h.Discard)
}

type rowResponse struct {
	Index             int      `json:"index"`
	Date              string   `json:"fecha"`
	Description       string   `json:"descripcion"`
	Direction         string   `json:"tipo"`
	AmountOriginal    string   `json:"monto_original"`
	Currency          string   `json:"moneda"`
	AmountReporting   string   `json:"monto_cop"`
	ReportingCurrency string   `json:"moneda_reporte"`
	Category          string   `json:"categoria"`
	Counterparty      string   `json:"contrapartida"`
	Reference         *string  `json:"referencia"`
	ConversionNote    *string  `json:"nota_conversion"`
	Confidence        float64  `json:"confidence"`
	Reason            string   `json:"reason"`
	BalanceAfter      *string  `json:"saldo,omitempty"`
}

type analyzeResponse struct {
	BufferID  string        `json:"buffer_id"`
	Kind      string        `json:"kind"`
	VendorID  string        `json:"vendor_id,omitempty"`
	RowsTotal int           `json:"rows_total"`
	Rows      []rowResponse `json:"rows"`
}

type reviewResponse struct {
	BufferID string        `json:"buffer_id"`
	State    string        `json:"state"`
	Rows     []rowResponse `json:"rows"`
}

type commitRequest struct {
	AccountID string `json:"account_id"`
}

type commitResponse struct {
	AccountID    string `json:"account_id"`
	RowsInserted int    `json:"rows_inserted"`
}

type editRequest struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// Analyze ingests a multipart statement upload and stages the result for
// review. Nothing is persisted by this endpoint.
func (h *IngestHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			middleware.WriteError(w, http.StatusRequestEntityTooLarge, "upload exceeds the size limit")
			return
		}
		middleware.WriteError(w, http.StatusBadRequest, "malformed multipart body")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedExtensions[ext] {
		middleware.WriteError(w, http.StatusBadRequest, fmt.Sprintf("unsupported file type %q", ext))
		return
	}

	content, err := io.ReadAll(file)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "could not read upload")
		return
	}

	result, err := h.svc.AnalyzeStatement(r.Context(), userID, header.Filename, content)
	if err != nil {
		h.logger.Warn("statement analysis failed", "filename", header.Filename, "error", err)
		middleware.WriteDomainError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, analyzeResponse{
		BufferID:  result.BufferID.String(),
		Kind:      string(result.Kind),
		VendorID:  result.VendorID,
		RowsTotal: result.RowsTotal,
		Rows:      toRowResponses(result.Rows),
	})
}

// GetReview returns the current state of a review session.
func (h *IngestHandler) GetReview(w http.ResponseWriter, r *http.Request) {
	userID, bufferID, ok := h.sessionIDs(w, r)
	if !ok {
		return
	}

	buffer, err := h.svc.GetReview(r.Context(), userID, bufferID)
	if err != nil {
		middleware.WriteDomainError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, reviewResponse{
		BufferID: buffer.ID.String(),
		State:    string(buffer.State()),
		Rows:     toRowResponses(buffer.Rows()),
	})
}

// EditRow applies a single-field manual edit to one staged row.
func (h *IngestHandler) EditRow(w http.ResponseWriter, r *http.Request) {
	userID, bufferID, ok := h.sessionIDs(w, r)
	if !ok {
		return
	}
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid row index")
		return
	}

	var req editRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Field == "" {
		middleware.WriteError(w, http.StatusBadRequest, "body must carry field and value")
		return
	}

	if err := h.svc.EditRow(r.Context(), userID, bufferID, index, req.Field, req.Value); err != nil {
		middleware.WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveRow drops one staged row from the session.
func (h *IngestHandler) RemoveRow(w http.ResponseWriter, r *http.Request) {
	userID, bufferID, ok := h.sessionIDs(w, r)
	if !ok {
		return
	}
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid row index")
		return
	}

	if err := h.svc.RemoveRow(r.Context(), userID, bufferID, index); err != nil {
		middleware.WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Commit persists the whole session into the destination account.
func (h *IngestHandler) Commit(w http.ResponseWriter, r *http.Request) {
	userID, bufferID, ok := h.sessionIDs(w, r)
	if !ok {
		return
	}

	var req commitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "body must carry account_id")
		return
	}
	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid account_id")
		return
	}

	result, err := h.svc.Commit(r.Context(), userID, bufferID, accountID)
	if err != nil {
		h.logger.Warn("commit failed", "buffer_id", bufferID, "error", err)
		middleware.WriteDomainError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, commitResponse{
		AccountID:    result.AccountID.String(),
		RowsInserted: result.RowsInserted,
	})
}

// Discard drops the session without persisting anything.
func (h *IngestHandler) Discard(w http.ResponseWriter, r *http.Request) {
	userID, bufferID, ok := h.sessionIDs(w, r)
	if !ok {
		return
	}
	if err := h.svc.Discard(r.Context(), userID, bufferID); err != nil {
		middleware.WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *IngestHandler) sessionIDs(w http.ResponseWriter, r *http.Request) (userID, bufferID uuid.UUID, ok bool) {
	userID, authed := middleware.UserIDFromContext(r.Context())
	if !authed {
		middleware.WriteError(w, http.StatusUnauthorized, "authentication required")
		return uuid.Nil, uuid.Nil, false
	}
	bufferID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid review session id")
		return uuid.Nil, uuid.Nil, false
	}
	return userID, bufferID, true
}

func toRowResponses(rows []ingest.NormalizedTransaction) []rowResponse {
	out := make([]rowResponse, len(rows))
	for i, row := range rows {
		resp := rowResponse{
			Index:             i,
			Date:              row.Date.Format("2006-01-02"),
			Description:       row.Description,
			Direction:         string(row.Direction),
			AmountOriginal:    row.AmountOriginal.String(),
			Currency:          row.Currency,
			AmountReporting:   row.AmountReporting.String(),
			ReportingCurrency: row.ReportingCurrency,
			Category:          string(row.Category),
			Counterparty:      row.Counterparty,
			Reference:         row.Reference,
			ConversionNote:    row.ConversionNote,
			Confidence:        row.Confidence,
			Reason:            row.Reason,
		}
		if row.BalanceAfter != nil {
			balance := row.BalanceAfter.String()
			resp.BalanceAfter = &balance
		}
		out[i] = resp
	}
	return out
}
