// Package ai implements the semantic capabilities of the ingestion pipeline
// (column inference, fused document extraction, description classification)
// against the Gemini API. Responses are required to be strict JSON; markdown
// fences are stripped defensively because models occasionally ignore the
// instruction.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/dmarulanda/finledger/internal/domain/common"
	"github.com/dmarulanda/finledger/internal/domain/ingest"
)

// DefaultModelName is used when no model is configured.
const DefaultModelName = "gemini-2.0-flash"

// Config holds the Gemini client settings.
type Config struct {
	APIKey string
	Model  string
	// RequestsPerMinute caps outgoing model calls. <= 0 disables the limiter.
	RequestsPerMinute int
}

// Client talks to the Gemini API. It satisfies both semantic interfaces of
// the ingestion pipeline.
type Client struct {
	genai   *genai.Client
	model   string
	limiter *rate.Limiter
	logger  *slog.Logger
}

var (
	_ ingest.StructureInferencer = (*Client)(nil)
	_ ingest.RemoteClassifier    = (*Client)(nil)
)

// NewClient creates a Gemini-backed semantic client.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModelName
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1)
	}

	return &Client{genai: gc, model: model, limiter: limiter, logger: logger}, nil
}

// InferColumns maps positional columns of a delimited-text sample to semantic
// fields.
func (c *Client) InferColumns(ctx context.Context, sample string) (*ingest.ColumnInference, error) {
	raw, err := c.generateText(ctx, columnInferencePrompt+sample)
	if err != nil {
		return nil, err
	}

	var resp columnInferenceResponse
	if err := json.Unmarshal([]byte(cleanModelJSON(raw)), &resp); err != nil {
		return nil, fmt.Errorf("%w: malformed column inference output: %v", common.ErrDetectionFailed, err)
	}
	return resp.toInference()
}

// ExtractDocument performs fused structure detection and transaction
// extraction over document content.
func (c *Client) ExtractDocument(ctx context.Context, content []byte, mimeType string) (*ingest.DocumentExtraction, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: documentExtractionPrompt},
				{InlineData: &genai.Blob{MIMEType: mimeType, Data: content}},
			},
		},
	}

	resp, err := c.genai.Models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return nil, mapModelError(err)
	}
	raw := resp.Text()
	if raw == "" {
		return nil, fmt.Errorf("%w: empty response from model", common.ErrDetectionFailed)
	}

	var parsed documentExtractionResponse
	if err := json.Unmarshal([]byte(cleanModelJSON(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("%w: malformed document extraction output: %v", common.ErrDetectionFailed, err)
	}
	return &ingest.DocumentExtraction{
		Transactions: parsed.Transactions,
		Confidence:   parsed.Confidence,
	}, nil
}

// ClassifyDescription asks the model for a category and counterparty for one
// transaction description.
func (c *Client) ClassifyDescription(ctx context.Context, description string) (*ingest.Classification, error) {
	raw, err := c.generateText(ctx, classificationPrompt(description))
	if err != nil {
		return nil, err
	}

	var resp classificationResponse
	if err := json.Unmarshal([]byte(cleanModelJSON(raw)), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse classification response: %w", err)
	}
	return resp.toClassification()
}

func (c *Client) generateText(ctx context.Context, prompt string) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}

	contents := []*genai.Content{
		{Role: "user", Parts: []*genai.Part{{Text: prompt}}},
	}
	resp, err := c.genai.Models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return "", mapModelError(err)
	}
	raw := resp.Text()
	if raw == "" {
		return "", errors.New("empty response from model")
	}
	return raw, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// mapModelError translates Gemini API failures into the pipeline's sentinel
// errors so callers can surface them verbatim to the user.
func mapModelError(err error) error {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("model call failed: %w", err)
	}
	switch {
	case apiErr.Code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", common.ErrRateLimited, apiErr.Message)
	case apiErr.Code == http.StatusPaymentRequired, apiErr.Status == "RESOURCE_EXHAUSTED":
		return fmt.Errorf("%w: %s", common.ErrQuotaExceeded, apiErr.Message)
	default:
		return fmt.Errorf("model call failed: %w", err)
	}
}

type columnInferenceResponse struct {
	Mapping         map[string]string `json:"mapping"`
	DefaultCurrency string            `json:"default_currency"`
}

func (r columnInferenceResponse) toInference() (*ingest.ColumnInference, error) {
	mapping := make(map[int]ingest.Field, len(r.Mapping))
	for key, value := range r.Mapping {
		index, err := strconv.Atoi(key)
		if err != nil || index < 0 {
			return nil, fmt.Errorf("invalid column index %q in inference response", key)
		}
		field := ingest.Field(value)
		switch field {
		case ingest.FieldDate, ingest.FieldDescription, ingest.FieldAmount,
			ingest.FieldCurrency, ingest.FieldType, ingest.FieldReference:
			mapping[index] = field
		default:
			// Unknown field names are dropped rather than failing the whole
			// inference.
			continue
		}
	}
	return &ingest.ColumnInference{
		Mapping:         mapping,
		DefaultCurrency: strings.ToUpper(strings.TrimSpace(r.DefaultCurrency)),
	}, nil
}

type documentExtractionResponse struct {
	Transactions []ingest.DocTransaction `json:"transactions"`
	Confidence   float64                 `json:"confidence"`
}

type classificationResponse struct {
	Category     string  `json:"category"`
	Counterparty string  `json:"counterparty"`
	Confidence   float64 `json:"confidence"`
	Reason       string  `json:"reason"`
}

func (r classificationResponse) toClassification() (*ingest.Classification, error) {
	category := ingest.Category(strings.ToUpper(strings.TrimSpace(r.Category)))
	if !ingest.ValidCategory(category) {
		return nil, fmt.Errorf("model returned unknown category %q", r.Category)
	}
	return &ingest.Classification{
		Category:     category,
		Counterparty: strings.TrimSpace(r.Counterparty),
		Confidence:   r.Confidence,
		Reason:       r.Reason,
	}, nil
}

// cleanModelJSON strips markdown fences and surrounding junk the model may
// emit despite being told not to, keeping only the outermost JSON value.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	// Keep only from the first opening brace/bracket to its matching closer.
	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(s, pair[0])
		end := strings.LastIndex(s, pair[1])
		if start != -1 && end > start {
			return strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}
