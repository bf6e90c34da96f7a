// Package detector decides the structure of an uploaded statement: delimited
// text vs document extraction, separator and header presence for delimited
// files, and known-vendor vs generic layouts for documents.
package detector

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"context"

	"github.com/dmarulanda/finledger/internal/domain/common"
	"github.com/dmarulanda/finledger/internal/domain/ingest"
)

// Sampling budgets. Semantic inference is metered, so only a bounded prefix
// of the content is ever sent out. Documents get a larger budget because the
// transactions table can sit deep inside a statement.
const (
	DefaultSampleLines   = 20
	DefaultSampleChars   = 4 * 1024
	DefaultDocumentBytes = 512 * 1024
)

var candidateSeparators = []rune{',', '\t', '|'}

// documentExtensions route a file to the document-extraction path.
var documentExtensions = map[string]bool{
	".pdf": true,
}

// vendorSignature identifies a known vendor-specific statement layout by
// marker substrings (matched case-insensitively against the content prefix).
type vendorSignature struct {
	vendorID string
	markers  []string
}

var vendorSignatures = []vendorSignature{
	{
		vendorID: "dropi",
		markers:  []string{"billetera dropi", "dropi s.a.s", "recaudo contraentrega"},
	},
}

// Config tunes the sampling budgets.
type Config struct {
	SampleLines   int
	SampleChars   int
	DocumentBytes int
}

// Detector inspects raw statement content and produces a StructureDescriptor.
type Detector struct {
	inferencer ingest.StructureInferencer
	logger     *slog.Logger
	cfg        Config
}

// New creates a detector backed by the given semantic inference capability.
func New(inferencer ingest.StructureInferencer, logger *slog.Logger, cfg Config) *Detector {
	if cfg.SampleLines <= 0 {
		cfg.SampleLines = DefaultSampleLines
	}
	if cfg.SampleChars <= 0 {
		cfg.SampleChars = DefaultSampleChars
	}
	if cfg.DocumentBytes <= 0 {
		cfg.DocumentBytes = DefaultDocumentBytes
	}
	return &Detector{inferencer: inferencer, logger: logger, cfg: cfg}
}

// Detect determines the structure of the uploaded statement. Rate-limit and
// quota errors from the inference capability are surfaced verbatim; malformed
// or empty inference output becomes common.ErrDetectionFailed.
func (d *Detector) Detect(ctx context.Context, content []byte, filename string) (*ingest.StructureDescriptor, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("%w: file is empty", common.ErrDetectionFailed)
	}

	if isDocument(filename) {
		return d.detectDocument(ctx, content)
	}
	return d.detectDelimited(ctx, content)
}

func isDocument(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return documentExtensions[ext]
}

func (d *Detector) detectDocument(ctx context.Context, content []byte) (*ingest.StructureDescriptor, error) {
	prefix := content
	if len(prefix) > d.cfg.DocumentBytes {
		prefix = prefix[:d.cfg.DocumentBytes]
	}

	if vendorID, ok := matchVendor(prefix); ok {
		d.logger.Info("vendor statement layout detected", "vendor", vendorID)
		return &ingest.StructureDescriptor{
			Kind:       ingest.StructureDocumentVendor,
			VendorID:   vendorID,
			Confidence: 1.0,
		}, nil
	}

	extraction, err := d.inferencer.ExtractDocument(ctx, prefix, "application/pdf")
	if err != nil {
		// Throttling/billing conditions are user-actionable and pass through
		// untouched.
		return nil, err
	}
	if extraction == nil || len(extraction.Transactions) == 0 {
		// An empty result for a supposed statement is a hard error, not an
		// empty success.
		return nil, fmt.Errorf("%w: document yielded no transactions", common.ErrDetectionFailed)
	}

	confidence := clamp01(extraction.Confidence)
	return &ingest.StructureDescriptor{
		Kind:            ingest.StructureDocumentGeneric,
		Confidence:      confidence,
		DocTransactions: extraction.Transactions,
	}, nil
}

func matchVendor(prefix []byte) (string, bool) {
	lowered := strings.ToLower(string(prefix))
	for _, sig := range vendorSignatures {
		for _, marker := range sig.markers {
			if strings.Contains(lowered, marker) {
				return sig.vendorID, true
			}
		}
	}
	return "", false
}

func (d *Detector) detectDelimited(ctx context.Context, content []byte) (*ingest.StructureDescriptor, error) {
	sample := sampleLines(string(content), d.cfg.SampleLines, d.cfg.SampleChars)
	if len(sample) == 0 {
		return nil, fmt.Errorf("%w: no usable lines in file", common.ErrDetectionFailed)
	}

	sep, err := detectSeparator(sample)
	if err != nil {
		return nil, err
	}
	hasHeader := detectHeader(sample, sep)

	inference, err := d.inferencer.InferColumns(ctx, strings.Join(sample, "\n"))
	if err != nil {
		return nil, err
	}
	if inference == nil || len(inference.Mapping) == 0 {
		return nil, fmt.Errorf("%w: no column mapping for delimited file", common.ErrDetectionFailed)
	}

	currency := strings.ToUpper(strings.TrimSpace(inference.DefaultCurrency))
	if len(currency) != 3 {
		currency = ""
	}

	return &ingest.StructureDescriptor{
		Kind:            ingest.StructureDelimited,
		Separator:       sep,
		HasHeader:       hasHeader,
		ColumnMapping:   inference.Mapping,
		DefaultCurrency: currency,
	}, nil
}

// sampleLines returns up to maxLines non-empty leading lines, truncating the
// total sample at maxChars.
func sampleLines(content string, maxLines, maxChars int) []string {
	if len(content) > maxChars {
		content = content[:maxChars]
	}
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) >= maxLines {
			break
		}
	}
	return lines
}

// detectSeparator picks the candidate whose per-line count is highest and
// consistent across the sample.
func detectSeparator(sample []string) (rune, error) {
	bestSep := rune(0)
	bestScore := 0
	for _, sep := range candidateSeparators {
		counts := make(map[int]int)
		for _, line := range sample {
			counts[strings.Count(line, string(sep))]++
		}
		// Most frequent non-zero count, weighted by how many lines share it.
		for count, lines := range counts {
			if count == 0 {
				continue
			}
			score := count * lines
			if score > bestScore {
				bestScore = score
				bestSep = sep
			}
		}
	}
	if bestSep == 0 {
		return 0, fmt.Errorf("%w: could not detect a field separator", common.ErrDetectionFailed)
	}
	return bestSep, nil
}

// detectHeader compares the field types of the first sample line against the
// following lines: a header has no numeric fields while data rows do.
func detectHeader(sample []string, sep rune) bool {
	if len(sample) < 2 {
		return false
	}
	first := fieldTypeSignature(sample[0], sep)
	if first.numeric > 0 {
		return false
	}
	for _, line := range sample[1:] {
		if fieldTypeSignature(line, sep).numeric > 0 {
			return true
		}
	}
	return false
}

type typeSignature struct {
	numeric int
	textual int
}

func fieldTypeSignature(line string, sep rune) typeSignature {
	var sig typeSignature
	for _, field := range strings.Split(line, string(sep)) {
		field = strings.TrimSpace(strings.Trim(field, `"`))
		if field == "" {
			continue
		}
		if _, err := strconv.ParseFloat(strings.ReplaceAll(field, ",", ""), 64); err == nil {
			sig.numeric++
		} else {
			sig.textual++
		}
	}
	return sig
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
