package ai

import (
	"errors"
	"net/http"
	"testing"

	"google.golang.org/genai"

	"github.com/dmarulanda/finledger/internal/domain/common"
	"github.com/dmarulanda/finledger/internal/domain/ingest"
)

func TestCleanModelJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain object", `{"a":1}`, `{"a":1}`},
		{"fenced json", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"fenced bare", "```\n[1,2]\n```", `[1,2]`},
		{"leading prose", "Here is the result:\n{\"a\":1}", `{"a":1}`},
		{"trailing prose", "{\"a\":1}\nHope this helps!", `{"a":1}`},
		{"whitespace", "  \n {\"a\":1} \n", `{"a":1}`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := cleanModelJSON(c.in); got != c.want {
				t.Errorf("cleanModelJSON(%q) = %q, want %q", c.in, got, c.want)
			}
		})
	}
}

func TestColumnInferenceResponse_ToInference(t *testing.T) {
	resp := columnInferenceResponse{
		Mapping: map[string]string{
			"0": "date",
			"1": "description",
			"2": "amount",
			"3": "balance", // not a known field, must be dropped
		},
		DefaultCurrency: " cop ",
	}
	inf, err := resp.toInference()
	if err != nil {
		t.Fatalf("toInference: %v", err)
	}
	if len(inf.Mapping) != 3 {
		t.Fatalf("expected 3 mapped columns, got %d", len(inf.Mapping))
	}
	if inf.Mapping[2] != ingest.FieldAmount {
		t.Errorf("expected column 2 = amount, got %s", inf.Mapping[2])
	}
	if inf.DefaultCurrency != "COP" {
		t.Errorf("expected normalized currency COP, got %q", inf.DefaultCurrency)
	}
}

func TestColumnInferenceResponse_RejectsBadIndex(t *testing.T) {
	resp := columnInferenceResponse{Mapping: map[string]string{"two": "amount"}}
	if _, err := resp.toInference(); err == nil {
		t.Fatal("expected error for non-numeric column index")
	}
}

func TestClassificationResponse_ToClassification(t *testing.T) {
	resp := classificationResponse{
		Category:     " ads_facebook ",
		Counterparty: "Meta Ads",
		Confidence:   0.92,
		Reason:       "facebook ads charge",
	}
	cls, err := resp.toClassification()
	if err != nil {
		t.Fatalf("toClassification: %v", err)
	}
	if cls.Category != ingest.CategoryAdsFacebook {
		t.Errorf("expected ADS_FACEBOOK, got %s", cls.Category)
	}
}

func TestClassificationResponse_RejectsUnknownCategory(t *testing.T) {
	resp := classificationResponse{Category: "GROCERIES"}
	if _, err := resp.toClassification(); err == nil {
		t.Fatal("expected error for category outside the closed set")
	}
}

func TestMapModelError(t *testing.T) {
	rateLimited := genai.APIError{Code: http.StatusTooManyRequests, Message: "slow down"}
	if err := mapModelError(rateLimited); !errors.Is(err, common.ErrRateLimited) {
		t.Errorf("429 must map to ErrRateLimited, got %v", err)
	}

	quota := genai.APIError{Code: http.StatusForbidden, Status: "RESOURCE_EXHAUSTED"}
	if err := mapModelError(quota); !errors.Is(err, common.ErrQuotaExceeded) {
		t.Errorf("RESOURCE_EXHAUSTED must map to ErrQuotaExceeded, got %v", err)
	}

	plain := errors.New("connection reset")
	err := mapModelError(plain)
	if errors.Is(err, common.ErrRateLimited) || errors.Is(err, common.ErrQuotaExceeded) {
		t.Errorf("transport errors must not map to sentinel errors, got %v", err)
	}
	if !errors.Is(err, plain) {
		t.Errorf("original error must stay in the chain, got %v", err)
	}
}
