package ai

import (
	"fmt"
	"strings"

	"github.com/dmarulanda/finledger/internal/domain/ingest"
)

const columnInferencePrompt = `You are a bank statement column mapper.

Task:
- You receive a sample of a delimited bank statement (first rows, raw text).
- Identify which column index holds each semantic field.
- Output STRICT JSON only (no comments, no trailing commas, no extra text).

Output a single JSON object with these fields:
- "mapping": object whose keys are zero-based column indexes as strings and
  whose values are one of: "date", "description", "amount", "currency",
  "type", "reference". Omit columns that match none of these.
- "default_currency": string ISO 4217 code inferred from the sample, or ""
  if it cannot be inferred.

Rules:
- Column indexes are zero-based positions after splitting on the delimiter.
- "type" is a debit/credit or ingreso/egreso style indicator column.
- Do NOT invent columns that are not present in the sample.
- Return ONLY valid raw JSON. Do NOT wrap the response in code fences.
- Output must begin with "{" and end with "}".

Sample:
`

const documentExtractionPrompt = `You are a financial statement parser for bank and wallet account statements.

Task:
- Parse ALL transactions in the attached document.
- Output STRICT JSON only (no comments, no trailing commas, no extra text).

Output a single JSON object with these fields:
- "transactions": JSON array of objects
- "confidence": number between 0 and 1 for how confident you are in the parse

Each transaction object must have these fields:
- "date": string, ISO format "YYYY-MM-DD"
- "description": string
- "amount": number (positive for money IN, negative for money OUT)
- "currency": string (e.g. "COP")
- "reference": string or null
- "balance_after": number or null

Rules:
- If the document has separate debit/credit columns, convert to a single signed "amount".
- If the running balance is missing, set "balance_after" to null.
- If no reference or voucher number is present, set "reference" to null.
- Return ONLY valid raw JSON.
- Do NOT wrap the response in code fences.
- Do NOT use ` + "```json" + ` or any Markdown.
- Output must begin with "{" and end with "}".
`

// classificationPrompt asks for one category out of the closed label set plus
// a counterparty guess. The label list is generated so the prompt can never
// drift from the Go constants.
func classificationPrompt(description string) string {
	labels := make([]string, 0, len(ingest.AllCategories))
	for _, c := range ingest.AllCategories {
		labels = append(labels, string(c))
	}
	return fmt.Sprintf(`You are a transaction classifier for a Colombian e-commerce business ledger.

Task:
- Classify the transaction description below into exactly one category.
- Identify the counterparty (merchant, platform or person) if recognizable.
- Output STRICT JSON only (no comments, no extra text).

Allowed categories (use exactly one of these strings):
%s

Output a single JSON object with these fields:
- "category": string, one of the allowed categories
- "counterparty": string, the counterparty name, or "" if unknown
- "confidence": number between 0 and 1
- "reason": short string explaining the match

Rules:
- Use "OTHER" when no category clearly applies.
- Return ONLY valid raw JSON. Do NOT wrap the response in code fences.
- Output must begin with "{" and end with "}".

Description: %q
`, strings.Join(labels, ", "), description)
}
