package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"invoiceflow/internal/model"
)

// Generator produces free-form text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ErrNoJSON is returned when the model output carries no JSON object.
var ErrNoJSON = errors.New("no JSON object in model output")

var failureWords = []string{
	"not met", "does not meet", "failed", "exceeds", "insufficient", "missing", "invalid", "rejected",
}

// ModelStrategy asks a generative model to judge the invoice against the criteria text.
type ModelStrategy struct {
	gen Generator
}

func NewModelStrategy(gen Generator) *ModelStrategy {
	return &ModelStrategy{gen: gen}
}

func (m *ModelStrategy) Name() string { return "model" }

func (m *ModelStrategy) Evaluate(ctx context.Context, in Input) (Outcome, error) {
	if m.gen == nil {
		return Outcome{}, errors.New("no generator configured")
	}

	raw, err := m.gen.Generate(ctx, BuildPrompt(in))
	if err != nil {
		return Outcome{}, fmt.Errorf("generate: %w", err)
	}

	out, err := ParseOutcome(raw)
	if err != nil {
		return Outcome{}, err
	}

	if out.Decision == model.StatusApproved {
		if hint := failureHint(out.Reasons); hint != "" {
			out.Decision = model.StatusPending
			out.Reasons = append(out.Reasons, fmt.Sprintf("approval contradicted by reason mentioning %q", hint))
		} else if in.Threshold.Valid && in.Invoice.TotalAmount.GreaterThan(in.Threshold.Decimal) {
			out.Decision = model.StatusPending
			out.Reasons = append(out.Reasons, fmt.Sprintf("total amount (%s) exceeds category maximum %s",
				in.Invoice.TotalAmount.StringFixed(2), in.Threshold.Decimal.StringFixed(2)))
		}
	}
	return out, nil
}

// BuildPrompt renders the criteria and invoice into the evaluation prompt.
func BuildPrompt(in Input) string {
	invoice, _ := json.MarshalIndent(in.Invoice, "", "  ")

	var b strings.Builder
	b.WriteString("You review expense invoices against a category's approval policy.\n\n")
	fmt.Fprintf(&b, "Category: %s\n", in.Category)
	if in.Threshold.Valid {
		fmt.Fprintf(&b, "Maximum amount: %s\n", in.Threshold.Decimal.StringFixed(2))
	}
	fmt.Fprintf(&b, "Item count: %d\n\n", in.Invoice.ItemCount())
	b.WriteString("Approval criteria:\n")
	b.WriteString(strings.TrimSpace(in.Criteria))
	b.WriteString("\n\nInvoice data:\n")
	b.Write(invoice)
	b.WriteString("\n\nRespond with a single JSON object and nothing else:\n")
	b.WriteString(`{"decision": "Approved" | "Pending" | "Rejected", "reasons": ["..."]}`)
	b.WriteString("\nUse Pending when the criteria cannot be verified from the invoice.\n")
	return b.String()
}

// ParseOutcome reads the first JSON object in raw and normalises its decision.
func ParseOutcome(raw string) (Outcome, error) {
	obj, ok := firstJSONObject(raw)
	if !ok {
		return Outcome{}, ErrNoJSON
	}

	var parsed struct {
		Decision string          `json:"decision"`
		Reasons  json.RawMessage `json:"reasons"`
	}
	if err := json.Unmarshal([]byte(obj), &parsed); err != nil {
		return Outcome{}, fmt.Errorf("decode model output: %w", err)
	}

	decision, ok := normalizeDecision(parsed.Decision)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %q", ErrUnrecognizedDecision, parsed.Decision)
	}

	return Outcome{Decision: decision, Reasons: decodeReasons(parsed.Reasons)}, nil
}

func normalizeDecision(s string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approved", "approve":
		return model.StatusApproved, true
	case "pending":
		return model.StatusPending, true
	case "rejected", "reject":
		return model.StatusRejected, true
	}
	return "", false
}

// decodeReasons accepts either a list of strings or a single string.
func decodeReasons(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return []string{single}
	}
	return nil
}

func failureHint(reasons []string) string {
	for _, r := range reasons {
		lower := strings.ToLower(r)
		for _, w := range failureWords {
			if strings.Contains(lower, w) {
				return w
			}
		}
	}
	return ""
}

// firstJSONObject returns the first balanced {...} span, honouring string literals.
func firstJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	for start >= 0 {
		depth := 0
		inString := false
		escaped := false
		for i := start; i < len(s); i++ {
			c := s[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case c == '\\':
					escaped = true
				case c == '"':
					inString = false
				}
				continue
			}
			switch c {
			case '"':
				inString = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					candidate := s[start : i+1]
					if json.Valid([]byte(candidate)) {
						return candidate, true
					}
					i = len(s)
				}
			}
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}
