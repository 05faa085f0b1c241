package evaluator

import (
	"context"
	"fmt"

	"invoiceflow/internal/model"
)

// RuleStrategy is the deterministic item-count and amount rule.
type RuleStrategy struct{}

func (RuleStrategy) Name() string { return "rule" }

func (RuleStrategy) Evaluate(_ context.Context, in Input) (Outcome, error) {
	maxItems := in.MaxItems
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	threshold := DefaultThreshold
	if in.Threshold.Valid {
		threshold = in.Threshold.Decimal
	}

	var reasons []string
	if n := in.Invoice.ItemCount(); n >= maxItems {
		reasons = append(reasons, fmt.Sprintf("item count (%d) >= %d", n, maxItems))
	}
	if in.Invoice.TotalAmount.GreaterThanOrEqual(threshold) {
		reasons = append(reasons, fmt.Sprintf("total amount (%s) >= %s", in.Invoice.TotalAmount.StringFixed(2), threshold.StringFixed(2)))
	}

	if len(reasons) > 0 {
		return Outcome{Decision: model.StatusPending, Reasons: reasons}, nil
	}
	return Outcome{Decision: model.StatusApproved, Reasons: []string{ReasonAllCriteriaMet}}, nil
}
