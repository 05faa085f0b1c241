package evaluator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"invoiceflow/internal/model"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Reasons attached to decisions that short-circuit evaluation.
const (
	ReasonCategoryNotRecognized = "category not recognized"
	ReasonEvaluatorUnavailable  = "automated evaluator unavailable"
	ReasonAllCriteriaMet        = "all approval criteria met"
)

// DefaultThreshold and DefaultMaxItems apply when Options leaves them unset.
var DefaultThreshold = decimal.NewFromInt(2000)

const (
	DefaultMaxItems = 5
	DefaultTimeout  = 20 * time.Second
)

// ErrUnrecognizedDecision is returned by a strategy whose output is outside the decision enum.
var ErrUnrecognizedDecision = errors.New("unrecognized decision")

// Input is what a Strategy sees for one invoice.
type Input struct {
	Invoice   model.InvoiceData
	Category  string
	Criteria  string
	Threshold decimal.NullDecimal // unset means DefaultThreshold
	MaxItems  int
}

// Outcome is a strategy's verdict.
type Outcome struct {
	Decision string
	Reasons  []string
}

// Strategy decides an invoice given its category criteria.
type Strategy interface {
	Name() string
	Evaluate(ctx context.Context, in Input) (Outcome, error)
}

// Result is the evaluator's final verdict, always within the decision enum.
type Result struct {
	Decision string   `json:"decision"`
	Reasons  []string `json:"reasons"`
	Strategy string   `json:"strategy"`
}

type Options struct {
	DefaultThreshold decimal.NullDecimal
	MaxItems         int
	Timeout          time.Duration
}

// Evaluator applies the base policy and delegates criteria-bearing categories
// to the configured strategy.
type Evaluator struct {
	strategy Strategy
	rule     RuleStrategy
	opts     Options
	log      *zap.Logger
}

func New(strategy Strategy, opts Options, log *zap.Logger) *Evaluator {
	if !opts.DefaultThreshold.Valid {
		opts.DefaultThreshold = decimal.NewNullDecimal(DefaultThreshold)
	}
	if opts.MaxItems <= 0 {
		opts.MaxItems = DefaultMaxItems
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if strategy == nil {
		strategy = RuleStrategy{}
	}
	return &Evaluator{strategy: strategy, opts: opts, log: log}
}

// StrategyName reports the configured strategy.
func (e *Evaluator) StrategyName() string {
	return e.strategy.Name()
}

// Evaluate never returns a decision outside {Approved, Pending, Rejected}.
func (e *Evaluator) Evaluate(ctx context.Context, invoice model.InvoiceData, lookup model.CategoryLookup) Result {
	if !lookup.Found {
		return Result{
			Decision: model.StatusRejected,
			Reasons:  []string{ReasonCategoryNotRecognized},
			Strategy: e.rule.Name(),
		}
	}

	in := Input{
		Invoice:   invoice,
		Category:  lookup.Name,
		Criteria:  lookup.ApprovalCriteria,
		Threshold: e.opts.DefaultThreshold,
		MaxItems:  e.opts.MaxItems,
	}
	if lookup.MaximumAmount.Valid {
		in.Threshold = lookup.MaximumAmount
	}

	if in.Criteria == "" {
		out, _ := e.rule.Evaluate(ctx, in)
		return Result{Decision: out.Decision, Reasons: out.Reasons, Strategy: e.rule.Name()}
	}

	out, err := e.delegate(ctx, in)
	if err != nil {
		e.log.Warn("strategy failed, holding for review",
			zap.String("strategy", e.strategy.Name()),
			zap.String("category", in.Category),
			zap.String("invoice_number", invoice.InvoiceNumber),
			zap.Error(err),
		)
		return Result{
			Decision: model.StatusPending,
			Reasons:  []string{ReasonEvaluatorUnavailable},
			Strategy: e.strategy.Name(),
		}
	}
	return Result{Decision: out.Decision, Reasons: out.Reasons, Strategy: e.strategy.Name()}
}

func (e *Evaluator) delegate(ctx context.Context, in Input) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy panicked: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	out, err = e.strategy.Evaluate(ctx, in)
	if err != nil {
		return Outcome{}, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Outcome{}, ctxErr
	}
	if !model.ValidStatus(out.Decision) {
		return Outcome{}, fmt.Errorf("%w: %q", ErrUnrecognizedDecision, out.Decision)
	}
	return out, nil
}
