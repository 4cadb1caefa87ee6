package dice

import (
	"fmt"
	"strings"
)

// TermResult is the outcome of one kept die or one constant.
type TermResult struct {
	Value  int
	Scalar int
	Kind   string // "constant" or "d<sides>"
}

// Contribution returns Value * Scalar.
func (t TermResult) Contribution() int {
	return t.Value * t.Scalar
}

// Result holds the itemized outcome of rolling an Expression.
//
// Postcondition: Total() == sum(item.Value * item.Scalar), computed once by
// NewResult. A Result is never mutated after construction.
type Result struct {
	items      []TermResult
	total      int
	source     Source
	expression string
}

// NewResult builds a Result from items. src is recorded for provenance only.
func NewResult(expression string, items []TermResult, src Source) Result {
	owned := make([]TermResult, len(items))
	copy(owned, items)
	total := 0
	for _, it := range owned {
		total += it.Contribution()
	}
	return Result{
		items:      owned,
		total:      total,
		source:     src,
		expression: expression,
	}
}

// Items returns a copy of the per-die and per-constant results in term order.
func (r Result) Items() []TermResult {
	out := make([]TermResult, len(r.items))
	copy(out, r.items)
	return out
}

// Len returns the number of items.
func (r Result) Len() int { return len(r.items) }

// Total returns the sum of every item's contribution.
func (r Result) Total() int { return r.total }

// Source returns the source that produced the roll.
func (r Result) Source() Source { return r.source }

// Expression returns the canonical notation of the rolled expression.
func (r Result) Expression() string { return r.expression }

// String returns an audit string in the format:
//
//	"1d20 + 2*1d6 + 3 → [d20:14 2*d6:5 3] = 27"
func (r Result) String() string {
	parts := make([]string, 0, len(r.items))
	for _, it := range r.items {
		switch {
		case it.Kind == KindConstant:
			parts = append(parts, fmt.Sprintf("%d", it.Value))
		case it.Scalar != 1:
			parts = append(parts, fmt.Sprintf("%d*%s:%d", it.Scalar, it.Kind, it.Value))
		default:
			parts = append(parts, fmt.Sprintf("%s:%d", it.Kind, it.Value))
		}
	}
	return fmt.Sprintf("%s → [%s] = %d", r.expression, strings.Join(parts, " "), r.total)
}
