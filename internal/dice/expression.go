package dice

import (
	"fmt"
	"math"
	"strings"
)

// Expression is an ordered sum of terms.
//
// Terms are only ever appended; order is preserved for String and for the
// order of Result items. Builder methods return the receiver so calls chain:
//
//	expr := dice.NewExpression().Constant(5).Die(8).Dice(4, 6, dice.WithChoose(3))
//
// A builder call that violates a dice invariant appends nothing and records
// the error; later builder calls are ignored, Err reports the first error
// and Roll refuses to evaluate.
type Expression struct {
	terms []Term
	err   error
}

// NewExpression returns an empty expression.
func NewExpression() *Expression {
	return &Expression{}
}

// TermOption adjusts a dice term added through Die or Dice.
type TermOption func(*termSpec)

type termSpec struct {
	scalar int
	choose *int
}

// WithScalar multiplies every kept die by n. Negative n subtracts the term.
func WithScalar(n int) TermOption {
	return func(s *termSpec) { s.scalar = n }
}

// WithChoose keeps only the k highest dice.
func WithChoose(k int) TermOption {
	return func(s *termSpec) { s.choose = &k }
}

// Append adds t to the end of the expression.
func (e *Expression) Append(t Term) *Expression {
	if e.err == nil {
		e.terms = append(e.terms, t)
	}
	return e
}

// Constant appends a constant term.
func (e *Expression) Constant(v int) *Expression {
	return e.Append(ConstantTerm{Value: v})
}

// Die appends a single die of the given sides.
func (e *Expression) Die(sides int, opts ...TermOption) *Expression {
	return e.Dice(1, sides, opts...)
}

// Dice appends multiplicity dice of the given sides. Without WithChoose every
// die is kept; without WithScalar the scalar is 1.
func (e *Expression) Dice(multiplicity, sides int, opts ...TermOption) *Expression {
	if e.err != nil {
		return e
	}
	spec := termSpec{scalar: 1}
	for _, opt := range opts {
		opt(&spec)
	}
	choose := multiplicity
	if spec.choose != nil {
		choose = *spec.choose
	}
	term, err := NewDiceTerm(multiplicity, sides, choose, spec.scalar)
	if err != nil {
		e.err = err
		return e
	}
	return e.Append(term)
}

// Err returns the first error recorded by a builder call, or nil.
func (e *Expression) Err() error {
	return e.err
}

// Terms returns a copy of the terms in insertion order.
func (e *Expression) Terms() []Term {
	out := make([]Term, len(e.terms))
	copy(out, e.terms)
	return out
}

// Len returns the number of terms.
func (e *Expression) Len() int {
	return len(e.terms)
}

// Roll evaluates every term against src, in order.
//
// Precondition: src must be non-nil.
// Postcondition: returns Err() if a builder call failed; otherwise a fresh
// Result whose items are the terms' results concatenated in term order.
func (e *Expression) Roll(src Source) (Result, error) {
	if e.err != nil {
		return Result{}, e.err
	}
	var items []TermResult
	for _, t := range e.terms {
		items = append(items, t.Results(src)...)
	}
	return NewResult(e.String(), items, src), nil
}

// Bounds returns the lowest and highest totals the expression can produce.
// Unlike rolling against MinSource and MaxSource, it accounts for terms
// with a negative scalar.
func (e *Expression) Bounds() (lo, hi int, err error) {
	if e.err != nil {
		return 0, 0, e.err
	}
	for _, t := range e.terms {
		switch t := t.(type) {
		case ConstantTerm:
			lo += t.Value
			hi += t.Value
		case DiceTerm:
			a := t.Choose * t.Scalar
			b := t.Choose * t.Sides * t.Scalar
			lo += min(a, b)
			hi += max(a, b)
		}
	}
	return lo, hi, nil
}

// DiceCount returns the number of dice drawn per roll, including dice that
// are rolled and then dropped by a keep count. The count saturates at
// math.MaxInt.
func (e *Expression) DiceCount() int {
	n := 0
	for _, t := range e.terms {
		if d, ok := t.(DiceTerm); ok {
			if d.Multiplicity > math.MaxInt-n {
				return math.MaxInt
			}
			n += d.Multiplicity
		}
	}
	return n
}

// CheckDiceLimit returns an error wrapping ErrTooManyDice when the
// expression draws more than limit dice. A limit below 1 disables the check.
func (e *Expression) CheckDiceLimit(limit int) error {
	if limit < 1 {
		return nil
	}
	if n := e.DiceCount(); n > limit {
		return fmt.Errorf("%w: %d dice requested, limit is %d", ErrTooManyDice, n, limit)
	}
	return nil
}

// String returns the canonical notation: term strings joined by " + ".
// Parse(e.String()) yields an expression with the same String.
func (e *Expression) String() string {
	parts := make([]string, len(e.terms))
	for i, t := range e.terms {
		parts[i] = t.String()
	}
	return strings.Join(parts, " + ")
}
