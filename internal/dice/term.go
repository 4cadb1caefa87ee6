package dice

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// KindConstant is the TermResult kind reported by constant terms.
const KindConstant = "constant"

// Term is one additive unit of an Expression. The only implementations are
// ConstantTerm and DiceTerm; switch on the concrete type to inspect one.
type Term interface {
	// Results evaluates the term against src.
	Results(src Source) []TermResult
	// String returns the canonical notation for the term.
	String() string

	isTerm()
}

// ConstantTerm is a fixed value. Any scalar from the notation has already
// been folded into Value.
type ConstantTerm struct {
	Value int
}

func (ConstantTerm) isTerm() {}

// Results returns a single result carrying Value; src is not consulted.
func (c ConstantTerm) Results(Source) []TermResult {
	return []TermResult{{Value: c.Value, Scalar: 1, Kind: KindConstant}}
}

func (c ConstantTerm) String() string {
	return strconv.Itoa(c.Value)
}

// DiceTerm rolls Multiplicity dice of Sides faces, keeps the Choose highest
// and multiplies each kept die by Scalar.
//
// Invariant: Sides > 0, Multiplicity >= 0, 0 <= Choose <= Multiplicity.
// Build values with NewDiceTerm; a literal DiceTerm skips validation.
type DiceTerm struct {
	Multiplicity int
	Sides        int
	Choose       int
	Scalar       int
}

// NewDiceTerm validates and returns a dice term.
//
// Postcondition: returns ErrImpossibleDie, ErrInvalidMultiplicity or
// ErrInvalidChoose (wrapped) when an invariant is violated.
func NewDiceTerm(multiplicity, sides, choose, scalar int) (DiceTerm, error) {
	if sides <= 0 {
		return DiceTerm{}, fmt.Errorf("%w: %d sides", ErrImpossibleDie, sides)
	}
	if multiplicity < 0 {
		return DiceTerm{}, fmt.Errorf("%w: %d dice", ErrInvalidMultiplicity, multiplicity)
	}
	if choose < 0 || choose > multiplicity {
		return DiceTerm{}, fmt.Errorf("%w: keep %d of %d dice", ErrInvalidChoose, choose, multiplicity)
	}
	return DiceTerm{
		Multiplicity: multiplicity,
		Sides:        sides,
		Choose:       choose,
		Scalar:       scalar,
	}, nil
}

func (DiceTerm) isTerm() {}

// Kind returns the TermResult kind for this die size, e.g. "d6".
func (d DiceTerm) Kind() string {
	return "d" + strconv.Itoa(d.Sides)
}

// Results draws Multiplicity faces from src in [1, Sides], orders them
// highest first (ties keep draw order) and returns the first Choose.
func (d DiceTerm) Results(src Source) []TermResult {
	kind := d.Kind()
	rolled := make([]TermResult, d.Multiplicity)
	for i := range rolled {
		rolled[i] = TermResult{
			Value:  src.Between(1, d.Sides),
			Scalar: d.Scalar,
			Kind:   kind,
		}
	}
	slices.SortStableFunc(rolled, func(a, b TermResult) int {
		return b.Value - a.Value
	})
	return rolled[:d.Choose]
}

func (d DiceTerm) String() string {
	var b strings.Builder
	if d.Scalar != 1 {
		b.WriteString(strconv.Itoa(d.Scalar))
		b.WriteByte('*')
	}
	b.WriteString(strconv.Itoa(d.Multiplicity))
	b.WriteByte('d')
	b.WriteString(strconv.Itoa(d.Sides))
	if d.Choose != d.Multiplicity {
		b.WriteByte('k')
		b.WriteString(strconv.Itoa(d.Choose))
	}
	return b.String()
}
