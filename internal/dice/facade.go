// Package dice parses and rolls dice notation such as "2 + 3*4d6k3".
//
// Parse turns notation into an Expression of ConstantTerm and DiceTerm
// values; Expression.Roll evaluates it against a Source and returns an
// itemized Result. Roll, RollMin and RollMax combine both steps.
package dice

import "fmt"

// Source kinds accepted by NewSource.
const (
	SourceCrypto = "crypto"
	SourceSeeded = "seeded"
)

// Roll parses text and rolls it against src, returning the total.
// A nil src uses DefaultSource.
//
// Postcondition: Returns the total or a parse error.
func Roll(text string, src Source) (int, error) {
	expr, err := Parse(text)
	if err != nil {
		return 0, err
	}
	if src == nil {
		src = DefaultSource()
	}
	res, err := expr.Roll(src)
	if err != nil {
		return 0, err
	}
	return res.Total(), nil
}

// RollMin rolls text with every die showing its lowest face.
func RollMin(text string) (int, error) {
	return Roll(text, MinSource)
}

// RollMax rolls text with every die showing its highest face.
func RollMax(text string) (int, error) {
	return Roll(text, MaxSource)
}

// NewSource returns the source named by kind. seed is used only by
// SourceSeeded.
func NewSource(kind string, seed uint64) (Source, error) {
	switch kind {
	case SourceCrypto, "":
		return NewCryptoSource(), nil
	case SourceSeeded:
		return NewSeededSource(seed), nil
	default:
		return nil, fmt.Errorf("dice: unknown source kind %q", kind)
	}
}
