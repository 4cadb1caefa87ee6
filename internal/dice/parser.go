package dice

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// termState accumulates the term currently being scanned. It is replaced
// with a fresh value at every '+' or '-'.
type termState struct {
	digits       string
	scalar       int
	multiplicity int
	isDice       bool
	choose       *int
}

func newTermState(scalar int) termState {
	return termState{scalar: scalar}
}

type parser struct {
	input string // normalized
	expr  *Expression
	st    termState
}

// Parse parses dice notation into an Expression.
//
// Supported forms: "7", "d20", "3d6", "4d6k3", "2*1d8", "1d10+2d6-5",
// "2 + 3*4d6k3". Whitespace is ignored and letters are case-insensitive.
//
// Precondition: none; any string may be passed.
// Postcondition: Returns a non-nil Expression, or an error matching one of
// ErrInvalidSyntax, ErrImpossibleDie, ErrInvalidMultiplicity or
// ErrInvalidChoose. No partial expression is returned.
func Parse(text string) (*Expression, error) {
	p := &parser{
		input: normalize(text),
		expr:  NewExpression(),
		st:    newTermState(1),
	}
	if p.input == "" {
		return nil, p.fail(0, 0, "empty expression")
	}

	for i := 0; i < len(p.input); i++ {
		c := p.input[i]
		switch {
		case isDigit(c):
			p.st.digits += string(c)
		case c == '*':
			if p.st.isDice {
				return nil, p.fail(i, '*', "scalar must precede the dice")
			}
			n, err := p.number(i, p.st.digits, "scalar")
			if err != nil {
				return nil, err
			}
			scalar, ok := mulInt(p.st.scalar, n)
			if !ok {
				return nil, p.fail(i, '*', "scalar out of range")
			}
			p.st.scalar = scalar
			p.st.digits = ""
		case c == 'd':
			if p.st.isDice {
				return nil, p.fail(i, 'd', "more than one 'd' in a term")
			}
			p.st.isDice = true
			p.st.multiplicity = 1
			if p.st.digits != "" {
				n, err := p.number(i, p.st.digits, "dice count")
				if err != nil {
					return nil, err
				}
				p.st.multiplicity = n
			}
			p.st.digits = ""
		case c == 'k':
			if !p.st.isDice || p.st.choose != nil {
				return nil, p.fail(i, 'k', "'k' must follow a single dice specification")
			}
			j := i + 1
			for j < len(p.input) && isDigit(p.input[j]) {
				j++
			}
			n, err := p.number(i, p.input[i+1:j], "keep count")
			if err != nil {
				return nil, err
			}
			p.st.choose = &n
			i = j - 1
		case c == '+' || c == '-':
			sign := 1
			if c == '-' {
				sign = -1
			}
			if i == 0 {
				// A leading sign applies to the first term.
				p.st.scalar = sign
				continue
			}
			if err := p.closeTerm(i); err != nil {
				return nil, err
			}
			p.st = newTermState(sign)
		default:
			r, _ := utf8.DecodeRuneInString(p.input[i:])
			return nil, p.fail(i, r, "unexpected character")
		}
	}

	if err := p.closeTerm(len(p.input)); err != nil {
		return nil, err
	}
	return p.expr, nil
}

// MustParse parses text and panics on error. Useful for package-level
// expressions and tests.
//
// Precondition: text must be valid dice notation.
func MustParse(text string) *Expression {
	e, err := Parse(text)
	if err != nil {
		panic("dice: MustParse failed for expression " + text + ": " + err.Error())
	}
	return e
}

func (p *parser) closeTerm(offset int) error {
	st := p.st
	if !st.isDice {
		n, err := p.number(offset, st.digits, "constant")
		if err != nil {
			return err
		}
		v, ok := mulInt(st.scalar, n)
		if !ok {
			return p.fail(offset, 0, "constant out of range")
		}
		p.expr.Constant(v)
		return nil
	}

	sides, err := p.number(offset, st.digits, "die sides")
	if err != nil {
		return err
	}
	choose := st.multiplicity
	if st.choose != nil {
		choose = *st.choose
	}
	term, err := NewDiceTerm(st.multiplicity, sides, choose, st.scalar)
	if err != nil {
		return fmt.Errorf("parsing %q: %w", p.input, err)
	}
	p.expr.Append(term)
	return nil
}

func (p *parser) number(offset int, digits, what string) (int, error) {
	if digits == "" {
		return 0, p.fail(offset, 0, "missing "+what)
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, p.fail(offset, 0, fmt.Sprintf("%s %s out of range", what, digits))
	}
	return n, nil
}

func (p *parser) fail(offset int, char rune, reason string) error {
	return &SyntaxError{Input: p.input, Offset: offset, Char: char, Reason: reason}
}

// normalize strips whitespace, lower-cases, and folds "+-" into "-".
func normalize(text string) string {
	stripped := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, text)
	return strings.ReplaceAll(strings.ToLower(stripped), "+-", "-")
}

// mulInt multiplies a and b, reporting false when the product overflows int.
func mulInt(a, b int) (int, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if (a == -1 && b == math.MinInt) || (b == -1 && a == math.MinInt) {
		return 0, false
	}
	c := a * b
	if c/b != a {
		return 0, false
	}
	return c, true
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
