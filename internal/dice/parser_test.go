package dice_test

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/dicenotation/internal/dice"
)

func TestParse_CanonicalString(t *testing.T) {
	cases := map[string]string{
		"4d6k3":          "4d6k3",
		"3d6":            "3d6",
		"2*3d6":          "2*3d6",
		"2 + 2*d6":       "2 + 2*1d6",
		"d20":            "1d20",
		"D20 + 5":        "1d20 + 5",
		"1d10+2d6-5":     "1d10 + 2d6 + -5",
		"2 + 3*4d6k3":    "2 + 3*4d6k3",
		"7":              "7",
		"2*3":            "6",
		"2*3*4d6":        "6*4d6",
		"1d4 - 1d8":      "1d4 + -1*1d8",
		"1d4 +- 2":       "1d4 + -2",
		"-3 + 1d6":       "-3 + 1d6",
		"-1d6":           "-1*1d6",
		"0d6":            "0d6",
		"4d6k4":          "4d6",
		"4d6k0":          "4d6k0",
		" 1 d 6 \t+ 2 ":  "1d6 + 2",
		"10d10K5":        "10d10k5",
		"1d6+1d6+1d6":    "1d6 + 1d6 + 1d6",
		"3 + 0":          "3 + 0",
		"100*1d100k1":    "100*1d100k1",
		"1d8 - 2*1d4":    "1d8 + -2*1d4",
		"+5":             "5",
		"2d6 + -1*1d8":   "2d6 + -1*1d8",
		"4d6k3 + 4d6k3":  "4d6k3 + 4d6k3",
		"1d20+1d20-1d20": "1d20 + 1d20 + -1*1d20",
	}
	for in, want := range cases {
		t.Run(in, func(t *testing.T) {
			expr, err := dice.Parse(in)
			require.NoError(t, err)
			assert.Equal(t, want, expr.String())
		})
	}
}

func TestParse_Terms(t *testing.T) {
	expr, err := dice.Parse("2 + 3*4d6k3 - 1d8")
	require.NoError(t, err)

	terms := expr.Terms()
	require.Len(t, terms, 3)
	assert.Equal(t, dice.ConstantTerm{Value: 2}, terms[0])
	assert.Equal(t, dice.DiceTerm{Multiplicity: 4, Sides: 6, Choose: 3, Scalar: 3}, terms[1])
	assert.Equal(t, dice.DiceTerm{Multiplicity: 1, Sides: 8, Choose: 1, Scalar: -1}, terms[2])
}

func TestParse_InvalidSyntax(t *testing.T) {
	for _, in := range []string{
		"",
		"   ",
		"2d6/2",
		"(1d6)",
		"1d6+",
		"1d6++2",
		"2--3",
		"-",
		"1x6",
		"2d",
		"d",
		"*3",
		"2*",
		"2d6*3",
		"2d6d8",
		"4d6k",
		"4d6k2k1",
		"5k2",
		"1.5",
		"1d6 + ü",
		"99999999999999999999d6",
		"4000000000*4000000000*4000000000",
		"9999999999*9999999999",
		"-4000000000*4000000000*3d6",
	} {
		t.Run(fmt.Sprintf("%q", in), func(t *testing.T) {
			expr, err := dice.Parse(in)
			assert.Nil(t, expr, "no partial expression on failure")
			assert.ErrorIs(t, err, dice.ErrInvalidSyntax)
		})
	}
}

func TestParse_SyntaxErrorIdentifiesCharacter(t *testing.T) {
	_, err := dice.Parse("2d6 / 2")
	var se *dice.SyntaxError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, '/', se.Char)
	assert.Equal(t, 3, se.Offset)
	assert.Equal(t, "2d6/2", se.Input)
	assert.Contains(t, se.Error(), "'/'")
}

func TestParse_ValidationErrors(t *testing.T) {
	_, err := dice.Parse("1d0")
	assert.ErrorIs(t, err, dice.ErrImpossibleDie)

	_, err = dice.Parse("2d6k3")
	assert.ErrorIs(t, err, dice.ErrInvalidChoose)

	_, err = dice.Parse("0d6k1")
	assert.ErrorIs(t, err, dice.ErrInvalidChoose)
}

func TestMustParse_Panics(t *testing.T) {
	assert.Panics(t, func() { dice.MustParse("2d6/2") })
	assert.NotPanics(t, func() { dice.MustParse("2d6+2") })
}

// genExpression draws a random valid expression built through the fluent API.
func genExpression(rt *rapid.T) *dice.Expression {
	expr := dice.NewExpression()
	n := rapid.IntRange(1, 5).Draw(rt, "terms")
	for i := 0; i < n; i++ {
		if rapid.Bool().Draw(rt, "constant") {
			expr.Constant(rapid.IntRange(-1000, 1000).Draw(rt, "value"))
			continue
		}
		m := rapid.IntRange(0, 20).Draw(rt, "multiplicity")
		expr.Dice(m, rapid.IntRange(1, 100).Draw(rt, "sides"),
			dice.WithChoose(rapid.IntRange(0, m).Draw(rt, "choose")),
			dice.WithScalar(rapid.IntRange(-10, 10).Draw(rt, "scalar")),
		)
	}
	return expr
}

// TestProperty_StringIsFixedPoint verifies Parse(e.String()).String() == e.String().
func TestProperty_StringIsFixedPoint(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		expr := genExpression(rt)
		require.NoError(rt, expr.Err())

		text := expr.String()
		reparsed, err := dice.Parse(text)
		require.NoError(rt, err, "canonical form %q must parse", text)
		assert.Equal(rt, text, reparsed.String())
		assert.Equal(rt, expr.Terms(), reparsed.Terms())
	})
}

// TestProperty_ParseNeverPanics feeds arbitrary strings over the notation
// alphabet and a few foreign characters.
func TestProperty_ParseNeverPanics(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		in := rapid.StringMatching(`[0-9dDkK+\-* /x]{0,16}`).Draw(rt, "input")
		expr, err := dice.Parse(in)
		if err != nil {
			assert.Nil(rt, expr)
			return
		}
		assert.Positive(rt, expr.Len())
	})
}

// TestProperty_ScalarProductNeverWraps verifies a scalar product either
// matches exact arithmetic or is rejected as invalid syntax.
func TestProperty_ScalarProductNeverWraps(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		a := rapid.Int64Range(0, 1<<62).Draw(rt, "a")
		b := rapid.Int64Range(0, 1<<62).Draw(rt, "b")
		negative := rapid.Bool().Draw(rt, "negative")

		in := fmt.Sprintf("%d*%d", a, b)
		want := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
		if negative {
			in = "-" + in
			want.Neg(want)
		}

		expr, err := dice.Parse(in)
		if !want.IsInt64() {
			assert.ErrorIs(rt, err, dice.ErrInvalidSyntax)
			return
		}
		require.NoError(rt, err)
		assert.Equal(rt, []dice.Term{dice.ConstantTerm{Value: int(want.Int64())}}, expr.Terms())
	})
}
