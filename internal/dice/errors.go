package dice

import (
	"errors"
	"fmt"
)

// Sentinel errors. Callers match them with errors.Is.
var (
	// ErrInvalidSyntax is returned when notation text cannot be parsed.
	ErrInvalidSyntax = errors.New("dice: invalid syntax")
	// ErrImpossibleDie is returned for a die with fewer than one side.
	ErrImpossibleDie = errors.New("dice: impossible die")
	// ErrInvalidMultiplicity is returned for a negative dice count.
	ErrInvalidMultiplicity = errors.New("dice: invalid multiplicity")
	// ErrInvalidChoose is returned when the keep count is negative or exceeds the dice count.
	ErrInvalidChoose = errors.New("dice: invalid choose")
	// ErrTooManyDice is returned by CheckDiceLimit when an expression draws
	// more dice than a caller allows.
	ErrTooManyDice = errors.New("dice: too many dice")
)

// SyntaxError describes where parsing failed.
//
// Offset is a byte offset into the normalized input (whitespace stripped,
// lower-cased); Char is zero when the failure is not tied to one character.
type SyntaxError struct {
	Input  string
	Offset int
	Char   rune
	Reason string
}

func (e *SyntaxError) Error() string {
	if e.Char != 0 {
		return fmt.Sprintf("dice: invalid syntax in %q at offset %d (%q): %s", e.Input, e.Offset, e.Char, e.Reason)
	}
	return fmt.Sprintf("dice: invalid syntax in %q at offset %d: %s", e.Input, e.Offset, e.Reason)
}

// Is reports whether target is ErrInvalidSyntax.
func (e *SyntaxError) Is(target error) bool {
	return target == ErrInvalidSyntax
}
