package handlers

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cory-johannsen/dicenotation/internal/dice"
	"github.com/cory-johannsen/dicenotation/internal/frontend/telnet"
	"github.com/cory-johannsen/dicenotation/internal/preset"
	"github.com/cory-johannsen/dicenotation/internal/storage/postgres"
)

// RenderResult formats a roll as colored Telnet text:
//
//	1d20 + 2*1d6 + 3 → [d20:14 2*d6:5 3] = 27
//
// A die showing its highest face is green, a die showing 1 is red.
func RenderResult(res dice.Result) string {
	items := res.Items()
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, renderItem(it))
	}
	return fmt.Sprintf("%s → [%s] = %s",
		telnet.Colorize(telnet.BrightWhite, res.Expression()),
		strings.Join(parts, " "),
		telnet.Colorf(telnet.Bold+telnet.Yellow, "%d", res.Total()),
	)
}

func renderItem(it dice.TermResult) string {
	if it.Kind == dice.KindConstant {
		return telnet.Colorf(telnet.Dim, "%d", it.Value)
	}
	label := it.Kind
	if it.Scalar != 1 {
		label = strconv.Itoa(it.Scalar) + "*" + label
	}
	face := strconv.Itoa(it.Value)
	switch {
	case isMaxFace(it):
		face = telnet.Colorize(telnet.BrightGreen, face)
	case it.Value == 1:
		face = telnet.Colorize(telnet.BrightRed, face)
	}
	return telnet.Colorize(telnet.Cyan, label) + ":" + face
}

// isMaxFace reports whether a die result shows its highest face, read from
// the "d<sides>" kind.
func isMaxFace(it dice.TermResult) bool {
	sides, err := strconv.Atoi(strings.TrimPrefix(it.Kind, "d"))
	return err == nil && sides > 1 && it.Value == sides
}

// RenderBound formats a min/max evaluation, e.g. "max 1d10 + 2d6 + -5 = 17".
func RenderBound(label string, res dice.Result) string {
	return fmt.Sprintf("%s %s = %s",
		telnet.Colorize(telnet.Cyan, label),
		telnet.Colorize(telnet.BrightWhite, res.Expression()),
		telnet.Colorf(telnet.Bold+telnet.Yellow, "%d", res.Total()),
	)
}

// RenderParsed formats an expression's canonical form, term count and range.
func RenderParsed(expr *dice.Expression) string {
	lo, hi, err := expr.Bounds()
	if err != nil {
		return RenderError(err)
	}
	return fmt.Sprintf("%s %s",
		telnet.Colorize(telnet.BrightWhite, expr.String()),
		telnet.Colorf(telnet.Dim, "(%d terms, %d dice, range %d..%d)", expr.Len(), expr.DiceCount(), lo, hi),
	)
}

// RenderError formats err for the client. Syntax errors point a caret at
// the offending offset of the normalized input.
func RenderError(err error) string {
	var se *dice.SyntaxError
	if errors.As(err, &se) {
		caret := strings.Repeat(" ", se.Offset) + "^"
		lines := []string{
			telnet.Colorf(telnet.Red, "Invalid syntax: %s", se.Reason),
			"  " + se.Input,
			"  " + telnet.Colorize(telnet.BrightRed, caret),
		}
		return strings.Join(lines, "\r\n")
	}
	return telnet.Colorize(telnet.Red, err.Error())
}

// RenderPresets lists presets as "name  canonical  description" rows.
func RenderPresets(lib *preset.Library) string {
	names := lib.Names()
	if len(names) == 0 {
		return telnet.Colorize(telnet.Dim, "No presets loaded.")
	}
	width := 0
	for _, n := range names {
		width = max(width, len(n))
	}
	var b strings.Builder
	b.WriteString(telnet.Colorize(telnet.BrightWhite, "Presets:"))
	for _, n := range names {
		p, _ := lib.Get(n)
		b.WriteString("\r\n  ")
		b.WriteString(telnet.Colorf(telnet.Green, "%-*s", width, p.Name))
		b.WriteString("  ")
		b.WriteString(p.Canonical)
		if p.Description != "" {
			b.WriteString("  ")
			b.WriteString(telnet.Colorize(telnet.Dim, p.Description))
		}
	}
	return b.String()
}

// RenderHistory formats stored rolls, newest first.
func RenderHistory(records []postgres.RollRecord) string {
	if len(records) == 0 {
		return telnet.Colorize(telnet.Dim, "No rolls recorded.")
	}
	lines := make([]string, 0, len(records))
	for _, r := range records {
		lines = append(lines, fmt.Sprintf("%s %s = %s %s",
			telnet.Colorize(telnet.BrightBlack, r.CreatedAt.UTC().Format("2006-01-02 15:04:05")),
			telnet.Colorize(telnet.BrightWhite, r.Expression),
			telnet.Colorf(telnet.Yellow, "%d", r.Total),
			telnet.Colorf(telnet.Dim, "(%s)", r.Source),
		))
	}
	return strings.Join(lines, "\r\n")
}
