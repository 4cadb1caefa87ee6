// Package handlers implements the roll server's Telnet command loop.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/cory-johannsen/dicenotation/internal/dice"
	"github.com/cory-johannsen/dicenotation/internal/frontend/telnet"
	"github.com/cory-johannsen/dicenotation/internal/preset"
	"github.com/cory-johannsen/dicenotation/internal/scripting"
	"github.com/cory-johannsen/dicenotation/internal/storage/postgres"
)

// Prompt is written before every command.
const Prompt = "dice> "

// maxHistory caps the row count a single history command may request.
const maxHistory = 100

// RollRecorder persists and lists rolls. *postgres.RollRepository satisfies it.
type RollRecorder interface {
	Record(ctx context.Context, in postgres.RecordInput) (postgres.RollRecord, error)
	Recent(ctx context.Context, limit int) ([]postgres.RollRecord, error)
}

// ScriptCaller invokes Lua macros. *scripting.Manager satisfies it.
type ScriptCaller interface {
	Call(ns, fn string, args ...lua.LValue) (lua.LValue, error)
}

// RollSessionConfig holds the per-session limits.
type RollSessionConfig struct {
	// MaxDice caps the dice drawn by one expression. Scripts passed to
	// NewRollSession enforce their own cap; see scripting.WithDiceLimit.
	MaxDice int
	// HistoryLimit is the row count "history" shows without an argument.
	HistoryLimit int
	// ScriptNamespace is the namespace "call" dispatches into.
	ScriptNamespace string
}

// RollSession implements telnet.SessionHandler for the roll server.
// Presets, scripts and history are optional; a nil dependency disables the
// commands that need it.
type RollSession struct {
	roller  *dice.Roller
	presets *preset.Library
	scripts ScriptCaller
	history RollRecorder
	cfg     RollSessionConfig
	logger  *zap.Logger
}

// NewRollSession creates the roll server's session handler.
//
// Precondition: roller and logger must be non-nil; cfg.MaxDice >= 1.
// Postcondition: Returns a RollSession ready to handle sessions.
func NewRollSession(
	roller *dice.Roller,
	presets *preset.Library,
	scripts ScriptCaller,
	history RollRecorder,
	cfg RollSessionConfig,
	logger *zap.Logger,
) *RollSession {
	if roller == nil {
		panic("handlers: NewRollSession precondition violated: roller must be non-nil")
	}
	if logger == nil {
		panic("handlers: NewRollSession precondition violated: logger must be non-nil")
	}
	if cfg.MaxDice < 1 {
		panic(fmt.Sprintf("handlers: NewRollSession precondition violated: MaxDice must be >= 1, got %d", cfg.MaxDice))
	}
	if cfg.HistoryLimit < 1 {
		cfg.HistoryLimit = 10
	}
	if cfg.ScriptNamespace == "" {
		cfg.ScriptNamespace = scripting.GlobalNamespace
	}
	return &RollSession{
		roller:  roller,
		presets: presets,
		scripts: scripts,
		history: history,
		cfg:     cfg,
		logger:  logger,
	}
}

const welcomeBanner = "\r\n" + telnet.Bold + telnet.BrightWhite + "Dice roll server" + telnet.Reset + "\r\n" +
	"Type an expression such as " + telnet.Green + "4d6k3" + telnet.Reset +
	" or " + telnet.Green + "help" + telnet.Reset + " for commands.\r\n"

// HandleSession implements telnet.SessionHandler.
//
// Postcondition: Returns nil on quit, ctx.Err() on shutdown, or the I/O error
// that ended the session.
func (h *RollSession) HandleSession(ctx context.Context, conn *telnet.Conn) error {
	start := time.Now()
	log := h.logger.With(zap.String("session", conn.SessionID()))

	if err := conn.Write([]byte(welcomeBanner)); err != nil {
		return fmt.Errorf("sending welcome: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteLine(telnet.Colorize(telnet.Yellow, "Server shutting down. Goodbye!"))
			return ctx.Err()
		default:
		}

		if err := conn.WritePrompt(telnet.Colorize(telnet.BrightWhite, Prompt)); err != nil {
			return fmt.Errorf("writing prompt: %w", err)
		}

		line, err := conn.ReadLine()
		if errors.Is(err, telnet.ErrLineTooLong) {
			_ = conn.WriteLine(telnet.Colorize(telnet.Red, "Line too long."))
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("reading input: %w", err)
		}

		out, quit := h.Execute(ctx, conn.SessionID(), line)
		if out != "" {
			if err := conn.WriteLine(out); err != nil {
				return fmt.Errorf("writing output: %w", err)
			}
		}
		if quit {
			log.Info("client quit", zap.Duration("session_duration", time.Since(start)))
			return nil
		}
	}
}

// Execute runs one command line and returns the text to show. quit is true
// when the client asked to disconnect.
func (h *RollSession) Execute(ctx context.Context, session, line string) (out string, quit bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", false
	}

	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(cmd) {
	case "quit", "exit":
		return telnet.Colorize(telnet.Cyan, "Goodbye!"), true
	case "help":
		return helpText(), false
	case "roll":
		if rest == "" {
			return usage("roll <expression|@preset>"), false
		}
		return h.roll(ctx, session, rest), false
	case "min", "max":
		if rest == "" {
			return usage(strings.ToLower(cmd) + " <expression|@preset>"), false
		}
		return h.bound(strings.ToLower(cmd), rest), false
	case "parse":
		if rest == "" {
			return usage("parse <expression>"), false
		}
		expr, err := h.resolve(rest)
		if err != nil {
			return RenderError(err), false
		}
		return RenderParsed(expr), false
	case "preset":
		if rest == "" {
			return usage("preset <name>"), false
		}
		return h.roll(ctx, session, "@"+rest), false
	case "presets":
		return RenderPresets(h.presets), false
	case "call":
		return h.call(rest), false
	case "history":
		return h.showHistory(ctx, rest), false
	default:
		// Anything else is treated as a bare expression.
		return h.roll(ctx, session, line), false
	}
}

// resolve parses text, or looks up a preset when text starts with '@', and
// enforces the dice cap.
func (h *RollSession) resolve(text string) (*dice.Expression, error) {
	var (
		expr *dice.Expression
		err  error
	)
	if name, ok := strings.CutPrefix(text, "@"); ok {
		if h.presets.Len() == 0 {
			return nil, errors.New("no presets loaded")
		}
		expr, err = h.presets.Expression(strings.TrimSpace(name))
	} else {
		expr, err = dice.Parse(text)
	}
	if err != nil {
		return nil, err
	}
	if err := expr.CheckDiceLimit(h.cfg.MaxDice); err != nil {
		return nil, err
	}
	return expr, nil
}

func (h *RollSession) roll(ctx context.Context, session, text string) string {
	expr, err := h.resolve(text)
	if err != nil {
		return RenderError(err)
	}
	res, err := h.roller.Roll(expr)
	if err != nil {
		return RenderError(err)
	}
	out := RenderResult(res)

	if h.history != nil {
		if _, err := h.history.Record(ctx, postgres.RecordInput{Input: text, Result: res, Session: session}); err != nil {
			h.logger.Warn("recording roll",
				zap.String("session", session),
				zap.String("expression", res.Expression()),
				zap.Error(err),
			)
			out += "\r\n" + telnet.Colorize(telnet.Dim, "(roll not saved to history)")
		}
	}
	return out
}

func (h *RollSession) bound(label, text string) string {
	expr, err := h.resolve(text)
	if err != nil {
		return RenderError(err)
	}
	src := dice.MinSource
	if label == "max" {
		src = dice.MaxSource
	}
	res, err := expr.Roll(src)
	if err != nil {
		return RenderError(err)
	}
	return RenderBound(label, res)
}

func (h *RollSession) call(rest string) string {
	if h.scripts == nil {
		return telnet.Colorize(telnet.Red, "Scripting is disabled.")
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return usage("call <function> [args...]")
	}
	args := make([]lua.LValue, 0, len(fields)-1)
	for _, f := range fields[1:] {
		if n, err := strconv.ParseFloat(f, 64); err == nil {
			args = append(args, lua.LNumber(n))
		} else {
			args = append(args, lua.LString(f))
		}
	}
	ret, err := h.scripts.Call(h.cfg.ScriptNamespace, fields[0], args...)
	if err != nil {
		if errors.Is(err, scripting.ErrNoFunction) {
			return telnet.Colorf(telnet.Red, "No such function: %s", fields[0])
		}
		return RenderError(err)
	}
	return telnet.Colorize(telnet.BrightWhite, scripting.FormatValue(ret))
}

func (h *RollSession) showHistory(ctx context.Context, rest string) string {
	if h.history == nil {
		return telnet.Colorize(telnet.Red, "History is disabled.")
	}
	limit := h.cfg.HistoryLimit
	if rest != "" {
		n, err := strconv.Atoi(rest)
		if err != nil || n < 1 {
			return usage("history [count]")
		}
		limit = min(n, maxHistory)
	}
	records, err := h.history.Recent(ctx, limit)
	if err != nil {
		h.logger.Error("listing history", zap.Error(err))
		return telnet.Colorize(telnet.Red, "An internal error occurred. Please try again.")
	}
	return RenderHistory(records)
}

func usage(s string) string {
	return telnet.Colorize(telnet.Red, "Usage: "+s)
}

func helpText() string {
	rows := [][2]string{
		{"<expression>", "Roll an expression, e.g. 2*1d6 + 3"},
		{"roll <expression|@preset>", "Roll an expression or a named preset"},
		{"min <expression>", "Lowest total, every die showing 1"},
		{"max <expression>", "Highest total, every die showing its top face"},
		{"parse <expression>", "Show the canonical form and range"},
		{"preset <name>", "Roll a named preset"},
		{"presets", "List presets"},
		{"call <function> [args...]", "Run a Lua macro"},
		{"history [count]", "Show recent rolls"},
		{"help", "Show this help"},
		{"quit", "Disconnect"},
	}
	lines := []string{telnet.Colorize(telnet.BrightWhite, "Available commands:")}
	for _, r := range rows {
		lines = append(lines, fmt.Sprintf("  %s  %s", telnet.Colorf(telnet.Green, "%-27s", r[0]), r[1]))
	}
	return strings.Join(lines, "\r\n")
}
