package handlers

import (
	"context"
	"errors"
	"io"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/cory-johannsen/dicenotation/internal/dice"
	"github.com/cory-johannsen/dicenotation/internal/frontend/telnet"
	"github.com/cory-johannsen/dicenotation/internal/preset"
	"github.com/cory-johannsen/dicenotation/internal/scripting"
	"github.com/cory-johannsen/dicenotation/internal/storage/postgres"
)

// memRecorder is an in-memory RollRecorder.
type memRecorder struct {
	mu      sync.Mutex
	records []postgres.RollRecord
	err     error
}

func (m *memRecorder) Record(_ context.Context, in postgres.RecordInput) (postgres.RollRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return postgres.RollRecord{}, m.err
	}
	rec := postgres.RollRecord{
		ID:         uuid.New(),
		Input:      in.Input,
		Expression: in.Result.Expression(),
		Total:      in.Result.Total(),
		Items:      postgres.ItemsFromResult(in.Result),
		Source:     dice.SourceName(in.Result.Source()),
		Session:    in.Session,
		CreatedAt:  time.Now(),
	}
	m.records = append(m.records, rec)
	return rec, nil
}

func (m *memRecorder) Recent(_ context.Context, limit int) ([]postgres.RollRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []postgres.RollRecord
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.records[i])
	}
	return out, nil
}

const testPresets = `
presets:
  - name: fireball
    expression: 8d6
  - name: stats
    expression: 4d6k3
`

type sessionDeps struct {
	presets *preset.Library
	scripts ScriptCaller
	history RollRecorder
	maxDice int
	logger  *zap.Logger
}

func newSession(t *testing.T, src dice.Source, deps sessionDeps) *RollSession {
	t.Helper()
	if deps.logger == nil {
		deps.logger = zaptest.NewLogger(t)
	}
	if deps.maxDice == 0 {
		deps.maxDice = 100
	}
	roller := dice.NewLoggedRoller(src, deps.logger)
	return NewRollSession(roller, deps.presets, deps.scripts, deps.history,
		RollSessionConfig{MaxDice: deps.maxDice, HistoryLimit: 5}, deps.logger)
}

func exec(t *testing.T, h *RollSession, line string) string {
	t.Helper()
	out, quit := h.Execute(context.Background(), "sess-1", line)
	assert.False(t, quit, "%q must not quit", line)
	return telnet.StripANSI(out)
}

func TestExecute_RollForms(t *testing.T) {
	h := newSession(t, dice.MaxSource, sessionDeps{})
	assert.Equal(t, "2*1d6 + 3 → [2*d6:6 3] = 15", exec(t, h, "2*1d6 + 3"))
	assert.Equal(t, "4d6k3 → [d6:6 d6:6 d6:6] = 18", exec(t, h, "roll 4d6k3"))
	assert.Equal(t, "1d20 → [d20:20] = 20", exec(t, h, "ROLL d20"))
	assert.Equal(t, "", exec(t, h, "   "))
	assert.Equal(t, "Usage: roll <expression|@preset>", exec(t, h, "roll"))
}

func TestExecute_MinMax(t *testing.T) {
	h := newSession(t, dice.NewCryptoSource(), sessionDeps{})
	assert.Equal(t, "min 1d10 + 2d6 + -5 = -2", exec(t, h, "min 1d10+2d6-5"))
	assert.Equal(t, "max 1d10 + 2d6 + -5 = 17", exec(t, h, "max 1d10+2d6-5"))
	assert.Equal(t, "Usage: max <expression|@preset>", exec(t, h, "max"))
}

func TestExecute_Parse(t *testing.T) {
	h := newSession(t, dice.NewCryptoSource(), sessionDeps{})
	assert.Equal(t, "2 + 2*1d6 (2 terms, 1 dice, range 4..14)", exec(t, h, "parse 2 + 2*d6"))
	assert.Contains(t, exec(t, h, "parse 2d6 / 2"), "Invalid syntax")
}

func TestExecute_InvalidExpression(t *testing.T) {
	h := newSession(t, dice.NewCryptoSource(), sessionDeps{})
	out := exec(t, h, "2d6 / 2")
	assert.Contains(t, out, "Invalid syntax")
	assert.Contains(t, out, "     ^")
	assert.Contains(t, exec(t, h, "1d0"), "impossible die")
	assert.Contains(t, exec(t, h, "2d6k3"), "invalid choose")
}

func TestExecute_MaxDice(t *testing.T) {
	h := newSession(t, dice.MaxSource, sessionDeps{maxDice: 10})
	assert.Contains(t, exec(t, h, "11d6"), "too many dice: 11 dice requested, limit is 10")
	assert.Contains(t, exec(t, h, "6d6 + 5d6"), "too many dice")
	assert.Equal(t, "10d1 → [d1:1 d1:1 d1:1 d1:1 d1:1 d1:1 d1:1 d1:1 d1:1 d1:1] = 10", exec(t, h, "10d1"))
}

func TestExecute_Presets(t *testing.T) {
	lib, err := preset.LoadFromBytes([]byte(testPresets))
	require.NoError(t, err)
	h := newSession(t, dice.MaxSource, sessionDeps{presets: lib})

	assert.True(t, strings.HasSuffix(exec(t, h, "preset fireball"), "= 48"))
	assert.True(t, strings.HasSuffix(exec(t, h, "roll @STATS"), "= 18"))
	assert.Equal(t, "max 4d6k3 = 18", exec(t, h, "max @stats"))
	assert.Contains(t, exec(t, h, "preset nope"), "unknown preset")
	assert.Contains(t, exec(t, h, "presets"), "fireball")
	assert.Equal(t, "Usage: preset <name>", exec(t, h, "preset"))
}

func TestExecute_NoPresets(t *testing.T) {
	h := newSession(t, dice.MaxSource, sessionDeps{})
	assert.Equal(t, "no presets loaded", exec(t, h, "@fireball"))
	assert.Equal(t, "No presets loaded.", exec(t, h, "presets"))
}

func TestExecute_Call(t *testing.T) {
	logger := zaptest.NewLogger(t)
	roller := dice.NewLoggedRoller(dice.MaxSource, logger)
	mgr := scripting.NewManager(roller, logger)
	t.Cleanup(mgr.Close)
	require.NoError(t, mgr.LoadString(scripting.GlobalNamespace, `
		function double(n) return n * 2 end
		function attack(bonus) return engine.dice.roll("1d20 + " .. bonus) end
		function greet(name) return "hail " .. name end
	`, 0))

	h := newSession(t, dice.MaxSource, sessionDeps{scripts: mgr, logger: logger})
	assert.Equal(t, "42", exec(t, h, "call double 21"))
	assert.Equal(t, "1d20 + 5 = 25", exec(t, h, "call attack 5"))
	assert.Equal(t, "hail bob", exec(t, h, "call greet bob"))
	assert.Equal(t, "No such function: missing", exec(t, h, "call missing"))
	assert.Equal(t, "Usage: call <function> [args...]", exec(t, h, "call"))
}

func TestExecute_CallRespectsDiceLimit(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)
	roller := dice.NewLoggedRoller(dice.MaxSource, logger)
	mgr := scripting.NewManager(roller, logger, scripting.WithDiceLimit(10))
	t.Cleanup(mgr.Close)
	require.NoError(t, mgr.LoadGlobal(filepath.Join("..", "..", "..", "content", "scripts"), 0))

	h := newSession(t, dice.MaxSource, sessionDeps{scripts: mgr, maxDice: 10, logger: logger})
	assert.Contains(t, exec(t, h, "roll 5000d6"), "too many dice: 5000 dice requested, limit is 10")
	assert.Equal(t,
		"bad damage expression: dice: too many dice: 5000 dice requested, limit is 10",
		exec(t, h, "call attack 0 5000d6"))
	assert.Equal(t,
		"bad attack bonus: dice: too many dice: 5001 dice requested, limit is 10",
		exec(t, h, "call attack 5000d6"))
	for _, e := range logs.FilterMessage("dice roll").All() {
		assert.NotContains(t, e.ContextMap()["expression"], "5000d6")
	}

	assert.Equal(t, "hit 20 (natural 20), damage 18", exec(t, h, "call attack 0 1d8+2"))
}

func TestExecute_CallDisabled(t *testing.T) {
	h := newSession(t, dice.MaxSource, sessionDeps{})
	assert.Equal(t, "Scripting is disabled.", exec(t, h, "call double 2"))
}

func TestExecute_History(t *testing.T) {
	rec := &memRecorder{}
	h := newSession(t, dice.MaxSource, sessionDeps{history: rec})

	exec(t, h, "1d4")
	exec(t, h, "roll 2d6")
	require.Len(t, rec.records, 2)
	assert.Equal(t, "sess-1", rec.records[0].Session)
	assert.Equal(t, "max", rec.records[0].Source)
	assert.Equal(t, "2d6", rec.records[1].Input)

	lines := strings.Split(exec(t, h, "history"), "\r\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "2d6 = 12", "newest first")
	assert.Contains(t, lines[1], "1d4 = 4")

	assert.Len(t, strings.Split(exec(t, h, "history 1"), "\r\n"), 1)
	assert.Equal(t, "Usage: history [count]", exec(t, h, "history x"))
	assert.Equal(t, "Usage: history [count]", exec(t, h, "history 0"))
}

func TestExecute_HistoryDisabled(t *testing.T) {
	h := newSession(t, dice.MaxSource, sessionDeps{})
	assert.Equal(t, "History is disabled.", exec(t, h, "history"))
}

func TestExecute_RecordFailureStillShowsRoll(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	rec := &memRecorder{err: errors.New("db down")}
	h := newSession(t, dice.MaxSource, sessionDeps{history: rec, logger: zap.New(core)})

	out := exec(t, h, "1d6")
	assert.Contains(t, out, "1d6 → [d6:6] = 6")
	assert.Contains(t, out, "(roll not saved to history)")
	assert.Equal(t, 1, logs.FilterMessage("recording roll").Len())

	assert.Contains(t, exec(t, h, "history"), "internal error")
}

func TestExecute_QuitAndHelp(t *testing.T) {
	h := newSession(t, dice.MaxSource, sessionDeps{})
	out, quit := h.Execute(context.Background(), "s", "quit")
	assert.True(t, quit)
	assert.Equal(t, "Goodbye!", telnet.StripANSI(out))

	_, quit = h.Execute(context.Background(), "s", "EXIT")
	assert.True(t, quit)

	help := exec(t, h, "help")
	for _, cmd := range []string{"roll", "min", "max", "parse", "preset", "presets", "call", "history", "quit"} {
		assert.Contains(t, help, cmd)
	}
}

func TestNewRollSession_Preconditions(t *testing.T) {
	logger := zaptest.NewLogger(t)
	roller := dice.NewLoggedRoller(dice.MaxSource, logger)
	cfg := RollSessionConfig{MaxDice: 1}
	assert.Panics(t, func() { NewRollSession(nil, nil, nil, nil, cfg, logger) })
	assert.Panics(t, func() { NewRollSession(roller, nil, nil, nil, cfg, nil) })
	assert.Panics(t, func() { NewRollSession(roller, nil, nil, nil, RollSessionConfig{}, logger) })
}

func TestHandleSession_Conversation(t *testing.T) {
	h := newSession(t, dice.MaxSource, sessionDeps{})
	server, client := net.Pipe()
	conn := telnet.NewConn(server, 2*time.Second, 2*time.Second, 0)

	output := make(chan string, 1)
	go func() {
		b, _ := io.ReadAll(client)
		output <- string(b)
	}()
	go func() {
		_, _ = client.Write([]byte("3d1 + 2\r\n\r\nquit\r\n"))
	}()

	err := h.HandleSession(context.Background(), conn)
	require.NoError(t, err)
	_ = conn.Close()

	out := telnet.StripANSI(<-output)
	assert.Contains(t, out, "Dice roll server")
	assert.Contains(t, out, "dice> 3d1 + 2 → [d1:1 d1:1 d1:1 2] = 5")
	assert.Contains(t, out, "Goodbye!")
	assert.Equal(t, 3, strings.Count(out, Prompt))
}

func TestHandleSession_CancelledContext(t *testing.T) {
	h := newSession(t, dice.MaxSource, sessionDeps{})
	server, client := net.Pipe()
	defer client.Close()
	conn := telnet.NewConn(server, time.Second, time.Second, 0)

	go func() { _, _ = io.Copy(io.Discard, client) }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := h.HandleSession(ctx, conn)
	assert.ErrorIs(t, err, context.Canceled)
	_ = conn.Close()
}
