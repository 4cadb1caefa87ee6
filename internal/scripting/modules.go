package scripting

import (
	"strings"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/cory-johannsen/dicenotation/internal/dice"
)

// RegisterModules registers the engine.dice and engine.log tables into L.
//
// Lua surface:
//
//	engine.dice.roll(expr)   -> {total=, expression=, items={{value=, scalar=, kind=}, ...}} | nil, err
//	engine.dice.min(expr)    -> number | nil, err
//	engine.dice.max(expr)    -> number | nil, err
//	engine.dice.bounds(expr) -> lo, hi | nil, err
//	engine.dice.parse(expr)  -> canonical string | nil, err
//	engine.log.debug/info/warn/error(msg)
//
// Precondition: L must be from NewSandboxedState.
func (m *Manager) RegisterModules(L *lua.LState) {
	engine := L.NewTable()
	L.SetField(engine, "dice", m.diceModule(L))
	L.SetField(engine, "log", m.logModule(L))
	L.SetGlobal("engine", engine)
}

func (m *Manager) diceModule(L *lua.LState) *lua.LTable {
	bound := func(src dice.Source) lua.LGFunction {
		return func(L *lua.LState) int {
			expr, err := m.parse(L.CheckString(1))
			if err != nil {
				return pushError(L, err)
			}
			res, err := expr.Roll(src)
			if err != nil {
				return pushError(L, err)
			}
			L.Push(lua.LNumber(res.Total()))
			return 1
		}
	}
	return L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"roll": func(L *lua.LState) int {
			expr, err := m.parse(L.CheckString(1))
			if err != nil {
				return pushError(L, err)
			}
			res, err := m.roller.Roll(expr)
			if err != nil {
				return pushError(L, err)
			}
			L.Push(resultTable(L, res))
			return 1
		},
		"min": bound(dice.MinSource),
		"max": bound(dice.MaxSource),
		"bounds": func(L *lua.LState) int {
			lo, hi, err := m.roller.Bounds(L.CheckString(1))
			if err != nil {
				return pushError(L, err)
			}
			L.Push(lua.LNumber(lo))
			L.Push(lua.LNumber(hi))
			return 2
		},
		"parse": func(L *lua.LState) int {
			expr, err := dice.Parse(L.CheckString(1))
			if err != nil {
				return pushError(L, err)
			}
			L.Push(lua.LString(expr.String()))
			return 1
		},
	})
}

// parse parses text and applies the manager's dice limit.
func (m *Manager) parse(text string) (*dice.Expression, error) {
	expr, err := dice.Parse(text)
	if err != nil {
		return nil, err
	}
	if err := expr.CheckDiceLimit(m.diceLimit); err != nil {
		m.logger.Warn("scripting: dice limit exceeded",
			zap.String("input", text),
			zap.Int("limit", m.diceLimit),
		)
		return nil, err
	}
	return expr, nil
}

func (m *Manager) logModule(L *lua.LState) *lua.LTable {
	logAt := func(log func(string, ...zap.Field)) lua.LGFunction {
		return func(L *lua.LState) int {
			log(L.CheckString(1), zap.String("source", "lua"))
			return 0
		}
	}
	return L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"debug": logAt(m.logger.Debug),
		"info":  logAt(m.logger.Info),
		"warn":  logAt(m.logger.Warn),
		"error": logAt(m.logger.Error),
	})
}

func pushError(L *lua.LState, err error) int {
	L.Push(lua.LNil)
	L.Push(lua.LString(err.Error()))
	return 2
}

func resultTable(L *lua.LState, res dice.Result) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("total", lua.LNumber(res.Total()))
	t.RawSetString("expression", lua.LString(res.Expression()))
	items := L.NewTable()
	for _, it := range res.Items() {
		item := L.NewTable()
		item.RawSetString("value", lua.LNumber(it.Value))
		item.RawSetString("scalar", lua.LNumber(it.Scalar))
		item.RawSetString("kind", lua.LString(it.Kind))
		items.Append(item)
	}
	t.RawSetString("items", items)
	return t
}

// FormatValue renders a Lua return value for display. A table carrying a
// numeric "total" field (as returned by engine.dice.roll) renders as its
// expression and total.
func FormatValue(v lua.LValue) string {
	tbl, ok := v.(*lua.LTable)
	if !ok {
		return v.String()
	}
	total := tbl.RawGetString("total")
	if total.Type() != lua.LTNumber {
		var parts []string
		tbl.ForEach(func(k, val lua.LValue) {
			parts = append(parts, k.String()+"="+val.String())
		})
		return "{" + strings.Join(parts, ", ") + "}"
	}
	if expr := tbl.RawGetString("expression"); expr.Type() == lua.LTString {
		return expr.String() + " = " + total.String()
	}
	return total.String()
}
