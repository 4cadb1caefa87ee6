package scripting

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/cory-johannsen/dicenotation/internal/dice"
)

// GlobalNamespace is the reserved key for scripts loaded via LoadGlobal.
// Call falls back to this VM when the requested namespace has none.
const GlobalNamespace = "__global__"

// ErrNoFunction is returned by Call when no VM defines the requested function.
var ErrNoFunction = errors.New("scripting: function not defined")

// vm is one sandboxed LState. An LState is single-threaded, so every use
// holds mu.
type vm struct {
	mu     sync.Mutex
	L      *lua.LState
	cancel func()
	limit  int
}

func (v *vm) close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cancel != nil {
		v.cancel()
	}
	v.L.Close()
}

// Manager owns one sandboxed VM per namespace and dispatches calls into them.
//
// Manager is safe for concurrent use; calls into the same namespace are
// serialized while different namespaces run concurrently.
type Manager struct {
	mu        sync.RWMutex
	vms       map[string]*vm
	roller    *dice.Roller
	logger    *zap.Logger
	diceLimit int
}

// Option configures a Manager.
type Option func(*Manager)

// WithDiceLimit caps the dice a single engine.dice roll, min or max call may
// draw. Calls over the cap return nil and a dice.ErrTooManyDice message. A limit
// below 1 leaves rolls uncapped.
func WithDiceLimit(n int) Option {
	return func(m *Manager) { m.diceLimit = n }
}

// NewManager creates a Manager whose engine.dice module rolls with roller.
//
// Precondition: roller and logger must be non-nil.
// Postcondition: Returns a non-nil Manager with no VMs.
func NewManager(roller *dice.Roller, logger *zap.Logger, opts ...Option) *Manager {
	if roller == nil {
		panic("scripting: NewManager precondition violated: roller must be non-nil")
	}
	if logger == nil {
		panic("scripting: NewManager precondition violated: logger must be non-nil")
	}
	m := &Manager{
		vms:    make(map[string]*vm),
		roller: roller,
		logger: logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LoadNamespace creates a sandboxed VM for ns, registers the engine.* modules,
// then executes every *.lua file in scriptDir in lexicographic order.
// A previously loaded VM for ns is replaced.
//
// Precondition: ns must be non-empty; scriptDir must be a readable directory.
func (m *Manager) LoadNamespace(ns, scriptDir string, instLimit int) error {
	return m.loadInto(ns, scriptDir, instLimit)
}

// LoadGlobal loads scriptDir into the GlobalNamespace VM.
func (m *Manager) LoadGlobal(scriptDir string, instLimit int) error {
	return m.loadInto(GlobalNamespace, scriptDir, instLimit)
}

// LoadString loads src into ns; used for inline macros and tests.
func (m *Manager) LoadString(ns, src string, instLimit int) error {
	L, cancel := NewSandboxedState(instLimit)
	m.RegisterModules(L)
	if err := L.DoString(src); err != nil {
		cancel()
		L.Close()
		return fmt.Errorf("scripting: loading source for %q: %w", ns, err)
	}
	m.install(ns, &vm{L: L, cancel: cancel, limit: effectiveLimit(instLimit)})
	return nil
}

func (m *Manager) loadInto(ns, scriptDir string, instLimit int) error {
	entries, err := os.ReadDir(scriptDir)
	if err != nil {
		return fmt.Errorf("scripting: reading script dir %q for %q: %w", scriptDir, ns, err)
	}

	var luaFiles []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".lua" {
			luaFiles = append(luaFiles, filepath.Join(scriptDir, e.Name()))
		}
	}
	sort.Strings(luaFiles)

	L, cancel := NewSandboxedState(instLimit)
	m.RegisterModules(L)
	for _, path := range luaFiles {
		if err := L.DoFile(path); err != nil {
			cancel()
			L.Close()
			return fmt.Errorf("scripting: loading %q for %q: %w", path, ns, err)
		}
	}

	m.install(ns, &vm{L: L, cancel: cancel, limit: effectiveLimit(instLimit)})
	m.logger.Info("scripts loaded",
		zap.String("namespace", ns),
		zap.Int("files", len(luaFiles)),
	)
	return nil
}

func (m *Manager) install(ns string, v *vm) {
	m.mu.Lock()
	old := m.vms[ns]
	m.vms[ns] = v
	m.mu.Unlock()
	if old != nil {
		old.close()
	}
}

// Namespaces returns the loaded namespaces, sorted.
func (m *Manager) Namespaces() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.vms))
	for ns := range m.vms {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// Call invokes the global Lua function fn in ns's VM, falling back to the
// GlobalNamespace VM when ns has none or does not define fn. Each call gets
// a fresh instruction budget.
//
// Postcondition: Returns the function's first return value; ErrNoFunction
// when no VM defines fn; a wrapped error on Lua runtime failure.
func (m *Manager) Call(ns, fn string, args ...lua.LValue) (lua.LValue, error) {
	m.mu.RLock()
	candidates := []*vm{m.vms[ns]}
	if ns != GlobalNamespace {
		candidates = append(candidates, m.vms[GlobalNamespace])
	}
	m.mu.RUnlock()

	for _, v := range candidates {
		if v == nil {
			continue
		}
		ret, found, err := v.call(fn, args)
		if !found {
			continue
		}
		if err != nil {
			m.logger.Warn("scripting: Lua runtime error",
				zap.String("namespace", ns),
				zap.String("function", fn),
				zap.Error(err),
			)
			return lua.LNil, fmt.Errorf("scripting: calling %s: %w", fn, err)
		}
		return ret, nil
	}
	return lua.LNil, fmt.Errorf("%w: %s", ErrNoFunction, fn)
}

func (v *vm) call(fn string, args []lua.LValue) (lua.LValue, bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	f := v.L.GetGlobal(fn)
	if f.Type() != lua.LTFunction {
		return lua.LNil, false, nil
	}

	ctx, cancel := newCountingContext(v.limit)
	defer cancel()
	v.L.SetContext(ctx)

	if err := v.L.CallByParam(lua.P{
		Fn:      f,
		NRet:    1,
		Protect: true,
	}, args...); err != nil {
		return lua.LNil, true, err
	}
	ret := v.L.Get(-1)
	v.L.Pop(1)
	return ret, true, nil
}

// Close releases every VM.
func (m *Manager) Close() {
	m.mu.Lock()
	vms := m.vms
	m.vms = make(map[string]*vm)
	m.mu.Unlock()
	for _, v := range vms {
		v.close()
	}
}
