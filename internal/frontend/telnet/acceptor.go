package telnet

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/dicenotation/internal/config"
)

// ErrStopped is returned by Listen once Stop has been called.
var ErrStopped = errors.New("telnet: acceptor stopped")

// SessionHandler runs the command loop for one connected client.
// The context is cancelled when the acceptor stops.
type SessionHandler interface {
	HandleSession(ctx context.Context, conn *Conn) error
}

// SessionHandlerFunc adapts a function to SessionHandler.
type SessionHandlerFunc func(ctx context.Context, conn *Conn) error

// HandleSession calls f.
func (f SessionHandlerFunc) HandleSession(ctx context.Context, conn *Conn) error {
	return f(ctx, conn)
}

// Acceptor listens for Telnet connections and runs each in its own goroutine.
type Acceptor struct {
	cfg     config.TelnetConfig
	handler SessionHandler
	logger  *zap.Logger
	maxLine int

	mu       sync.Mutex
	listener net.Listener
	stopped  bool
	quit     chan struct{}

	connsMu sync.Mutex
	conns   map[*Conn]struct{}
	wg      sync.WaitGroup
}

// NewAcceptor creates an acceptor serving handler on cfg.Addr().
//
// Precondition: handler and logger must be non-nil.
// Postcondition: Returns an Acceptor ready for Listen/Serve or Start.
func NewAcceptor(cfg config.TelnetConfig, handler SessionHandler, logger *zap.Logger) *Acceptor {
	if handler == nil {
		panic("telnet: NewAcceptor precondition violated: handler must be non-nil")
	}
	if logger == nil {
		panic("telnet: NewAcceptor precondition violated: logger must be non-nil")
	}
	return &Acceptor{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		maxLine: DefaultMaxLineLength,
		quit:    make(chan struct{}),
		conns:   make(map[*Conn]struct{}),
	}
}

// Listen binds the TCP listener. Addr is valid once Listen returns nil.
func (a *Acceptor) Listen() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return ErrStopped
	}
	if a.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.cfg.Addr(), err)
	}
	a.listener = ln
	a.logger.Info("telnet acceptor listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Serve accepts connections until Stop is called.
//
// Precondition: Listen must have returned nil.
// Postcondition: Returns nil after Stop, or the fatal accept error.
func (a *Acceptor) Serve() error {
	a.mu.Lock()
	ln := a.listener
	a.mu.Unlock()
	if ln == nil {
		return errors.New("telnet: Serve called before Listen")
	}

	for {
		raw, err := ln.Accept()
		if err != nil {
			select {
			case <-a.quit:
				return nil
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				a.logger.Warn("accepting connection", zap.Error(err))
				continue
			}
			return fmt.Errorf("accepting connection: %w", err)
		}
		if !a.begin() {
			_ = raw.Close()
			return nil
		}
		go a.handleConn(raw)
	}
}

// begin registers a session goroutine with wg unless Stop has begun. Stop
// closes quit under connsMu, so no Add can follow its Wait.
func (a *Acceptor) begin() bool {
	a.connsMu.Lock()
	defer a.connsMu.Unlock()
	select {
	case <-a.quit:
		return false
	default:
	}
	a.wg.Add(1)
	return true
}

// Start listens and serves; it satisfies server.Service.
func (a *Acceptor) Start() error {
	if err := a.Listen(); err != nil {
		if errors.Is(err, ErrStopped) {
			return nil
		}
		return err
	}
	return a.Serve()
}

func (a *Acceptor) track(c *Conn) bool {
	a.connsMu.Lock()
	defer a.connsMu.Unlock()
	select {
	case <-a.quit:
		return false
	default:
	}
	a.conns[c] = struct{}{}
	return true
}

func (a *Acceptor) untrack(c *Conn) {
	a.connsMu.Lock()
	delete(a.conns, c)
	a.connsMu.Unlock()
}

func (a *Acceptor) handleConn(raw net.Conn) {
	defer a.wg.Done()
	start := time.Now()

	conn := NewConn(raw, a.cfg.ReadTimeout, a.cfg.WriteTimeout, a.maxLine)
	conn.session = uuid.NewString()
	defer conn.Close()

	log := a.logger.With(
		zap.String("session", conn.session),
		zap.String("remote_addr", raw.RemoteAddr().String()),
	)

	if !a.track(conn) {
		return
	}
	defer a.untrack(conn)

	log.Info("client connected")

	if err := conn.Negotiate(); err != nil {
		log.Warn("telnet negotiation failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-a.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := a.handler.HandleSession(ctx, conn); err != nil {
		log.Debug("session ended", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return
	}
	log.Info("session ended cleanly", zap.Duration("duration", time.Since(start)))
}

// Stop closes the listener and every open connection, then waits for their
// sessions to return. Stop is idempotent.
func (a *Acceptor) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	ln := a.listener
	a.mu.Unlock()

	a.connsMu.Lock()
	close(a.quit)
	for c := range a.conns {
		_ = c.Close()
	}
	a.connsMu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	a.wg.Wait()
	a.logger.Info("telnet acceptor stopped")
}

// Addr returns the bound address, or "" before Listen.
func (a *Acceptor) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return ""
}

// IsRunning reports whether the acceptor is bound and not stopped.
func (a *Acceptor) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.listener != nil && !a.stopped
}

// ActiveSessions returns the number of connected clients.
func (a *Acceptor) ActiveSessions() int {
	a.connsMu.Lock()
	defer a.connsMu.Unlock()
	return len(a.conns)
}
