package telnet

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/dicenotation/internal/config"
)

// echoHandler echoes each line until "quit".
type echoHandler struct {
	sessionCount atomic.Int32
	mu           sync.Mutex
	sessions     []string
}

func (h *echoHandler) HandleSession(_ context.Context, conn *Conn) error {
	h.sessionCount.Add(1)
	h.mu.Lock()
	h.sessions = append(h.sessions, conn.SessionID())
	h.mu.Unlock()
	for {
		line, err := conn.ReadLine()
		if err != nil {
			return err
		}
		if line == "quit" {
			_ = conn.WriteLine("bye")
			return nil
		}
		_ = conn.WriteLine("echo: " + line)
	}
}

func testTelnetConfig() config.TelnetConfig {
	return config.TelnetConfig{
		Host:         "127.0.0.1",
		Port:         0,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		MaxDice:      100,
	}
}

func startAcceptor(t *testing.T, h SessionHandler) (*Acceptor, <-chan error) {
	t.Helper()
	acc := NewAcceptor(testTelnetConfig(), h, zaptest.NewLogger(t))
	require.NoError(t, acc.Listen())
	errCh := make(chan error, 1)
	go func() { errCh <- acc.Serve() }()
	t.Cleanup(acc.Stop)
	return acc, errCh
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	// Consume the negotiation bytes.
	buf := make([]byte, 3)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, []byte{IAC, WILL, OptSuppressGoAhead}, buf[:n])
	return conn
}

func readReply(t *testing.T, conn net.Conn) string {
	t.Helper()
	buf := make([]byte, 256)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func TestAcceptorStartAndStop(t *testing.T) {
	handler := &echoHandler{}
	acc, errCh := startAcceptor(t, handler)
	require.True(t, acc.IsRunning())
	require.NotEmpty(t, acc.Addr())

	conn := dial(t, acc.Addr())
	_, err := conn.Write([]byte("1d6\r\n"))
	require.NoError(t, err)
	assert.Contains(t, readReply(t, conn), "echo: 1d6")

	_, _ = conn.Write([]byte("quit\r\n"))
	assert.Contains(t, readReply(t, conn), "bye")

	acc.Stop()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("acceptor did not stop in time")
	}
	assert.False(t, acc.IsRunning())
	assert.Equal(t, int32(1), handler.sessionCount.Load())
}

func TestAcceptorMultipleClients_DistinctSessions(t *testing.T) {
	handler := &echoHandler{}
	acc, _ := startAcceptor(t, handler)

	const numClients = 3
	for i := 0; i < numClients; i++ {
		conn := dial(t, acc.Addr())
		_, _ = conn.Write([]byte("quit\r\n"))
		assert.Contains(t, readReply(t, conn), "bye")
	}
	acc.Stop()

	assert.Equal(t, int32(numClients), handler.sessionCount.Load())
	handler.mu.Lock()
	defer handler.mu.Unlock()
	seen := map[string]bool{}
	for _, id := range handler.sessions {
		assert.NotEmpty(t, id)
		seen[id] = true
	}
	assert.Len(t, seen, numClients)
}

func TestAcceptorStop_ClosesIdleSessions(t *testing.T) {
	handler := &echoHandler{}
	acc, _ := startAcceptor(t, handler)
	dial(t, acc.Addr())

	require.Eventually(t, func() bool { return acc.ActiveSessions() == 1 }, 2*time.Second, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		acc.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop blocked on an idle session")
	}
	assert.Zero(t, acc.ActiveSessions())
}

func TestAcceptorStopBeforeStart(t *testing.T) {
	acc := NewAcceptor(testTelnetConfig(), &echoHandler{}, zaptest.NewLogger(t))
	acc.Stop()
	acc.Stop()
	assert.NoError(t, acc.Start())
	assert.ErrorIs(t, acc.Listen(), ErrStopped)
	assert.Empty(t, acc.Addr())
}

func TestAcceptorServeBeforeListen(t *testing.T) {
	acc := NewAcceptor(testTelnetConfig(), &echoHandler{}, zaptest.NewLogger(t))
	assert.Error(t, acc.Serve())
}

func TestSessionHandlerFunc(t *testing.T) {
	var called atomic.Bool
	acc, _ := startAcceptor(t, SessionHandlerFunc(func(_ context.Context, conn *Conn) error {
		called.Store(true)
		return conn.WriteLine("hello")
	}))
	conn := dial(t, acc.Addr())
	assert.Contains(t, readReply(t, conn), "hello")
	assert.True(t, called.Load())
}

func TestNewAcceptor_PanicsOnNil(t *testing.T) {
	logger := zaptest.NewLogger(t)
	assert.Panics(t, func() { NewAcceptor(testTelnetConfig(), nil, logger) })
	assert.Panics(t, func() { NewAcceptor(testTelnetConfig(), &echoHandler{}, nil) })
}

func TestAcceptor_BeginRefusedAfterStop(t *testing.T) {
	acc := NewAcceptor(testTelnetConfig(), &echoHandler{}, zaptest.NewLogger(t))
	require.True(t, acc.begin())
	acc.wg.Done()

	acc.Stop()
	assert.False(t, acc.begin(), "no session may register once Stop has begun")
}

func TestAcceptor_StopWhileClientsConnect(t *testing.T) {
	for round := 0; round < 5; round++ {
		h := &echoHandler{}
		acc := NewAcceptor(testTelnetConfig(), h, zaptest.NewLogger(t))
		require.NoError(t, acc.Listen())
		errCh := make(chan error, 1)
		go func() { errCh <- acc.Serve() }()

		addr := acc.Addr()
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				conn, err := net.DialTimeout("tcp", addr, time.Second)
				if err == nil {
					_ = conn.Close()
				}
			}()
		}
		acc.Stop()
		wg.Wait()

		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("Serve did not return after Stop")
		}
		assert.Zero(t, acc.ActiveSessions())
	}
}
