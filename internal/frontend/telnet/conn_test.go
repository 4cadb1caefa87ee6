package telnet

import (
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// pipeConn returns a Conn over one end of an in-memory pipe and the peer end.
func pipeConn(t *testing.T, maxLine int) (*Conn, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})
	return NewConn(server, 2*time.Second, 2*time.Second, maxLine), client
}

func feedAndClose(client net.Conn, data []byte) {
	go func() {
		_, _ = client.Write(data)
		_ = client.Close()
	}()
}

func readAll(t *testing.T, c *Conn) []string {
	t.Helper()
	var lines []string
	for {
		line, err := c.ReadLine()
		if err != nil {
			require.True(t, errors.Is(err, io.EOF), "unexpected error: %v", err)
			return lines
		}
		lines = append(lines, line)
	}
}

func TestFilterIAC(t *testing.T) {
	cases := []struct {
		name  string
		input []byte
		want  []byte
	}{
		{"plain", []byte("3d6+2"), []byte("3d6+2")},
		{"will", []byte{IAC, WILL, OptEcho, '1', 'd', '6'}, []byte("1d6")},
		{"do mid stream", []byte{'a', IAC, DO, OptSuppressGoAhead, 'b'}, []byte("ab")},
		{"dont only", []byte{IAC, DONT, OptEcho}, []byte{}},
		{"subnegotiation", []byte{IAC, SB, 24, 0, 'x', 't', 'e', 'r', 'm', IAC, SE, 'z'}, []byte("z")},
		{"iac inside subnegotiation", []byte{IAC, SB, 1, IAC, IAC, 2, IAC, SE, 'k'}, []byte("k")},
		{"escaped iac", []byte{'a', IAC, IAC, 'b'}, []byte{'a', IAC, 'b'}},
		{"nop", []byte{'x', IAC, NOP, 'y'}, []byte("xy")},
		{"truncated", []byte{'q', IAC, WILL}, []byte("q")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, FilterIAC(tc.input))
		})
	}
}

func TestReadLine_Terminators(t *testing.T) {
	c, client := pipeConn(t, 0)
	feedAndClose(client, []byte("roll 1d6\r\nmax 2d8\rmin 3d4\r\x00parse d20\n"))
	assert.Equal(t, []string{"roll 1d6", "max 2d8", "min 3d4", "parse d20"}, readAll(t, c))
}

func TestReadLine_EmptyLines(t *testing.T) {
	c, client := pipeConn(t, 0)
	feedAndClose(client, []byte("\r\n\r\n1d6\r\n"))
	assert.Equal(t, []string{"", "", "1d6"}, readAll(t, c))
}

func TestReadLine_FiltersNegotiationAndControls(t *testing.T) {
	c, client := pipeConn(t, 0)
	data := []byte{IAC, DO, OptSuppressGoAhead, '2', 'd', 0x07, '6', '\t', IAC, WILL, OptEcho, '+', '1', '\r', '\n'}
	feedAndClose(client, data)
	assert.Equal(t, []string{"2d6\t+1"}, readAll(t, c))
}

func TestReadLine_TooLongRecovers(t *testing.T) {
	c, client := pipeConn(t, 8)
	feedAndClose(client, []byte(strings.Repeat("9", 20)+"\r\n1d6\r\n"))

	_, err := c.ReadLine()
	assert.ErrorIs(t, err, ErrLineTooLong)

	line, err := c.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "1d6", line)
}

func TestWriteLinesAndPrompt(t *testing.T) {
	c, client := pipeConn(t, 0)
	got := make(chan string, 1)
	go func() {
		b, _ := io.ReadAll(client)
		got <- string(b)
	}()

	require.NoError(t, c.WriteLines("one", "two"))
	require.NoError(t, c.WriteLines())
	require.NoError(t, c.WriteLine("three"))
	require.NoError(t, c.WritePrompt("dice> "))
	require.NoError(t, c.Close())

	assert.Equal(t, "one\r\ntwo\r\nthree\r\ndice> ", <-got)
}

// Property: input without IAC bytes passes through unchanged.
func TestPropertyFilterIAC_NoIACBytesPassThrough(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		input := rapid.SliceOfN(rapid.ByteRange(0, 254), 0, 200).Draw(t, "input")
		assert.Equal(t, append([]byte{}, input...), FilterIAC(input))
	})
}

// Property: the filter is streaming; feeding input in two chunks through one
// filter yields the same bytes as filtering it whole.
func TestPropertyFilterIAC_SplitStreamsAgree(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		input := rapid.SliceOfN(rapid.Byte(), 0, 100).Draw(t, "input")
		cut := rapid.IntRange(0, len(input)).Draw(t, "cut")

		var f iacFilter
		var out []byte
		for _, chunk := range [][]byte{input[:cut], input[cut:]} {
			for _, b := range chunk {
				if d, ok := f.feed(b); ok {
					out = append(out, d)
				}
			}
		}
		assert.Equal(t, FilterIAC(input), append([]byte{}, out...))
	})
}

// Property: filtered output is never longer than its input.
func TestPropertyFilterIAC_OutputNeverLongerThanInput(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		input := rapid.SliceOfN(rapid.Byte(), 0, 200).Draw(t, "input")
		assert.LessOrEqual(t, len(FilterIAC(input)), len(input))
	})
}
