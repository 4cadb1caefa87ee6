package telnet

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

// Telnet command bytes (RFC 854) and the options the server negotiates.
const (
	IAC  byte = 255
	DONT byte = 254
	DO   byte = 253
	WONT byte = 252
	WILL byte = 251
	SB   byte = 250
	GA   byte = 249
	NOP  byte = 241
	SE   byte = 240

	OptEcho            byte = 1
	OptSuppressGoAhead byte = 3
)

// DefaultMaxLineLength bounds a single input line when NewConn is given zero.
const DefaultMaxLineLength = 1024

// ErrLineTooLong is returned by ReadLine when a line exceeds the connection's
// limit. The rest of the line is discarded, so the next ReadLine starts fresh.
var ErrLineTooLong = errors.New("telnet: line too long")

type iacState uint8

const (
	stData iacState = iota
	stCommand
	stOption
	stSub
	stSubIAC
)

// iacFilter strips Telnet command sequences from a byte stream one byte at a
// time, so sequences split across reads are handled.
type iacFilter struct {
	state iacState
}

// feed consumes b and reports the data byte it yields, if any.
func (f *iacFilter) feed(b byte) (byte, bool) {
	switch f.state {
	case stCommand:
		switch b {
		case WILL, WONT, DO, DONT:
			f.state = stOption
		case SB:
			f.state = stSub
		case IAC:
			f.state = stData
			return IAC, true
		default:
			f.state = stData
		}
	case stOption:
		f.state = stData
	case stSub:
		if b == IAC {
			f.state = stSubIAC
		}
	case stSubIAC:
		if b == SE {
			f.state = stData
		} else {
			f.state = stSub
		}
	default:
		if b == IAC {
			f.state = stCommand
			return 0, false
		}
		return b, true
	}
	return 0, false
}

// FilterIAC removes Telnet command sequences from input. An escaped IAC
// (IAC IAC) yields one 0xFF byte; a truncated trailing sequence is dropped.
func FilterIAC(input []byte) []byte {
	var f iacFilter
	out := make([]byte, 0, len(input))
	for _, b := range input {
		if d, ok := f.feed(b); ok {
			out = append(out, d)
		}
	}
	return out
}

// Conn wraps a TCP connection with Telnet protocol handling.
type Conn struct {
	raw     net.Conn
	reader  *bufio.Reader
	filter  iacFilter
	afterCR bool
	session string
	mu      sync.Mutex

	readTimeout  time.Duration
	writeTimeout time.Duration
	maxLine      int
}

// NewConn wraps raw. A zero maxLine selects DefaultMaxLineLength.
//
// Precondition: raw must be a valid, open network connection.
func NewConn(raw net.Conn, readTimeout, writeTimeout time.Duration, maxLine int) *Conn {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineLength
	}
	return &Conn{
		raw:          raw,
		reader:       bufio.NewReaderSize(raw, 4096),
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
		maxLine:      maxLine,
	}
}

// SessionID returns the identifier the Acceptor assigned to this connection.
func (c *Conn) SessionID() string {
	return c.session
}

// Negotiate asks the client to suppress go-ahead.
func (c *Conn) Negotiate() error {
	return c.Write([]byte{IAC, WILL, OptSuppressGoAhead})
}

// ReadLine reads one line of input with Telnet commands and control
// characters (other than tab) removed. CR, LF, and CRLF all end a line.
//
// Postcondition: Returns the line without its terminator, ErrLineTooLong,
// or a read error (including io.EOF).
func (c *Conn) ReadLine() (string, error) {
	if c.readTimeout > 0 {
		_ = c.raw.SetReadDeadline(time.Now().Add(c.readTimeout))
	}

	var line strings.Builder
	overflow := false
	for {
		b, err := c.reader.ReadByte()
		if err != nil {
			return line.String(), err
		}
		d, ok := c.filter.feed(b)
		if !ok {
			continue
		}
		afterCR := c.afterCR
		c.afterCR = d == '\r'
		if afterCR && (d == '\n' || d == 0) {
			continue
		}
		if d == '\n' || d == '\r' {
			break
		}
		if d < 32 && d != '\t' {
			continue
		}
		if line.Len() >= c.maxLine {
			overflow = true
			continue
		}
		line.WriteByte(d)
	}

	if overflow {
		return "", ErrLineTooLong
	}
	return line.String(), nil
}

func (c *Conn) write(fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return fn()
}

// Write sends raw bytes to the client.
func (c *Conn) Write(data []byte) error {
	return c.write(func() error {
		_, err := c.raw.Write(data)
		return err
	})
}

// WriteLine sends text followed by CRLF.
//
// Precondition: text should not contain trailing newline characters.
func (c *Conn) WriteLine(text string) error {
	return c.write(func() error {
		_, err := fmt.Fprintf(c.raw, "%s\r\n", text)
		return err
	})
}

// WriteLines sends each line followed by CRLF in a single write.
func (c *Conn) WriteLines(lines ...string) error {
	if len(lines) == 0 {
		return nil
	}
	return c.write(func() error {
		_, err := c.raw.Write([]byte(strings.Join(lines, "\r\n") + "\r\n"))
		return err
	})
}

// WritePrompt sends a prompt string without a trailing newline.
func (c *Conn) WritePrompt(prompt string) error {
	return c.write(func() error {
		_, err := fmt.Fprint(c.raw, prompt)
		return err
	})
}

// Close closes the underlying TCP connection.
func (c *Conn) Close() error {
	return c.raw.Close()
}

// RemoteAddr returns the remote network address of the client.
func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}
