package control

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultPort is the control-channel TCP port.
	DefaultPort = 8888
	// DefaultConnectTimeout bounds connection establishment. Steady-state
	// reads have no deadline.
	DefaultConnectTimeout = 3 * time.Second
)

// listTerminator ends a multi-line value response.
var listTerminator = []byte(".\n")

// Channel frames the line-oriented control protocol over one TCP connection.
// It is not safe for concurrent use; each pipeline stage opens its own.
type Channel struct {
	conn   net.Conn
	reader *bufio.Reader
	mu     sync.Mutex // protects writes
	log    zerolog.Logger
}

// DialChannel connects to addr, disables Nagle's algorithm and returns a
// ready channel. Only the dial itself is subject to timeout.
func DialChannel(addr string, timeout time.Duration, log zerolog.Logger) (*Channel, error) {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("connect control channel %s: %w", addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		// Small request/response round trips; Nagle only adds latency.
		if err := tc.SetNoDelay(true); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("set TCP_NODELAY: %w", err)
		}
	}
	return &Channel{
		conn:   conn,
		reader: bufio.NewReader(conn),
		log:    log,
	}, nil
}

// Send writes each line followed by a newline. No batching happens across
// calls; a multi-line table write passes all its lines in one call.
func (c *Channel) Send(lines ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var buf bytes.Buffer
	for _, line := range lines {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	if c.log.GetLevel() <= zerolog.DebugLevel {
		for _, line := range lines {
			c.log.Debug().Str("dir", "tx").Msg(truncate(line, 120))
		}
	}
	if _, err := c.conn.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("control send: %w", err)
	}
	return nil
}

// ReceiveLine reads bytes until a newline is observed and returns the line
// including its terminator.
func (c *Channel) ReceiveLine() ([]byte, error) {
	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("control receive: %w", err)
	}
	c.log.Debug().Str("dir", "rx").Msg(truncate(string(line), 120))
	return line, nil
}

// ReceiveResponse reads one complete response: a single line, or, when the
// first line begins with '!', the whole value list up to and including the
// terminating "." line.
func (c *Channel) ReceiveResponse() ([]byte, error) {
	first, err := c.ReceiveLine()
	if err != nil {
		return nil, err
	}
	if len(first) == 0 || first[0] != '!' {
		return first, nil
	}
	acc := append([]byte(nil), first...)
	for {
		line, err := c.ReceiveLine()
		if err != nil {
			return nil, err
		}
		acc = append(acc, line...)
		if bytes.Equal(line, listTerminator) {
			return acc, nil
		}
	}
}

// ReceiveUntilTerminator accumulates lines until the trailing "." line is
// seen, for bulk queries such as *CHANGES? whose body does not start with '!'.
func (c *Channel) ReceiveUntilTerminator() ([]byte, error) {
	var acc []byte
	for {
		line, err := c.ReceiveLine()
		if err != nil {
			return nil, err
		}
		acc = append(acc, line...)
		if bytes.Equal(line, listTerminator) {
			return acc, nil
		}
	}
}

// Close closes the underlying connection.
func (c *Channel) Close() error {
	return c.conn.Close()
}

// truncate shortens a string for log output.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
