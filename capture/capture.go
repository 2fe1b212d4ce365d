// Package capture reads the instrument's binary capture stream.
//
// The capture port speaks a one-line handshake followed by a unidirectional
// stream of raw 32-bit words that ends when the device closes the
// connection. The reader reassembles socket reads into either fixed-size
// block buffers or opportunistic word-aligned buffers; bytes are never
// reordered or dropped within a session.
package capture

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultPort is the capture-channel TCP port.
	DefaultPort = 8889
	// ConfigLine selects unframed, raw, headerless one-shot streaming.
	ConfigLine = "UNFRAMED RAW NO_HEADER NO_STATUS ONE_SHOT"

	readBuffer = 1 << 17
)

// Config selects the capture endpoint and chunking mode.
type Config struct {
	Host           string
	Port           int           // defaults to DefaultPort
	ConnectTimeout time.Duration // connection establishment only

	// BlockBytes, when positive, makes Next return exactly BlockBytes per
	// buffer so each buffer aligns to one logical block. When zero, Next
	// returns whatever has accumulated as soon as it is word-aligned.
	BlockBytes int
}

// Addr returns the host:port dial address.
func (c Config) Addr() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Reader pulls reassembled buffers from one capture session. It is not safe
// for concurrent use; the read buffer is reused across Next calls.
type Reader struct {
	conn       net.Conn
	blockBytes int
	acc        []byte
	buf        []byte
	closed     bool // peer closed; drain residue then EOF
	log        zerolog.Logger
}

// Open connects to the capture port, disables Nagle's algorithm and sends
// the configuration line. The device starts streaming immediately after the
// next acquisition is armed.
func Open(cfg Config, log zerolog.Logger) (*Reader, error) {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	conn, err := net.DialTimeout("tcp", cfg.Addr(), timeout)
	if err != nil {
		return nil, fmt.Errorf("connect capture channel %s: %w", cfg.Addr(), err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		if err := tc.SetNoDelay(true); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("set TCP_NODELAY: %w", err)
		}
	}
	if _, err := conn.Write([]byte(ConfigLine + "\n")); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send capture config: %w", err)
	}
	return &Reader{
		conn:       conn,
		blockBytes: cfg.BlockBytes,
		buf:        make([]byte, readBuffer),
		log:        log,
	}, nil
}

// Next returns the next reassembled buffer, blocking on the socket as
// needed. It returns io.EOF after the peer closes the connection and any
// residual partial buffer has been yielded.
func (r *Reader) Next() ([]byte, error) {
	for {
		if chunk := r.take(); chunk != nil {
			return chunk, nil
		}
		if r.closed {
			if len(r.acc) > 0 {
				residue := r.acc
				r.acc = nil
				r.log.Debug().Int("bytes", len(residue)).Msg("capture residue")
				return residue, nil
			}
			return nil, io.EOF
		}
		n, err := r.conn.Read(r.buf)
		if n > 0 {
			r.acc = append(r.acc, r.buf[:n]...)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("capture read: %w", err)
			}
			r.closed = true
		}
	}
}

// take pops one complete buffer from the accumulator, or nil if more data
// is needed. Partial words carry over between reads in word-aligned mode.
func (r *Reader) take() []byte {
	if r.blockBytes > 0 {
		if len(r.acc) < r.blockBytes {
			return nil
		}
		chunk := r.acc[:r.blockBytes:r.blockBytes]
		r.acc = append([]byte(nil), r.acc[r.blockBytes:]...)
		return chunk
	}
	if len(r.acc) == 0 || len(r.acc)%4 != 0 {
		return nil
	}
	chunk := r.acc
	r.acc = nil
	return chunk
}

// Close closes the capture connection.
func (r *Reader) Close() error { return r.conn.Close() }
