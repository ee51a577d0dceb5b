// Package transport implements the length-prefixed Unix-domain socket
// framing spec.md §4.5 specifies for the scheduler connection: a 32-bit
// little-endian byte length followed by the UTF-8 payload, one send and
// one matching receive per exchange.
package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
)

// maxFrameBytes bounds a single frame to guard against a malformed or
// hostile length prefix driving an unbounded allocation.
const maxFrameBytes = 64 << 20

// Conn wraps a Unix-domain stream socket with the framing above. Each
// Conn is stamped with a session id for structured logging.
type Conn struct {
	SessionID string
	raw       net.Conn
	r         *bufio.Reader
}

// Listen opens a Unix-domain socket at path, removing any stale socket
// file left behind by a previous run.
func Listen(path string) (net.Listener, error) {
	_ = removeStale(path)
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("transport: listen on %s: %w", path, err)
	}
	return l, nil
}

// Accept blocks until a scheduler connects, honoring ctx cancellation.
func Accept(ctx context.Context, l net.Listener) (*Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := l.Accept()
		ch <- result{c, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("transport: accept: %w", res.err)
		}
		return &Conn{SessionID: uuid.NewString(), raw: res.conn, r: bufio.NewReader(res.conn)}, nil
	}
}

// Dial connects to a scheduler-side Unix socket (used by this package's
// tests and any client-mode tooling).
func Dial(path string, timeout time.Duration) (*Conn, error) {
	c, err := net.DialTimeout("unix", path, timeout)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", path, err)
	}
	return &Conn{SessionID: uuid.NewString(), raw: c, r: bufio.NewReader(c)}, nil
}

// Close closes the underlying socket.
func (c *Conn) Close() error {
	return c.raw.Close()
}

// Send writes one length-prefixed frame.
func (c *Conn) Send(payload []byte) error {
	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := c.raw.Write(header[:]); err != nil {
		return fmt.Errorf("transport: write length prefix: %w", err)
	}
	if _, err := c.raw.Write(payload); err != nil {
		return fmt.Errorf("transport: write payload: %w", err)
	}
	return nil
}

// Receive reads one length-prefixed frame.
func (c *Conn) Receive() ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(c.r, header[:]); err != nil {
		return nil, fmt.Errorf("transport: read length prefix: %w", err)
	}
	n := binary.LittleEndian.Uint32(header[:])
	if n > maxFrameBytes {
		return nil, fmt.Errorf("transport: frame of %d bytes exceeds limit %d", n, maxFrameBytes)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(c.r, payload); err != nil {
		return nil, fmt.Errorf("transport: read payload: %w", err)
	}
	return payload, nil
}

// RequestReply performs one send followed by one matching receive, the
// strict request/reply discipline spec.md §4.5/§5 requires: exactly one
// exchange in flight at a time.
func (c *Conn) RequestReply(payload []byte) ([]byte, error) {
	if err := c.Send(payload); err != nil {
		return nil, err
	}
	return c.Receive()
}

func removeStale(path string) error {
	return removeIfSocket(path)
}
