// Package transport provides a net.Conn-based implementation of the
// relay package's Transport/Listener collaborators — the piece the
// protocol core deliberately leaves to the embedder.
package transport

import (
	"bufio"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/relaydaemon/relaycore/internal/relay"
)

// readChunkSize is how much we try to read from the socket per syscall.
// Lines are reassembled by the relay package's Driver; this is just a
// transport-level read buffer size.
const readChunkSize = 4096

// Conn adapts a net.Conn into a relay.Transport, serializing writes with
// a mutex so concurrent fan-out sends to the same connection can never
// interleave mid-line, and driving its own read goroutine once a
// receiver is registered.
type Conn struct {
	conn   net.Conn
	ioWait time.Duration

	mu     sync.Mutex
	w      *bufio.Writer
	closed bool
}

// NewConn wraps conn. ioWait is applied as a deadline to every read and
// write; zero disables deadlines. The returned Conn does not read
// anything until SetReceiver is called.
func NewConn(conn net.Conn, ioWait time.Duration) *Conn {
	return &Conn{
		conn:   conn,
		ioWait: ioWait,
		w:      bufio.NewWriter(conn),
	}
}

// SetReceiver starts a background goroutine reading from the socket and
// invoking recv with each chunk. It delivers a final zero-length chunk
// on EOF or read error, then stops. A read-deadline timeout is not treated
// as an error: reading simply resumes.
func (c *Conn) SetReceiver(recv func(chunk []byte)) {
	go c.readLoop(recv)
}

func (c *Conn) readLoop(recv func(chunk []byte)) {
	buf := make([]byte, readChunkSize)

	for {
		if c.ioWait > 0 {
			if err := c.conn.SetReadDeadline(time.Now().Add(c.ioWait)); err != nil {
				recv(nil)
				return
			}
		}

		n, err := c.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			recv(chunk)
		}

		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			recv(nil)
			return
		}
	}
}

// Send writes line to the connection. line must already include its
// trailing CRLF (wire.Encode produces lines in that form).
func (c *Conn) Send(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	if c.ioWait > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.ioWait)); err != nil {
			return errors.Wrap(err, "set write deadline")
		}
	}

	if _, err := c.w.WriteString(line); err != nil {
		return errors.Wrap(err, "write")
	}

	return errors.Wrap(c.w.Flush(), "flush")
}

// Close closes the underlying socket. Safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// TCPListener adapts a net.Listener into relay.Listener, wrapping every
// accepted connection in a Conn.
type TCPListener struct {
	ln     net.Listener
	ioWait time.Duration
}

// NewTCPListener wraps ln. ioWait is passed through to every accepted
// Conn.
func NewTCPListener(ln net.Listener, ioWait time.Duration) *TCPListener {
	return &TCPListener{ln: ln, ioWait: ioWait}
}

// Accept implements relay.Listener.
func (l *TCPListener) Accept() (relay.ConnID, relay.Transport, error) {
	netConn, err := l.ln.Accept()
	if err != nil {
		return "", nil, errors.Wrap(err, "accept")
	}

	return relay.NewConnID(), NewConn(netConn, l.ioWait), nil
}
