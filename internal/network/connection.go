// Package network implements the TCP plumbing under the game engine: one
// Connection per socket with a receive accumulator and an ordered outbound
// queue, the GProxy replay buffer and the accept loops.
package network

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/warhost-project/warhost/internal/protocol"
)

const (
	// MaxAccumulated is the most unparsed bytes a connection may buffer
	// without yielding a packet before it is considered hostile.
	MaxAccumulated = 64 * 1024

	// WriteTimeout bounds a single socket write.
	WriteTimeout = 10 * time.Second

	readBufferSize = 4096
)

var (
	// ErrClosed is returned when sending on a closed connection.
	ErrClosed = errors.New("connection is closed")
	// ErrOverflow is set when the receive accumulator grows past
	// MaxAccumulated without a complete packet.
	ErrOverflow = errors.New("receive buffer overflow")
)

// Connection wraps one player TCP stream. A reader goroutine only appends to
// the receive accumulator and a writer goroutine drains the outbound queue in
// FIFO order; packet slicing happens on the caller's goroutine via Packets.
//
// A Connection built with NewDetachedConnection has no socket: inbound bytes
// are injected with Feed and outbound packets collected with TakeOutbound.
type Connection struct {
	mu     sync.Mutex
	cond   *sync.Cond
	conn   net.Conn
	remote net.Addr
	logger zerolog.Logger

	recv     []byte
	outbound [][]byte

	connectedAt  time.Time
	lastReceived time.Time
	bytesIn      uint64
	bytesOut     uint64

	closing bool // close once the queue is drained
	closed  bool
	err     error
}

// NewConnection wraps an accepted socket and starts its reader and writer.
func NewConnection(conn net.Conn) *Connection {
	c := newConnection(conn.RemoteAddr())
	c.conn = conn
	go c.readLoop()
	go c.writeLoop()
	return c
}

// NewDetachedConnection builds a socketless connection reporting remote as
// its peer address.
func NewDetachedConnection(remote net.Addr) *Connection {
	return newConnection(remote)
}

func newConnection(remote net.Addr) *Connection {
	now := time.Now()
	c := &Connection{
		remote:       remote,
		connectedAt:  now,
		lastReceived: now,
		logger:       log.With().Str("component", "connection").Str("remote", addrString(remote)).Logger(),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func addrString(a net.Addr) string {
	if a == nil {
		return "detached"
	}
	return a.String()
}

func (c *Connection) readLoop() {
	buf := make([]byte, readBufferSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.append(buf[:n])
		}
		if err != nil {
			c.fail(fmt.Errorf("read: %w", err))
			return
		}
	}
}

func (c *Connection) writeLoop() {
	for {
		c.mu.Lock()
		for len(c.outbound) == 0 && !c.closed && !c.closing {
			c.cond.Wait()
		}
		if c.closed || (len(c.outbound) == 0 && c.closing) {
			c.mu.Unlock()
			c.Close()
			return
		}
		data := c.outbound[0]
		c.outbound[0] = nil
		c.outbound = c.outbound[1:]
		c.mu.Unlock()

		c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
		if _, err := c.conn.Write(data); err != nil {
			c.fail(fmt.Errorf("write: %w", err))
			return
		}

		c.mu.Lock()
		c.bytesOut += uint64(len(data))
		c.mu.Unlock()
	}
}

func (c *Connection) append(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recv = append(c.recv, data...)
	c.bytesIn += uint64(len(data))
	c.lastReceived = time.Now()
}

func (c *Connection) fail(err error) {
	c.mu.Lock()
	if c.err == nil && !c.closed {
		c.err = err
		c.logger.Debug().Err(err).Msg("connection failed")
	}
	c.mu.Unlock()
	c.Close()
}

// Feed appends inbound bytes as if they were read from the socket.
func (c *Connection) Feed(data []byte) {
	c.append(data)
}

// Packets slices every complete packet off the front of the accumulator.
// The scan stops at an unknown header or an incomplete packet; those bytes
// stay buffered.
func (c *Connection) Packets() []protocol.Packet {
	c.mu.Lock()
	defer c.mu.Unlock()

	var packets []protocol.Packet
	consumed := 0
	for {
		pkt, n, ok := protocol.NextPacket(c.recv[consumed:])
		if !ok {
			break
		}
		packets = append(packets, pkt)
		consumed += n
	}
	if consumed > 0 {
		c.recv = append(c.recv[:0], c.recv[consumed:]...)
	}
	if len(packets) == 0 && len(c.recv) > MaxAccumulated && c.err == nil {
		c.err = ErrOverflow
	}
	return packets
}

// Next slices a single packet off the front of the accumulator, leaving any
// bytes behind it buffered.
func (c *Connection) Next() (protocol.Packet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pkt, n, ok := protocol.NextPacket(c.recv)
	if !ok {
		if len(c.recv) > MaxAccumulated && c.err == nil {
			c.err = ErrOverflow
		}
		return protocol.Packet{}, false
	}
	c.recv = append(c.recv[:0], c.recv[n:]...)
	return pkt, true
}

// Stalled reports whether the accumulator starts with bytes that can never
// form a packet.
func (c *Connection) Stalled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.recv) == 0 {
		return false
	}
	if !protocol.KnownHeader(c.recv[0]) {
		return true
	}
	if len(c.recv) >= protocol.HeaderSize {
		return int(c.recv[2])|int(c.recv[3])<<8 < protocol.HeaderSize
	}
	return false
}

// Buffered returns the number of unparsed inbound bytes.
func (c *Connection) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.recv)
}

// Send queues data behind everything sent before it.
func (c *Connection) Send(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.closing {
		return ErrClosed
	}
	c.outbound = append(c.outbound, data)
	if c.conn == nil {
		c.bytesOut += uint64(len(data))
	}
	c.cond.Signal()
	return nil
}

// TakeOutbound removes and returns the queued outbound packets of a detached
// connection.
func (c *Connection) TakeOutbound() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}
	out := c.outbound
	c.outbound = nil
	return out
}

// CloseAfterFlush closes the connection once every queued packet is written.
func (c *Connection) CloseAfterFlush() {
	c.mu.Lock()
	if c.conn == nil {
		c.closing = true
		c.closed = true
		c.mu.Unlock()
		return
	}
	c.closing = true
	c.cond.Broadcast()
	c.mu.Unlock()
}

// Close closes the socket immediately, dropping unsent data.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.cond.Broadcast()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	c.logger.Debug().Msg("connection closed")
	return conn.Close()
}

// Closed reports whether the connection is closed or closing.
func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed || c.closing
}

// Err returns the error that broke the connection, if any.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// RemoteAddr returns the peer address.
func (c *Connection) RemoteAddr() net.Addr {
	return c.remote
}

// RemoteIP returns the peer IPv4 address, or 0.0.0.0 when unknown.
func (c *Connection) RemoteIP() net.IP {
	if tcp, ok := c.remote.(*net.TCPAddr); ok {
		if v4 := tcp.IP.To4(); v4 != nil {
			return v4
		}
	}
	return net.IPv4zero.To4()
}

// ConnectedAt returns the time the connection was accepted.
func (c *Connection) ConnectedAt() time.Time {
	return c.connectedAt
}

// LastReceived returns the time bytes were last read.
func (c *Connection) LastReceived() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastReceived
}

// Stats returns the byte counters.
func (c *Connection) Stats() (in, out uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytesIn, c.bytesOut
}

// Logger returns the connection's logger.
func (c *Connection) Logger() *zerolog.Logger {
	return &c.logger
}
