// Package wire implements the TCP/UDP replacement protocol carrying relayed
// game traffic.
//
// Reliable packets travel over a stream transport, which already provides
// ordering and delivery. The only mechanism added on top is message framing:
// each message is prefixed with a 32-bit little-endian byte length.
//
// Unreliable packets travel over a datagram transport, prefixed with a 1-byte
// mode tag distinguishing Unreliable (0) from UnreliableSequenced (1). The
// sequenced mode carries an additional 32-bit little-endian sequence number.
// There is no fragmentation support; unreliable payloads must fit in a single
// datagram.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"
)

// FramePrefixSize is the size of the length prefix on the stream channel.
const FramePrefixSize = 4

var (
	// ErrNoData indicates that no complete message is available right now.
	// The caller should retry on the next tick; partial progress is kept.
	ErrNoData = errors.New("wire: no complete message available")

	// ErrMessageTooLarge is returned when a length prefix exceeds the
	// configured maximum. The peer controls the prefix, so an unchecked
	// value would let a hostile peer force arbitrary allocations.
	ErrMessageTooLarge = errors.New("wire: message size exceeds maximum allowed")
)

// FrameConn turns one reliable, ordered stream socket into a sequence of
// whole messages and back. The socket may be TLS-wrapped by the caller; only
// net.Conn semantics are assumed.
//
// The connection is polled rather than read blockingly: Receive sets a short
// read deadline and decodes as many bytes as the socket delivers before it
// expires. Decoder state survives across calls, so a message interrupted at
// any byte boundary resumes exactly where it left off.
type FrameConn struct {
	conn     net.Conn
	pollWait time.Duration
	maxSize  int

	// Resumable decoder state. readingLength selects which of the two
	// accumulation phases the decoder is in; offset counts bytes received
	// so far within the current phase.
	readingLength bool
	offset        int
	length        [FramePrefixSize]byte
	body          []byte
}

// NewFrameConn wraps an established stream connection. maxSize bounds the
// decoded message size (0 disables the bound); pollWait is how long a single
// Receive call may wait for the socket before reporting ErrNoData.
func NewFrameConn(conn net.Conn, maxSize int, pollWait time.Duration) *FrameConn {
	return &FrameConn{
		conn:          conn,
		pollWait:      pollWait,
		maxSize:       maxSize,
		readingLength: true,
	}
}

// RemoteAddr returns the peer address of the underlying socket.
func (c *FrameConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close closes the underlying socket.
func (c *FrameConn) Close() error {
	return c.conn.Close()
}

// Send writes one message as a 4-byte little-endian length prefix followed by
// the payload.
func (c *FrameConn) Send(payload []byte) error {
	var prefix [FramePrefixSize]byte
	binary.LittleEndian.PutUint32(prefix[:], uint32(len(payload)))
	bufs := net.Buffers{prefix[:], payload}
	if _, err := bufs.WriteTo(c.conn); err != nil {
		return fmt.Errorf("wire: send frame: %w", err)
	}
	return nil
}

// SendPackets sends each packet's payload as one framed message. All classes
// are carried on the stream channel here; callers that maintain a datagram
// channel dispatch unreliable classes to it before calling this.
func (c *FrameConn) SendPackets(packets []Packet) error {
	for _, p := range packets {
		if err := c.Send(p.Data); err != nil {
			return err
		}
	}
	return nil
}

// Receive returns the next complete message, or ErrNoData if the socket has
// not yet delivered one. A clean close by the peer surfaces as io.EOF, which
// callers treat as end of session rather than as a fault.
//
// The decoder never loses partial progress: any bytes accumulated before the
// poll deadline expires are kept for the next call.
func (c *FrameConn) Receive() ([]byte, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.pollWait)); err != nil {
		return nil, fmt.Errorf("wire: set read deadline: %w", err)
	}

	if c.readingLength {
		for c.offset < len(c.length) {
			n, err := c.conn.Read(c.length[c.offset:])
			c.offset += n
			if err != nil {
				return nil, pollErr(err)
			}
		}
		size := binary.LittleEndian.Uint32(c.length[:])
		if c.maxSize > 0 && int64(size) > int64(c.maxSize) {
			return nil, fmt.Errorf("%w: %d bytes (max: %d)", ErrMessageTooLarge, size, c.maxSize)
		}
		c.readingLength = false
		c.offset = 0
		c.body = make([]byte, size)
	}

	for c.offset < len(c.body) {
		n, err := c.conn.Read(c.body[c.offset:])
		c.offset += n
		if err != nil {
			return nil, pollErr(err)
		}
	}

	msg := c.body
	c.body = nil
	c.readingLength = true
	c.offset = 0
	return msg, nil
}

// pollErr translates a read deadline expiry into ErrNoData. All other errors,
// io.EOF included, pass through for the caller to classify.
func pollErr(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrNoData
	}
	return err
}
