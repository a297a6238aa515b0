package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"
)

// Datagram channel mode tags.
const (
	modeUnreliable          = 0
	modeUnreliableSequenced = 1
)

// DefaultMaxDatagramSize bounds an encoded unreliable message. The protocol
// deliberately has no fragmentation, so an encoded message must fit within
// one network-layer datagram.
const DefaultMaxDatagramSize = 1472

var (
	// ErrDatagramTooLarge is returned when an unreliable payload would not
	// fit in a single datagram. Oversized messages are rejected rather than
	// split.
	ErrDatagramTooLarge = errors.New("wire: unreliable payload exceeds datagram size")

	// ErrWrongChannel is returned when a reliable packet is handed to the
	// datagram channel.
	ErrWrongChannel = errors.New("wire: reliable packets belong on the stream channel")
)

// DatagramConn carries the unreliable half of the protocol over a connected
// datagram socket. It is the symmetric companion to FrameConn for backend
// connections that exchange unreliable traffic; sessions that only relay
// reliable packets never construct one.
type DatagramConn struct {
	conn     net.Conn
	pollWait time.Duration
	maxSize  int

	sendSeq uint32

	// Receive-side sequencing state for UnreliableSequenced: only the
	// newest datagram is kept, older arrivals are dropped.
	haveSeq bool
	lastSeq uint32

	scratch []byte
}

// NewDatagramConn wraps a connected datagram socket. maxSize bounds the
// encoded datagram (DefaultMaxDatagramSize when 0); pollWait is the per-poll
// read budget, as for FrameConn.
func NewDatagramConn(conn net.Conn, maxSize int, pollWait time.Duration) *DatagramConn {
	if maxSize <= 0 {
		maxSize = DefaultMaxDatagramSize
	}
	return &DatagramConn{
		conn:     conn,
		pollWait: pollWait,
		maxSize:  maxSize,
		scratch:  make([]byte, maxSize+1),
	}
}

// Close closes the underlying socket.
func (c *DatagramConn) Close() error {
	return c.conn.Close()
}

// Send encodes one unreliable packet and writes it as a single datagram.
func (c *DatagramConn) Send(p Packet) error {
	if p.Reliability.IsReliable() {
		return ErrWrongChannel
	}
	var header []byte
	switch p.Reliability {
	case UnreliableSequenced:
		header = make([]byte, 5)
		header[0] = modeUnreliableSequenced
		binary.LittleEndian.PutUint32(header[1:], c.sendSeq)
		c.sendSeq++
	default:
		header = []byte{modeUnreliable}
	}
	if len(header)+len(p.Data) > c.maxSize {
		return fmt.Errorf("%w: %d bytes (max: %d)", ErrDatagramTooLarge, len(header)+len(p.Data), c.maxSize)
	}
	bufs := net.Buffers{header, p.Data}
	if _, err := bufs.WriteTo(c.conn); err != nil {
		return fmt.Errorf("wire: send datagram: %w", err)
	}
	return nil
}

// Receive returns the next accepted unreliable packet, or ErrNoData when the
// socket has nothing further this poll. Stale sequenced datagrams are
// discarded without ending the poll; malformed datagrams are dropped the same
// way, matching the best-effort nature of the channel.
func (c *DatagramConn) Receive() (Packet, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.pollWait)); err != nil {
		return Packet{}, fmt.Errorf("wire: set read deadline: %w", err)
	}
	for {
		n, err := c.conn.Read(c.scratch)
		if err != nil {
			return Packet{}, pollErr(err)
		}
		if n < 1 {
			continue
		}
		switch c.scratch[0] {
		case modeUnreliable:
			data := make([]byte, n-1)
			copy(data, c.scratch[1:n])
			return Packet{Reliability: Unreliable, Data: data}, nil
		case modeUnreliableSequenced:
			if n < 5 {
				continue
			}
			seq := binary.LittleEndian.Uint32(c.scratch[1:5])
			if c.haveSeq && !newerSeq(seq, c.lastSeq) {
				continue
			}
			c.haveSeq = true
			c.lastSeq = seq
			data := make([]byte, n-5)
			copy(data, c.scratch[5:n])
			return Packet{Reliability: UnreliableSequenced, Data: data}, nil
		default:
			continue
		}
	}
}

// newerSeq reports whether a is newer than b under serial arithmetic, so the
// comparison stays correct across sequence number wraparound.
func newerSeq(a, b uint32) bool {
	return a != b && a-b < 1<<31
}
