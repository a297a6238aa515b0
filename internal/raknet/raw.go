package raknet

import (
	"fmt"

	"github.com/lunet/rakshim/internal/wire"
)

// RawSession is a pass-through Session for peers that already run the
// reliability engine out of process: every received datagram is one
// ReliableOrdered packet payload, and every sent packet becomes one datagram
// with no additional framing. It is also the session used throughout the
// test suite.
type RawSession struct {
	w DatagramWriter
}

// NewRawSession returns a SessionFactory-compatible constructor for
// RawSession.
func NewRawSession(w DatagramWriter) Session {
	return &RawSession{w: w}
}

// HandleDatagram returns the datagram payload as a single ReliableOrdered
// packet. Empty datagrams decode to no packets.
func (s *RawSession) HandleDatagram(data []byte) ([]wire.Packet, error) {
	if len(data) == 0 {
		return nil, nil
	}
	payload := make([]byte, len(data))
	copy(payload, data)
	return []wire.Packet{{Reliability: wire.ReliableOrdered, Data: payload}}, nil
}

// Send writes each packet payload as one datagram.
func (s *RawSession) Send(packets []wire.Packet) error {
	for _, p := range packets {
		if _, err := s.w.Write(p.Data); err != nil {
			return fmt.Errorf("raknet: send datagram: %w", err)
		}
	}
	return nil
}
