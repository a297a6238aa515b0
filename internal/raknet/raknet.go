// Package raknet defines the boundary to the legacy RakNet 3.25 reliability
// engine. The engine itself, with its datagram acknowledgement, resend and
// splitting machinery, is an external collaborator: the relay only needs to
// hand it raw datagrams and get decoded packets back, and vice versa.
package raknet

import (
	"github.com/lunet/rakshim/internal/wire"
)

// Control messages of the RakNet data-level protocol. Only the ones this
// program produces or needs to recognize are listed.
const (
	// IDOpenConnectionRequest is the first byte ever sent on a session: the
	// client requests to open a connection.
	IDOpenConnectionRequest = 9

	// IDOpenConnectionReply acknowledges an open-connection request.
	IDOpenConnectionReply = 10

	// IDNoFreeIncomingConnections refuses an open-connection request.
	IDNoFreeIncomingConnections = 18

	// IDDisconnectNotification signals a voluntary disconnect.
	IDDisconnectNotification = 19
)

// ProtocolVersion is the RakNet wire protocol version byte sent alongside an
// open-connection request. Version 121 corresponds to RakNet 3.25.
const ProtocolVersion = 121

// MaxDatagramSize is the largest datagram the 3.25 engine emits on an
// Ethernet-sized path.
const MaxDatagramSize = 1492

// HandshakeRequest returns the 2-byte open-connection request that initiates
// a backend session.
func HandshakeRequest() []byte {
	return []byte{IDOpenConnectionRequest, ProtocolVersion}
}

// Session is one logical RakNet connection to a peer. Implementations own no
// socket: the caller reads datagrams off the wire and feeds them in, and
// provides the write path the session encodes onto.
type Session interface {
	// HandleDatagram ingests one raw datagram received from the peer and
	// returns the application packets decoded from it, possibly none (for
	// example when the datagram only carried acknowledgements).
	HandleDatagram(data []byte) ([]wire.Packet, error)

	// Send encodes the packets into datagrams and writes them to the peer.
	Send(packets []wire.Packet) error
}

// SessionFactory constructs a Session that writes its datagrams through w.
// The production factory wraps the external reliability engine; tests and
// engine-less deployments use NewRawSession.
type SessionFactory func(w DatagramWriter) Session

// DatagramWriter is the write half a Session encodes onto. A connected
// *net.UDPConn satisfies it.
type DatagramWriter interface {
	Write(b []byte) (int, error)
}
