package wire

// Reliability identifies the delivery guarantee requested for a packet.
//
// RakNet additionally defines a ReliableSequenced class, but it is unused in
// practice and is collapsed into Reliable by policy before packets enter this
// program, so it has no representation here.
type Reliability uint8

const (
	// Unreliable packets are neither guaranteed to arrive nor to arrive in
	// the order they were sent.
	Unreliable Reliability = iota

	// UnreliableSequenced packets are not guaranteed to arrive. When packets
	// arrive out of order, only the most recent one is kept.
	UnreliableSequenced

	// Reliable packets are guaranteed to arrive eventually, in any order.
	Reliable

	// ReliableOrdered packets are guaranteed to arrive in send order.
	ReliableOrdered
)

// String returns a human-readable name for the reliability class.
func (r Reliability) String() string {
	switch r {
	case Unreliable:
		return "unreliable"
	case UnreliableSequenced:
		return "unreliable_sequenced"
	case Reliable:
		return "reliable"
	case ReliableOrdered:
		return "reliable_ordered"
	default:
		return "unknown"
	}
}

// IsReliable reports whether the class travels on the stream channel.
func (r Reliability) IsReliable() bool {
	return r == Reliable || r == ReliableOrdered
}

// Packet is one application message together with its reliability class.
// Packets are ephemeral: they are produced by one side's receive path and
// consumed immediately by the opposite side's send path.
type Packet struct {
	Reliability Reliability
	Data        []byte
}
