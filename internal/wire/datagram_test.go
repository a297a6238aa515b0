package wire

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"
)

// udpPair returns a receiving socket and a socket connected to it.
func udpPair(t *testing.T) (*net.UDPConn, *net.UDPConn) {
	t.Helper()
	recv, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	send, err := net.DialUDP("udp", nil, recv.LocalAddr().(*net.UDPAddr))
	if err != nil {
		recv.Close()
		t.Fatal(err)
	}
	t.Cleanup(func() { recv.Close(); send.Close() })
	return recv, send
}

// receiveDatagram polls until a packet arrives.
func receiveDatagram(t *testing.T, c *DatagramConn) Packet {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		p, err := c.Receive()
		if err == nil {
			return p
		}
		if !errors.Is(err, ErrNoData) {
			t.Fatalf("Receive: %v", err)
		}
	}
	t.Fatal("Receive: no datagram within deadline")
	return Packet{}
}

func TestDatagramConn_UnreliableRoundTrip(t *testing.T) {
	a, b := udpPair(t)
	sender := NewDatagramConn(b, 0, 10*time.Millisecond)
	receiver := NewDatagramConn(a, 0, 10*time.Millisecond)

	payload := []byte("position update")
	if err := sender.Send(Packet{Reliability: Unreliable, Data: payload}); err != nil {
		t.Fatal(err)
	}

	got := receiveDatagram(t, receiver)
	if got.Reliability != Unreliable {
		t.Errorf("reliability = %v, want Unreliable", got.Reliability)
	}
	if !bytes.Equal(got.Data, payload) {
		t.Errorf("payload = %q, want %q", got.Data, payload)
	}
}

func TestDatagramConn_SequencedKeepsNewest(t *testing.T) {
	// Simulate out-of-order arrival by feeding raw datagrams with
	// descending sequence numbers through a scripted socket.
	seq := func(n uint32, body byte) []byte {
		return []byte{1, byte(n), byte(n >> 8), byte(n >> 16), byte(n >> 24), body}
	}
	conn := &chunkConn{chunks: [][]byte{
		seq(5, 'a'),
		seq(3, 'b'), // stale, must be dropped
		seq(6, 'c'),
	}}
	c := NewDatagramConn(conn, 0, time.Millisecond)

	p, err := c.Receive()
	if err != nil {
		t.Fatal(err)
	}
	if p.Data[0] != 'a' {
		t.Errorf("first packet = %q, want 'a'", p.Data)
	}

	// The stale datagram is skipped within the same poll; the next packet
	// returned is the newer one.
	p, err = c.Receive()
	if err != nil {
		t.Fatal(err)
	}
	if p.Data[0] != 'c' {
		t.Errorf("second packet = %q, want 'c' (stale 'b' dropped)", p.Data)
	}
}

func TestDatagramConn_SequenceWraparound(t *testing.T) {
	if !newerSeq(0, ^uint32(0)) {
		t.Error("sequence 0 must be newer than max uint32 at wraparound")
	}
	if newerSeq(^uint32(0), 0) {
		t.Error("max uint32 must not be newer than 0 at wraparound")
	}
	if newerSeq(7, 7) {
		t.Error("equal sequences are not newer")
	}
}

func TestDatagramConn_RejectsOversized(t *testing.T) {
	a, b := udpPair(t)
	_ = a
	sender := NewDatagramConn(b, 100, 10*time.Millisecond)

	err := sender.Send(Packet{Reliability: Unreliable, Data: make([]byte, 100)})
	if !errors.Is(err, ErrDatagramTooLarge) {
		t.Fatalf("expected ErrDatagramTooLarge, got %v", err)
	}
}

func TestDatagramConn_RejectsReliable(t *testing.T) {
	a, b := udpPair(t)
	_ = a
	sender := NewDatagramConn(b, 0, 10*time.Millisecond)

	for _, r := range []Reliability{Reliable, ReliableOrdered} {
		err := sender.Send(Packet{Reliability: r, Data: []byte{1}})
		if !errors.Is(err, ErrWrongChannel) {
			t.Fatalf("%v: expected ErrWrongChannel, got %v", r, err)
		}
	}
}
