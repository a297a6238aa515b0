package wire

import (
	"testing"
	"time"
)

// replayConn replays one encoded frame forever, so the decode path can be
// measured without socket overhead.
type replayConn struct {
	chunkConn
	frame []byte
	off   int
}

func (c *replayConn) Read(b []byte) (int, error) {
	n := copy(b, c.frame[c.off:])
	c.off += n
	if c.off == len(c.frame) {
		c.off = 0
	}
	return n, nil
}

// BenchmarkFrameSend measures encoding overhead for a typical game message.
func BenchmarkFrameSend(b *testing.B) {
	conn := NewFrameConn(&chunkConn{}, 0, time.Millisecond)
	payload := make([]byte, 400)

	b.SetBytes(int64(len(payload)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := conn.Send(payload); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkFrameReceive measures decoding a stream of complete frames.
func BenchmarkFrameReceive(b *testing.B) {
	payload := make([]byte, 400)
	conn := NewFrameConn(&replayConn{frame: encodeFrame(payload)}, 0, time.Millisecond)

	b.SetBytes(int64(len(payload)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := conn.Receive(); err != nil {
			b.Fatal(err)
		}
	}
}
