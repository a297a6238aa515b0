package announce

import (
	"context"
	"net/netip"
	"os"
	"testing"

	"go.uber.org/zap"

	"github.com/lunet/rakshim/internal/config"
	"github.com/lunet/rakshim/internal/logger"
)

func TestMain(m *testing.M) {
	logger.L = zap.NewNop()
	os.Exit(m.Run())
}

func TestNew_DisabledWithoutAddr(t *testing.T) {
	if p := New(&config.RedisConfig{}); p != nil {
		t.Fatal("New returned a publisher with no Redis address configured")
	}
}

// A nil publisher is the disabled mode; every method must be a no-op.
func TestNilPublisherIsInert(t *testing.T) {
	var p *Publisher

	if err := p.Ping(context.Background()); err != nil {
		t.Errorf("Ping on nil publisher: %v", err)
	}
	p.Start(context.Background())
	p.Announce(Relay{
		Backend: netip.MustParseAddrPort("10.0.0.5:44463"),
		Local:   netip.MustParseAddrPort("127.0.0.1:44463"),
	})
	if err := p.Close(); err != nil {
		t.Errorf("Close on nil publisher: %v", err)
	}
}

func TestAnnounce_DropsWhenQueueFull(t *testing.T) {
	p := &Publisher{ch: make(chan Relay, 1)}
	r := Relay{
		Backend: netip.MustParseAddrPort("10.0.0.5:44463"),
		Local:   netip.MustParseAddrPort("127.0.0.1:44463"),
	}

	p.Announce(r) // fills the queue
	p.Announce(r) // must drop, not block
	if len(p.ch) != 1 {
		t.Fatalf("queue length = %d, want 1", len(p.ch))
	}
}
