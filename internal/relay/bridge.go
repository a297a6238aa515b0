package relay

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lunet/rakshim/internal/config"
	"github.com/lunet/rakshim/internal/logger"
	"github.com/lunet/rakshim/internal/metrics"
	"github.com/lunet/rakshim/internal/netkind"
	"github.com/lunet/rakshim/internal/raknet"
	"github.com/lunet/rakshim/internal/tracing"
	"github.com/lunet/rakshim/internal/wire"
)

// scratchDatagrams sizes the receive buffer in units of the largest datagram
// the backend engine emits.
const scratchDatagrams = 5

// Bridge pairs one framed stream session (to the client) with one RakNet
// session (to the backend) and translates traffic between them. It
// exclusively owns both sockets; its identity within the owning Shim is the
// client's network address.
type Bridge struct {
	client      *wire.FrameConn
	backendConn *net.UDPConn
	backendAddr netip.AddrPort
	session     raknet.Session
	factory     raknet.SessionFactory

	cfg     config.Config
	scratch []byte

	ctx  context.Context
	span trace.Span
	log  *zap.Logger

	closed bool
}

// NewBridge wraps an accepted client connection, opens a fresh connectionless
// socket to the backend and sends the RakNet open-connection handshake.
func NewBridge(ctx context.Context, clientConn net.Conn, backend netip.AddrPort, cfg config.Config, factory raknet.SessionFactory) (*Bridge, error) {
	udp, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(backend))
	if err != nil {
		return nil, fmt.Errorf("dial backend %s: %w", backend, err)
	}
	if _, err := udp.Write(raknet.HandshakeRequest()); err != nil {
		udp.Close()
		return nil, fmt.Errorf("send open-connection request to %s: %w", backend, err)
	}

	ctx, span := tracing.StartSpan(ctx, "relay.session")

	b := &Bridge{
		client:      wire.NewFrameConn(clientConn, cfg.Relay.MaxMessageSize, cfg.Relay.PollWait),
		backendConn: udp,
		backendAddr: backend,
		session:     factory(udp),
		factory:     factory,
		cfg:         cfg,
		scratch:     make([]byte, raknet.MaxDatagramSize*scratchDatagrams),
		ctx:         ctx,
		span:        span,
		log: logger.L.With(
			zap.String("client", clientConn.RemoteAddr().String()),
			zap.String("backend", backend.String()),
		),
	}

	metrics.TotalBridges.Inc()
	metrics.ActiveBridges.Inc()
	logger.InfoWithTrace(ctx, "new connection",
		zap.String("client", clientConn.RemoteAddr().String()),
		zap.String("backend", backend.String()),
	)
	return b, nil
}

// ClientAddr returns the client's network address, the Bridge's identity
// within its Shim.
func (b *Bridge) ClientAddr() netip.AddrPort {
	if a, ok := b.client.RemoteAddr().(*net.TCPAddr); ok {
		return a.AddrPort()
	}
	ap, _ := netip.ParseAddrPort(b.client.RemoteAddr().String())
	return ap
}

// PullFromClient drains at most one completed message from the client and
// forwards it to the backend as a reliable packet. A "no data yet" result
// surfaces as wire.ErrNoData; any other error is returned for the owning
// Shim's teardown decision. A failure on the backend send path is logged but
// does not end the session.
func (b *Bridge) PullFromClient() error {
	msg, err := b.client.Receive()
	if err != nil {
		return err
	}
	metrics.MessagesForwarded.WithLabelValues("client_to_backend").Inc()
	metrics.BytesForwarded.WithLabelValues("client_to_backend").Add(float64(len(msg)))
	if err := b.session.Send([]wire.Packet{{Reliability: wire.Reliable, Data: msg}}); err != nil {
		b.log.Warn("forward to backend failed", zap.Error(err))
	}
	return nil
}

// PullFromServer drains every datagram currently available from the backend,
// decodes each through the RakNet session, rewrites intercepted redirects
// and forwards the decoded batch to the client. It returns the commands
// produced by interception. Errors other than "nothing available" are
// returned for teardown.
func (b *Bridge) PullFromServer(reg *Registry) ([]ShimCommand, error) {
	var cmds []ShimCommand
	// Spans every datagram drained this call, so a backend named by two
	// datagrams in one drain gets one relay, not one per datagram.
	var pending map[netip.AddrPort]netip.AddrPort
	for {
		if err := b.backendConn.SetReadDeadline(time.Now().Add(b.cfg.Relay.PollWait)); err != nil {
			return cmds, fmt.Errorf("set backend read deadline: %w", err)
		}
		n, err := b.backendConn.Read(b.scratch)
		if err != nil {
			if netkind.IsNoData(err) {
				return cmds, nil
			}
			return cmds, err
		}

		packets, err := b.session.HandleDatagram(b.scratch[:n])
		if err != nil {
			return cmds, fmt.Errorf("decode backend datagram: %w", err)
		}
		if len(packets) == 0 {
			continue
		}

		if pending == nil {
			pending = make(map[netip.AddrPort]netip.AddrPort)
		}
		newCmds, err := b.scanPackets(packets, reg, pending)
		cmds = append(cmds, newCmds...)
		if err != nil {
			return cmds, err
		}

		if err := b.client.SendPackets(packets); err != nil {
			return cmds, err
		}
		for _, p := range packets {
			metrics.MessagesForwarded.WithLabelValues("backend_to_client").Inc()
			metrics.BytesForwarded.WithLabelValues("backend_to_client").Add(float64(len(p.Data)))
		}
	}
}

// Close tears the Bridge down: both sockets are closed, the session span is
// ended and the closure is logged once with its reason. Collection owners
// call Close on every removal path; it is safe to call more than once.
func (b *Bridge) Close(reason string) {
	if b.closed {
		return
	}
	b.closed = true

	b.log.Info("closing bridge",
		zap.Uint16("backend_port", b.backendAddr.Port()),
		zap.String("reason", reason),
	)
	b.client.Close()
	b.backendConn.Close()
	b.span.End()
	metrics.ActiveBridges.Dec()
	metrics.IncBridgeClosed(reason)
}
