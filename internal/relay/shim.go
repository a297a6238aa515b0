package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/lunet/rakshim/internal/config"
	"github.com/lunet/rakshim/internal/logger"
	"github.com/lunet/rakshim/internal/metrics"
	"github.com/lunet/rakshim/internal/netkind"
	"github.com/lunet/rakshim/internal/raknet"
	"github.com/lunet/rakshim/internal/ratelimit"
	"github.com/lunet/rakshim/internal/wire"
)

// Shim is one relay listener and the Bridges for the clients connected to
// it. Its identity is the backend address it relays to: the well-known auth
// Shim exists from startup, every other Shim is spawned when a redirect to an
// unseen backend is intercepted.
type Shim struct {
	backend  netip.AddrPort
	listener *net.TCPListener
	bridges  map[netip.AddrPort]*Bridge

	cfg       config.Config
	factory   raknet.SessionFactory
	limiter   *ratelimit.Limiter
	ipLimiter *ratelimit.IPLimiter
	log       *zap.Logger

	closed bool
}

// NewShim binds a listener on the configured bind host at listenPort (a
// kernel-chosen port when 0) relaying to backend.
func NewShim(listenPort uint16, backend netip.AddrPort, cfg config.Config, factory raknet.SessionFactory) (*Shim, error) {
	bindAddr, err := netip.ParseAddr(cfg.Proxy.BindTo)
	if err != nil {
		return nil, fmt.Errorf("parse bind address: %w", err)
	}
	listener, err := net.ListenTCP("tcp", net.TCPAddrFromAddrPort(netip.AddrPortFrom(bindAddr, listenPort)))
	if err != nil {
		return nil, fmt.Errorf("bind relay listener on port %d: %w", listenPort, err)
	}

	s := &Shim{
		backend:   backend,
		listener:  listener,
		bridges:   make(map[netip.AddrPort]*Bridge),
		cfg:       cfg,
		factory:   factory,
		limiter:   ratelimit.NewLimiter(cfg.Relay.MaxBridgesPerShim),
		ipLimiter: ratelimit.NewIPLimiter(cfg.Relay.MaxConnectionsPerIP, cfg.Relay.ConnectionRateLimit),
		log: logger.L.With(
			zap.String("listen", listener.Addr().String()),
			zap.String("backend", backend.String()),
		),
	}

	s.log.Info("starting new shim")
	metrics.ActiveShims.Inc()
	return s, nil
}

// Backend returns the backend address this Shim relays to.
func (s *Shim) Backend() netip.AddrPort {
	return s.backend
}

// LocalAddr returns the concrete bound address. It differs from the
// requested listen address when that address had port 0.
func (s *Shim) LocalAddr() netip.AddrPort {
	return s.listener.Addr().(*net.TCPAddr).AddrPort()
}

// BridgeCount returns the number of live Bridges.
func (s *Shim) BridgeCount() int {
	return len(s.bridges)
}

// Step runs one orchestration tick for this Shim: accept pending clients,
// pull from every client, then pull from every backend session, appending
// any commands interception produced to cmds. Bridge-scope failures remove
// only the affected Bridge; only listener-scope failures propagate, and they
// are fatal to the whole process by design.
func (s *Shim) Step(cmds []ShimCommand, reg *Registry) ([]ShimCommand, error) {
	if err := s.acceptPass(); err != nil {
		return cmds, err
	}
	s.clientPass()
	return s.serverPass(cmds, reg), nil
}

// acceptPass accepts every pending inbound connection without blocking and
// wraps each as a Bridge.
func (s *Shim) acceptPass() error {
	for {
		if err := s.listener.SetDeadline(time.Now().Add(s.cfg.Relay.PollWait)); err != nil {
			return fmt.Errorf("set accept deadline: %w", err)
		}
		conn, err := s.listener.AcceptTCP()
		if err != nil {
			if netkind.IsNoData(err) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		ip := addrOf(conn.RemoteAddr()).Addr().String()
		if !s.ipLimiter.Allow(ip) {
			s.log.Warn("per-IP limit exceeded, rejecting client",
				zap.String("client", conn.RemoteAddr().String()),
			)
			metrics.ConnectionRejected.WithLabelValues("ip_limit").Inc()
			conn.Close()
			continue
		}
		if !s.limiter.Allow() {
			s.ipLimiter.Release(ip)
			s.log.Warn("bridge limit exceeded, rejecting client",
				zap.String("client", conn.RemoteAddr().String()),
				zap.Int64("max_bridges", s.limiter.Max()),
			)
			metrics.ConnectionRejected.WithLabelValues("bridge_limit").Inc()
			conn.Close()
			continue
		}

		bridge, err := NewBridge(context.Background(), conn, s.backend, s.cfg, s.factory)
		if err != nil {
			s.limiter.Release()
			s.ipLimiter.Release(ip)
			s.log.Warn("failed to create bridge",
				zap.String("client", conn.RemoteAddr().String()),
				zap.Error(err),
			)
			metrics.ConnectionRejected.WithLabelValues("bridge_setup").Inc()
			conn.Close()
			continue
		}
		s.bridges[bridge.ClientAddr()] = bridge
	}
}

// clientPass pulls at most one message from each client. A hard reset, a
// peer close or a hostile length prefix removes the Bridge; any other
// failure besides "no data yet" keeps the Bridge but is logged.
func (s *Shim) clientPass() {
	for addr, bridge := range s.bridges {
		err := bridge.PullFromClient()
		switch {
		case err == nil, errors.Is(err, wire.ErrNoData):
		case netkind.IsSessionEnd(err):
			s.dropBridge(addr, "client_closed")
		case errors.Is(err, wire.ErrMessageTooLarge):
			bridge.log.Warn("client message too large", zap.Error(err))
			s.dropBridge(addr, "oversize_message")
		default:
			bridge.log.Warn("client receive failed", zap.Error(err))
		}
	}
}

// serverPass drains every Bridge's backend session. Any failure removes the
// Bridge, logged unless it is a benign reset or abort. Commands the Bridge
// produced before failing are still collected so their listeners are not
// orphaned.
func (s *Shim) serverPass(cmds []ShimCommand, reg *Registry) []ShimCommand {
	for addr, bridge := range s.bridges {
		bridgeCmds, err := bridge.PullFromServer(reg)
		cmds = append(cmds, bridgeCmds...)
		if err == nil {
			continue
		}
		if netkind.IsSessionEnd(err) {
			s.dropBridge(addr, "backend_closed")
			continue
		}
		bridge.log.Warn("backend receive failed", zap.Error(err))
		s.dropBridge(addr, "backend_error")
	}
	return cmds
}

// dropBridge removes one Bridge, running its explicit close step. Sibling
// Bridges and the Shim itself are unaffected.
func (s *Shim) dropBridge(addr netip.AddrPort, reason string) {
	bridge, ok := s.bridges[addr]
	if !ok {
		return
	}
	delete(s.bridges, addr)
	bridge.Close(reason)
	s.limiter.Release()
	s.ipLimiter.Release(addr.Addr().String())
}

// Close tears down the listener and every remaining Bridge.
func (s *Shim) Close() {
	if s.closed {
		return
	}
	s.closed = true

	for addr := range s.bridges {
		s.dropBridge(addr, "shim_closed")
	}
	s.listener.Close()
	s.log.Info("closing shim", zap.Uint16("backend_port", s.backend.Port()))
	metrics.ActiveShims.Dec()
}

// addrOf converts a net.Addr to netip.AddrPort.
func addrOf(a net.Addr) netip.AddrPort {
	if t, ok := a.(*net.TCPAddr); ok {
		return t.AddrPort()
	}
	ap, _ := netip.ParseAddrPort(a.String())
	return ap
}
