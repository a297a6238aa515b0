package relay

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/lunet/rakshim/internal/metrics"
	"github.com/lunet/rakshim/internal/wire"
)

// Game-message envelope layout. Backend servers embed their own address in
// login responses and world-transfer packets; passed on unmodified those
// would make the client bypass the proxy, so both are rewritten in place.
const (
	// Marker bytes identifying an application-framed game message.
	markerByte0 = 0x53
	markerByte1 = 0x05

	// Sub-message id at offset 3 selects the packet kind.
	subIDOffset      = 3
	subIDLogin       = 0
	subIDTransfer    = 14
	loginStatusByte  = 8 // must be 1 for a successful login response
	minLoginLen      = 414
	minInterceptLen  = 9 // marker + sub-id + status byte must be addressable
	minTransferLen   = transferPortOffset + 2

	// Address field offsets. The embedded IP is a fixed 33-byte NUL-padded
	// ASCII field; the 16-bit little-endian port follows at its own fixed
	// offset.
	loginIPOffset      = 345
	loginPortOffset    = 411
	transferIPOffset   = 8
	transferPortOffset = transferIPOffset + addrFieldSize
	addrFieldSize      = 33
)

// scanPackets inspects decoded backend packets for address-carrying
// messages and rewrites them to point at a local relay listener, spinning up
// a new Shim when the embedded backend address has not been seen before.
// Packets that do not match, or are too short for their claimed kind, pass
// through byte-identical.
//
// Relays spawned by earlier scans of the same drain are not in the registry
// yet; pending carries them between scans so one drain never spawns
// duplicate shims for a backend named by several datagrams.
//
// The returned commands carry the freshly constructed Shims; the Bridge owns
// neither the Shim set nor the registry, so adoption is left to the
// Orchestrator.
func (b *Bridge) scanPackets(packets []wire.Packet, reg *Registry, pending map[netip.AddrPort]netip.AddrPort) ([]ShimCommand, error) {
	var cmds []ShimCommand

	for i := range packets {
		data := packets[i].Data
		if len(data) < minInterceptLen || data[0] != markerByte0 || data[1] != markerByte1 {
			continue
		}

		isLogin := data[subIDOffset] == subIDLogin && data[loginStatusByte] == 1 && len(data) >= minLoginLen
		isTransfer := data[subIDOffset] == subIDTransfer

		var ipOffset, portOffset int
		var kind string
		switch {
		case isLogin:
			ipOffset, portOffset, kind = loginIPOffset, loginPortOffset, "login_response"
		case isTransfer:
			if len(data) < minTransferLen {
				continue
			}
			ipOffset, portOffset, kind = transferIPOffset, transferPortOffset, "transfer"
		default:
			continue
		}

		port := binary.LittleEndian.Uint16(data[portOffset:])
		backend := netip.AddrPortFrom(b.backendAddr.Addr(), port)

		local, known := reg.Lookup(backend)
		if !known {
			local, known = pending[backend]
		}
		if !known {
			shim, err := NewShim(port, backend, b.cfg, b.factory)
			if err != nil {
				return cmds, fmt.Errorf("spawn relay for %s: %w", backend, err)
			}
			local = shim.LocalAddr()
			cmds = append(cmds, ShimCommand{Backend: backend, Shim: shim})
			pending[backend] = local
		}

		writeAddrField(data[ipOffset:ipOffset+addrFieldSize], b.cfg.Proxy.ExternalIP)
		binary.LittleEndian.PutUint16(data[portOffset:], local.Port())
		metrics.RedirectsIntercepted.WithLabelValues(kind).Inc()
	}
	return cmds, nil
}

// writeAddrField overwrites a fixed-size embedded IP field with the given
// address string, NUL-padding the remainder.
func writeAddrField(field []byte, addr string) {
	n := copy(field, addr)
	for i := n; i < len(field); i++ {
		field[i] = 0
	}
}
