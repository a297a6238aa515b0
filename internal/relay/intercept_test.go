package relay

import (
	"bytes"
	"encoding/binary"
	"net/netip"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lunet/rakshim/internal/config"
	"github.com/lunet/rakshim/internal/logger"
	"github.com/lunet/rakshim/internal/raknet"
	"github.com/lunet/rakshim/internal/wire"
)

func TestMain(m *testing.M) {
	logger.L = zap.NewNop()
	os.Exit(m.Run())
}

const testExternalIP = "203.0.113.9"

func testConfig() config.Config {
	return config.Config{
		Proxy: config.ProxyConfig{
			ExternalIP: testExternalIP,
			RakNetIP:   "127.0.0.1",
			BindTo:     "127.0.0.1",
		},
		Relay: config.RelayConfig{
			TickInterval:        time.Second / 30,
			PollWait:            5 * time.Millisecond,
			MaxMessageSize:      1 << 20,
			MaxBridgesPerShim:   100,
			MaxConnectionsPerIP: 100,
			ConnectionRateLimit: 100,
		},
	}
}

// testBridge returns a Bridge sufficient for scanning packets. No sockets
// are opened: scanning only needs the backend address and configuration.
func testBridge(backend netip.AddrPort) *Bridge {
	return &Bridge{
		backendAddr: backend,
		cfg:         testConfig(),
		factory:     raknet.NewRawSession,
		log:         logger.L,
	}
}

// loginResponse builds a successful login response embedding addr:port as
// the address the client should reconnect to.
func loginResponse(addr string, port uint16) []byte {
	data := make([]byte, minLoginLen)
	data[0] = markerByte0
	data[1] = markerByte1
	data[subIDOffset] = subIDLogin
	data[loginStatusByte] = 1
	copy(data[loginIPOffset:loginIPOffset+addrFieldSize], addr)
	binary.LittleEndian.PutUint16(data[loginPortOffset:], port)
	return data
}

// transferPacket builds a world-transfer redirect embedding addr:port.
func transferPacket(addr string, port uint16) []byte {
	data := make([]byte, minTransferLen)
	data[0] = markerByte0
	data[1] = markerByte1
	data[subIDOffset] = subIDTransfer
	copy(data[transferIPOffset:transferIPOffset+addrFieldSize], addr)
	binary.LittleEndian.PutUint16(data[transferPortOffset:], port)
	return data
}

func paddedField(addr string) []byte {
	field := make([]byte, addrFieldSize)
	copy(field, addr)
	return field
}

// newPending returns an empty pending map, as PullFromServer allocates one
// per drain.
func newPending() map[netip.AddrPort]netip.AddrPort {
	return make(map[netip.AddrPort]netip.AddrPort)
}

func closeCommands(t *testing.T, cmds []ShimCommand) {
	t.Helper()
	for _, cmd := range cmds {
		cmd.Shim.Close()
	}
}

func TestScanPackets_RewritesLoginResponse(t *testing.T) {
	backend := netip.MustParseAddrPort("127.0.0.1:44453")
	bridge := testBridge(backend)
	reg := NewRegistry()

	packets := []wire.Packet{{Reliability: wire.ReliableOrdered, Data: loginResponse("10.0.0.5", 44463)}}
	cmds, err := bridge.scanPackets(packets, reg, newPending())
	defer closeCommands(t, cmds)
	if err != nil {
		t.Fatal(err)
	}
	if len(cmds) != 1 {
		t.Fatalf("commands = %d, want 1", len(cmds))
	}

	wantBackend := netip.AddrPortFrom(backend.Addr(), 44463)
	if cmds[0].Backend != wantBackend {
		t.Errorf("command backend = %s, want %s", cmds[0].Backend, wantBackend)
	}

	data := packets[0].Data
	gotIP := data[loginIPOffset : loginIPOffset+addrFieldSize]
	if !bytes.Equal(gotIP, paddedField(testExternalIP)) {
		t.Errorf("rewritten IP field = %q, want %q NUL-padded", gotIP, testExternalIP)
	}
	gotPort := binary.LittleEndian.Uint16(data[loginPortOffset:])
	if gotPort != cmds[0].Shim.LocalAddr().Port() {
		t.Errorf("rewritten port = %d, want relay's bound port %d", gotPort, cmds[0].Shim.LocalAddr().Port())
	}
}

func TestScanPackets_RewritesTransfer(t *testing.T) {
	backend := netip.MustParseAddrPort("127.0.0.1:44463")
	bridge := testBridge(backend)
	reg := NewRegistry()

	packets := []wire.Packet{{Reliability: wire.ReliableOrdered, Data: transferPacket("10.0.0.5", 44464)}}
	cmds, err := bridge.scanPackets(packets, reg, newPending())
	defer closeCommands(t, cmds)
	if err != nil {
		t.Fatal(err)
	}
	if len(cmds) != 1 {
		t.Fatalf("commands = %d, want 1", len(cmds))
	}

	data := packets[0].Data
	gotIP := data[transferIPOffset : transferIPOffset+addrFieldSize]
	if !bytes.Equal(gotIP, paddedField(testExternalIP)) {
		t.Errorf("rewritten IP field = %q, want %q NUL-padded", gotIP, testExternalIP)
	}
	gotPort := binary.LittleEndian.Uint16(data[transferPortOffset:])
	if gotPort != cmds[0].Shim.LocalAddr().Port() {
		t.Errorf("rewritten port = %d, want relay's bound port %d", gotPort, cmds[0].Shim.LocalAddr().Port())
	}
}

func TestScanPackets_KnownBackendReusesRelay(t *testing.T) {
	backend := netip.MustParseAddrPort("127.0.0.1:44453")
	bridge := testBridge(backend)
	reg := NewRegistry()

	first := []wire.Packet{{Data: loginResponse("10.0.0.5", 44463)}}
	cmds, err := bridge.scanPackets(first, reg, newPending())
	defer closeCommands(t, cmds)
	if err != nil {
		t.Fatal(err)
	}
	if len(cmds) != 1 {
		t.Fatalf("first scan commands = %d, want 1", len(cmds))
	}
	reg.Register(cmds[0].Backend, cmds[0].Shim.LocalAddr())

	second := []wire.Packet{{Data: transferPacket("10.0.0.5", 44463)}}
	again, err := bridge.scanPackets(second, reg, newPending())
	defer closeCommands(t, again)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Fatalf("second scan commands = %d, want 0", len(again))
	}

	gotPort := binary.LittleEndian.Uint16(second[0].Data[transferPortOffset:])
	if gotPort != cmds[0].Shim.LocalAddr().Port() {
		t.Errorf("second rewrite port = %d, want existing relay port %d", gotPort, cmds[0].Shim.LocalAddr().Port())
	}
}

func TestScanPackets_SameBatchSpawnsOneRelay(t *testing.T) {
	backend := netip.MustParseAddrPort("127.0.0.1:44453")
	bridge := testBridge(backend)
	reg := NewRegistry()

	packets := []wire.Packet{
		{Data: loginResponse("10.0.0.5", 44463)},
		{Data: loginResponse("10.0.0.5", 44463)},
	}
	cmds, err := bridge.scanPackets(packets, reg, newPending())
	defer closeCommands(t, cmds)
	if err != nil {
		t.Fatal(err)
	}
	if len(cmds) != 1 {
		t.Fatalf("commands = %d, want 1 for a repeated backend in one batch", len(cmds))
	}

	port0 := binary.LittleEndian.Uint16(packets[0].Data[loginPortOffset:])
	port1 := binary.LittleEndian.Uint16(packets[1].Data[loginPortOffset:])
	if port0 != port1 {
		t.Errorf("rewritten ports differ within one batch: %d vs %d", port0, port1)
	}
}

// A drain hands scanPackets one decoded batch per datagram. When two
// datagrams in the same drain name the same unseen backend, the shared
// pending map must keep the second scan from binding a second listener on
// the same port.
func TestScanPackets_SameDrainSpawnsOneRelay(t *testing.T) {
	backend := netip.MustParseAddrPort("127.0.0.1:44453")
	bridge := testBridge(backend)
	reg := NewRegistry()
	pending := newPending()

	login := []wire.Packet{{Data: loginResponse("10.0.0.5", 44463)}}
	cmds, err := bridge.scanPackets(login, reg, pending)
	defer closeCommands(t, cmds)
	if err != nil {
		t.Fatal(err)
	}
	if len(cmds) != 1 {
		t.Fatalf("first scan commands = %d, want 1", len(cmds))
	}

	transfer := []wire.Packet{{Data: transferPacket("10.0.0.5", 44463)}}
	again, err := bridge.scanPackets(transfer, reg, pending)
	defer closeCommands(t, again)
	if err != nil {
		t.Fatalf("second scan of the drain: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second scan commands = %d, want 0", len(again))
	}

	loginPort := binary.LittleEndian.Uint16(login[0].Data[loginPortOffset:])
	transferPort := binary.LittleEndian.Uint16(transfer[0].Data[transferPortOffset:])
	if loginPort != transferPort {
		t.Errorf("rewritten ports differ across one drain: %d vs %d", loginPort, transferPort)
	}
	if loginPort != cmds[0].Shim.LocalAddr().Port() {
		t.Errorf("rewritten port = %d, want the spawned relay's port %d", loginPort, cmds[0].Shim.LocalAddr().Port())
	}
}

func TestScanPackets_PassThroughUntouched(t *testing.T) {
	backend := netip.MustParseAddrPort("127.0.0.1:44453")
	bridge := testBridge(backend)
	reg := NewRegistry()

	failedLogin := loginResponse("10.0.0.5", 44463)
	failedLogin[loginStatusByte] = 0

	shortLogin := loginResponse("10.0.0.5", 44463)[:minLoginLen-1]

	shortTransfer := transferPacket("10.0.0.5", 44464)[:minTransferLen-1]

	otherSubID := loginResponse("10.0.0.5", 44463)
	otherSubID[subIDOffset] = 7

	cases := map[string][]byte{
		"no marker":       {1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		"tiny":            {markerByte0, markerByte1},
		"failed login":    failedLogin,
		"short login":     shortLogin,
		"short transfer":  shortTransfer,
		"unknown sub-id":  otherSubID,
		"ordinaryChatter": append([]byte{0x17, 0x01}, bytes.Repeat([]byte{0xAB}, 64)...),
	}
	for name, data := range cases {
		orig := make([]byte, len(data))
		copy(orig, data)

		cmds, err := bridge.scanPackets([]wire.Packet{{Data: data}}, reg, newPending())
		closeCommands(t, cmds)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if len(cmds) != 0 {
			t.Errorf("%s: spawned %d relays, want 0", name, len(cmds))
		}
		if !bytes.Equal(data, orig) {
			t.Errorf("%s: packet modified, must pass through byte-identical", name)
		}
	}
	if reg.Len() != 0 {
		t.Errorf("registry grew to %d entries on pass-through traffic", reg.Len())
	}
}
