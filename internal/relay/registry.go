// Package relay implements the translation core: per-client Bridges pairing
// a framed stream session with a RakNet backend session, Shims owning a
// listener and its Bridges, and the Orchestrator driving everything from a
// single polling loop.
package relay

import (
	"net/netip"
)

// Registry is the process-wide map from a backend address to the local relay
// listener transparently standing in for it. It is append-only and owned by
// the Orchestrator; Bridges only read it. At most one relay listener ever
// exists per distinct backend address.
type Registry struct {
	relays map[netip.AddrPort]netip.AddrPort
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		relays: make(map[netip.AddrPort]netip.AddrPort),
	}
}

// Lookup returns the relay listener address standing in for backend.
func (r *Registry) Lookup(backend netip.AddrPort) (netip.AddrPort, bool) {
	local, ok := r.relays[backend]
	return local, ok
}

// Register records a relay listener for a backend address. It reports false
// when the backend is already registered, in which case the existing entry
// is kept untouched.
func (r *Registry) Register(backend, local netip.AddrPort) bool {
	if _, ok := r.relays[backend]; ok {
		return false
	}
	r.relays[backend] = local
	return true
}

// Len returns the number of registered relays.
func (r *Registry) Len() int {
	return len(r.relays)
}

// ShimCommand instructs the Orchestrator to adopt a freshly constructed Shim
// for a backend address. Bridges produce commands instead of mutating the
// Shim set or the registry directly, because they own neither; the
// Orchestrator consumes each command exactly once after all Shims have
// stepped.
type ShimCommand struct {
	Backend netip.AddrPort
	Shim    *Shim
}
