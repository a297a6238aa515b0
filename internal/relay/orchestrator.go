package relay

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lunet/rakshim/internal/announce"
	"github.com/lunet/rakshim/internal/config"
	"github.com/lunet/rakshim/internal/logger"
	"github.com/lunet/rakshim/internal/metrics"
	"github.com/lunet/rakshim/internal/raknet"
)

// Orchestrator owns the Shim set and the relay registry. It polls every Shim
// once per tick from a single goroutine; all shared state is mutated only
// between ticks by this one control loop, so the core needs no locking.
type Orchestrator struct {
	cfg       config.Config
	factory   raknet.SessionFactory
	announcer *announce.Publisher

	shims    []*Shim
	registry *Registry
}

// New creates an Orchestrator with the well-known auth listener already
// bound and the registry pre-seeded with the auth backend. announcer may be
// nil.
func New(cfg config.Config, factory raknet.SessionFactory, announcer *announce.Publisher) (*Orchestrator, error) {
	o := &Orchestrator{
		cfg:       cfg,
		factory:   factory,
		announcer: announcer,
		registry:  NewRegistry(),
	}

	authBackend := cfg.BackendAuthAddr()
	shim, err := NewShim(cfg.Proxy.ExternalAuthPort, authBackend, cfg, factory)
	if err != nil {
		return nil, fmt.Errorf("start auth shim: %w", err)
	}
	o.registry.Register(authBackend, shim.LocalAddr())
	o.shims = append(o.shims, shim)
	return o, nil
}

// Registry exposes the backend-to-relay map for inspection.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// Shims returns the live Shim set.
func (o *Orchestrator) Shims() []*Shim {
	return o.shims
}

// Run drives the tick loop until ctx is cancelled or a listener-scope
// failure occurs. There is no per-Shim supervision: a Shim that cannot
// accept is fatal to the whole process.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.Relay.TickInterval)
	defer ticker.Stop()
	defer o.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := o.Tick(); err != nil {
				return err
			}
		}
	}
}

// Tick steps every Shim once, then applies the commands they produced.
// Commands are applied only after all Shims have stepped, so a Bridge never
// observes the Shim set mid-mutation.
func (o *Orchestrator) Tick() error {
	var cmds []ShimCommand
	for _, shim := range o.shims {
		var err error
		cmds, err = shim.Step(cmds, o.registry)
		if err != nil {
			return fmt.Errorf("shim %s: %w", shim.LocalAddr(), err)
		}
	}
	for _, cmd := range cmds {
		o.apply(cmd)
	}
	return nil
}

// apply adopts one commanded Shim. Two Bridges can observe the same unseen
// backend within a single tick; the first command wins and later duplicates
// are closed, keeping the one-relay-per-backend invariant.
func (o *Orchestrator) apply(cmd ShimCommand) {
	if !o.registry.Register(cmd.Backend, cmd.Shim.LocalAddr()) {
		logger.L.Debug("duplicate relay command, closing extra shim",
			zap.String("backend", cmd.Backend.String()),
		)
		cmd.Shim.Close()
		return
	}
	o.shims = append(o.shims, cmd.Shim)
	metrics.RelaysSpawned.Inc()
	o.announcer.Announce(announce.Relay{Backend: cmd.Backend, Local: cmd.Shim.LocalAddr()})
}

// Close tears down every Shim.
func (o *Orchestrator) Close() {
	for _, shim := range o.shims {
		shim.Close()
	}
}
