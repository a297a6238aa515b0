// Package announce publishes the live backend-to-relay mapping to Redis so
// operators can inspect which relays the proxy has spun up. Publication is
// strictly observational and write-only: the relay never reads the store, and
// the orchestration tick never blocks on it.
package announce

import (
	"context"
	"net/netip"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lunet/rakshim/internal/config"
	"github.com/lunet/rakshim/internal/logger"
	"github.com/lunet/rakshim/internal/metrics"
	"github.com/lunet/rakshim/internal/retry"
)

// Relay is one backend-to-relay pairing to publish.
type Relay struct {
	Backend netip.AddrPort
	Local   netip.AddrPort
}

// Publisher drains relay announcements off a channel and writes them to
// Redis in the background. A nil Publisher is valid and drops announcements,
// which is how deployments without Redis run.
type Publisher struct {
	rdb          *redis.Client
	prefix       string
	writeTimeout time.Duration

	ch chan Relay
}

// New creates a publisher from the Redis configuration, or nil when no
// address is configured.
func New(cfg *config.RedisConfig) *Publisher {
	if cfg.Addr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	})
	return &Publisher{
		rdb:          rdb,
		prefix:       cfg.KeyPrefix,
		writeTimeout: cfg.WriteTimeout,
		ch:           make(chan Relay, 64),
	}
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return p.rdb.Ping(ctx).Err()
}

// Start runs the background publish loop until ctx is cancelled.
func (p *Publisher) Start(ctx context.Context) {
	if p == nil {
		return
	}
	go p.run(ctx)
}

// Announce hands one pairing to the background loop. It never blocks: when
// the channel is full the announcement is dropped and counted, because
// observability may not stall the tick loop.
func (p *Publisher) Announce(r Relay) {
	if p == nil {
		return
	}
	select {
	case p.ch <- r:
	default:
		metrics.AnnounceErrors.Inc()
		logger.L.Warn("announcement queue full, dropping relay announcement",
			zap.String("backend", r.Backend.String()),
		)
	}
}

// Close closes the Redis connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.rdb.Close()
}

func (p *Publisher) run(ctx context.Context) {
	retryCfg := retry.Config{MaxRetries: 3, RetryDelay: 100 * time.Millisecond}
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-p.ch:
			err := retry.Do(ctx, retryCfg, func() error {
				writeCtx, cancel := context.WithTimeout(ctx, p.writeTimeout)
				defer cancel()
				return p.rdb.HSet(writeCtx, p.key("relays"), r.Backend.String(), r.Local.String()).Err()
			})
			if err != nil {
				metrics.AnnounceErrors.Inc()
				logger.L.Warn("failed to announce relay",
					zap.String("backend", r.Backend.String()),
					zap.String("relay", r.Local.String()),
					zap.Error(err),
				)
				continue
			}
			logger.L.Debug("announced relay",
				zap.String("backend", r.Backend.String()),
				zap.String("relay", r.Local.String()),
			)
		}
	}
}

// key generates full key with prefix
func (p *Publisher) key(suffix string) string {
	return p.prefix + suffix
}
