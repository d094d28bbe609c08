// Package ratelimit limits the request rate of each client.
package ratelimit

import (
	"context"
	"net/netip"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/semihalev/zlog/v2"
)

var limited = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "dnsproxy_ratelimited_total",
	Help: "Requests dropped because the client exceeded its rate",
})

func init() {
	prometheus.MustRegister(limited)
}

// RateLimit type
type RateLimit struct {
	store *clientStore
	rate  int
}

// New return a limiter allowing perMinute requests per client, bursts of
// the same size included. Zero disables limiting.
func New(perMinute, maxClients int) *RateLimit {
	if maxClients <= 0 {
		maxClients = defaultMaxClients
	}

	return &RateLimit{
		store: newClientStore(maxClients, perMinute),
		rate:  perMinute,
	}
}

// Allow reports whether client is within its rate. Loopback clients are
// never limited.
func (r *RateLimit) Allow(client netip.Addr) bool {
	if r.rate <= 0 {
		return true
	}

	client = client.Unmap()
	if !client.IsValid() || client.IsLoopback() {
		return true
	}

	if r.store.allow(key(client)) {
		return true
	}

	limited.Inc()

	return false
}

// Run drops idle limiters every interval until ctx is done.
func (r *RateLimit) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.store.expire(idleTimeout); n > 0 {
				zlog.Debug("Idle rate limiters dropped", "count", n, "clients", r.store.len())
			}
		}
	}
}

func key(client netip.Addr) uint64 {
	b := client.As16()
	return xxhash.Sum64(b[:])
}

const (
	defaultMaxClients = 256 * 100
	idleTimeout       = 10 * time.Minute
)
