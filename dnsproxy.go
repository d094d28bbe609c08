package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/semihalev/zlog/v2"
	"golang.org/x/sync/errgroup"

	"github.com/dnsproxy/dnsproxy/accesslist"
	"github.com/dnsproxy/dnsproxy/accesslog"
	"github.com/dnsproxy/dnsproxy/api"
	"github.com/dnsproxy/dnsproxy/config"
	"github.com/dnsproxy/dnsproxy/metrics"
	"github.com/dnsproxy/dnsproxy/monitor"
	"github.com/dnsproxy/dnsproxy/netconf"
	"github.com/dnsproxy/dnsproxy/ratelimit"
	"github.com/dnsproxy/dnsproxy/resolver"
	"github.com/dnsproxy/dnsproxy/server"
	"github.com/dnsproxy/dnsproxy/upstream"
)

const shutdownTimeout = 10 * time.Second

// run wires the components and blocks until ctx is done or the server
// fails. Interfaces are restored before it returns.
func run(ctx context.Context, cfg *config.Config, dryRun bool) error {
	proxyAddrs, err := cfg.ProxyAddresses()
	if err != nil {
		return err
	}

	// Resolved before any interface points at the proxy.
	good, err := config.LoadGoodServers(ctx, cfg, config.SystemLookup)
	if err != nil {
		return err
	}

	client := upstream.New(cfg.Timeout.Duration)

	r, err := resolver.New(client, good)
	if err != nil {
		return err
	}

	provider, closeProvider, err := newProvider(ctx, cfg, dryRun)
	if err != nil {
		return err
	}
	defer closeProvider()

	alog := accesslog.New(cfg.AccessLog)
	defer alog.Close()

	m, err := metrics.New(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	opts := []server.Option{
		server.WithObserver(alog),
		server.WithObserver(m),
		server.WithFilter(accesslist.New(cfg.AccessList)),
		server.WithSendTimeout(cfg.SendTimeout.Duration),
	}

	if cfg.ClientRateLimit > 0 {
		rl := ratelimit.New(cfg.ClientRateLimit, 0)
		go rl.Run(ctx, time.Minute)
		opts = append(opts, server.WithLimiter(rl))
	}

	srv := server.New(r, opts...)

	// Bind before redirecting anything, a taken port must not leave the
	// host without DNS.
	laddr, err := net.ResolveUDPAddr("udp", cfg.Bind)
	if err != nil {
		return fmt.Errorf("resolve bind address %s: %w", cfg.Bind, err)
	}

	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Bind, err)
	}

	if laddr.Port != 53 {
		zlog.Warn("Bind port is not 53, redirected interfaces will not reach the proxy", "bind", cfg.Bind)
	}

	mon := monitor.New(provider, r, newProber(cfg), monitor.Config{
		DomainSuffix: cfg.DomainSuffix,
		ProxyAddrs:   proxyAddrs,
		ProbeDomain:  cfg.ProbeDomain,
		Interval:     cfg.PollInterval.Duration,
		StepTimeout:  cfg.StepTimeout.Duration,
	})

	api.New(cfg.API, version, r, mon).Run(ctx)

	if cfg.GoodServersCache != "" {
		watchGoodServers(ctx, cfg.GoodServersCache, r)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Serve(conn); !errors.Is(err, server.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return mon.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()

		// Keep answering until every interface is restored.
		<-mon.Done()

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(sctx); err != nil {
			zlog.Warn("DNS server shutdown incomplete", "error", err.Error())
		}

		return nil
	})

	return g.Wait()
}

// newProber uses a client of its own, probetimeout and timeout are
// independent.
func newProber(cfg *config.Config) *resolver.Prober {
	return &resolver.Prober{
		Client:  upstream.New(cfg.ProbeTimeout.Duration),
		Rounds:  cfg.ProbeRounds,
		Timeout: cfg.ProbeTimeout.Duration,
	}
}

func newProvider(ctx context.Context, cfg *config.Config, dryRun bool) (monitor.Provider, func(), error) {
	resolved, err := netconf.NewResolved()

	if dryRun {
		if err != nil {
			zlog.Warn("Interface DNS settings unavailable, dry run starts without servers", "error", err.Error())
			return hostSnapshot(cfg.DomainSuffix), func() {}, nil
		}
		defer resolved.Close()

		mem, err := netconf.Snapshot(ctx, resolved, cfg.DomainSuffix)
		if err != nil {
			return nil, nil, err
		}

		return mem, func() {}, nil
	}

	if err != nil {
		return nil, nil, fmt.Errorf("interface provider: %w", err)
	}

	return resolved, func() {
		if err := resolved.Close(); err != nil {
			zlog.Debug("Interface provider close failed", "error", err.Error())
		}
	}, nil
}

func hostSnapshot(suffix string) *netconf.Memory {
	mem := netconf.NewMemory()

	ifaces, err := netconf.HostInterfaces()
	if err != nil {
		zlog.Warn("Interface listing failed", "error", err.Error())
		return mem
	}

	for _, iface := range ifaces {
		if netconf.MatchDomain(iface.Domain, suffix) {
			mem.Set(iface)
		}
	}

	return mem
}

func watchGoodServers(ctx context.Context, path string, r *resolver.Resolver) {
	err := config.WatchGoodServers(ctx, path, func(entries []string) {
		servers, err := config.ParseServers(ctx, entries, config.SystemLookup)
		if err != nil {
			zlog.Warn("Good servers reload failed", "path", path, "error", err.Error())
			return
		}

		for _, s := range servers {
			if r.AddGoodServer(s) {
				zlog.Info("Good DNS server", "server", s.String())
			}
		}
	})
	if err != nil {
		zlog.Warn("Good servers watch failed", "path", path, "error", err.Error())
	}
}
