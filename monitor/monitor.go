// Package monitor keeps the DNS configuration of matching interfaces pointed
// at the proxy.
//
// Every interval the monitor lists the interfaces, compares them by hardware
// address with the ones it manages, restores the automatic configuration of
// interfaces that went away and sets up new ones. Setting up an interface
// registers its current DNS servers as untrusted servers, probes them for
// tamper signatures and points the interface at the proxy.
package monitor

import (
	"context"
	"fmt"
	"net/netip"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/semihalev/zlog/v2"

	"github.com/dnsproxy/dnsproxy/netconf"
	"github.com/dnsproxy/dnsproxy/upstream"
)

// Provider reads and changes the DNS configuration of interfaces.
type Provider interface {
	Interfaces(ctx context.Context, suffix string) ([]netconf.Interface, error)
	DNSServers(ctx context.Context, iface netconf.Interface) ([]netip.Addr, error)
	SetDNSServers(ctx context.Context, iface netconf.Interface, addrs []netip.Addr) error
	ResetToAutomatic(ctx context.Context, iface netconf.Interface) error
}

// Flusher is implemented by providers that keep a DNS cache of their own.
type Flusher interface {
	FlushCaches(ctx context.Context) error
}

// Registry receives untrusted servers and tamper signatures.
type Registry interface {
	AddBadServer(server netip.AddrPort) bool
	AddTamperSignature(addr netip.Addr) bool
}

// Prober learns the tamper signatures of untrusted servers.
type Prober interface {
	Probe(ctx context.Context, servers []netip.AddrPort, domain string) ([]netip.Addr, error)
}

// Config type
type Config struct {
	// Only interfaces whose domain ends with DomainSuffix are managed.
	DomainSuffix string

	// ProxyAddrs are written as DNS servers of managed interfaces.
	ProxyAddrs []netip.Addr

	ProbeDomain string

	Interval time.Duration

	// StepTimeout bounds listing the interfaces and the setup or reset of
	// each one. A setup spends at most half of it probing, the redirect
	// gets a fresh StepTimeout of its own.
	StepTimeout time.Duration
}

// Monitor type
type Monitor struct {
	provider Provider
	registry Registry
	prober   Prober
	cfg      Config

	cycleMu sync.Mutex // one cycle or teardown at a time

	mu      sync.RWMutex
	tracked map[string]netconf.Interface

	done chan struct{}
}

// New return new monitor
func New(provider Provider, registry Registry, prober Prober, cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}

	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = DefaultStepTimeout
	}

	if cfg.ProbeDomain == "" {
		cfg.ProbeDomain = DefaultProbeDomain
	}

	proxy := make([]netip.Addr, 0, len(cfg.ProxyAddrs))
	for _, addr := range cfg.ProxyAddrs {
		proxy = append(proxy, addr.Unmap())
	}
	cfg.ProxyAddrs = proxy

	return &Monitor{
		provider: provider,
		registry: registry,
		prober:   prober,
		cfg:      cfg,
		tracked:  make(map[string]netconf.Interface),
		done:     make(chan struct{}),
	}
}

// Run runs a cycle right away and then every interval until ctx is done.
// Before it returns every managed interface is reset to automatic. Run must
// be called only once.
func (m *Monitor) Run(ctx context.Context) error {
	defer close(m.done)

	zlog.Info("Interface monitor started", "interval", m.cfg.Interval.String(), "suffix", m.cfg.DomainSuffix)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		m.runCycle(ctx)

		select {
		case <-ctx.Done():
			m.teardown(ctx)
			zlog.Info("Interface monitor stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Done is closed once Run has restored every interface.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

// runCycle never hands the cancellation of ctx down, so an interface is
// never left half configured.
func (m *Monitor) runCycle(ctx context.Context) {
	if err := m.Cycle(context.WithoutCancel(ctx)); err != nil {
		zlog.Warn("Interface cycle failed", "error", err.Error())
	}
}

// Cycle compares the current interfaces with the managed ones and applies
// the difference. It returns an error only if the interfaces could not be
// listed; per-interface failures are logged and retried next cycle. Every
// step runs under its own StepTimeout derived from ctx.
func (m *Monitor) Cycle(ctx context.Context) error {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	lctx, cancel := m.bounded(ctx)
	ifaces, err := m.provider.Interfaces(lctx, m.cfg.DomainSuffix)
	cancel()
	if err != nil {
		return fmt.Errorf("list interfaces: %w", err)
	}

	current := make(map[string]netconf.Interface, len(ifaces))
	for _, iface := range ifaces {
		if _, ok := current[iface.ID()]; !ok {
			current[iface.ID()] = iface
		}
	}

	var changed bool
	for _, iface := range m.Tracked() {
		if _, ok := current[iface.ID()]; ok {
			continue
		}

		rctx, cancel := m.bounded(ctx)
		m.reset(rctx, iface)
		cancel()

		m.untrack(iface)
		changed = true
	}

	for _, iface := range ifaces {
		if m.isTracked(iface) {
			continue
		}

		sctx, cancel := m.bounded(ctx)
		err := m.setup(sctx, iface)
		cancel()

		if err != nil {
			interfaceChanges.WithLabelValues("setup", "failed").Inc()
			zlog.Warn("Interface setup failed", "interface", iface.String(), "error", err.Error())
			continue
		}

		interfaceChanges.WithLabelValues("setup", "ok").Inc()
		m.track(iface)
		changed = true
	}

	if changed {
		m.flush(ctx)
	}

	return nil
}

// bounded derives the context of one step of a cycle.
func (m *Monitor) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.cfg.StepTimeout)
}

func (m *Monitor) setup(ctx context.Context, iface netconf.Interface) error {
	servers, err := m.provider.DNSServers(ctx, iface)
	if err != nil {
		return fmt.Errorf("read dns servers: %w", err)
	}

	// Still pointed at the proxy by an earlier run.
	if m.hasProxy(servers) {
		zlog.Info("Interface already redirected, restoring automatic configuration", "interface", iface.String())

		if err := m.provider.ResetToAutomatic(ctx, iface); err != nil {
			return fmt.Errorf("reset stale configuration: %w", err)
		}

		if servers, err = m.provider.DNSServers(ctx, iface); err != nil {
			return fmt.Errorf("read dns servers: %w", err)
		}
	}

	var bad []netip.AddrPort
	for _, addr := range servers {
		if m.isProxy(addr) {
			continue
		}

		server := upstream.ServerFromAddr(iface.Scoped(addr))
		if m.registry.AddBadServer(server) {
			zlog.Info("Bad DNS server", "server", server.String(), "interface", iface.String())
		}
		bad = append(bad, server)
	}

	if len(bad) > 0 && m.prober != nil {
		m.probe(ctx, iface, bad)
	}

	// A slow probe must not leave the redirect without time.
	rctx, cancel := m.bounded(context.WithoutCancel(ctx))
	defer cancel()

	if err := m.provider.SetDNSServers(rctx, iface, m.cfg.ProxyAddrs); err != nil {
		return fmt.Errorf("redirect dns: %w", err)
	}

	zlog.Info("Interface redirected", "interface", iface.String(), "domain", iface.Domain,
		"bad", joinServers(bad), "proxy", joinAddrs(m.cfg.ProxyAddrs))

	return nil
}

func (m *Monitor) probe(ctx context.Context, iface netconf.Interface, bad []netip.AddrPort) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.StepTimeout/2)
	defer cancel()

	sigs, err := m.prober.Probe(ctx, bad, m.cfg.ProbeDomain)
	if err != nil {
		zlog.Warn("Tamper probe failed", "interface", iface.String(), "domain", m.cfg.ProbeDomain, "error", err.Error())
	}

	for _, addr := range sigs {
		if m.registry.AddTamperSignature(addr) {
			zlog.Info("Tamper signature", "addr", addr.String(), "domain", m.cfg.ProbeDomain)
		}
	}
}

func (m *Monitor) reset(ctx context.Context, iface netconf.Interface) {
	if err := m.provider.ResetToAutomatic(ctx, iface); err != nil {
		interfaceChanges.WithLabelValues("reset", "failed").Inc()
		zlog.Warn("Interface reset failed", "interface", iface.String(), "error", err.Error())
		return
	}

	interfaceChanges.WithLabelValues("reset", "ok").Inc()
	zlog.Info("Interface restored", "interface", iface.String())
}

func (m *Monitor) teardown(ctx context.Context) {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	ctx = context.WithoutCancel(ctx)

	tracked := m.Tracked()
	for _, iface := range tracked {
		rctx, cancel := m.bounded(ctx)
		m.reset(rctx, iface)
		cancel()

		m.untrack(iface)
	}

	if len(tracked) > 0 {
		m.flush(ctx)
	}
}

func (m *Monitor) flush(ctx context.Context) {
	f, ok := m.provider.(Flusher)
	if !ok {
		return
	}

	ctx, cancel := m.bounded(ctx)
	defer cancel()

	if err := f.FlushCaches(ctx); err != nil {
		zlog.Debug("DNS cache flush failed", "error", err.Error())
	}
}

// Tracked returns the managed interfaces ordered by name.
func (m *Monitor) Tracked() []netconf.Interface {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]netconf.Interface, 0, len(m.tracked))
	for _, iface := range m.tracked {
		list = append(list, iface)
	}

	slices.SortFunc(list, func(a, b netconf.Interface) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ID(), b.ID())
	})

	return list
}

func (m *Monitor) isTracked(iface netconf.Interface) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.tracked[iface.ID()]
	return ok
}

func (m *Monitor) track(iface netconf.Interface) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tracked[iface.ID()] = iface
	managedInterfaces.Set(float64(len(m.tracked)))
}

func (m *Monitor) untrack(iface netconf.Interface) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.tracked, iface.ID())
	managedInterfaces.Set(float64(len(m.tracked)))
}

func (m *Monitor) isProxy(addr netip.Addr) bool {
	return slices.Contains(m.cfg.ProxyAddrs, addr.Unmap())
}

func (m *Monitor) hasProxy(addrs []netip.Addr) bool {
	return slices.ContainsFunc(addrs, m.isProxy)
}

func joinServers(servers []netip.AddrPort) string {
	list := make([]string, 0, len(servers))
	for _, s := range servers {
		list = append(list, s.String())
	}
	return strings.Join(list, ",")
}

func joinAddrs(addrs []netip.Addr) string {
	list := make([]string, 0, len(addrs))
	for _, a := range addrs {
		list = append(list, a.String())
	}
	return strings.Join(list, ",")
}

const (
	// DefaultInterval between two cycles.
	DefaultInterval = time.Second

	// DefaultStepTimeout bounds one interface change, probes included.
	DefaultStepTimeout = 30 * time.Second

	// DefaultProbeDomain is queried to learn tamper signatures.
	DefaultProbeDomain = "fastmail.com"
)
