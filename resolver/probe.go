package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/semihalev/zlog/v2"
	"golang.org/x/sync/errgroup"

	"github.com/dnsproxy/dnsproxy/dnsutil"
	"github.com/dnsproxy/dnsproxy/upstream"
)

// Prober asks untrusted servers directly for a probe domain. Whatever they
// answer becomes a tamper signature.
type Prober struct {
	Client upstream.Exchanger

	// Rounds over the full server set. Some resolvers drop the first
	// query of a family, later rounds pick up what earlier ones missed.
	Rounds int

	// Timeout bounds each probe query.
	Timeout time.Duration
}

// ErrProbeFailed is returned when not a single probe query got a reply.
var ErrProbeFailed = errors.New("probe failed")

// Probe returns the deduplicated A and AAAA addresses the servers return for
// domain.
func (p *Prober) Probe(ctx context.Context, servers []netip.AddrPort, domain string) ([]netip.Addr, error) {
	rounds := p.Rounds
	if rounds <= 0 {
		rounds = DefaultProbeRounds
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = upstream.DefaultTimeout
	}

	var (
		mu        sync.Mutex
		seen      = make(map[netip.Addr]struct{})
		addrs     []netip.Addr
		succeeded int
		lastErr   error
	)

	collect := func(found []netip.Addr, err error) bool {
		mu.Lock()
		defer mu.Unlock()

		if err != nil {
			lastErr = err
			return false
		}

		succeeded++
		for _, addr := range found {
			if _, ok := seen[addr]; ok {
				continue
			}

			seen[addr] = struct{}{}
			addrs = append(addrs, addr)
		}

		return true
	}

	for round := 0; round < rounds; round++ {
		var (
			failedMu sync.Mutex
			failed   bool
		)

		g, gctx := errgroup.WithContext(ctx)
		for _, server := range servers {
			g.Go(func() error {
				for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
					found, err := p.query(gctx, timeout, server, domain, qtype)
					if !collect(found, err) {
						zlog.Debug("Probe query failed", "server", server.String(), "domain", domain,
							"qtype", dns.TypeToString[qtype], "round", round+1, "error", err.Error())

						failedMu.Lock()
						failed = true
						failedMu.Unlock()
					}
				}

				return gctx.Err()
			})
		}

		if err := g.Wait(); err != nil {
			return addrs, err
		}

		if !failed {
			break
		}
	}

	if succeeded == 0 && len(servers) > 0 {
		return nil, fmt.Errorf("%w: %s: %w", ErrProbeFailed, domain, lastErr)
	}

	slices.SortFunc(addrs, func(a, b netip.Addr) int { return a.Compare(b) })

	return addrs, nil
}

func (p *Prober) query(ctx context.Context, timeout time.Duration, server netip.AddrPort, domain string, qtype uint16) ([]netip.Addr, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := new(dns.Msg)
	req.SetQuestion(dns.Fqdn(domain), qtype)
	req.RecursionDesired = true

	resp, err := p.Client.Exchange(ctx, server, req)
	if err != nil {
		return nil, err
	}

	return dnsutil.Addresses(resp), nil
}

// DefaultProbeRounds is used when Prober.Rounds is not set.
const DefaultProbeRounds = 3
