// Package resolver implements the untrusted/trusted upstream fallback with
// tamper detection.
//
// Every query is sent to the untrusted ("bad") servers first, in order. Their
// answer is used unless it is empty or contains an address known to be
// returned by the untrusted resolver for a probe domain (a tamper
// signature). In that case the trusted ("good") servers are asked instead.
package resolver

import (
	"context"
	"net/netip"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/miekg/dns"
	"github.com/semihalev/zlog/v2"

	"github.com/dnsproxy/dnsproxy/dnsutil"
	"github.com/dnsproxy/dnsproxy/upstream"
)

// Resolver type
type Resolver struct {
	client upstream.Exchanger

	mu    sync.Mutex // serializes writers
	state atomic.Pointer[state]
}

// New return new resolver. The good servers are tried in the given order.
func New(client upstream.Exchanger, good []netip.AddrPort) (*Resolver, error) {
	if len(good) == 0 {
		return nil, ErrNoGoodServers
	}

	r := &Resolver{client: client}
	r.state.Store(&state{signatures: make(map[netip.Addr]struct{})})

	for _, server := range good {
		if r.AddGoodServer(server) {
			zlog.Info("Good DNS server", "server", server.String())
		}
	}

	return r, nil
}

// AddBadServer appends an untrusted server. It returns false if the server
// is already known.
func (r *Resolver) AddBadServer(server netip.AddrPort) bool {
	return r.update(func(s *state) bool {
		if containsServer(s.bad, server) {
			return false
		}

		s.bad = append(s.bad, unmapServer(server))
		badServers.Set(float64(len(s.bad)))

		return true
	})
}

// AddGoodServer appends a trusted server. It returns false if the server is
// already known.
func (r *Resolver) AddGoodServer(server netip.AddrPort) bool {
	return r.update(func(s *state) bool {
		if containsServer(s.good, server) {
			return false
		}

		s.good = append(s.good, unmapServer(server))

		return true
	})
}

// AddTamperSignature registers an address returned by a tampering resolver.
func (r *Resolver) AddTamperSignature(addr netip.Addr) bool {
	addr = addr.Unmap()

	return r.update(func(s *state) bool {
		if _, ok := s.signatures[addr]; ok {
			return false
		}

		s.signatures[addr] = struct{}{}
		tamperSignatures.Set(float64(len(s.signatures)))

		return true
	})
}

// update applies fn to a copy of the current state and publishes the copy
// when fn reports a change.
func (r *Resolver) update(fn func(*state) bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.state.Load().clone()
	if !fn(next) {
		return false
	}

	r.state.Store(next)

	return true
}

// BadServers returns the untrusted servers in query order.
func (r *Resolver) BadServers() []netip.AddrPort {
	return slices.Clone(r.state.Load().bad)
}

// GoodServers returns the trusted servers in query order.
func (r *Resolver) GoodServers() []netip.AddrPort {
	return slices.Clone(r.state.Load().good)
}

// TamperSignatures returns the known tamper signature addresses, sorted.
func (r *Resolver) TamperSignatures() []netip.Addr {
	s := r.state.Load()

	addrs := make([]netip.Addr, 0, len(s.signatures))
	for addr := range s.signatures {
		addrs = append(addrs, addr)
	}

	slices.SortFunc(addrs, func(a, b netip.Addr) int { return a.Compare(b) })

	return addrs
}

// Resolve answers req. The returned message always carries the request id.
func (r *Resolver) Resolve(ctx context.Context, req *dns.Msg) (*dns.Msg, error) {
	// One snapshot for the whole resolution.
	s := r.state.Load()

	if len(s.bad) == 0 && len(s.good) == 0 {
		resolutions.WithLabelValues(pathFailed).Inc()
		return nil, ErrNoUpstreams
	}

	query := dnsutil.Question(req)

	badResult, badErr := r.walk(ctx, pathBad, s.bad, req)
	if dnsutil.HasRecords(badResult) {
		if !s.tampered(dnsutil.Addresses(badResult)) {
			resolutions.WithLabelValues(pathBad).Inc()
			logAnswer(pathBad, query, badResult)

			return reply(req, badResult), nil
		}

		tamperDetections.Inc()
		zlog.Info("Tampered answer discarded", "query", query, "answer", dnsutil.Addresses(badResult))

		// Never hand a tampered answer back, not even as a partial response.
		badResult = nil
	}

	goodResult, goodErr := r.walk(ctx, pathGood, s.good, req)
	if goodResult == nil {
		resolutions.WithLabelValues(pathFailed).Inc()

		err := goodErr
		if err == nil {
			err = badErr
		}
		if err == nil {
			err = ErrNoUpstreams
		}

		var partial *dns.Msg
		if badResult != nil {
			partial = reply(req, badResult)
		}

		return nil, &ResponseError{Response: partial, Err: err}
	}

	resolutions.WithLabelValues(pathGood).Inc()
	logAnswer(pathGood, query, goodResult)

	return reply(req, goodResult), nil
}

// walk queries servers in order and stops at the first reply with records.
// It returns the last reply received, or the last transport error when no
// server replied.
func (r *Resolver) walk(ctx context.Context, chain string, servers []netip.AddrPort, req *dns.Msg) (*dns.Msg, error) {
	var (
		result  *dns.Msg
		lastErr error
	)

	for _, server := range servers {
		resp, err := r.client.Exchange(ctx, server, req)
		if err != nil {
			upstreamFailures.WithLabelValues(chain).Inc()
			zlog.Debug("Upstream query failed", "chain", chain, "query", dnsutil.Question(req), "error", err.Error())

			lastErr = err
			if ctx.Err() != nil {
				break
			}

			continue
		}

		result = resp
		if dnsutil.HasRecords(resp) {
			break
		}
	}

	if result != nil {
		return result, nil
	}

	return nil, lastErr
}

func reply(req, resp *dns.Msg) *dns.Msg {
	resp.Id = req.Id
	return resp
}

func logAnswer(path, query string, resp *dns.Msg) {
	for _, rr := range resp.Answer {
		zlog.Debug("Answer", "path", path, "query", query, "rr", rr.String())
	}
}

func unmapServer(server netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(server.Addr().Unmap(), server.Port())
}
