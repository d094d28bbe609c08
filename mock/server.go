// Package mock provides local DNS servers for tests.
package mock

import (
	"net"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/miekg/dns"
)

// Server is a UDP DNS server on the loopback interface.
type Server struct {
	srv  *dns.Server
	addr netip.AddrPort

	queries atomic.Int64
}

// NewServer starts a server answering with handler on 127.0.0.1 and a
// random port.
func NewServer(handler dns.Handler) (*Server, error) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	s := &Server{addr: pc.LocalAddr().(*net.UDPAddr).AddrPort()}

	started := make(chan struct{})
	var once sync.Once

	s.srv = &dns.Server{
		PacketConn: pc,
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
			s.queries.Add(1)
			handler.ServeDNS(w, r)
		}),
		NotifyStartedFunc: func() { once.Do(func() { close(started) }) },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.ActivateAndServe()
	}()

	select {
	case <-started:
	case err := <-errCh:
		return nil, err
	}

	return s, nil
}

// Addr returns the listening address.
func (s *Server) Addr() netip.AddrPort { return s.addr }

// Queries returns how many queries the server received.
func (s *Server) Queries() int { return int(s.queries.Load()) }

// Close stops the server.
func (s *Server) Close() error { return s.srv.Shutdown() }

// Answer returns a handler answering A and AAAA questions with the given
// addresses of the matching family. Other questions get an empty reply.
func Answer(addrs ...string) dns.HandlerFunc {
	return func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)

		q := r.Question[0]
		for _, s := range addrs {
			ip := net.ParseIP(s)
			if ip == nil {
				continue
			}

			hdr := dns.RR_Header{Name: q.Name, Rrtype: q.Qtype, Class: dns.ClassINET, Ttl: 60}
			switch {
			case q.Qtype == dns.TypeA && ip.To4() != nil:
				m.Answer = append(m.Answer, &dns.A{Hdr: hdr, A: ip.To4()})
			case q.Qtype == dns.TypeAAAA && ip.To4() == nil:
				m.Answer = append(m.Answer, &dns.AAAA{Hdr: hdr, AAAA: ip})
			}
		}

		_ = w.WriteMsg(m)
	}
}

// Empty returns a handler replying NOERROR without records.
func Empty() dns.HandlerFunc {
	return func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		_ = w.WriteMsg(m)
	}
}

// Rcode returns a handler replying with rcode and no records.
func Rcode(rcode int) dns.HandlerFunc {
	return func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetRcode(r, rcode)
		_ = w.WriteMsg(m)
	}
}

// Silent returns a handler that never replies.
func Silent() dns.HandlerFunc {
	return func(w dns.ResponseWriter, r *dns.Msg) {}
}

// Block returns a handler that holds every query until release is closed,
// then delegates to next.
func Block(release <-chan struct{}, next dns.Handler) dns.HandlerFunc {
	return func(w dns.ResponseWriter, r *dns.Msg) {
		<-release
		next.ServeDNS(w, r)
	}
}
