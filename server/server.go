// Package server implements the UDP DNS front end of the proxy.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"
	"github.com/semihalev/zlog/v2"

	"github.com/dnsproxy/dnsproxy/dnsutil"
	"github.com/dnsproxy/dnsproxy/resolver"
)

// Resolver answers a parsed request.
type Resolver interface {
	Resolve(ctx context.Context, req *dns.Msg) (*dns.Msg, error)
}

// Filter decides whether a client may use the server.
type Filter interface {
	Allowed(client netip.Addr) bool
}

// Limiter decides whether a client is within its request rate.
type Limiter interface {
	Allow(client netip.Addr) bool
}

var (
	// ErrMalformed wraps request parse failures.
	ErrMalformed = errors.New("malformed request")

	// ErrReceiveFailed is returned by Serve when the socket kept failing.
	ErrReceiveFailed = errors.New("receive failed repeatedly")

	// ErrServerClosed is returned by Serve after Shutdown or Close.
	ErrServerClosed = errors.New("server closed")

	// ErrPanic wraps a panic recovered while handling a request.
	ErrPanic = errors.New("request handler panicked")
)

// Server type
type Server struct {
	resolver  Resolver
	observers []Observer
	filter    Filter
	limiter   Limiter

	sendTimeout        time.Duration
	maxReceiveFailures int

	mu      sync.Mutex
	conn    *net.UDPConn
	done    chan struct{}
	closed  atomic.Bool
	pending sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithObserver adds an event observer.
func WithObserver(o Observer) Option {
	return func(s *Server) { s.observers = append(s.observers, o) }
}

// WithFilter sets the client access filter.
func WithFilter(f Filter) Option {
	return func(s *Server) { s.filter = f }
}

// WithLimiter sets the client rate limiter.
func WithLimiter(l Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// WithSendTimeout bounds every response write.
func WithSendTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.sendTimeout = d
		}
	}
}

// WithMaxReceiveFailures sets how many consecutive receive errors stop the
// server.
func WithMaxReceiveFailures(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxReceiveFailures = n
		}
	}
}

// New return new server
func New(r Resolver, opts ...Option) *Server {
	s := &Server{
		resolver:           r,
		sendTimeout:        defaultSendTimeout,
		maxReceiveFailures: defaultMaxReceiveFailures,
		done:               make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// ListenAndServe binds addr and serves until Shutdown or Close.
func (s *Server) ListenAndServe(addr string) error {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolve listen address %s: %w", addr, err)
	}

	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	return s.Serve(conn)
}

// Serve runs the receive loop on conn. Every datagram is handled in its own
// goroutine; the loop reads the next datagram right away. Serve returns
// ErrServerClosed once the loop has stopped after Shutdown or Close.
func (s *Server) Serve(conn *net.UDPConn) error {
	s.mu.Lock()
	if s.closed.Load() || s.conn != nil {
		s.mu.Unlock()
		_ = conn.Close()
		return ErrServerClosed
	}
	s.conn = conn
	s.mu.Unlock()

	defer close(s.done)

	addr := conn.LocalAddr().(*net.UDPAddr).AddrPort()

	zlog.Info("DNS server listening...", "net", "udp", "addr", addr.String())
	s.emit(Listening{Addr: addr})

	buf := make([]byte, dns.MaxMsgSize)
	failures := 0

	for {
		n, remote, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if s.closed.Load() || errors.Is(err, net.ErrClosed) {
				return ErrServerClosed
			}

			failures++
			s.emit(Errored{Err: fmt.Errorf("receive: %w", err)})

			if failures >= s.maxReceiveFailures {
				zlog.Error("DNS listener failed", "net", "udp", "addr", addr.String(), "failures", failures, "error", err.Error())
				_ = s.Close()
				return fmt.Errorf("%w: %w", ErrReceiveFailed, err)
			}

			time.Sleep(backoff(failures))
			continue
		}

		failures = 0

		data := make([]byte, n)
		copy(data, buf[:n])

		s.pending.Add(1)
		go s.handle(conn, data, remote)
	}
}

// Addr returns the bound address, or the zero value before Serve.
func (s *Server) Addr() netip.AddrPort {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return netip.AddrPort{}
	}

	return s.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

// Shutdown stops receiving, waits for in-flight requests to be answered or
// for ctx to end, then closes the socket.
func (s *Server) Shutdown(ctx context.Context) error {
	conn := s.stop()
	if conn == nil {
		return nil
	}

	// Unblock the pending read without closing the socket, so in-flight
	// requests can still be answered.
	_ = conn.SetReadDeadline(time.Now())

	select {
	case <-s.done:
	case <-ctx.Done():
		_ = conn.Close()
		return ctx.Err()
	}

	drained := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = ctx.Err()
	}

	if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) && err == nil {
		err = cerr
	}

	return err
}

// Close closes the socket right away. In-flight requests keep resolving
// but their responses can not be sent anymore.
func (s *Server) Close() error {
	conn := s.stop()
	if conn == nil {
		return nil
	}

	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}

	return nil
}

func (s *Server) stop() *net.UDPConn {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed.Store(true)

	return s.conn
}

func (s *Server) handle(conn *net.UDPConn, data []byte, remote netip.AddrPort) {
	defer s.pending.Done()

	var req *dns.Msg

	defer func() {
		if r := recover(); r != nil {
			zlog.Error("Recovered in handle", "recover", fmt.Sprint(r))

			_, _ = os.Stderr.WriteString(fmt.Sprintf("panic: %v\n\n", r))
			debug.PrintStack()

			s.emit(Errored{Err: fmt.Errorf("%w: %v", ErrPanic, r), Remote: remote})

			if req != nil {
				_ = s.send(conn, req, dnsutil.SetRcode(req, dns.RcodeServerFailure), remote)
			}
		}
	}()

	client := remote.Addr().Unmap()

	if s.filter != nil && !s.filter.Allowed(client) {
		zlog.Debug("Client not allowed", "client", client.String())
		return
	}

	if s.limiter != nil && !s.limiter.Allow(client) {
		zlog.Debug("Client rate limited", "client", client.String())
		return
	}

	msg := new(dns.Msg)
	if err := msg.Unpack(data); err != nil {
		s.emit(Errored{Err: fmt.Errorf("%w from %s: %w", ErrMalformed, remote, err), Remote: remote})
		return
	}
	req = msg

	s.emit(Requested{Request: req, Data: data, Remote: remote})

	// Resolutions are never cancelled by shutdown; upstream timeouts bound
	// them.
	resp, err := s.resolver.Resolve(context.Background(), req)
	if err != nil {
		s.emit(Errored{Err: fmt.Errorf("resolve %s: %w", dnsutil.Question(req), err), Remote: remote})

		var rerr *resolver.ResponseError
		if !errors.As(err, &rerr) || rerr.Response == nil {
			resp = dnsutil.SetRcode(req, dns.RcodeServerFailure)
		} else {
			resp = rerr.Response
		}

		resp.Id = req.Id
		if err := s.send(conn, req, resp, remote); err != nil {
			zlog.Debug("Fallback response failed", "client", remote.String(), "error", err.Error())
		}

		return
	}

	resp.Id = req.Id
	if err := s.send(conn, req, resp, remote); err != nil {
		s.emit(Errored{Err: fmt.Errorf("send response to %s: %w", remote, err), Remote: remote})
		return
	}

	s.emit(Responded{Request: req, Response: resp, Data: data, Remote: remote})
}

func (s *Server) send(conn *net.UDPConn, req, resp *dns.Msg, remote netip.AddrPort) error {
	resp.Truncate(dnsutil.UDPSize(req))

	out, err := resp.Pack()
	if err != nil {
		return err
	}

	// The deadline is shared by every handler. A concurrent writer may set
	// an earlier one, which can only shorten this write.
	if err := conn.SetWriteDeadline(time.Now().Add(s.sendTimeout)); err != nil {
		return err
	}

	_, err = conn.WriteToUDPAddrPort(out, remote)

	return err
}

func (s *Server) emit(e Event) {
	for _, o := range s.observers {
		o.Observe(e)
	}
}

func backoff(failures int) time.Duration {
	d := minBackoff << (failures - 1)
	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}

	return d
}

const (
	defaultSendTimeout        = 2 * time.Second
	defaultMaxReceiveFailures = 16

	minBackoff = 10 * time.Millisecond
	maxBackoff = time.Second
)
