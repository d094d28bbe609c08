// Package upstream sends single DNS queries to upstream resolvers.
package upstream

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/miekg/dns"
)

// DefaultTimeout bounds one exchange when no timeout is configured.
const DefaultTimeout = 2 * time.Second

// Exchanger sends one query to one server.
type Exchanger interface {
	Exchange(ctx context.Context, server netip.AddrPort, req *dns.Msg) (*dns.Msg, error)
}

// Client is a plain UDP exchanger. Every call uses its own socket; there are
// no retries.
type Client struct {
	timeout time.Duration
}

// Error is returned for any transport failure of an exchange.
type Error struct {
	Server netip.AddrPort
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("upstream %s: %s", e.Server, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New return new client
func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{timeout: timeout}
}

// Timeout returns the per exchange bound.
func (c *Client) Timeout() time.Duration { return c.timeout }

// Exchange sends req to server and waits for the matching reply.
func (c *Client) Exchange(ctx context.Context, server netip.AddrPort, req *dns.Msg) (*dns.Msg, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	dc := &dns.Client{
		Net:     "udp",
		UDPSize: dns.DefaultMsgSize,
		Timeout: c.timeout,
	}

	resp, _, err := dc.ExchangeContext(ctx, req, server.String())
	if err != nil {
		return nil, &Error{Server: server, Err: err}
	}

	if resp.Id != req.Id {
		return nil, &Error{Server: server, Err: dns.ErrId}
	}

	return resp, nil
}

// ParseServer parses "ip" or "ip:port" into an address with port 53 as
// default.
func ParseServer(s string) (netip.AddrPort, error) {
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
	}

	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("invalid server address %q", s)
	}

	return netip.AddrPortFrom(addr.Unmap(), DefaultPort), nil
}

// ServerFromAddr returns addr on the default DNS port.
func ServerFromAddr(addr netip.Addr) netip.AddrPort {
	return netip.AddrPortFrom(addr.Unmap(), DefaultPort)
}

// DefaultPort of DNS servers
const DefaultPort = 53
