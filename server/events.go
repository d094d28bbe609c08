package server

import (
	"net/netip"

	"github.com/miekg/dns"
)

// Event is emitted by the server. It is one of Listening, Requested,
// Responded or Errored.
type Event interface {
	event()
}

// Listening is emitted once the socket is bound.
type Listening struct {
	Addr netip.AddrPort
}

// Requested is emitted for every request that was parsed.
type Requested struct {
	Request *dns.Msg
	Data    []byte
	Remote  netip.AddrPort
}

// Responded is emitted after a response was sent.
type Responded struct {
	Request  *dns.Msg
	Response *dns.Msg
	Data     []byte
	Remote   netip.AddrPort
}

// Errored is emitted for malformed requests, resolution failures, send
// failures and receive failures. Remote is the zero value for receive
// failures.
type Errored struct {
	Err    error
	Remote netip.AddrPort
}

func (Listening) event() {}
func (Requested) event() {}
func (Responded) event() {}
func (Errored) event()   {}

// Observer receives server events. Observe is called from the receive loop
// and from request goroutines concurrently and must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Observe calls f(e).
func (f ObserverFunc) Observe(e Event) { f(e) }
