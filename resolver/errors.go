package resolver

import (
	"errors"
	"fmt"

	"github.com/miekg/dns"
)

var (
	// ErrNoGoodServers is returned by New when no trusted server is given.
	ErrNoGoodServers = errors.New("at least one good DNS server must be configured")

	// ErrNoUpstreams means neither chain could be consulted. It can only
	// happen when the resolver was not built with New.
	ErrNoUpstreams = errors.New("no upstream servers configured")
)

// ResponseError is a resolution failure that may still carry a response
// worth sending back to the client.
type ResponseError struct {
	Response *dns.Msg
	Err      error
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("resolve failed: %s", e.Err)
}

func (e *ResponseError) Unwrap() error { return e.Err }
