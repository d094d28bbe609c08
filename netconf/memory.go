package netconf

import (
	"context"
	"fmt"
	"net/netip"
	"slices"
	"sync"
)

// Operations recorded by Memory.
const (
	OpInterfaces = "Interfaces"
	OpDNSServers = "DNSServers"
	OpSetDNS     = "SetDNSServers"
	OpReset      = "ResetToAutomatic"
	OpFlush      = "FlushCaches"
)

// Call is one recorded provider call.
type Call struct {
	Op    string
	ID    string
	Addrs []netip.Addr
}

type memoryLink struct {
	iface     Interface
	automatic []netip.Addr
	current   []netip.Addr
}

// Memory keeps interfaces and their DNS servers in memory. It backs tests
// and dry runs.
type Memory struct {
	mu     sync.Mutex
	links  map[string]*memoryLink
	order  []string
	calls  []Call
	errors map[string]error
}

// NewMemory returns an empty provider.
func NewMemory() *Memory {
	return &Memory{
		links:  make(map[string]*memoryLink),
		errors: make(map[string]error),
	}
}

// Set adds or replaces an interface whose automatic DNS servers are servers.
func (m *Memory) Set(iface Interface, servers ...netip.Addr) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := iface.ID()
	if _, ok := m.links[id]; !ok {
		m.order = append(m.order, id)
	}

	m.links[id] = &memoryLink{
		iface:     iface.clone(),
		automatic: slices.Clone(servers),
		current:   slices.Clone(servers),
	}
}

// Remove drops the interface with the given ID.
func (m *Memory) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.links, id)
	m.order = slices.DeleteFunc(m.order, func(v string) bool { return v == id })
}

// SetDNS changes the current DNS servers without recording a call, the way
// a DHCP renewal or another program would.
func (m *Memory) SetDNS(id string, servers ...netip.Addr) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l, ok := m.links[id]; ok {
		l.current = slices.Clone(servers)
	}
}

// DNS returns the current DNS servers of an interface.
func (m *Memory) DNS(id string) []netip.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l, ok := m.links[id]; ok {
		return slices.Clone(l.current)
	}

	return nil
}

// Fail makes every following call of op return err. A nil err clears it.
func (m *Memory) Fail(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err == nil {
		delete(m.errors, op)
		return
	}

	m.errors[op] = err
}

// Calls returns the recorded calls in order.
func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.calls)
}

// CallsOf returns the recorded calls of op.
func (m *Memory) CallsOf(op string) []Call {
	m.mu.Lock()
	defer m.mu.Unlock()

	var calls []Call
	for _, c := range m.calls {
		if c.Op == op {
			calls = append(calls, c)
		}
	}

	return calls
}

// ResetCalls forgets the recorded calls.
func (m *Memory) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = nil
}

func (m *Memory) record(op, id string, addrs []netip.Addr) error {
	m.calls = append(m.calls, Call{Op: op, ID: id, Addrs: slices.Clone(addrs)})
	return m.errors[op]
}

// Interfaces returns the interfaces whose domain matches suffix.
func (m *Memory) Interfaces(ctx context.Context, suffix string) ([]Interface, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record(OpInterfaces, "", nil); err != nil {
		return nil, err
	}

	var list []Interface
	for _, id := range m.order {
		l := m.links[id]
		if MatchDomain(l.iface.Domain, suffix) {
			list = append(list, l.iface.clone())
		}
	}

	return list, nil
}

// DNSServers returns the current DNS servers of iface.
func (m *Memory) DNSServers(ctx context.Context, iface Interface) ([]netip.Addr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record(OpDNSServers, iface.ID(), nil); err != nil {
		return nil, err
	}

	l, ok := m.links[iface.ID()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInterface, iface)
	}

	return slices.Clone(l.current), nil
}

// SetDNSServers replaces the DNS servers of iface.
func (m *Memory) SetDNSServers(ctx context.Context, iface Interface, addrs []netip.Addr) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record(OpSetDNS, iface.ID(), addrs); err != nil {
		return err
	}

	l, ok := m.links[iface.ID()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInterface, iface)
	}

	l.current = slices.Clone(addrs)

	return nil
}

// ResetToAutomatic restores the automatic DNS servers of iface.
func (m *Memory) ResetToAutomatic(ctx context.Context, iface Interface) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record(OpReset, iface.ID(), nil); err != nil {
		return err
	}

	l, ok := m.links[iface.ID()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInterface, iface)
	}

	l.current = slices.Clone(l.automatic)

	return nil
}

// FlushCaches records the flush.
func (m *Memory) FlushCaches(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.record(OpFlush, "", nil)
}

// Reader is the read side of a provider.
type Reader interface {
	Interfaces(ctx context.Context, suffix string) ([]Interface, error)
	DNSServers(ctx context.Context, iface Interface) ([]netip.Addr, error)
}

// Snapshot copies the interfaces of src matching suffix and their current
// DNS servers into a new Memory. Changes made through it never reach src.
func Snapshot(ctx context.Context, src Reader, suffix string) (*Memory, error) {
	ifaces, err := src.Interfaces(ctx, suffix)
	if err != nil {
		return nil, err
	}

	m := NewMemory()
	for _, iface := range ifaces {
		servers, err := src.DNSServers(ctx, iface)
		if err != nil {
			return nil, fmt.Errorf("read dns servers of %s: %w", iface, err)
		}

		m.Set(iface, servers...)
	}

	return m, nil
}
