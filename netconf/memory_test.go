package netconf

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	ethernet = Interface{HardwareAddr: "AA:BB:CC:00:00:01", Index: 2, Name: "eth0", Domain: "corp.example.com"}
	wireless = Interface{HardwareAddr: "aa:bb:cc:00:00:02", Index: 3, Name: "wlan0", Domain: "home.lan"}

	isp = netip.MustParseAddr("192.0.2.53")
)

func Test_InterfaceID(t *testing.T) {
	assert.Equal(t, "aa:bb:cc:00:00:01", ethernet.ID())
	assert.Equal(t, "eth0 (aa:bb:cc:00:00:01)", ethernet.String())
	assert.Equal(t, "aa:bb:cc:00:00:03", Interface{HardwareAddr: "aa:bb:cc:00:00:03"}.String())
}

func Test_InterfaceScoped(t *testing.T) {
	assert.Equal(t, netip.MustParseAddr("fe80::1%eth0"), ethernet.Scoped(netip.MustParseAddr("fe80::1")))
	assert.Equal(t, netip.MustParseAddr("fe80::1%wlan0"), ethernet.Scoped(netip.MustParseAddr("fe80::1%wlan0")))
	assert.Equal(t, netip.MustParseAddr("2001:db8::53"), ethernet.Scoped(netip.MustParseAddr("2001:db8::53")))
	assert.Equal(t, netip.MustParseAddr("169.254.0.53"), ethernet.Scoped(netip.MustParseAddr("169.254.0.53")))
	assert.Equal(t, netip.MustParseAddr("192.0.2.53"), ethernet.Scoped(netip.MustParseAddr("::ffff:192.0.2.53")))
}

func Test_MatchDomain(t *testing.T) {
	tests := []struct {
		domain, suffix string
		want           bool
	}{
		{"corp.example.com", "example.com", true},
		{"corp.example.com.", "EXAMPLE.com", true},
		{"home.lan", "example.com", false},
		{"", "example.com", false},
		{"", "", true},
		{"anything", ".", true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, MatchDomain(tt.domain, tt.suffix), "%q / %q", tt.domain, tt.suffix)
	}
}

func Test_MemoryInterfaces(t *testing.T) {
	m := NewMemory()
	m.Set(ethernet, isp)
	m.Set(wireless)

	ctx := context.Background()

	list, err := m.Interfaces(ctx, "")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, ethernet.ID(), list[0].ID())
	assert.Equal(t, wireless.ID(), list[1].ID())

	list, err = m.Interfaces(ctx, "example.com")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "eth0", list[0].Name)

	m.Remove(ethernet.ID())

	list, err = m.Interfaces(ctx, "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, wireless.ID(), list[0].ID())
}

func Test_MemoryDNS(t *testing.T) {
	m := NewMemory()
	m.Set(ethernet, isp)

	ctx := context.Background()
	proxy := netip.MustParseAddr("127.0.0.1")

	servers, err := m.DNSServers(ctx, ethernet)
	require.NoError(t, err)
	assert.Equal(t, []netip.Addr{isp}, servers)

	require.NoError(t, m.SetDNSServers(ctx, ethernet, []netip.Addr{proxy}))
	assert.Equal(t, []netip.Addr{proxy}, m.DNS(ethernet.ID()))

	require.NoError(t, m.ResetToAutomatic(ctx, ethernet))
	assert.Equal(t, []netip.Addr{isp}, m.DNS(ethernet.ID()))

	err = m.SetDNSServers(ctx, wireless, []netip.Addr{proxy})
	assert.ErrorIs(t, err, ErrUnknownInterface)

	assert.Len(t, m.CallsOf(OpSetDNS), 2)
	assert.Equal(t, []netip.Addr{proxy}, m.CallsOf(OpSetDNS)[0].Addrs)
	assert.Len(t, m.CallsOf(OpReset), 1)

	m.ResetCalls()
	assert.Empty(t, m.Calls())
}

func Test_MemoryFail(t *testing.T) {
	m := NewMemory()
	m.Set(ethernet, isp)

	ctx := context.Background()
	boom := errors.New("access denied")

	m.Fail(OpSetDNS, boom)
	assert.ErrorIs(t, m.SetDNSServers(ctx, ethernet, nil), boom)
	assert.Equal(t, []netip.Addr{isp}, m.DNS(ethernet.ID()))

	m.Fail(OpSetDNS, nil)
	assert.NoError(t, m.SetDNSServers(ctx, ethernet, nil))
	assert.Len(t, m.CallsOf(OpSetDNS), 2)
}

func Test_Snapshot(t *testing.T) {
	src := NewMemory()
	src.Set(ethernet, isp)
	src.Set(wireless, netip.MustParseAddr("192.168.1.1"))

	ctx := context.Background()

	m, err := Snapshot(ctx, src, "example.com")
	require.NoError(t, err)

	list, err := m.Interfaces(ctx, "")
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, m.SetDNSServers(ctx, ethernet, []netip.Addr{netip.MustParseAddr("127.0.0.1")}))
	assert.Equal(t, []netip.Addr{isp}, src.DNS(ethernet.ID()))
	assert.Empty(t, src.CallsOf(OpSetDNS))
}
