package dnsutil

import (
	"net"
	"net/netip"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
)

func Test_HasRecords(t *testing.T) {
	assert.False(t, HasRecords(nil))

	m := new(dns.Msg)
	m.SetQuestion("example.com.", dns.TypeA)
	assert.False(t, HasRecords(m))

	soa, err := dns.NewRR("example.com. 3600 IN SOA ns.example.com. host.example.com. 1 7200 3600 1209600 3600")
	assert.NoError(t, err)

	m.Ns = append(m.Ns, soa)
	assert.True(t, HasRecords(m))

	m.Ns = nil
	m.Answer = append(m.Answer, &dns.A{Hdr: dns.RR_Header{Name: "example.com.", Rrtype: dns.TypeA, Class: dns.ClassINET}, A: net.IPv4(1, 2, 3, 4)})
	assert.True(t, HasRecords(m))
}

func Test_Addresses(t *testing.T) {
	m := new(dns.Msg)
	m.SetQuestion("example.com.", dns.TypeA)

	m.Answer = []dns.RR{
		&dns.A{Hdr: dns.RR_Header{Name: "example.com.", Rrtype: dns.TypeA, Class: dns.ClassINET}, A: net.IPv4(10, 10, 10, 10)},
		&dns.CNAME{Hdr: dns.RR_Header{Name: "example.com.", Rrtype: dns.TypeCNAME, Class: dns.ClassINET}, Target: "other.example.com."},
		&dns.AAAA{Hdr: dns.RR_Header{Name: "example.com.", Rrtype: dns.TypeAAAA, Class: dns.ClassINET}, AAAA: net.ParseIP("fe80::1")},
		&dns.AAAA{Hdr: dns.RR_Header{Name: "example.com.", Rrtype: dns.TypeAAAA, Class: dns.ClassINET}, AAAA: net.ParseIP("::ffff:9.9.9.9")},
	}

	addrs := Addresses(m)
	assert.Equal(t, []netip.Addr{
		netip.MustParseAddr("10.10.10.10"),
		netip.MustParseAddr("fe80::1"),
		netip.MustParseAddr("9.9.9.9"),
	}, addrs)

	assert.Nil(t, Addresses(nil))
}

func Test_UDPSize(t *testing.T) {
	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)
	assert.Equal(t, dns.MinMsgSize, UDPSize(req))

	req.SetEdns0(4096, false)
	assert.Equal(t, DefaultMsgSize, UDPSize(req))

	req.IsEdns0().SetUDPSize(100)
	assert.Equal(t, dns.MinMsgSize, UDPSize(req))

	req.IsEdns0().SetUDPSize(1000)
	assert.Equal(t, 1000, UDPSize(req))
}

func Test_SetRcode(t *testing.T) {
	req := new(dns.Msg)
	req.SetQuestion("Example.com.", dns.TypeAAAA)

	m := SetRcode(req, dns.RcodeServerFailure)
	assert.Equal(t, req.Id, m.Id)
	assert.Equal(t, dns.RcodeServerFailure, m.Rcode)
	assert.True(t, m.Response)
	assert.Equal(t, "example.com. IN AAAA", Question(m))
	assert.Equal(t, "-", Question(nil))
}
