package mock

import (
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_ServerAnswer(t *testing.T) {
	s, err := NewServer(Answer("10.0.0.1", "fe80::1"))
	require.NoError(t, err)
	defer s.Close()

	c := &dns.Client{Net: "udp", Timeout: time.Second}

	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)

	resp, _, err := c.Exchange(req, s.Addr().String())
	require.NoError(t, err)
	require.Len(t, resp.Answer, 1)
	assert.Equal(t, "10.0.0.1", resp.Answer[0].(*dns.A).A.String())

	req.SetQuestion("example.com.", dns.TypeAAAA)
	resp, _, err = c.Exchange(req, s.Addr().String())
	require.NoError(t, err)
	require.Len(t, resp.Answer, 1)
	assert.Equal(t, "fe80::1", resp.Answer[0].(*dns.AAAA).AAAA.String())

	assert.Equal(t, 2, s.Queries())
}

func Test_ServerRcode(t *testing.T) {
	s, err := NewServer(Rcode(dns.RcodeNameError))
	require.NoError(t, err)
	defer s.Close()

	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)

	resp, err := dns.Exchange(req, s.Addr().String())
	require.NoError(t, err)
	assert.Equal(t, dns.RcodeNameError, resp.Rcode)
	assert.Empty(t, resp.Answer)
}
