package upstream

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnsproxy/dnsproxy/mock"
)

func Test_Exchange(t *testing.T) {
	s, err := mock.NewServer(mock.Answer("192.0.2.1"))
	require.NoError(t, err)
	defer s.Close()

	c := New(time.Second)

	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)

	resp, err := c.Exchange(context.Background(), s.Addr(), req)
	require.NoError(t, err)
	assert.Equal(t, req.Id, resp.Id)
	require.Len(t, resp.Answer, 1)
}

func Test_ExchangeTimeout(t *testing.T) {
	s, err := mock.NewServer(mock.Silent())
	require.NoError(t, err)
	defer s.Close()

	c := New(100 * time.Millisecond)

	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)

	start := time.Now()
	_, err = c.Exchange(context.Background(), s.Addr(), req)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	var uerr *Error
	require.True(t, errors.As(err, &uerr))
	assert.Equal(t, s.Addr(), uerr.Server)
}

func Test_ExchangeCanceled(t *testing.T) {
	s, err := mock.NewServer(mock.Silent())
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)

	_, err = New(time.Second).Exchange(ctx, s.Addr(), req)
	assert.Error(t, err)
}

func Test_ParseServer(t *testing.T) {
	tests := []struct {
		in   string
		want netip.AddrPort
		err  bool
	}{
		{"8.8.8.8", netip.MustParseAddrPort("8.8.8.8:53"), false},
		{"1.1.1.1:5353", netip.MustParseAddrPort("1.1.1.1:5353"), false},
		{"2001:4860:4860::8888", netip.MustParseAddrPort("[2001:4860:4860::8888]:53"), false},
		{"[::1]:53", netip.MustParseAddrPort("[::1]:53"), false},
		{"::ffff:10.0.0.1", netip.MustParseAddrPort("10.0.0.1:53"), false},
		{"dns.google", netip.AddrPort{}, true},
	}

	for _, tt := range tests {
		got, err := ParseServer(tt.in)
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}

		assert.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	assert.Equal(t, DefaultTimeout, New(0).Timeout())
}
