package resolver

import (
	"context"
	"errors"
	"net/netip"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/semihalev/zlog/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnsproxy/dnsproxy/dnsutil"
	"github.com/dnsproxy/dnsproxy/mock"
	"github.com/dnsproxy/dnsproxy/upstream"
)

func TestMain(m *testing.M) {
	logger := zlog.NewStructured()
	logger.SetWriter(zlog.StdoutTerminal())
	logger.SetLevel(zlog.LevelDebug)
	zlog.SetDefault(logger)

	os.Exit(m.Run())
}

func newServer(t *testing.T, handler dns.Handler) *mock.Server {
	t.Helper()

	s, err := mock.NewServer(handler)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func query(name string, qtype uint16) *dns.Msg {
	req := new(dns.Msg)
	req.SetQuestion(name, qtype)
	req.RecursionDesired = true
	return req
}

func answers(t *testing.T, m *dns.Msg) []string {
	t.Helper()

	var list []string
	for _, addr := range dnsutil.Addresses(m) {
		list = append(list, addr.String())
	}

	return list
}

func Test_New(t *testing.T) {
	_, err := New(upstream.New(time.Second), nil)
	assert.ErrorIs(t, err, ErrNoGoodServers)

	r, err := New(upstream.New(time.Second), []netip.AddrPort{
		netip.MustParseAddrPort("8.8.8.8:53"),
		netip.MustParseAddrPort("[::ffff:8.8.8.8]:53"),
		netip.MustParseAddrPort("1.1.1.1:53"),
	})
	require.NoError(t, err)

	assert.Equal(t, []netip.AddrPort{
		netip.MustParseAddrPort("8.8.8.8:53"),
		netip.MustParseAddrPort("1.1.1.1:53"),
	}, r.GoodServers())
	assert.Empty(t, r.BadServers())
}

func Test_TamperedAnswerFallsBackToGood(t *testing.T) {
	bad := newServer(t, mock.Answer("10.10.10.10"))
	good := newServer(t, mock.Answer("93.184.216.34"))

	r, err := New(upstream.New(time.Second), []netip.AddrPort{good.Addr()})
	require.NoError(t, err)

	r.AddBadServer(bad.Addr())
	r.AddTamperSignature(netip.MustParseAddr("10.10.10.10"))

	req := query("example.com.", dns.TypeA)

	resp, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, req.Id, resp.Id)
	assert.Equal(t, []string{"93.184.216.34"}, answers(t, resp))
	assert.Equal(t, 1, bad.Queries())
	assert.Equal(t, 1, good.Queries())
}

func Test_TrustedBadAnswerIsReturned(t *testing.T) {
	bad := newServer(t, mock.Answer("192.0.2.10"))
	good := newServer(t, mock.Answer("192.0.2.20"))

	r, err := New(upstream.New(time.Second), []netip.AddrPort{good.Addr()})
	require.NoError(t, err)

	r.AddBadServer(bad.Addr())
	r.AddTamperSignature(netip.MustParseAddr("10.10.10.10"))

	resp, err := r.Resolve(context.Background(), query("example.com.", dns.TypeA))
	require.NoError(t, err)
	assert.Equal(t, []string{"192.0.2.10"}, answers(t, resp))
	assert.Equal(t, 0, good.Queries())
}

func Test_NoBadServers(t *testing.T) {
	good := newServer(t, mock.Answer("1.2.3.4"))

	r, err := New(upstream.New(time.Second), []netip.AddrPort{good.Addr()})
	require.NoError(t, err)

	req := query("example.com.", dns.TypeA)

	resp, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, req.Id, resp.Id)
	assert.Equal(t, []string{"1.2.3.4"}, answers(t, resp))
}

func Test_BadChainOrder(t *testing.T) {
	empty := newServer(t, mock.Empty())
	first := newServer(t, mock.Answer("192.0.2.1"))
	second := newServer(t, mock.Answer("192.0.2.2"))
	good := newServer(t, mock.Answer("192.0.2.3"))

	r, err := New(upstream.New(time.Second), []netip.AddrPort{good.Addr()})
	require.NoError(t, err)

	r.AddBadServer(empty.Addr())
	r.AddBadServer(first.Addr())
	r.AddBadServer(second.Addr())

	resp, err := r.Resolve(context.Background(), query("example.com.", dns.TypeA))
	require.NoError(t, err)
	assert.Equal(t, []string{"192.0.2.1"}, answers(t, resp))
	assert.Equal(t, 1, empty.Queries())
	assert.Equal(t, 0, second.Queries())
	assert.Equal(t, 0, good.Queries())
}

func Test_BadServersFailOrEmpty(t *testing.T) {
	silent := newServer(t, mock.Silent())
	empty := newServer(t, mock.Empty())
	goodEmpty := newServer(t, mock.Empty())
	good := newServer(t, mock.Answer("192.0.2.53"))
	unused := newServer(t, mock.Answer("192.0.2.54"))

	r, err := New(upstream.New(200*time.Millisecond), []netip.AddrPort{goodEmpty.Addr(), good.Addr(), unused.Addr()})
	require.NoError(t, err)

	r.AddBadServer(silent.Addr())
	r.AddBadServer(empty.Addr())

	resp, err := r.Resolve(context.Background(), query("example.com.", dns.TypeA))
	require.NoError(t, err)
	assert.Equal(t, []string{"192.0.2.53"}, answers(t, resp))
	assert.Equal(t, 0, unused.Queries())
}

func Test_AllGoodEmptyReturnsLastReply(t *testing.T) {
	bad := newServer(t, mock.Empty())
	good1 := newServer(t, mock.Empty())
	good2 := newServer(t, mock.Rcode(dns.RcodeNameError))

	r, err := New(upstream.New(time.Second), []netip.AddrPort{good1.Addr(), good2.Addr()})
	require.NoError(t, err)
	r.AddBadServer(bad.Addr())

	req := query("nonexistent.example.", dns.TypeA)

	resp, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, req.Id, resp.Id)
	assert.Equal(t, dns.RcodeNameError, resp.Rcode)
	assert.Equal(t, 1, good1.Queries())
	assert.Equal(t, 1, good2.Queries())
}

func Test_GoodChainUnreachable(t *testing.T) {
	bad := newServer(t, mock.Answer("10.10.10.10"))
	good := newServer(t, mock.Silent())

	r, err := New(upstream.New(100*time.Millisecond), []netip.AddrPort{good.Addr()})
	require.NoError(t, err)
	r.AddBadServer(bad.Addr())
	r.AddTamperSignature(netip.MustParseAddr("10.10.10.10"))

	_, err = r.Resolve(context.Background(), query("example.com.", dns.TypeA))
	require.Error(t, err)

	var rerr *ResponseError
	require.True(t, errors.As(err, &rerr))
	assert.Nil(t, rerr.Response, "tampered answer must never be returned")

	var uerr *upstream.Error
	assert.True(t, errors.As(err, &uerr))
}

func Test_GoodChainUnreachableKeepsEmptyBadReply(t *testing.T) {
	bad := newServer(t, mock.Rcode(dns.RcodeNameError))
	good := newServer(t, mock.Silent())

	r, err := New(upstream.New(100*time.Millisecond), []netip.AddrPort{good.Addr()})
	require.NoError(t, err)
	r.AddBadServer(bad.Addr())

	req := query("nonexistent.example.", dns.TypeA)

	_, err = r.Resolve(context.Background(), req)

	var rerr *ResponseError
	require.True(t, errors.As(err, &rerr))
	require.NotNil(t, rerr.Response)
	assert.Equal(t, req.Id, rerr.Response.Id)
	assert.Equal(t, dns.RcodeNameError, rerr.Response.Rcode)
}

func Test_NoUpstreams(t *testing.T) {
	r := &Resolver{client: upstream.New(time.Second)}
	r.state.Store(&state{signatures: map[netip.Addr]struct{}{}})

	_, err := r.Resolve(context.Background(), query("example.com.", dns.TypeA))
	assert.ErrorIs(t, err, ErrNoUpstreams)
}

func Test_AddressEquivalence(t *testing.T) {
	r, err := New(upstream.New(time.Second), []netip.AddrPort{netip.MustParseAddrPort("8.8.8.8:53")})
	require.NoError(t, err)

	assert.True(t, r.AddBadServer(netip.MustParseAddrPort("10.0.0.1:53")))
	assert.False(t, r.AddBadServer(netip.MustParseAddrPort("[::ffff:10.0.0.1]:53")))
	assert.True(t, r.AddBadServer(netip.MustParseAddrPort("10.0.0.1:5353")))
	assert.Len(t, r.BadServers(), 2)

	assert.True(t, r.AddTamperSignature(netip.MustParseAddr("::ffff:10.10.10.10")))
	assert.False(t, r.AddTamperSignature(netip.MustParseAddr("10.10.10.10")))
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("10.10.10.10")}, r.TamperSignatures())
}

func Test_MappedTamperSignatureMatches(t *testing.T) {
	bad := newServer(t, mock.Answer("10.10.10.10"))
	good := newServer(t, mock.Answer("192.0.2.99"))

	r, err := New(upstream.New(time.Second), []netip.AddrPort{good.Addr()})
	require.NoError(t, err)

	r.AddBadServer(bad.Addr())
	r.AddTamperSignature(netip.MustParseAddr("::ffff:10.10.10.10"))

	resp, err := r.Resolve(context.Background(), query("example.com.", dns.TypeA))
	require.NoError(t, err)
	assert.Equal(t, []string{"192.0.2.99"}, answers(t, resp))
}

func Test_ConcurrentMutation(t *testing.T) {
	good := newServer(t, mock.Answer("192.0.2.1"))

	r, err := New(upstream.New(time.Second), []netip.AddrPort{good.Addr()})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)

		go func(i int) {
			defer wg.Done()
			for j := 0; j < 32; j++ {
				r.AddTamperSignature(netip.AddrFrom4([4]byte{10, byte(i), byte(j), 1}))
				r.AddBadServer(netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 1, byte(i), byte(j)}), 53))
			}
		}(i)

		go func() {
			defer wg.Done()
			for j := 0; j < 32; j++ {
				s := r.state.Load()
				assert.LessOrEqual(t, len(s.bad), 8*32)
				_ = r.TamperSignatures()
			}
		}()
	}

	wg.Wait()

	assert.Len(t, r.BadServers(), 8*32)
	assert.Len(t, r.TamperSignatures(), 8*32)
}
