package accesslist

import (
	"net/netip"
	"testing"

	"github.com/semihalev/zlog/v2"
	"github.com/stretchr/testify/assert"
)

func Test_Accesslist(t *testing.T) {
	logger := zlog.NewStructured()
	logger.SetWriter(zlog.StdoutTerminal())
	logger.SetLevel(zlog.LevelDebug)
	zlog.SetDefault(logger)

	a := New([]string{"127.0.0.1/32", "1", "2001:db8::/32"})

	assert.True(t, a.Allowed(netip.MustParseAddr("127.0.0.1")))
	assert.True(t, a.Allowed(netip.MustParseAddr("::ffff:127.0.0.1")))
	assert.True(t, a.Allowed(netip.MustParseAddr("2001:db8::1")))
	assert.False(t, a.Allowed(netip.MustParseAddr("0.0.0.0")))
	assert.False(t, a.Allowed(netip.MustParseAddr("::1")))
}

func Test_AccesslistDefaults(t *testing.T) {
	a := New(nil)
	assert.True(t, a.Allowed(netip.MustParseAddr("192.0.2.1")))

	a = New([]string{"invalid"})
	assert.True(t, a.Allowed(netip.MustParseAddr("192.0.2.1")))
}
