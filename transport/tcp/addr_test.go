// File: transport/tcp/addr_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package tcp_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-net/transport/tcp"
)

func TestParseAddrIPv4(t *testing.T) {
	a, err := tcp.ParseAddr("192.168.1.9:8080")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.9:8080", a.String())
	assert.Equal(t, uint16(8080), a.Port())
	assert.False(t, a.IsIPv6())
	assert.True(t, a.IsValid())
}

func TestParseAddrIPv6(t *testing.T) {
	a, err := tcp.ParseAddr("[2001:db8::1]:443")
	require.NoError(t, err)
	assert.Equal(t, "[2001:db8::1]:443", a.String())
	assert.True(t, a.IsIPv6())
}

func TestParseAddrRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "localhost:80", "1.2.3.4", "::1"} {
		_, err := tcp.ParseAddr(s)
		assert.Error(t, err, "input %q", s)
	}
}

func TestAddrFor(t *testing.T) {
	assert.Equal(t, "127.0.0.1:7000", tcp.AddrFor(7000, true, false).String())
	assert.Equal(t, "0.0.0.0:7000", tcp.AddrFor(7000, false, false).String())
	assert.Equal(t, "[::1]:7000", tcp.AddrFor(7000, true, true).String())
	assert.Equal(t, "[::]:7000", tcp.AddrFor(7000, false, true).String())
}

func TestMustParseAddrPanics(t *testing.T) {
	assert.Panics(t, func() { tcp.MustParseAddr("nope") })
}
