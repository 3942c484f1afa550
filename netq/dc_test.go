package netq

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtpline/mtpline/types"
)

func TestDCOptionsAddAndLookup(t *testing.T) {
	s := NewDCOptionsSet()

	require.NoError(t, s.Add(DCOption{
		DC:       types.DCID(2),
		AddrPort: netip.MustParseAddrPort("149.154.167.51:443"),
	}))

	opts := s.Lookup(types.DCID(2))
	require.Len(t, opts, 1)
	assert.Equal(t, uint16(443), opts[0].AddrPort.Port())

	assert.Empty(t, s.Lookup(types.DCID(4)))
}

func TestDCOptionsRejectsInvalid(t *testing.T) {
	s := NewDCOptionsSet()

	assert.Error(t, s.Add(DCOption{
		DC:       types.DCNone,
		AddrPort: netip.MustParseAddrPort("149.154.167.51:443"),
	}))
	assert.Error(t, s.Add(DCOption{
		DC:       types.DCID(1),
		AddrPort: netip.AddrPortFrom(netip.MustParseAddr("149.154.167.51"), 0),
	}))
}

func TestDCOptionsRejectsReserved(t *testing.T) {
	s := NewDCOptionsSet()

	err := s.Add(DCOption{
		DC:       types.DCID(1),
		AddrPort: netip.MustParseAddrPort("127.0.0.1:443"),
	})
	assert.Error(t, err, "loopback endpoints are rejected by default")

	s = NewDCOptionsSet().AllowReserved()
	assert.NoError(t, s.Add(DCOption{
		DC:       types.DCID(1),
		AddrPort: netip.MustParseAddrPort("127.0.0.1:443"),
	}))
}

func TestDCOptionsDedupes(t *testing.T) {
	s := NewDCOptionsSet()
	opt := DCOption{
		DC:       types.DCID(2),
		AddrPort: netip.MustParseAddrPort("149.154.167.51:443"),
	}

	require.NoError(t, s.Add(opt))
	require.NoError(t, s.Add(opt))

	assert.Len(t, s.Lookup(types.DCID(2)), 1)
}

func TestDCOptionsPrefersIPv4(t *testing.T) {
	s := NewDCOptionsSet()

	require.NoError(t, s.Add(DCOption{
		DC:       types.DCID(2),
		AddrPort: netip.MustParseAddrPort("[2001:67c:4e8:f002::a]:443"),
	}))
	require.NoError(t, s.Add(DCOption{
		DC:       types.DCID(2),
		AddrPort: netip.MustParseAddrPort("149.154.167.51:443"),
	}))

	first, ok := s.First(types.DCID(2))
	require.True(t, ok)
	assert.True(t, first.AddrPort.Addr().Is4())
}

func TestDCOptionsClearKeepsStatic(t *testing.T) {
	s := NewDCOptionsSet()

	require.NoError(t, s.Add(DCOption{
		DC:       types.DCID(2),
		AddrPort: netip.MustParseAddrPort("149.154.167.51:443"),
		Static:   true,
	}))
	require.NoError(t, s.Add(DCOption{
		DC:       types.DCID(2),
		AddrPort: netip.MustParseAddrPort("149.154.167.52:443"),
	}))

	s.Clear()

	opts := s.Lookup(types.DCID(2))
	require.Len(t, opts, 1)
	assert.True(t, opts[0].Static)
}

func TestDefaultDCOptionsSet(t *testing.T) {
	s := DefaultDCOptionsSet()

	for dc := types.DCID(1); dc <= 5; dc++ {
		opt, ok := s.First(dc)
		require.True(t, ok, "no default endpoint for %s", dc)
		assert.True(t, opt.Static)
		assert.Equal(t, uint16(443), opt.AddrPort.Port())
	}

	opt, _ := s.First(types.DCID(2))
	assert.Equal(t, netip.MustParseAddr("149.154.167.51"), opt.AddrPort.Addr())

	s.Clear()
	opts := s.Lookup(types.DCID(4))
	require.Len(t, opts, 1)
	assert.Equal(t, netip.MustParseAddr("149.154.167.91"), opts[0].AddrPort.Addr())
}
