package netutil

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCIDRMasksHostBits(t *testing.T) {
	p, err := ParseCIDR("10.8.0.5/24")
	require.NoError(t, err)
	assert.Equal(t, "10.8.0.0/24", p.String())
}

func TestParseCIDRRejectsGarbage(t *testing.T) {
	_, err := ParseCIDR("not-a-cidr")
	require.Error(t, err)
}

func TestHostInNetwork(t *testing.T) {
	cidr, err := ParseCIDR("10.8.0.0/24")
	require.NoError(t, err)

	inside := netip.MustParseAddr("10.8.0.42")
	outside := netip.MustParseAddr("10.9.0.1")
	wrongFamily := netip.MustParseAddr("::1")

	assert.True(t, HostInNetwork(inside, cidr))
	assert.False(t, HostInNetwork(outside, cidr))
	assert.False(t, HostInNetwork(wrongFamily, cidr))
}

func TestIterateHostsAscendingOrder(t *testing.T) {
	cidr, err := ParseCIDR("10.8.0.0/30")
	require.NoError(t, err)

	var got []string
	IterateHosts(cidr, func(a netip.Addr) bool {
		got = append(got, a.String())
		return true
	})

	assert.Equal(t, []string{"10.8.0.0", "10.8.0.1", "10.8.0.2", "10.8.0.3"}, got)
}

func TestIterateHostsStopsEarly(t *testing.T) {
	cidr, err := ParseCIDR("10.8.0.0/24")
	require.NoError(t, err)

	count := 0
	IterateHosts(cidr, func(a netip.Addr) bool {
		count++
		return count < 3
	})

	assert.Equal(t, 3, count)
}

func TestNextFreeReturnsSmallestUnused(t *testing.T) {
	cidr, err := ParseCIDR("10.8.0.0/24")
	require.NoError(t, err)

	lo := netip.MustParseAddr("10.8.0.30")
	hi := netip.MustParseAddr("10.8.0.99")
	used := map[netip.Addr]bool{
		netip.MustParseAddr("10.8.0.30"): true,
		netip.MustParseAddr("10.8.0.31"): true,
	}

	got, err := NextFree(cidr, used, lo, hi)
	require.NoError(t, err)
	assert.Equal(t, "10.8.0.32", got.String())
}

func TestNextFreeExhausted(t *testing.T) {
	cidr, err := ParseCIDR("10.8.0.0/24")
	require.NoError(t, err)

	lo := netip.MustParseAddr("10.8.0.30")
	hi := netip.MustParseAddr("10.8.0.31")
	used := map[netip.Addr]bool{
		netip.MustParseAddr("10.8.0.30"): true,
		netip.MustParseAddr("10.8.0.31"): true,
	}

	_, err = NextFree(cidr, used, lo, hi)
	require.Error(t, err)
}

func TestNextFreeFamilyMismatch(t *testing.T) {
	cidr, err := ParseCIDR("10.8.0.0/24")
	require.NoError(t, err)

	lo := netip.MustParseAddr("::1")
	hi := netip.MustParseAddr("::2")

	_, err = NextFree(cidr, map[netip.Addr]bool{}, lo, hi)
	require.Error(t, err)
}

func TestPartitionForEncodesTable(t *testing.T) {
	network, err := ParseCIDR("10.8.0.0/24")
	require.NoError(t, err)

	lo, hi, err := PartitionFor(KindSubnetRouter, network)
	require.NoError(t, err)
	assert.Equal(t, "10.8.0.20", lo.String())
	assert.Equal(t, "10.8.0.29", hi.String())

	lo, hi, err = PartitionFor(KindCoordinationServer, network)
	require.NoError(t, err)
	assert.Equal(t, "10.8.0.1", lo.String())
	assert.Equal(t, "10.8.0.1", hi.String())

	lo, hi, err = PartitionFor(KindRemote, network)
	require.NoError(t, err)
	assert.Equal(t, "10.8.0.30", lo.String())
	assert.Equal(t, "10.8.0.99", hi.String())

	lo, hi, err = PartitionFor(KindExitNode, network)
	require.NoError(t, err)
	assert.Equal(t, "10.8.0.100", lo.String())
	assert.Equal(t, "10.8.0.119", hi.String())
}

func TestPartitionForRejectsIPv6(t *testing.T) {
	network, err := ParseCIDR("fd00::/64")
	require.NoError(t, err)

	_, _, err = PartitionFor(KindRemote, network)
	require.Error(t, err)
}
