package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripEverySingletonPattern(t *testing.T) {
	reg := NewRegistry()
	cases := []struct {
		name string
		vars map[string]string
	}{
		{"enable_ipv4_forwarding", map[string]string{}},
		{"enable_ipv6_forwarding", map[string]string{}},
		{"mss_clamping", map[string]string{}},
	}

	for _, c := range cases {
		p := reg.ByName(c.name)
		require.NotNil(t, p, c.name)
		up, _ := p.Emit(c.vars)

		gotName, gotVars, ok := reg.RecognizeSingle(up)
		require.True(t, ok, "pattern %s did not round-trip", c.name)
		assert.Equal(t, c.name, gotName)
		assert.Equal(t, c.vars, gotVars)
	}
}

func TestRoundTripPairPatterns(t *testing.T) {
	reg := NewRegistry()
	cases := []struct {
		name string
		vars map[string]string
	}{
		{"nat_masquerade_ipv4", map[string]string{"cidr4": "10.8.0.0/24", "wan": "eth0"}},
		{"nat_masquerade_ipv6", map[string]string{"cidr6": "fd00::/64", "wan": "eth0"}},
		{"bidirectional_forward_ipv4", map[string]string{"iface": "wg0", "wan": "eth0"}},
		{"bidirectional_forward_ipv6", map[string]string{"iface": "wg0", "wan": "eth0"}},
	}

	for _, c := range cases {
		p := reg.ByName(c.name)
		require.NotNil(t, p, c.name)
		up, _ := p.Emit(c.vars)

		gotName, gotVars, ok := reg.RecognizeSingle(up)
		require.True(t, ok, "pattern %s did not round-trip: %q", c.name, up)
		assert.Equal(t, c.name, gotName)
		assert.Equal(t, c.vars, gotVars)
	}
}

func TestMSSClampingDownIsExactInverse(t *testing.T) {
	reg := NewRegistry()
	p := reg.ByName("mss_clamping")
	require.NotNil(t, p)

	up, down := p.Emit(map[string]string{})
	assert.Contains(t, up, "-A FORWARD")
	assert.Contains(t, down, "-D FORWARD")
}

func TestUnrecognizedFragmentFallsThrough(t *testing.T) {
	reg := NewRegistry()
	_, _, ok := reg.RecognizeSingle("echo hello world")
	assert.False(t, ok)
}

func TestMustValidateScope(t *testing.T) {
	assert.NoError(t, MustValidateScope("interface"))
	assert.NoError(t, MustValidateScope("peer-specific"))
	assert.NoError(t, MustValidateScope("global"))
	assert.Error(t, MustValidateScope("nonsense"))
}
