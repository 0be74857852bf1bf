package render

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graemester/wgfriend/internal/keys"
	"github.com/graemester/wgfriend/internal/model"
	"github.com/graemester/wgfriend/internal/orchestrator"
	"github.com/graemester/wgfriend/internal/store"
	"github.com/graemester/wgfriend/internal/wgconf"
)

func newFixture(t *testing.T) (*store.Store, *orchestrator.Orchestrator, *model.CoordinationServer) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	priv, pub, err := keys.GenerateKeypair()
	require.NoError(t, err)
	cs := &model.CoordinationServer{
		Base: model.Base{
			PermanentGUID: pub, CurrentPublicKey: pub, CurrentPrivateKey: priv,
			Hostname: "cs1", VPNIPv4: "10.66.0.1", ListenPort: 51820,
			EndpointHost: "vps.example.com", EndpointPort: 51820,
		},
		VPNNetworkV4: "10.66.0.0/24",
	}
	require.NoError(t, st.UpsertCoordinationServer(cs))
	return st, orchestrator.New(st), cs
}

func TestCoordinationServerIncludesSRRemoteAndExitPeers(t *testing.T) {
	st, o, cs := newFixture(t)

	sr, _, _, err := o.AddSubnetRouter(cs.PermanentGUID, "office-router", []string{"192.168.1.0/24"}, "eth1", "eth0", model.SSHCoordinates{})
	require.NoError(t, err)
	remote, _, err := o.AddRemote(cs.PermanentGUID, "alice-phone", model.AccessFullAccess, orchestrator.AddRemoteOptions{})
	require.NoError(t, err)
	exit, _, _, err := o.AddExitNode(cs.PermanentGUID, "exit-fra", "eth0", "exit.example.com", 51820, model.SSHCoordinates{})
	require.NoError(t, err)

	spec, err := CoordinationServer(st, cs.PermanentGUID)
	require.NoError(t, err)

	require.Len(t, spec.Peers, 3)
	pubkeys := []string{spec.Peers[0].PublicKey, spec.Peers[1].PublicKey, spec.Peers[2].PublicKey}
	assert.Contains(t, pubkeys, sr.CurrentPublicKey)
	assert.Contains(t, pubkeys, remote.CurrentPublicKey)
	assert.Contains(t, pubkeys, exit.CurrentPublicKey)

	text := wgconf.Render(spec)
	assert.Contains(t, text, "[Interface]")
	assert.Contains(t, text, cs.CurrentPrivateKey)
	assert.Equal(t, 3, strings.Count(text, "[Peer]"))
}

func TestCoordinationServerGrantsSubnetRouterPeerItsAdvertisedNetwork(t *testing.T) {
	st, o, cs := newFixture(t)
	sr, _, _, err := o.AddSubnetRouter(cs.PermanentGUID, "office-router", []string{"192.168.1.0/24"}, "eth1", "eth0", model.SSHCoordinates{})
	require.NoError(t, err)

	spec, err := CoordinationServer(st, cs.PermanentGUID)
	require.NoError(t, err)

	require.Len(t, spec.Peers, 1)
	assert.Equal(t, sr.CurrentPublicKey, spec.Peers[0].PublicKey)
	assert.Contains(t, spec.Peers[0].AllowedIPs, "192.168.1.0/24")
	assert.Contains(t, spec.Peers[0].AllowedIPs, sr.VPNIPv4+"/32")
}

func TestCoordinationServerExcludesExitOnlyRemotes(t *testing.T) {
	st, o, cs := newFixture(t)
	exit, _, _, err := o.AddExitNode(cs.PermanentGUID, "exit-fra", "eth0", "exit.example.com", 51820, model.SSHCoordinates{})
	require.NoError(t, err)
	_, _, err = o.AddRemote(cs.PermanentGUID, "roaming", model.AccessExitOnly, orchestrator.AddRemoteOptions{ExitNodeGUID: exit.PermanentGUID})
	require.NoError(t, err)

	spec, err := CoordinationServer(st, cs.PermanentGUID)
	require.NoError(t, err)

	require.Len(t, spec.Peers, 1)
	assert.Equal(t, exit.CurrentPublicKey, spec.Peers[0].PublicKey)
}

func TestSubnetRouterPeersOnlyTheCS(t *testing.T) {
	st, o, cs := newFixture(t)
	sr, _, _, err := o.AddSubnetRouter(cs.PermanentGUID, "office-router", []string{"192.168.1.0/24"}, "eth1", "eth0", model.SSHCoordinates{})
	require.NoError(t, err)

	spec, err := SubnetRouter(st, cs, sr)
	require.NoError(t, err)

	require.Len(t, spec.Peers, 1)
	assert.Equal(t, cs.CurrentPublicKey, spec.Peers[0].PublicKey)
	assert.Equal(t, []string{cs.VPNNetworkV4}, spec.Peers[0].AllowedIPs)
}

func TestExitNodeIncludesAssignedRemotesAndCS(t *testing.T) {
	st, o, cs := newFixture(t)
	exit, _, _, err := o.AddExitNode(cs.PermanentGUID, "exit-fra", "eth0", "exit.example.com", 51820, model.SSHCoordinates{})
	require.NoError(t, err)
	remote, _, err := o.AddRemote(cs.PermanentGUID, "roaming", model.AccessExitOnly, orchestrator.AddRemoteOptions{ExitNodeGUID: exit.PermanentGUID})
	require.NoError(t, err)
	other, _, err := o.AddRemote(cs.PermanentGUID, "alice-phone", model.AccessFullAccess, orchestrator.AddRemoteOptions{})
	require.NoError(t, err)

	spec, err := ExitNode(st, cs, exit)
	require.NoError(t, err)

	require.Len(t, spec.Peers, 2)
	pubkeys := []string{spec.Peers[0].PublicKey, spec.Peers[1].PublicKey}
	assert.Contains(t, pubkeys, remote.CurrentPublicKey)
	assert.Contains(t, pubkeys, cs.CurrentPublicKey)
	assert.NotContains(t, pubkeys, other.CurrentPublicKey)
}

func TestRemoteExitOnlyGetsOnlyTheExitPeer(t *testing.T) {
	st, o, cs := newFixture(t)
	exit, _, _, err := o.AddExitNode(cs.PermanentGUID, "exit-fra", "eth0", "exit.example.com", 51820, model.SSHCoordinates{})
	require.NoError(t, err)
	remote, _, err := o.AddRemote(cs.PermanentGUID, "roaming", model.AccessExitOnly, orchestrator.AddRemoteOptions{ExitNodeGUID: exit.PermanentGUID})
	require.NoError(t, err)

	spec, err := Remote(st, cs, nil, remote, nil)
	require.NoError(t, err)

	require.Len(t, spec.Peers, 1)
	assert.Equal(t, exit.CurrentPublicKey, spec.Peers[0].PublicKey)
	assert.Equal(t, []string{"0.0.0.0/0", "::/0"}, spec.Peers[0].AllowedIPs)
	assert.Equal(t, DefaultExitDNS, spec.Interface.DNS)
}

func TestRemoteFullAccessGetsOnlyCSPeer(t *testing.T) {
	st, o, cs := newFixture(t)
	sr, _, _, err := o.AddSubnetRouter(cs.PermanentGUID, "office-router", []string{"192.168.1.0/24"}, "eth1", "eth0", model.SSHCoordinates{})
	require.NoError(t, err)
	remote, _, err := o.AddRemote(cs.PermanentGUID, "alice-phone", model.AccessFullAccess, orchestrator.AddRemoteOptions{})
	require.NoError(t, err)

	spec, err := Remote(st, cs, []model.SubnetRouter{*sr}, remote, nil)
	require.NoError(t, err)

	require.Len(t, spec.Peers, 1)
	assert.Equal(t, cs.CurrentPublicKey, spec.Peers[0].PublicKey)
	assert.Contains(t, spec.Peers[0].AllowedIPs, "192.168.1.0/24")
	assert.Empty(t, spec.Interface.DNS)
}

func TestRemoteWithExitGetsBothPeersAndDefaultDNS(t *testing.T) {
	st, o, cs := newFixture(t)
	exit, _, _, err := o.AddExitNode(cs.PermanentGUID, "exit-fra", "eth0", "exit.example.com", 51820, model.SSHCoordinates{})
	require.NoError(t, err)
	remote, _, err := o.AddRemote(cs.PermanentGUID, "alice-laptop", model.AccessFullAccess, orchestrator.AddRemoteOptions{})
	require.NoError(t, err)
	_, err = o.AssignExit(cs.PermanentGUID, remote.PermanentGUID, exit.PermanentGUID)
	require.NoError(t, err)

	refreshed, err := st.FetchRemoteByHostname(cs.PermanentGUID, "alice-laptop")
	require.NoError(t, err)

	spec, err := Remote(st, cs, nil, refreshed, nil)
	require.NoError(t, err)

	require.Len(t, spec.Peers, 2)
	assert.Equal(t, DefaultExitDNS, spec.Interface.DNS)
}
