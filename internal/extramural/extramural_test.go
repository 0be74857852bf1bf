package extramural

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graemester/wgfriend/internal/keys"
	"github.com/graemester/wgfriend/internal/store"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(st)
}

func providerConfig(t *testing.T) string {
	t.Helper()
	priv, _, err := keys.GenerateKeypair()
	require.NoError(t, err)
	_, peerPub1, err := keys.GenerateKeypair()
	require.NoError(t, err)
	_, peerPub2, err := keys.GenerateKeypair()
	require.NoError(t, err)

	return "[Interface]\n" +
		"PrivateKey = " + priv + "\n" +
		"Address = 10.2.0.5/32\n" +
		"DNS = 1.1.1.1\n" +
		"\n" +
		"[Peer]\n" +
		"PublicKey = " + peerPub1 + "\n" +
		"Endpoint = us-east.provider.example:51820\n" +
		"AllowedIPs = 0.0.0.0/0\n" +
		"\n" +
		"[Peer]\n" +
		"PublicKey = " + peerPub2 + "\n" +
		"Endpoint = eu-west.provider.example:51820\n" +
		"AllowedIPs = 0.0.0.0/0\n"
}

func TestImportProviderConfigCreatesSponsorConfigAndServers(t *testing.T) {
	m := newTestManager(t)
	cfg, servers, err := m.ImportProviderConfig("ExampleVPN", providerConfig(t))
	require.NoError(t, err)

	assert.NotEmpty(t, cfg.LocalPublicKey)
	assert.Equal(t, "10.2.0.5/32", cfg.LocalVPNIPv4)
	require.Len(t, servers, 2)
	assert.True(t, servers[0].Active)
	assert.False(t, servers[1].Active)
}

func TestImportProviderConfigRejectsConfigWithNoPeers(t *testing.T) {
	m := newTestManager(t)
	_, _, err := m.ImportProviderConfig("ExampleVPN", "[Interface]\nPrivateKey = x\n")
	assert.Error(t, err)
}

func TestSwitchActiveServerEnforcesSingleActive(t *testing.T) {
	m := newTestManager(t)
	cfg, servers, err := m.ImportProviderConfig("ExampleVPN", providerConfig(t))
	require.NoError(t, err)

	require.NoError(t, m.SwitchActiveServer(cfg.ID, servers[1].ID))

	list, err := m.store.ListExtramuralServers(cfg.ID)
	require.NoError(t, err)
	active := 0
	for _, s := range list {
		if s.Active {
			active++
			assert.Equal(t, servers[1].ID, s.ID)
		}
	}
	assert.Equal(t, 1, active)
}

func TestRotateLocalKeySetsPendingAndChangesKey(t *testing.T) {
	m := newTestManager(t)
	cfg, _, err := m.ImportProviderConfig("ExampleVPN", providerConfig(t))
	require.NoError(t, err)
	originalPub := cfg.LocalPublicKey

	updated, err := m.RotateLocalKey(cfg.ID)
	require.NoError(t, err)
	assert.NotEqual(t, originalPub, updated.LocalPublicKey)
	assert.True(t, updated.PendingRemoteUpdate)

	require.NoError(t, m.ConfirmRemoteUpdate(cfg.ID))
	final, err := m.store.FetchExtramuralConfig(cfg.ID)
	require.NoError(t, err)
	assert.False(t, final.PendingRemoteUpdate)
}
