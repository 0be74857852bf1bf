package orchestrator

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graemester/wgfriend/internal/keys"
	"github.com/graemester/wgfriend/internal/model"
	"github.com/graemester/wgfriend/internal/store"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *store.Store, *model.CoordinationServer) {
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
	return New(st), st, cs
}

func TestAddRemoteAllocatesFromRemoteRange(t *testing.T) {
	o, _, cs := newTestOrchestrator(t)

	r, plan, err := o.AddRemote(cs.PermanentGUID, "alice-phone", model.AccessFullAccess, AddRemoteOptions{})
	require.NoError(t, err)
	assert.Equal(t, "10.66.0.30", r.VPNIPv4)
	assert.Equal(t, r.PermanentGUID, r.CurrentPublicKey)
	assert.NotEmpty(t, plan.Stale)

	r2, _, err := o.AddRemote(cs.PermanentGUID, "bob-laptop", model.AccessFullAccess, AddRemoteOptions{})
	require.NoError(t, err)
	assert.Equal(t, "10.66.0.31", r2.VPNIPv4)
}

func TestAddRemoteRejectsDuplicateHostname(t *testing.T) {
	o, _, cs := newTestOrchestrator(t)
	_, _, err := o.AddRemote(cs.PermanentGUID, "alice-phone", model.AccessFullAccess, AddRemoteOptions{})
	require.NoError(t, err)

	_, _, err = o.AddRemote(cs.PermanentGUID, "alice-phone", model.AccessFullAccess, AddRemoteOptions{})
	assert.Error(t, err)
}

func TestAddRemoteExitOnlyRequiresExitAssignment(t *testing.T) {
	o, _, cs := newTestOrchestrator(t)
	_, _, err := o.AddRemote(cs.PermanentGUID, "roaming", model.AccessExitOnly, AddRemoteOptions{})
	assert.Error(t, err)
}

func TestAddSubnetRouterSeedsCanonicalPatterns(t *testing.T) {
	o, _, cs := newTestOrchestrator(t)
	sr, pairs, _, err := o.AddSubnetRouter(cs.PermanentGUID, "home-gateway", []string{"192.168.1.0/24"}, "eth1", "eth0", model.SSHCoordinates{})
	require.NoError(t, err)
	assert.Equal(t, "10.66.0.20", sr.VPNIPv4)

	names := make(map[string]bool)
	for _, p := range pairs {
		names[p.PatternName] = true
	}
	assert.True(t, names["enable_ipv4_forwarding"])
	assert.True(t, names["nat_masquerade_ipv4"])
	assert.True(t, names["mss_clamping"])
}

func TestAddExitNodeAllocatesFromExitRange(t *testing.T) {
	o, _, cs := newTestOrchestrator(t)
	e, _, _, err := o.AddExitNode(cs.PermanentGUID, "exit-us", "eth0", "exit.example.com", 51821, model.SSHCoordinates{})
	require.NoError(t, err)
	assert.Equal(t, "10.66.0.100", e.VPNIPv4)
}

// Scenario 2: key rotation preserves identity.
func TestRotateKeysPreservesPermanentGUID(t *testing.T) {
	o, st, cs := newTestOrchestrator(t)
	r, _, err := o.AddRemote(cs.PermanentGUID, "alice-phone", model.AccessFullAccess, AddRemoteOptions{})
	require.NoError(t, err)
	originalGUID := r.PermanentGUID
	originalPub := r.CurrentPublicKey

	_, err = o.RotateKeys(cs.PermanentGUID, r.PermanentGUID, model.KindRemote, "scheduled")
	require.NoError(t, err)

	remotes, err := st.ListRemotes(cs.PermanentGUID)
	require.NoError(t, err)
	require.Len(t, remotes, 1)
	assert.Equal(t, originalGUID, remotes[0].PermanentGUID)
	assert.NotEqual(t, originalPub, remotes[0].CurrentPublicKey)

	history, err := st.ListRotations(originalGUID)
	require.NoError(t, err)
	require.Len(t, history, 2) // initial provisioning + this rotation
	assert.Equal(t, "scheduled", history[1].Reason)
}

// Scenario 4: exit-only remote has no CS peer (assign_exit rejects
// clearing the assignment while access level is still exit_only).
func TestAssignExitRejectsClearingForExitOnlyRemote(t *testing.T) {
	o, _, cs := newTestOrchestrator(t)
	exit, _, _, err := o.AddExitNode(cs.PermanentGUID, "exit-us", "eth0", "exit.example.com", 51821, model.SSHCoordinates{})
	require.NoError(t, err)

	r, _, err := o.AddRemote(cs.PermanentGUID, "roaming", model.AccessExitOnly, AddRemoteOptions{ExitNodeGUID: exit.PermanentGUID})
	require.NoError(t, err)

	_, err = o.AssignExit(cs.PermanentGUID, r.PermanentGUID, "")
	assert.Error(t, err)
}

func TestAssignExitRejectsUnknownExit(t *testing.T) {
	o, _, cs := newTestOrchestrator(t)
	r, _, err := o.AddRemote(cs.PermanentGUID, "alice-phone", model.AccessFullAccess, AddRemoteOptions{})
	require.NoError(t, err)

	_, err = o.AssignExit(cs.PermanentGUID, r.PermanentGUID, "not-a-real-guid")
	assert.Error(t, err)
}

// Scenario covering exit-node removal policy: reverts assigned remotes
// to full_access rather than orphaning them.
func TestRemoveExitNodeRevertsAssignedRemotes(t *testing.T) {
	o, st, cs := newTestOrchestrator(t)
	exit, _, _, err := o.AddExitNode(cs.PermanentGUID, "exit-us", "eth0", "exit.example.com", 51821, model.SSHCoordinates{})
	require.NoError(t, err)

	r, _, err := o.AddRemote(cs.PermanentGUID, "roaming", model.AccessExitOnly, AddRemoteOptions{ExitNodeGUID: exit.PermanentGUID})
	require.NoError(t, err)

	plan, err := o.RemoveEntity(cs.PermanentGUID, exit.PermanentGUID, model.KindExitNode, "decommissioned")
	require.NoError(t, err)
	assert.NotEmpty(t, plan.Stale)

	remotes, err := st.ListRemotes(cs.PermanentGUID)
	require.NoError(t, err)
	require.Len(t, remotes, 1)
	assert.Equal(t, r.PermanentGUID, remotes[0].PermanentGUID)
	assert.Equal(t, model.AccessFullAccess, remotes[0].AccessLevel)
	assert.Empty(t, remotes[0].ExitNodeID)
}

// RemoveEntity's terminal rotation row must chain off the entity's
// actual current_public_key, not its permanent_guid, once the entity
// has been rotated at least once before removal.
func TestRemoveEntityLogsCurrentPublicKeyNotPermanentGUID(t *testing.T) {
	o, st, cs := newTestOrchestrator(t)
	r, _, err := o.AddRemote(cs.PermanentGUID, "alice-phone", model.AccessFullAccess, AddRemoteOptions{})
	require.NoError(t, err)
	originalGUID, originalPub := r.PermanentGUID, r.CurrentPublicKey

	_, err = o.RotateKeys(cs.PermanentGUID, originalGUID, model.KindRemote, "scheduled")
	require.NoError(t, err)

	rotated, err := st.FetchRemoteByHostname(cs.PermanentGUID, "alice-phone")
	require.NoError(t, err)
	require.NotEqual(t, originalPub, rotated.CurrentPublicKey)

	_, err = o.RemoveEntity(cs.PermanentGUID, originalGUID, model.KindRemote, "decommissioned")
	require.NoError(t, err)

	history, err := st.ListRotations(originalGUID)
	require.NoError(t, err)
	require.Len(t, history, 3) // initial provisioning + rotation + removal
	last := history[len(history)-1]
	assert.Equal(t, rotated.CurrentPublicKey, last.OldPublicKey)
	assert.NotEqual(t, originalGUID, last.OldPublicKey)
}

func TestIntegrityCheckCleanMeshHasNoViolations(t *testing.T) {
	o, _, cs := newTestOrchestrator(t)
	_, _, err := o.AddRemote(cs.PermanentGUID, "alice-phone", model.AccessFullAccess, AddRemoteOptions{})
	require.NoError(t, err)

	violations, err := o.IntegrityCheck(cs.PermanentGUID)
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestAddRemoteExhaustsRange(t *testing.T) {
	o, _, cs := newTestOrchestrator(t)
	// Remote range is [.30,.99] = 70 addresses.
	for i := 0; i < 70; i++ {
		_, _, err := o.AddRemote(cs.PermanentGUID, hostnameFor(i), model.AccessFullAccess, AddRemoteOptions{})
		require.NoError(t, err)
	}
	_, _, err := o.AddRemote(cs.PermanentGUID, "one-too-many", model.AccessFullAccess, AddRemoteOptions{})
	assert.Error(t, err)
}

func hostnameFor(i int) string {
	return "remote-" + string(rune('a'+i%26)) + string(rune('0'+i/26))
}
