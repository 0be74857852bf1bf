package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/graemester/wgfriend/internal/keys"
	"github.com/graemester/wgfriend/internal/model"
	"github.com/graemester/wgfriend/internal/orchestrator"
	"github.com/graemester/wgfriend/internal/store"
)

// withTempStore points WG_FRIEND_DB at a fresh temp-dir database for
// the duration of a single test, so newAppContext's storePath resolves
// to it instead of $HOME/.wgfriend/store.db.
func withTempStore(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.db")
	t.Setenv("WG_FRIEND_DB", path)
	return path
}

func seedCoordinationServer(t *testing.T, path string) *model.CoordinationServer {
	t.Helper()
	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()

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
	return cs
}

func TestNewAppContextWiresStoreAndOrchestrator(t *testing.T) {
	path := withTempStore(t)
	cs := seedCoordinationServer(t, path)

	app, err := newAppContext(zap.NewNop())
	require.NoError(t, err)
	defer app.Close()

	fetched, err := app.store.FetchCoordinationServer(cs.PermanentGUID)
	require.NoError(t, err)
	require.Equal(t, "cs1", fetched.Hostname)

	r, _, err := app.orch.AddRemote(cs.PermanentGUID, "laptop1", model.AccessFullAccess, orchestrator.AddRemoteOptions{})
	require.NoError(t, err)
	require.Equal(t, "laptop1", r.Hostname)
	require.NotEmpty(t, r.VPNIPv4)
}

func TestIntegrityCheckCleanStoreHasNoViolations(t *testing.T) {
	path := withTempStore(t)
	cs := seedCoordinationServer(t, path)

	app, err := newAppContext(zap.NewNop())
	require.NoError(t, err)
	defer app.Close()

	violations, err := app.orch.IntegrityCheck(cs.PermanentGUID)
	require.NoError(t, err)
	require.Empty(t, violations)
}
