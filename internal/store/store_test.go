package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graemester/wgfriend/internal/keys"
	"github.com/graemester/wgfriend/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newCS(t *testing.T) *model.CoordinationServer {
	t.Helper()
	priv, pub, err := keys.GenerateKeypair()
	require.NoError(t, err)
	return &model.CoordinationServer{
		Base: model.Base{
			PermanentGUID:     pub,
			CurrentPublicKey:  pub,
			CurrentPrivateKey: priv,
			Hostname:          "cs1",
			VPNIPv4:           "10.8.0.1",
			ListenPort:        51820,
		},
		VPNNetworkV4: "10.8.0.0/24",
	}
}

func TestUpsertAndFetchCoordinationServer(t *testing.T) {
	s := openTestStore(t)
	cs := newCS(t)
	require.NoError(t, s.UpsertCoordinationServer(cs))

	got, err := s.FetchCoordinationServer(cs.PermanentGUID)
	require.NoError(t, err)
	require.Equal(t, cs.Hostname, got.Hostname)
	require.Equal(t, cs.VPNNetworkV4, got.VPNNetworkV4)
}

func TestUpsertRemoteAndList(t *testing.T) {
	s := openTestStore(t)
	cs := newCS(t)
	require.NoError(t, s.UpsertCoordinationServer(cs))

	priv, pub, err := keys.GenerateKeypair()
	require.NoError(t, err)
	r := &model.Remote{
		Base: model.Base{
			PermanentGUID:     pub,
			CurrentPublicKey:  pub,
			CurrentPrivateKey: priv,
			Hostname:          "laptop",
			VPNIPv4:           "10.8.0.30",
		},
		AccessLevel: model.AccessFullAccess,
	}
	require.NoError(t, s.UpsertRemote(r, cs.PermanentGUID))

	list, err := s.ListRemotes(cs.PermanentGUID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "laptop", list[0].Hostname)

	existing, err := s.FetchRemoteByHostname(cs.PermanentGUID, "laptop")
	require.NoError(t, err)
	require.NotNil(t, existing)

	missing, err := s.FetchRemoteByHostname(cs.PermanentGUID, "nope")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestRotationHistoryIsAppendOnlyAndOrdered(t *testing.T) {
	s := openTestStore(t)
	cs := newCS(t)
	require.NoError(t, s.UpsertCoordinationServer(cs))

	first := &model.KeyRotation{
		EntityGUID:   cs.PermanentGUID,
		EntityKind:   model.KindCoordinationServer,
		OldPublicKey: cs.PermanentGUID,
		NewPublicKey: "pub-2",
		RotatedAt:    time.Now().UTC(),
		Reason:       "scheduled rotation",
	}
	require.NoError(t, s.AppendRotation(first))

	second := &model.KeyRotation{
		EntityGUID:   cs.PermanentGUID,
		EntityKind:   model.KindCoordinationServer,
		OldPublicKey: "pub-2",
		NewPublicKey: "pub-3",
		RotatedAt:    time.Now().UTC().Add(time.Minute),
		Reason:       "second rotation",
	}
	require.NoError(t, s.AppendRotation(second))

	history, err := s.ListRotations(cs.PermanentGUID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "pub-2", history[0].NewPublicKey)
	require.Equal(t, "pub-3", history[1].NewPublicKey)
}

func TestIntegrityCheckDetectsMismatch(t *testing.T) {
	s := openTestStore(t)
	cs := newCS(t)
	cs.CurrentPublicKey = "deliberately-wrong"
	require.NoError(t, s.UpsertCoordinationServer(cs))
	require.NoError(t, s.AppendRotation(&model.KeyRotation{
		EntityGUID:   cs.PermanentGUID,
		EntityKind:   model.KindCoordinationServer,
		OldPublicKey: cs.PermanentGUID,
		NewPublicKey: "deliberately-wrong",
		RotatedAt:    time.Now().UTC(),
	}))

	violations, err := s.IntegrityCheck(cs.PermanentGUID)
	require.NoError(t, err)
	require.NotEmpty(t, violations)
}

func TestIntegrityCheckDetectsBrokenRotationChain(t *testing.T) {
	s := openTestStore(t)
	cs := newCS(t)
	require.NoError(t, s.UpsertCoordinationServer(cs))

	require.NoError(t, s.AppendRotation(&model.KeyRotation{
		EntityGUID:   cs.PermanentGUID,
		EntityKind:   model.KindCoordinationServer,
		OldPublicKey: cs.PermanentGUID,
		NewPublicKey: "pub-2",
		RotatedAt:    time.Now().UTC(),
	}))
	require.NoError(t, s.AppendRotation(&model.KeyRotation{
		EntityGUID:   cs.PermanentGUID,
		EntityKind:   model.KindCoordinationServer,
		OldPublicKey: "pub-not-2", // should have been "pub-2"
		NewPublicKey: "pub-3",
		RotatedAt:    time.Now().UTC().Add(time.Minute),
	}))

	violations, err := s.IntegrityCheck(cs.PermanentGUID)
	require.NoError(t, err)
	require.NotEmpty(t, violations)
	found := false
	for _, v := range violations {
		if v.Reason == "rotation history broken at row 1: old_public_key does not match predecessor's new_public_key" {
			found = true
		}
	}
	assert.True(t, found, "expected a broken-chain violation, got %+v", violations)
}

func TestExtramuralExactlyOneActiveServer(t *testing.T) {
	s := openTestStore(t)
	sponsor, err := s.UpsertSponsor("ExampleVPN")
	require.NoError(t, err)

	cfg := &model.ExtramuralConfig{SponsorID: sponsor.ID, LocalPrivateKey: "priv", LocalPublicKey: "pub"}
	require.NoError(t, s.InsertExtramuralConfig(cfg))

	srv1 := &model.ExtramuralServer{ExtramuralConfigID: cfg.ID, Label: "us-east", PublicKey: "pub1"}
	srv2 := &model.ExtramuralServer{ExtramuralConfigID: cfg.ID, Label: "eu-west", PublicKey: "pub2"}
	require.NoError(t, s.InsertExtramuralServer(srv1))
	require.NoError(t, s.InsertExtramuralServer(srv2))

	require.NoError(t, s.SetActiveServer(cfg.ID, srv1.ID))
	require.NoError(t, s.SetActiveServer(cfg.ID, srv2.ID))

	servers, err := s.ListExtramuralServers(cfg.ID)
	require.NoError(t, err)

	activeCount := 0
	for _, srv := range servers {
		if srv.Active {
			activeCount++
			require.Equal(t, srv2.ID, srv.ID)
		}
	}
	require.Equal(t, 1, activeCount)
}

func TestRevertExitOnlyRemotesOnExitNodeRemoval(t *testing.T) {
	s := openTestStore(t)
	cs := newCS(t)
	require.NoError(t, s.UpsertCoordinationServer(cs))

	exitPriv, exitPub, err := keys.GenerateKeypair()
	require.NoError(t, err)
	exit := &model.ExitNode{
		Base: model.Base{PermanentGUID: exitPub, CurrentPublicKey: exitPub, CurrentPrivateKey: exitPriv, Hostname: "exit1", VPNIPv4: "10.8.0.100", ListenPort: 51820},
		WANInterface: "eth0",
	}
	require.NoError(t, s.UpsertExitNode(exit, cs.PermanentGUID))

	rPriv, rPub, err := keys.GenerateKeypair()
	require.NoError(t, err)
	remote := &model.Remote{
		Base:        model.Base{PermanentGUID: rPub, CurrentPublicKey: rPub, CurrentPrivateKey: rPriv, Hostname: "phone", VPNIPv4: "10.8.0.30"},
		AccessLevel: model.AccessExitOnly,
		ExitNodeID:  exit.PermanentGUID,
	}
	require.NoError(t, s.UpsertRemote(remote, cs.PermanentGUID))

	touched, err := s.RevertExitOnlyRemotes(exit.PermanentGUID)
	require.NoError(t, err)
	require.Equal(t, []string{remote.PermanentGUID}, touched)

	list, err := s.ListRemotes(cs.PermanentGUID)
	require.NoError(t, err)
	require.Equal(t, model.AccessFullAccess, list[0].AccessLevel)
	require.Empty(t, list[0].ExitNodeID)
}
