// Package extramural implements §4.10's extramural manager: importing
// and switching between third-party (commercial-VPN) provider configs
// that deliberately never touch the mesh's own entity tables.
package extramural

import (
	"github.com/graemester/wgfriend/internal/keys"
	"github.com/graemester/wgfriend/internal/model"
	"github.com/graemester/wgfriend/internal/store"
	"github.com/graemester/wgfriend/internal/wgconf"
	"github.com/graemester/wgfriend/internal/wgerr"
)

// Manager wraps a store handle with the four §4.10 operations. It
// never accepts or returns a model.Entity: the extramural domain has
// no overlap with the mesh at the type level.
type Manager struct {
	store *store.Store
}

func New(st *store.Store) *Manager { return &Manager{store: st} }

// ImportProviderConfig parses a third-party .conf with the same
// parser the mesh uses, binds its single [Interface] as the sponsor's
// local_peer, and turns every [Peer] section into a candidate
// extramural_server row. The first peer becomes the initially active
// server; later ones are inactive candidates until SwitchActiveServer
// promotes one.
func (m *Manager) ImportProviderConfig(sponsorName, configText string) (*model.ExtramuralConfig, []model.ExtramuralServer, error) {
	parsed, err := wgconf.Parse(configText)
	if err != nil {
		return nil, nil, err
	}
	if len(parsed.Peers) == 0 {
		return nil, nil, wgerr.New(wgerr.KindInput, wgerr.ErrMalformedConfig.Tag, "provider config has no [Peer] sections")
	}

	sponsor, err := m.store.UpsertSponsor(sponsorName)
	if err != nil {
		return nil, nil, err
	}

	localAddr4, localAddr6 := splitAddresses(parsed.Interface.Address)
	cfg := &model.ExtramuralConfig{
		SponsorID:       sponsor.ID,
		LocalPrivateKey: parsed.Interface.PrivateKey,
		LocalVPNIPv4:    localAddr4,
		LocalVPNIPv6:    localAddr6,
		DNS:             parsed.Interface.DNS,
	}
	if cfg.LocalPrivateKey != "" {
		pub, err := keys.DerivePublic(cfg.LocalPrivateKey)
		if err != nil {
			return nil, nil, err
		}
		cfg.LocalPublicKey = pub
	}
	if err := m.store.InsertExtramuralConfig(cfg); err != nil {
		return nil, nil, err
	}

	var servers []model.ExtramuralServer
	for i, peer := range parsed.Peers {
		srv := model.ExtramuralServer{
			ExtramuralConfigID: cfg.ID,
			Label:              peer.Endpoint,
			PublicKey:          peer.PublicKey,
			PresharedKey:       peer.PresharedKey,
			Endpoint:           peer.Endpoint,
			AllowedIPs:         peer.AllowedIPs,
		}
		if err := m.store.InsertExtramuralServer(&srv); err != nil {
			return nil, nil, err
		}
		servers = append(servers, srv)
		if i == 0 {
			if err := m.store.SetActiveServer(cfg.ID, srv.ID); err != nil {
				return nil, nil, err
			}
			servers[0].Active = true
		}
	}

	return cfg, servers, nil
}

// SwitchActiveServer promotes serverID to active for configID,
// demoting whichever candidate was active before it, in one
// transaction (the store's partial unique index never observes two
// active rows at once).
func (m *Manager) SwitchActiveServer(configID, serverID string) error {
	return m.store.SetActiveServer(configID, serverID)
}

// RotateLocalKey generates a fresh keypair for configID's local peer
// and marks pending_remote_update: the provider-side server has not
// yet been told about the new public key, so existing tunnels keep
// working on the old key until ConfirmRemoteUpdate clears the flag.
func (m *Manager) RotateLocalKey(configID string) (*model.ExtramuralConfig, error) {
	priv, pub, err := keys.GenerateKeypair()
	if err != nil {
		return nil, err
	}
	if err := m.store.UpdateExtramuralLocalKeys(configID, pub, priv); err != nil {
		return nil, err
	}
	if err := m.store.SetPendingRemoteUpdate(configID, true); err != nil {
		return nil, err
	}
	return m.store.FetchExtramuralConfig(configID)
}

// ConfirmRemoteUpdate clears pending_remote_update once the operator
// has updated the provider's dashboard with the new public key.
func (m *Manager) ConfirmRemoteUpdate(configID string) error {
	return m.store.SetPendingRemoteUpdate(configID, false)
}

// splitAddresses separates an [Interface] Address list into its first
// IPv4 and first IPv6 entry, the shape local_vpn_ipv4/local_vpn_ipv6
// expect.
func splitAddresses(addrs []string) (v4, v6 string) {
	for _, a := range addrs {
		if v4 == "" && !containsColon(a) {
			v4 = a
		} else if v6 == "" && containsColon(a) {
			v6 = a
		}
	}
	return v4, v6
}

func containsColon(s string) bool {
	for _, r := range s {
		if r == ':' {
			return true
		}
	}
	return false
}
