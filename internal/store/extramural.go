// Extramural operations implement §4.10/§3's extramural domain: a
// sponsor owns configs, each config has multiple candidate servers
// with exactly one active at a time (enforced by the partial unique
// index on extramural_servers in the migration).
package store

import (
	"database/sql"

	"github.com/google/uuid"

	"github.com/graemester/wgfriend/internal/model"
	"github.com/graemester/wgfriend/internal/wgerr"
)

// UpsertSponsor inserts or fetches the sponsor named name.
func (s *Store) UpsertSponsor(name string) (*model.Sponsor, error) {
	var sp model.Sponsor
	err := s.withTx(func(tx *sql.Tx) error {
		id := uuid.NewString()
		if _, err := tx.Exec(`INSERT INTO sponsors (id, name) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`, id, name); err != nil {
			return wgerr.Wrap(wgerr.KindRemote, "StoreWriteFailed", "upsert sponsor", err)
		}
		return tx.QueryRow(`SELECT id, name FROM sponsors WHERE name = ?`, name).Scan(&sp.ID, &sp.Name)
	})
	if err != nil {
		return nil, err
	}
	return &sp, nil
}

// InsertExtramuralConfig creates a config bound to sponsorID.
func (s *Store) InsertExtramuralConfig(cfg *model.ExtramuralConfig) error {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO extramural_configs
			(id, sponsor_id, local_private_key, local_public_key, local_vpn_ipv4, local_vpn_ipv6, dns, pending_remote_update)
			VALUES (?,?,?,?,?,?,?,?)`,
			cfg.ID, cfg.SponsorID, cfg.LocalPrivateKey, cfg.LocalPublicKey, cfg.LocalVPNIPv4, cfg.LocalVPNIPv6,
			joinCSV(cfg.DNS), boolToInt(cfg.PendingRemoteUpdate))
		if err != nil {
			return wgerr.Wrap(wgerr.KindRemote, "StoreWriteFailed", "insert extramural_config", err)
		}
		return nil
	})
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// InsertExtramuralServer adds a candidate server to a config. active
// defaults false; use SetActiveServer to flip the enforced singleton.
func (s *Store) InsertExtramuralServer(srv *model.ExtramuralServer) error {
	if srv.ID == "" {
		srv.ID = uuid.NewString()
	}
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO extramural_servers
			(id, extramural_config_id, label, public_key, preshared_key, endpoint, allowed_ips, active)
			VALUES (?,?,?,?,?,?,?,0)`,
			srv.ID, srv.ExtramuralConfigID, srv.Label, srv.PublicKey, srv.PresharedKey, srv.Endpoint, joinCSV(srv.AllowedIPs))
		if err != nil {
			return wgerr.Wrap(wgerr.KindRemote, "StoreWriteFailed", "insert extramural_server", err)
		}
		return nil
	})
}

// SetActiveServer marks serverID active for its config and every other
// candidate server of that config inactive, in one transaction so the
// "exactly one active" invariant is never visible as violated.
func (s *Store) SetActiveServer(configID, serverID string) error {
	return s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`UPDATE extramural_servers SET active = 0 WHERE extramural_config_id = ?`, configID); err != nil {
			return wgerr.Wrap(wgerr.KindRemote, "StoreWriteFailed", "deactivate extramural servers", err)
		}
		res, err := tx.Exec(`UPDATE extramural_servers SET active = 1 WHERE id = ? AND extramural_config_id = ?`, serverID, configID)
		if err != nil {
			return wgerr.Wrap(wgerr.KindRemote, "StoreWriteFailed", "activate extramural server", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return wgerr.New(wgerr.KindInvariant, wgerr.ErrOrphanedReference.Tag, "no such extramural server in config")
		}
		return nil
	})
}

// SetPendingRemoteUpdate marks or clears configID's pending-update
// flag, used by rotate-local-key and the operator's confirm step.
func (s *Store) SetPendingRemoteUpdate(configID string, pending bool) error {
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE extramural_configs SET pending_remote_update = ? WHERE id = ?`, boolToInt(pending), configID)
		if err != nil {
			return wgerr.Wrap(wgerr.KindRemote, "StoreWriteFailed", "set pending_remote_update", err)
		}
		return nil
	})
}

// FetchExtramuralConfig loads one config by ID.
func (s *Store) FetchExtramuralConfig(id string) (*model.ExtramuralConfig, error) {
	var cfg model.ExtramuralConfig
	var dns string
	var pending int
	err := s.db.QueryRow(`SELECT id, sponsor_id, local_private_key, local_public_key, local_vpn_ipv4, local_vpn_ipv6, dns, pending_remote_update
		FROM extramural_configs WHERE id = ?`, id).
		Scan(&cfg.ID, &cfg.SponsorID, &cfg.LocalPrivateKey, &cfg.LocalPublicKey, &cfg.LocalVPNIPv4, &cfg.LocalVPNIPv6, &dns, &pending)
	if err == sql.ErrNoRows {
		return nil, wgerr.New(wgerr.KindInvariant, wgerr.ErrOrphanedReference.Tag, "no such extramural config: "+id)
	}
	if err != nil {
		return nil, wgerr.Wrap(wgerr.KindRemote, "StoreQueryFailed", "fetch extramural_config", err)
	}
	cfg.DNS = splitCSV(dns)
	cfg.PendingRemoteUpdate = pending != 0
	return &cfg, nil
}

// UpdateExtramuralLocalKeys replaces configID's local keypair, the
// rotate-local-key half of §4.10; setting pending_remote_update is the
// caller's separate responsibility via SetPendingRemoteUpdate so the
// two effects stay independently testable.
func (s *Store) UpdateExtramuralLocalKeys(configID, publicKey, privateKey string) error {
	return s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE extramural_configs SET local_public_key = ?, local_private_key = ? WHERE id = ?`,
			publicKey, privateKey, configID)
		if err != nil {
			return wgerr.Wrap(wgerr.KindRemote, "StoreWriteFailed", "update extramural local keys", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return wgerr.New(wgerr.KindInvariant, wgerr.ErrOrphanedReference.Tag, "no such extramural config: "+configID)
		}
		return nil
	})
}

// ListExtramuralServers returns every candidate server for configID.
func (s *Store) ListExtramuralServers(configID string) ([]model.ExtramuralServer, error) {
	rows, err := s.db.Query(`SELECT id, extramural_config_id, label, public_key, preshared_key, endpoint, allowed_ips, active
		FROM extramural_servers WHERE extramural_config_id = ?`, configID)
	if err != nil {
		return nil, wgerr.Wrap(wgerr.KindRemote, "StoreQueryFailed", "list extramural_servers", err)
	}
	defer rows.Close()

	var out []model.ExtramuralServer
	for rows.Next() {
		var srv model.ExtramuralServer
		var allowed string
		var active int
		if err := rows.Scan(&srv.ID, &srv.ExtramuralConfigID, &srv.Label, &srv.PublicKey, &srv.PresharedKey, &srv.Endpoint, &allowed, &active); err != nil {
			return nil, wgerr.Wrap(wgerr.KindRemote, "StoreQueryFailed", "scan extramural_server", err)
		}
		srv.AllowedIPs = splitCSV(allowed)
		srv.Active = active != 0
		out = append(out, srv)
	}
	return out, nil
}
