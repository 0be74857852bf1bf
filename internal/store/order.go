package store

import (
	"database/sql"

	"github.com/graemester/wgfriend/internal/model"
	"github.com/graemester/wgfriend/internal/wgerr"
)

// ReplaceCSPeerOrder atomically swaps the recorded peer section order
// for csGUID, §3's "preserves the peer section order found at import
// so regenerated coordination files remain diff-stable."
func (s *Store) ReplaceCSPeerOrder(csGUID string, order []model.CSPeerOrder) error {
	return s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM cs_peer_order WHERE cs_guid = ?`, csGUID); err != nil {
			return wgerr.Wrap(wgerr.KindRemote, "StoreWriteFailed", "clear cs_peer_order", err)
		}
		for _, o := range order {
			if _, err := tx.Exec(`INSERT INTO cs_peer_order (cs_guid, entity_guid, entity_kind, display_order) VALUES (?,?,?,?)`,
				csGUID, o.EntityGUID, string(o.EntityKind), o.DisplayOrder); err != nil {
				return wgerr.Wrap(wgerr.KindRemote, "StoreWriteFailed", "insert cs_peer_order", err)
			}
		}
		return nil
	})
}

// AppendCSPeerOrder adds a single entity to the end of csGUID's
// recorded peer order — used when add_remote/add_subnet_router/
// add_exit_node creates a brand new peer rather than importing one.
func (s *Store) AppendCSPeerOrder(csGUID, entityGUID string, kind model.Kind) error {
	return s.withTx(func(tx *sql.Tx) error {
		var next int
		if err := tx.QueryRow(`SELECT COALESCE(MAX(display_order), -1) + 1 FROM cs_peer_order WHERE cs_guid = ?`, csGUID).Scan(&next); err != nil {
			return wgerr.Wrap(wgerr.KindRemote, "StoreQueryFailed", "compute next peer order", err)
		}
		if _, err := tx.Exec(`INSERT INTO cs_peer_order (cs_guid, entity_guid, entity_kind, display_order) VALUES (?,?,?,?)`,
			csGUID, entityGUID, string(kind), next); err != nil {
			return wgerr.Wrap(wgerr.KindRemote, "StoreWriteFailed", "append cs_peer_order", err)
		}
		return nil
	})
}

// ListCSPeerOrder returns csGUID's recorded peer order ascending.
func (s *Store) ListCSPeerOrder(csGUID string) ([]model.CSPeerOrder, error) {
	rows, err := s.db.Query(`SELECT cs_guid, entity_guid, entity_kind, display_order FROM cs_peer_order WHERE cs_guid = ? ORDER BY display_order`, csGUID)
	if err != nil {
		return nil, wgerr.Wrap(wgerr.KindRemote, "StoreQueryFailed", "list cs_peer_order", err)
	}
	defer rows.Close()

	var out []model.CSPeerOrder
	for rows.Next() {
		var o model.CSPeerOrder
		var kind string
		if err := rows.Scan(&o.CSGUID, &o.EntityGUID, &kind, &o.DisplayOrder); err != nil {
			return nil, wgerr.Wrap(wgerr.KindRemote, "StoreQueryFailed", "scan cs_peer_order", err)
		}
		o.EntityKind = model.Kind(kind)
		out = append(out, o)
	}
	return out, nil
}
