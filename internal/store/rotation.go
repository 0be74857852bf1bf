package store

import (
	"database/sql"

	"github.com/google/uuid"

	"github.com/graemester/wgfriend/internal/model"
	"github.com/graemester/wgfriend/internal/wgerr"
)

// AppendRotation writes one append-only key_rotation_history row. A
// removal is recorded by the caller passing rec with NewPublicKey and
// NewPrivateKey left empty, per §3's lifecycle rule for "removed".
func (s *Store) AppendRotation(rec *model.KeyRotation) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO key_rotation_history
			(id, entity_guid, entity_kind, old_public_key, new_public_key, new_private_key, rotated_at, reason)
			VALUES (?,?,?,?,?,?,?,?)`,
			rec.ID, rec.EntityGUID, string(rec.EntityKind), rec.OldPublicKey, rec.NewPublicKey, rec.NewPrivateKey, rec.RotatedAt, rec.Reason)
		if err != nil {
			return wgerr.Wrap(wgerr.KindRemote, "StoreWriteFailed", "append rotation history", err)
		}
		return nil
	})
}

// ListRotations returns every rotation row for guid in chronological
// order, the total order key_rotation_history guarantees per §5.
func (s *Store) ListRotations(guid string) ([]model.KeyRotation, error) {
	rows, err := s.db.Query(`SELECT id, entity_guid, entity_kind, old_public_key, new_public_key, new_private_key, rotated_at, reason
		FROM key_rotation_history WHERE entity_guid = ? ORDER BY rotated_at`, guid)
	if err != nil {
		return nil, wgerr.Wrap(wgerr.KindRemote, "StoreQueryFailed", "list rotations", err)
	}
	defer rows.Close()

	var out []model.KeyRotation
	for rows.Next() {
		var r model.KeyRotation
		var kind string
		if err := rows.Scan(&r.ID, &r.EntityGUID, &kind, &r.OldPublicKey, &r.NewPublicKey, &r.NewPrivateKey, &r.RotatedAt, &r.Reason); err != nil {
			return nil, wgerr.Wrap(wgerr.KindRemote, "StoreQueryFailed", "scan rotation", err)
		}
		r.EntityKind = model.Kind(kind)
		out = append(out, r)
	}
	return out, nil
}
