package store

import (
	"database/sql"

	"github.com/google/uuid"

	"github.com/graemester/wgfriend/internal/model"
	"github.com/graemester/wgfriend/internal/wgerr"
)

// ReplaceComments atomically swaps every comment attached to guid for
// the given set, preserving permanent_guid attachment across rotation
// per §3's "comments survive rotation" rule.
func (s *Store) ReplaceComments(guid string, kind model.Kind, comments []model.Comment) error {
	return s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM comments WHERE entity_guid = ?`, guid); err != nil {
			return wgerr.Wrap(wgerr.KindRemote, "StoreWriteFailed", "clear comments", err)
		}
		for _, c := range comments {
			if c.ID == "" {
				c.ID = uuid.NewString()
			}
			if _, err := tx.Exec(`INSERT INTO comments (id, entity_guid, entity_kind, category, text, position, display_order)
				VALUES (?,?,?,?,?,?,?)`,
				c.ID, guid, string(kind), string(c.Category), c.Text, string(c.Position), c.DisplayOrder); err != nil {
				return wgerr.Wrap(wgerr.KindRemote, "StoreWriteFailed", "insert comment", err)
			}
		}
		return nil
	})
}

// ListComments returns every comment attached to guid, ordered as
// recorded at import/edit time.
func (s *Store) ListComments(guid string) ([]model.Comment, error) {
	rows, err := s.db.Query(`SELECT id, entity_guid, entity_kind, category, text, position, display_order
		FROM comments WHERE entity_guid = ? ORDER BY display_order`, guid)
	if err != nil {
		return nil, wgerr.Wrap(wgerr.KindRemote, "StoreQueryFailed", "list comments", err)
	}
	defer rows.Close()

	var out []model.Comment
	for rows.Next() {
		var c model.Comment
		var kind, category, position string
		if err := rows.Scan(&c.ID, &c.EntityGUID, &kind, &category, &c.Text, &position, &c.DisplayOrder); err != nil {
			return nil, wgerr.Wrap(wgerr.KindRemote, "StoreQueryFailed", "scan comment", err)
		}
		c.EntityKind = model.Kind(kind)
		c.Category = model.CommentCategory(category)
		c.Position = model.CommentPosition(position)
		out = append(out, c)
	}
	return out, nil
}
