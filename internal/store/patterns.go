package store

import (
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/graemester/wgfriend/internal/model"
	"github.com/graemester/wgfriend/internal/wgerr"
)

// ReplaceCommandPairs atomically swaps every recognized PostUp/PostDown
// pair bound to guid, per §4.4's pattern-library/entity binding.
func (s *Store) ReplaceCommandPairs(guid string, kind model.Kind, pairs []model.CommandPair) error {
	return s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM command_pairs WHERE entity_guid = ?`, guid); err != nil {
			return wgerr.Wrap(wgerr.KindRemote, "StoreWriteFailed", "clear command_pairs", err)
		}
		for _, p := range pairs {
			if p.ID == "" {
				p.ID = uuid.NewString()
			}
			vars, err := json.Marshal(p.Variables)
			if err != nil {
				return wgerr.Wrap(wgerr.KindInput, wgerr.ErrMalformedConfig.Tag, "encode pattern variables", err)
			}
			if _, err := tx.Exec(`INSERT INTO command_pairs
				(id, entity_guid, entity_kind, pattern_name, up_commands, down_commands, variables, scope, execution_order)
				VALUES (?,?,?,?,?,?,?,?,?)`,
				p.ID, guid, string(kind), p.PatternName, joinLines(p.UpCommands), joinLines(p.DownCommands), string(vars), string(p.Scope), p.ExecutionOrder); err != nil {
				return wgerr.Wrap(wgerr.KindRemote, "StoreWriteFailed", "insert command_pair", err)
			}
		}
		return nil
	})
}

// ListCommandPairs returns every pattern binding for guid in execution
// order, the order the generator must reconstruct PostUp/PostDown in.
func (s *Store) ListCommandPairs(guid string) ([]model.CommandPair, error) {
	rows, err := s.db.Query(`SELECT id, entity_guid, entity_kind, pattern_name, up_commands, down_commands, variables, scope, execution_order
		FROM command_pairs WHERE entity_guid = ? ORDER BY execution_order`, guid)
	if err != nil {
		return nil, wgerr.Wrap(wgerr.KindRemote, "StoreQueryFailed", "list command_pairs", err)
	}
	defer rows.Close()

	var out []model.CommandPair
	for rows.Next() {
		var p model.CommandPair
		var kind, up, down, scope, vars string
		if err := rows.Scan(&p.ID, &p.EntityGUID, &kind, &p.PatternName, &up, &down, &vars, &scope, &p.ExecutionOrder); err != nil {
			return nil, wgerr.Wrap(wgerr.KindRemote, "StoreQueryFailed", "scan command_pair", err)
		}
		p.EntityKind = model.Kind(kind)
		p.UpCommands = splitLines(up)
		p.DownCommands = splitLines(down)
		p.Scope = model.CommandScope(scope)
		p.Variables = map[string]string{}
		if vars != "" {
			if err := json.Unmarshal([]byte(vars), &p.Variables); err != nil {
				return nil, wgerr.Wrap(wgerr.KindInput, wgerr.ErrMalformedConfig.Tag, "decode pattern variables", err)
			}
		}
		out = append(out, p)
	}
	return out, nil
}

// ReplaceCommandSingletons atomically swaps every unrecognized verbatim
// PostUp/PostDown fragment bound to guid, §4.4's "custom" fallback.
func (s *Store) ReplaceCommandSingletons(guid string, kind model.Kind, singles []model.CommandSingleton) error {
	return s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM command_singletons WHERE entity_guid = ?`, guid); err != nil {
			return wgerr.Wrap(wgerr.KindRemote, "StoreWriteFailed", "clear command_singletons", err)
		}
		for _, c := range singles {
			if c.ID == "" {
				c.ID = uuid.NewString()
			}
			if _, err := tx.Exec(`INSERT INTO command_singletons (id, entity_guid, entity_kind, direction, text, execution_order)
				VALUES (?,?,?,?,?,?)`,
				c.ID, guid, string(kind), c.Direction, c.Text, c.ExecutionOrder); err != nil {
				return wgerr.Wrap(wgerr.KindRemote, "StoreWriteFailed", "insert command_singleton", err)
			}
		}
		return nil
	})
}

// ListCommandSingletons returns every verbatim fragment bound to guid
// in execution order.
func (s *Store) ListCommandSingletons(guid string) ([]model.CommandSingleton, error) {
	rows, err := s.db.Query(`SELECT id, entity_guid, entity_kind, direction, text, execution_order
		FROM command_singletons WHERE entity_guid = ? ORDER BY execution_order`, guid)
	if err != nil {
		return nil, wgerr.Wrap(wgerr.KindRemote, "StoreQueryFailed", "list command_singletons", err)
	}
	defer rows.Close()

	var out []model.CommandSingleton
	for rows.Next() {
		var c model.CommandSingleton
		var kind string
		if err := rows.Scan(&c.ID, &c.EntityGUID, &kind, &c.Direction, &c.Text, &c.ExecutionOrder); err != nil {
			return nil, wgerr.Wrap(wgerr.KindRemote, "StoreQueryFailed", "scan command_singleton", err)
		}
		c.EntityKind = model.Kind(kind)
		out = append(out, c)
	}
	return out, nil
}
