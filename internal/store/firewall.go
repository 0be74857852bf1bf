package store

import (
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/graemester/wgfriend/internal/model"
	"github.com/graemester/wgfriend/internal/wgerr"
)

func joinLines(lines []string) string { return strings.Join(lines, "\n") }

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// ReplaceFirewallRules atomically swaps every restricted-IP firewall
// rule owned by remoteGUID, §4.7.
func (s *Store) ReplaceFirewallRules(remoteGUID string, rules []model.PeerFirewallRule) error {
	return s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM peer_firewall_rules WHERE remote_guid = ?`, remoteGUID); err != nil {
			return wgerr.Wrap(wgerr.KindRemote, "StoreWriteFailed", "clear firewall rules", err)
		}
		for _, r := range rules {
			if r.ID == "" {
				r.ID = uuid.NewString()
			}
			ports, err := json.Marshal(r.AllowedPorts)
			if err != nil {
				return wgerr.Wrap(wgerr.KindInput, wgerr.ErrMalformedConfig.Tag, "encode allowed ports", err)
			}
			if _, err := tx.Exec(`INSERT INTO peer_firewall_rules
				(id, remote_guid, subnet_router_guid, target_ip_cidr, allowed_ports, postup_lines, postdown_lines, rule_order)
				VALUES (?,?,?,?,?,?,?,?)`,
				r.ID, remoteGUID, r.SubnetRouterGUID, r.TargetIPCIDR, string(ports), joinLines(r.PostUpLines), joinLines(r.PostDownLines), r.Order); err != nil {
				return wgerr.Wrap(wgerr.KindRemote, "StoreWriteFailed", "insert firewall rule", err)
			}
		}
		return nil
	})
}

// ListFirewallRulesForRemote returns remoteGUID's rules in order.
func (s *Store) ListFirewallRulesForRemote(remoteGUID string) ([]model.PeerFirewallRule, error) {
	return s.queryFirewallRules(`remote_guid = ?`, remoteGUID)
}

// ListFirewallRulesForSubnetRouter returns every rule that targets
// subnetRouterGUID, across all remotes, in order — the shape C6 needs
// to emit a subnet router's restricted-IP block.
func (s *Store) ListFirewallRulesForSubnetRouter(subnetRouterGUID string) ([]model.PeerFirewallRule, error) {
	return s.queryFirewallRules(`subnet_router_guid = ?`, subnetRouterGUID)
}

func (s *Store) queryFirewallRules(where string, arg string) ([]model.PeerFirewallRule, error) {
	rows, err := s.db.Query(`SELECT id, remote_guid, subnet_router_guid, target_ip_cidr, allowed_ports, postup_lines, postdown_lines, rule_order
		FROM peer_firewall_rules WHERE `+where+` ORDER BY rule_order`, arg)
	if err != nil {
		return nil, wgerr.Wrap(wgerr.KindRemote, "StoreQueryFailed", "list firewall rules", err)
	}
	defer rows.Close()

	var out []model.PeerFirewallRule
	for rows.Next() {
		var r model.PeerFirewallRule
		var ports, up, down string
		if err := rows.Scan(&r.ID, &r.RemoteGUID, &r.SubnetRouterGUID, &r.TargetIPCIDR, &ports, &up, &down, &r.Order); err != nil {
			return nil, wgerr.Wrap(wgerr.KindRemote, "StoreQueryFailed", "scan firewall rule", err)
		}
		if ports != "" {
			if err := json.Unmarshal([]byte(ports), &r.AllowedPorts); err != nil {
				return nil, wgerr.Wrap(wgerr.KindInput, wgerr.ErrMalformedConfig.Tag, "decode allowed ports", err)
			}
		}
		r.PostUpLines = splitLines(up)
		r.PostDownLines = splitLines(down)
		out = append(out, r)
	}
	return out, nil
}
