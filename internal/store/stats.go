package store

import "github.com/graemester/wgfriend/internal/wgerr"

// Stats generalizes the teacher's VPNStats (AbuCTF-Anvil's
// vpn.Service.Stats) from a single-server VPN counter to a whole-mesh
// summary: one count per entity kind plus rotation/comment volume,
// useful for the CLI's status output and for sanity-checking an
// import.
type Stats struct {
	SubnetRouters   int
	Remotes         int
	ExitNodes       int
	TotalRotations  int
	TotalComments   int
	TotalFirewallRules int
}

// Stats computes a mesh-wide summary for csGUID.
func (s *Store) Stats(csGUID string) (*Stats, error) {
	var st Stats
	queries := []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(*) FROM subnet_routers WHERE cs_guid = ?`, &st.SubnetRouters},
		{`SELECT COUNT(*) FROM remotes WHERE cs_guid = ?`, &st.Remotes},
		{`SELECT COUNT(*) FROM exit_nodes WHERE cs_guid = ?`, &st.ExitNodes},
	}
	for _, q := range queries {
		if err := s.db.QueryRow(q.query, csGUID).Scan(q.dest); err != nil {
			return nil, wgerr.Wrap(wgerr.KindRemote, "StoreQueryFailed", "compute stats", err)
		}
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM key_rotation_history`).Scan(&st.TotalRotations); err != nil {
		return nil, wgerr.Wrap(wgerr.KindRemote, "StoreQueryFailed", "count rotations", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM comments`).Scan(&st.TotalComments); err != nil {
		return nil, wgerr.Wrap(wgerr.KindRemote, "StoreQueryFailed", "count comments", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM peer_firewall_rules`).Scan(&st.TotalFirewallRules); err != nil {
		return nil, wgerr.Wrap(wgerr.KindRemote, "StoreQueryFailed", "count firewall rules", err)
	}
	return &st, nil
}
