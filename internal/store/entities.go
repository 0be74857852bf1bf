package store

import (
	"database/sql"
	"strings"
	"time"

	"github.com/graemester/wgfriend/internal/model"
	"github.com/graemester/wgfriend/internal/wgerr"
)

func joinCSV(vals []string) string { return strings.Join(vals, ",") }

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// UpsertCoordinationServer inserts or replaces cs. permanent_guid must
// already be set by the caller (orchestrator sets it to the first
// observed public key per identity invariant #3).
func (s *Store) UpsertCoordinationServer(cs *model.CoordinationServer) error {
	return s.withTx(func(tx *sql.Tx) error {
		now := cs.UpdatedAt
		if now.IsZero() {
			now = timeNow()
		}
		if cs.CreatedAt.IsZero() {
			cs.CreatedAt = now
		}
		cs.UpdatedAt = now
		_, err := tx.Exec(`INSERT INTO coordination_servers
			(permanent_guid, current_public_key, current_private_key, hostname, vpn_ipv4, vpn_ipv6,
			 endpoint_host, endpoint_port, listen_port, vpn_network_v4, vpn_network_v6,
			 ssh_host, ssh_port, ssh_user, ssh_remote_path, created_at, updated_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT(permanent_guid) DO UPDATE SET
			 current_public_key=excluded.current_public_key,
			 current_private_key=excluded.current_private_key,
			 hostname=excluded.hostname,
			 vpn_ipv4=excluded.vpn_ipv4,
			 vpn_ipv6=excluded.vpn_ipv6,
			 endpoint_host=excluded.endpoint_host,
			 endpoint_port=excluded.endpoint_port,
			 listen_port=excluded.listen_port,
			 vpn_network_v4=excluded.vpn_network_v4,
			 vpn_network_v6=excluded.vpn_network_v6,
			 ssh_host=excluded.ssh_host,
			 ssh_port=excluded.ssh_port,
			 ssh_user=excluded.ssh_user,
			 ssh_remote_path=excluded.ssh_remote_path,
			 updated_at=excluded.updated_at`,
			cs.PermanentGUID, cs.CurrentPublicKey, cs.CurrentPrivateKey, cs.Hostname, cs.VPNIPv4, nullable(cs.VPNIPv6),
			nullable(cs.EndpointHost), nullableInt(cs.EndpointPort), cs.ListenPort, cs.VPNNetworkV4, nullable(cs.VPNNetworkV6),
			nullable(cs.SSH.Host), nullableInt(cs.SSH.Port), nullable(cs.SSH.User), nullable(cs.SSH.RemoteConfigPath),
			cs.CreatedAt, cs.UpdatedAt)
		if err != nil {
			return wgerr.Wrap(wgerr.KindInvariant, wgerr.ErrDuplicateIdentity.Tag, "upsert coordination_server", err)
		}
		return nil
	})
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(n int) interface{} {
	if n == 0 {
		return nil
	}
	return n
}

func scanString(n sql.NullString) string { return n.String }
func scanInt(n sql.NullInt64) int        { return int(n.Int64) }

// FetchCoordinationServer fetches a coordination server by permanent_guid.
func (s *Store) FetchCoordinationServer(guid string) (*model.CoordinationServer, error) {
	row := s.db.QueryRow(`SELECT permanent_guid, current_public_key, current_private_key, hostname, vpn_ipv4, vpn_ipv6,
		endpoint_host, endpoint_port, listen_port, vpn_network_v4, vpn_network_v6,
		ssh_host, ssh_port, ssh_user, ssh_remote_path, created_at, updated_at
		FROM coordination_servers WHERE permanent_guid = ?`, guid)
	return scanCS(row)
}

func scanCS(row *sql.Row) (*model.CoordinationServer, error) {
	var cs model.CoordinationServer
	var vpn6, endpointHost, vpnNet6, sshHost, sshUser, sshPath sql.NullString
	var endpointPort, sshPort sql.NullInt64
	err := row.Scan(&cs.PermanentGUID, &cs.CurrentPublicKey, &cs.CurrentPrivateKey, &cs.Hostname, &cs.VPNIPv4, &vpn6,
		&endpointHost, &endpointPort, &cs.ListenPort, &cs.VPNNetworkV4, &vpnNet6,
		&sshHost, &sshPort, &sshUser, &sshPath, &cs.CreatedAt, &cs.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, wgerr.New(wgerr.KindInvariant, wgerr.ErrOrphanedReference.Tag, "coordination server not found")
	}
	if err != nil {
		return nil, wgerr.Wrap(wgerr.KindRemote, "StoreQueryFailed", "scan coordination_server", err)
	}
	cs.VPNIPv6 = scanString(vpn6)
	cs.EndpointHost = scanString(endpointHost)
	cs.EndpointPort = scanInt(endpointPort)
	cs.VPNNetworkV6 = scanString(vpnNet6)
	cs.SSH = model.SSHCoordinates{Host: scanString(sshHost), Port: scanInt(sshPort), User: scanString(sshUser), RemoteConfigPath: scanString(sshPath)}
	return &cs, nil
}

// UpsertSubnetRouter inserts or replaces sr.
func (s *Store) UpsertSubnetRouter(sr *model.SubnetRouter, csGUID string) error {
	return s.withTx(func(tx *sql.Tx) error {
		now := timeNow()
		if sr.CreatedAt.IsZero() {
			sr.CreatedAt = now
		}
		sr.UpdatedAt = now
		_, err := tx.Exec(`INSERT INTO subnet_routers
			(permanent_guid, current_public_key, current_private_key, hostname, vpn_ipv4, vpn_ipv6,
			 endpoint_host, endpoint_port, listen_port, advertised_networks, lan_interface,
			 ssh_host, ssh_port, ssh_user, ssh_remote_path, created_at, updated_at, cs_guid)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT(permanent_guid) DO UPDATE SET
			 current_public_key=excluded.current_public_key,
			 current_private_key=excluded.current_private_key,
			 hostname=excluded.hostname,
			 vpn_ipv4=excluded.vpn_ipv4,
			 vpn_ipv6=excluded.vpn_ipv6,
			 endpoint_host=excluded.endpoint_host,
			 endpoint_port=excluded.endpoint_port,
			 listen_port=excluded.listen_port,
			 advertised_networks=excluded.advertised_networks,
			 lan_interface=excluded.lan_interface,
			 ssh_host=excluded.ssh_host,
			 ssh_port=excluded.ssh_port,
			 ssh_user=excluded.ssh_user,
			 ssh_remote_path=excluded.ssh_remote_path,
			 updated_at=excluded.updated_at`,
			sr.PermanentGUID, sr.CurrentPublicKey, sr.CurrentPrivateKey, sr.Hostname, sr.VPNIPv4, nullable(sr.VPNIPv6),
			nullable(sr.EndpointHost), nullableInt(sr.EndpointPort), sr.ListenPort, joinCSV(sr.AdvertisedNetworks), sr.LANInterface,
			nullable(sr.SSH.Host), nullableInt(sr.SSH.Port), nullable(sr.SSH.User), nullable(sr.SSH.RemoteConfigPath),
			sr.CreatedAt, sr.UpdatedAt, csGUID)
		if err != nil {
			return wgerr.Wrap(wgerr.KindInvariant, wgerr.ErrDuplicateIdentity.Tag, "upsert subnet_router", err)
		}
		return nil
	})
}

// ListSubnetRouters lists every subnet router belonging to csGUID.
func (s *Store) ListSubnetRouters(csGUID string) ([]*model.SubnetRouter, error) {
	rows, err := s.db.Query(`SELECT permanent_guid, current_public_key, current_private_key, hostname, vpn_ipv4, vpn_ipv6,
		endpoint_host, endpoint_port, listen_port, advertised_networks, lan_interface,
		ssh_host, ssh_port, ssh_user, ssh_remote_path, created_at, updated_at
		FROM subnet_routers WHERE cs_guid = ? ORDER BY created_at`, csGUID)
	if err != nil {
		return nil, wgerr.Wrap(wgerr.KindRemote, "StoreQueryFailed", "list subnet_routers", err)
	}
	defer rows.Close()

	var out []*model.SubnetRouter
	for rows.Next() {
		var sr model.SubnetRouter
		var vpn6, endpointHost, sshHost, sshUser, sshPath, advertised sql.NullString
		var endpointPort, sshPort sql.NullInt64
		if err := rows.Scan(&sr.PermanentGUID, &sr.CurrentPublicKey, &sr.CurrentPrivateKey, &sr.Hostname, &sr.VPNIPv4, &vpn6,
			&endpointHost, &endpointPort, &sr.ListenPort, &advertised, &sr.LANInterface,
			&sshHost, &sshPort, &sshUser, &sshPath, &sr.CreatedAt, &sr.UpdatedAt); err != nil {
			return nil, wgerr.Wrap(wgerr.KindRemote, "StoreQueryFailed", "scan subnet_router", err)
		}
		sr.VPNIPv6 = scanString(vpn6)
		sr.EndpointHost = scanString(endpointHost)
		sr.EndpointPort = scanInt(endpointPort)
		sr.AdvertisedNetworks = splitCSV(scanString(advertised))
		sr.SSH = model.SSHCoordinates{Host: scanString(sshHost), Port: scanInt(sshPort), User: scanString(sshUser), RemoteConfigPath: scanString(sshPath)}
		out = append(out, &sr)
	}
	return out, nil
}

// UpsertRemote inserts or replaces r.
func (s *Store) UpsertRemote(r *model.Remote, csGUID string) error {
	return s.withTx(func(tx *sql.Tx) error {
		now := timeNow()
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		r.UpdatedAt = now
		_, err := tx.Exec(`INSERT INTO remotes
			(permanent_guid, current_public_key, current_private_key, hostname, vpn_ipv4, vpn_ipv6,
			 endpoint_host, endpoint_port, listen_port, access_level, custom_allowed_ips, device_type, exit_node_id,
			 created_at, updated_at, cs_guid)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT(permanent_guid) DO UPDATE SET
			 current_public_key=excluded.current_public_key,
			 current_private_key=excluded.current_private_key,
			 hostname=excluded.hostname,
			 vpn_ipv4=excluded.vpn_ipv4,
			 vpn_ipv6=excluded.vpn_ipv6,
			 endpoint_host=excluded.endpoint_host,
			 endpoint_port=excluded.endpoint_port,
			 listen_port=excluded.listen_port,
			 access_level=excluded.access_level,
			 custom_allowed_ips=excluded.custom_allowed_ips,
			 device_type=excluded.device_type,
			 exit_node_id=excluded.exit_node_id,
			 updated_at=excluded.updated_at`,
			r.PermanentGUID, r.CurrentPublicKey, r.CurrentPrivateKey, r.Hostname, r.VPNIPv4, nullable(r.VPNIPv6),
			nullable(r.EndpointHost), nullableInt(r.EndpointPort), nullableInt(r.ListenPort), string(r.AccessLevel),
			joinCSV(r.CustomAllowedIPs), r.DeviceType, nullable(r.ExitNodeID),
			r.CreatedAt, r.UpdatedAt, csGUID)
		if err != nil {
			return wgerr.Wrap(wgerr.KindInvariant, wgerr.ErrDuplicateIdentity.Tag, "upsert remote", err)
		}
		return nil
	})
}

// ListRemotes lists every remote belonging to csGUID.
func (s *Store) ListRemotes(csGUID string) ([]*model.Remote, error) {
	rows, err := s.db.Query(`SELECT permanent_guid, current_public_key, current_private_key, hostname, vpn_ipv4, vpn_ipv6,
		endpoint_host, endpoint_port, listen_port, access_level, custom_allowed_ips, device_type, exit_node_id,
		created_at, updated_at
		FROM remotes WHERE cs_guid = ? ORDER BY created_at`, csGUID)
	if err != nil {
		return nil, wgerr.Wrap(wgerr.KindRemote, "StoreQueryFailed", "list remotes", err)
	}
	defer rows.Close()

	var out []*model.Remote
	for rows.Next() {
		var r model.Remote
		var vpn6, endpointHost, custom, exitNode sql.NullString
		var endpointPort, listenPort sql.NullInt64
		var accessLevel string
		if err := rows.Scan(&r.PermanentGUID, &r.CurrentPublicKey, &r.CurrentPrivateKey, &r.Hostname, &r.VPNIPv4, &vpn6,
			&endpointHost, &endpointPort, &listenPort, &accessLevel, &custom, &r.DeviceType, &exitNode,
			&r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, wgerr.Wrap(wgerr.KindRemote, "StoreQueryFailed", "scan remote", err)
		}
		r.VPNIPv6 = scanString(vpn6)
		r.EndpointHost = scanString(endpointHost)
		r.EndpointPort = scanInt(endpointPort)
		r.ListenPort = scanInt(listenPort)
		r.AccessLevel = model.AccessLevel(accessLevel)
		r.CustomAllowedIPs = splitCSV(scanString(custom))
		r.ExitNodeID = scanString(exitNode)
		out = append(out, &r)
	}
	return out, nil
}

// FetchRemoteByHostname fetches a remote by hostname within csGUID,
// used by add_remote's uniqueness validation (§4.8).
func (s *Store) FetchRemoteByHostname(csGUID, hostname string) (*model.Remote, error) {
	remotes, err := s.ListRemotes(csGUID)
	if err != nil {
		return nil, err
	}
	for _, r := range remotes {
		if r.Hostname == hostname {
			return r, nil
		}
	}
	return nil, nil
}

// UpsertExitNode inserts or replaces e.
func (s *Store) UpsertExitNode(e *model.ExitNode, csGUID string) error {
	return s.withTx(func(tx *sql.Tx) error {
		now := timeNow()
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		e.UpdatedAt = now
		_, err := tx.Exec(`INSERT INTO exit_nodes
			(permanent_guid, current_public_key, current_private_key, hostname, vpn_ipv4, vpn_ipv6,
			 endpoint_host, endpoint_port, listen_port, wan_interface,
			 ssh_host, ssh_port, ssh_user, ssh_remote_path, created_at, updated_at, cs_guid)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT(permanent_guid) DO UPDATE SET
			 current_public_key=excluded.current_public_key,
			 current_private_key=excluded.current_private_key,
			 hostname=excluded.hostname,
			 vpn_ipv4=excluded.vpn_ipv4,
			 vpn_ipv6=excluded.vpn_ipv6,
			 endpoint_host=excluded.endpoint_host,
			 endpoint_port=excluded.endpoint_port,
			 listen_port=excluded.listen_port,
			 wan_interface=excluded.wan_interface,
			 ssh_host=excluded.ssh_host,
			 ssh_port=excluded.ssh_port,
			 ssh_user=excluded.ssh_user,
			 ssh_remote_path=excluded.ssh_remote_path,
			 updated_at=excluded.updated_at`,
			e.PermanentGUID, e.CurrentPublicKey, e.CurrentPrivateKey, e.Hostname, e.VPNIPv4, nullable(e.VPNIPv6),
			nullable(e.EndpointHost), nullableInt(e.EndpointPort), e.ListenPort, e.WANInterface,
			nullable(e.SSH.Host), nullableInt(e.SSH.Port), nullable(e.SSH.User), nullable(e.SSH.RemoteConfigPath),
			e.CreatedAt, e.UpdatedAt, csGUID)
		if err != nil {
			return wgerr.Wrap(wgerr.KindInvariant, wgerr.ErrDuplicateIdentity.Tag, "upsert exit_node", err)
		}
		return nil
	})
}

// ListExitNodes lists every exit node belonging to csGUID, with
// AssignedRemotes populated from a live count rather than a
// denormalized column, so it can never drift from remotes.exit_node_id.
func (s *Store) ListExitNodes(csGUID string) ([]*model.ExitNode, error) {
	rows, err := s.db.Query(`SELECT permanent_guid, current_public_key, current_private_key, hostname, vpn_ipv4, vpn_ipv6,
		endpoint_host, endpoint_port, listen_port, wan_interface,
		ssh_host, ssh_port, ssh_user, ssh_remote_path, created_at, updated_at
		FROM exit_nodes WHERE cs_guid = ? ORDER BY created_at`, csGUID)
	if err != nil {
		return nil, wgerr.Wrap(wgerr.KindRemote, "StoreQueryFailed", "list exit_nodes", err)
	}
	defer rows.Close()

	var out []*model.ExitNode
	for rows.Next() {
		var e model.ExitNode
		var vpn6, endpointHost, sshHost, sshUser, sshPath sql.NullString
		var endpointPort, sshPort sql.NullInt64
		if err := rows.Scan(&e.PermanentGUID, &e.CurrentPublicKey, &e.CurrentPrivateKey, &e.Hostname, &e.VPNIPv4, &vpn6,
			&endpointHost, &endpointPort, &e.ListenPort, &e.WANInterface,
			&sshHost, &sshPort, &sshUser, &sshPath, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, wgerr.Wrap(wgerr.KindRemote, "StoreQueryFailed", "scan exit_node", err)
		}
		e.VPNIPv6 = scanString(vpn6)
		e.EndpointHost = scanString(endpointHost)
		e.EndpointPort = scanInt(endpointPort)
		e.SSH = model.SSHCoordinates{Host: scanString(sshHost), Port: scanInt(sshPort), User: scanString(sshUser), RemoteConfigPath: scanString(sshPath)}

		var count int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM remotes WHERE exit_node_id = ?`, e.PermanentGUID).Scan(&count); err != nil {
			return nil, wgerr.Wrap(wgerr.KindRemote, "StoreQueryFailed", "count assigned remotes", err)
		}
		e.AssignedRemotes = count
		out = append(out, &e)
	}
	return out, nil
}

// DeleteEntity removes the row for guid from kind's table. The foreign
// keys declared in the migration delete the entity's firewall rules and
// set remotes' exit_node_id to NULL when an exit node goes; cs_peer_order
// has no foreign key, so its row for guid is left in place.
func (s *Store) DeleteEntity(guid string, kind model.Kind) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	return s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM `+table+` WHERE permanent_guid = ?`, guid)
		if err != nil {
			return wgerr.Wrap(wgerr.KindRemote, "StoreDeleteFailed", "delete "+table, err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return wgerr.New(wgerr.KindInvariant, wgerr.ErrOrphanedReference.Tag, "no such entity: "+guid)
		}
		return nil
	})
}

// RevertExitOnlyRemotes sets access_level back to full_access and
// clears exit_node_id for every remote assigned to exitGUID. Used by
// the orchestrator's exit-node removal policy (see DESIGN.md Open
// Question decisions).
func (s *Store) RevertExitOnlyRemotes(exitGUID string) ([]string, error) {
	var touched []string
	err := s.withTx(func(tx *sql.Tx) error {
		rows, err := tx.Query(`SELECT permanent_guid FROM remotes WHERE exit_node_id = ?`, exitGUID)
		if err != nil {
			return wgerr.Wrap(wgerr.KindRemote, "StoreQueryFailed", "find assigned remotes", err)
		}
		var guids []string
		for rows.Next() {
			var g string
			if err := rows.Scan(&g); err != nil {
				rows.Close()
				return wgerr.Wrap(wgerr.KindRemote, "StoreQueryFailed", "scan remote guid", err)
			}
			guids = append(guids, g)
		}
		rows.Close()

		for _, g := range guids {
			if _, err := tx.Exec(`UPDATE remotes SET access_level = ?, exit_node_id = NULL, updated_at = ? WHERE permanent_guid = ?`,
				string(model.AccessFullAccess), timeNow(), g); err != nil {
				return wgerr.Wrap(wgerr.KindRemote, "StoreUpdateFailed", "revert remote "+g, err)
			}
		}
		touched = guids
		return nil
	})
	return touched, err
}

func tableFor(kind model.Kind) (string, error) {
	switch kind {
	case model.KindCoordinationServer:
		return "coordination_servers", nil
	case model.KindSubnetRouter:
		return "subnet_routers", nil
	case model.KindRemote:
		return "remotes", nil
	case model.KindExitNode:
		return "exit_nodes", nil
	default:
		return "", wgerr.New(wgerr.KindInput, wgerr.ErrUnknownAccessLevel.Tag, "no table for kind "+string(kind))
	}
}

// timeNow is the single point callers go through for "now" so the
// store never calls time.Now() directly. Kept trivial: unlike the
// netip/agent-facing packages, the store is allowed a real clock since
// its writes are the durable checkpoint, not a replay target.
func timeNow() time.Time { return time.Now().UTC() }
