// Package orchestrator implements §4.8's atomic mesh operations:
// add_remote, add_subnet_router, add_exit_node, assign_exit,
// remove_entity, rotate_keys, and integrity_check. Every operation
// commits through internal/store's single-transaction-per-operation
// discipline and returns a RegenerationPlan naming the configs the
// caller must regenerate and redeploy before the mesh matches the
// store again.
package orchestrator

import (
	"net/netip"

	"github.com/graemester/wgfriend/internal/keys"
	"github.com/graemester/wgfriend/internal/model"
	"github.com/graemester/wgfriend/internal/netutil"
	"github.com/graemester/wgfriend/internal/pattern"
	"github.com/graemester/wgfriend/internal/store"
	"github.com/graemester/wgfriend/internal/wgerr"
)

// Orchestrator binds the mesh operations to one structured store.
type Orchestrator struct {
	store *store.Store
}

func New(st *store.Store) *Orchestrator {
	return &Orchestrator{store: st}
}

// RegenerationTarget names one entity whose rendered .conf is now
// stale and must be regenerated before the next deploy.
type RegenerationTarget struct {
	GUID     string
	Kind     model.Kind
	Hostname string
}

// RegenerationPlan is every orchestrator operation's mandatory output
// per §4.8: "which .conf files (by entity) are now stale".
type RegenerationPlan struct {
	Stale []RegenerationTarget
}

func (p *RegenerationPlan) add(e model.Entity, hostname string) {
	p.Stale = append(p.Stale, RegenerationTarget{GUID: e.Identity().PermanentGUID, Kind: e.Kind(), Hostname: hostname})
}

// nextFreeVPN4 allocates the smallest unused VPN IPv4 address in kind's
// partition of cs's VPN network, consulting every entity already
// registered under cs.
func (o *Orchestrator) nextFreeVPN4(cs *model.CoordinationServer, kind model.Kind) (netip.Addr, error) {
	network, err := netutil.ParseCIDR(cs.VPNNetworkV4)
	if err != nil {
		return netip.Addr{}, err
	}
	lo, hi, err := netutil.PartitionFor(netutil.Kind(kind), network)
	if err != nil {
		return netip.Addr{}, err
	}

	used := make(map[netip.Addr]bool)
	markUsed := func(addr string) {
		if addr == "" {
			return
		}
		if a, err := netip.ParseAddr(addr); err == nil {
			used[a] = true
		}
	}
	markUsed(cs.VPNIPv4)

	srs, err := o.store.ListSubnetRouters(cs.PermanentGUID)
	if err != nil {
		return netip.Addr{}, err
	}
	for _, sr := range srs {
		markUsed(sr.VPNIPv4)
	}
	remotes, err := o.store.ListRemotes(cs.PermanentGUID)
	if err != nil {
		return netip.Addr{}, err
	}
	for _, r := range remotes {
		markUsed(r.VPNIPv4)
	}
	exits, err := o.store.ListExitNodes(cs.PermanentGUID)
	if err != nil {
		return netip.Addr{}, err
	}
	for _, e := range exits {
		markUsed(e.VPNIPv4)
	}

	return netutil.NextFree(network, used, lo, hi)
}

// AddRemoteOptions carries add_remote's optional fields, §4.8.
type AddRemoteOptions struct {
	DeviceType       string
	ExitNodeGUID     string
	CustomAllowedIPs []string
}

// AddRemote implements §4.8's add_remote: validates hostname
// uniqueness, allocates the next free VPN IPv4 in [.30,.99], generates
// a keypair, and persists with permanent_guid = current_public_key.
func (o *Orchestrator) AddRemote(csGUID, hostname string, accessLevel model.AccessLevel, opts AddRemoteOptions) (*model.Remote, *RegenerationPlan, error) {
	cs, err := o.store.FetchCoordinationServer(csGUID)
	if err != nil {
		return nil, nil, err
	}

	if existing, err := o.store.FetchRemoteByHostname(csGUID, hostname); err != nil {
		return nil, nil, err
	} else if existing != nil {
		return nil, nil, wgerr.New(wgerr.KindInvariant, wgerr.ErrDuplicateIdentity.Tag, "hostname already in use: "+hostname)
	}

	if accessLevel == model.AccessExitOnly && opts.ExitNodeGUID == "" {
		return nil, nil, wgerr.New(wgerr.KindInput, wgerr.ErrMalformedConfig.Tag, "exit_only requires an assigned exit node")
	}
	if accessLevel == model.AccessCustom && len(opts.CustomAllowedIPs) == 0 {
		return nil, nil, wgerr.New(wgerr.KindInput, wgerr.ErrUnknownAccessLevel.Tag, "custom access level requires at least one AllowedIPs entry")
	}

	addr, err := o.nextFreeVPN4(cs, model.KindRemote)
	if err != nil {
		return nil, nil, err
	}

	priv, pub, err := keys.GenerateKeypair()
	if err != nil {
		return nil, nil, err
	}

	r := &model.Remote{
		Base: model.Base{
			PermanentGUID:     pub,
			CurrentPublicKey:  pub,
			CurrentPrivateKey: priv,
			Hostname:          hostname,
			VPNIPv4:           addr.String(),
		},
		AccessLevel:      accessLevel,
		CustomAllowedIPs: opts.CustomAllowedIPs,
		DeviceType:       opts.DeviceType,
		ExitNodeID:       opts.ExitNodeGUID,
	}
	if err := o.store.UpsertRemote(r, csGUID); err != nil {
		return nil, nil, err
	}
	if err := o.store.AppendRotation(&model.KeyRotation{
		EntityGUID: r.PermanentGUID, EntityKind: model.KindRemote,
		OldPublicKey: r.PermanentGUID, NewPublicKey: pub, NewPrivateKey: priv, Reason: "initial provisioning",
	}); err != nil {
		return nil, nil, err
	}
	if err := o.store.AppendCSPeerOrder(csGUID, r.PermanentGUID, model.KindRemote); err != nil {
		return nil, nil, err
	}

	plan := &RegenerationPlan{}
	plan.add(r, hostname)
	plan.add(cs, cs.Hostname)
	return r, plan, nil
}

// AddSubnetRouter implements §4.8's add_subnet_router: VPN IPv4 from
// [.20,.29], seeding PostUp/PostDown from the canonical MASQ +
// forwarding + MSS patterns, masquerading each advertised network out
// wanIface. lanIface is stored on the router and not used in the patterns.
func (o *Orchestrator) AddSubnetRouter(csGUID, hostname string, advertisedNetworks []string, lanIface, wanIface string, ssh model.SSHCoordinates) (*model.SubnetRouter, []model.CommandPair, *RegenerationPlan, error) {
	cs, err := o.store.FetchCoordinationServer(csGUID)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(advertisedNetworks) == 0 {
		return nil, nil, nil, wgerr.New(wgerr.KindInput, wgerr.ErrMalformedConfig.Tag, "subnet router requires at least one advertised network")
	}

	addr, err := o.nextFreeVPN4(cs, model.KindSubnetRouter)
	if err != nil {
		return nil, nil, nil, err
	}
	priv, pub, err := keys.GenerateKeypair()
	if err != nil {
		return nil, nil, nil, err
	}

	sr := &model.SubnetRouter{
		Base: model.Base{
			PermanentGUID: pub, CurrentPublicKey: pub, CurrentPrivateKey: priv,
			Hostname: hostname, VPNIPv4: addr.String(),
		},
		AdvertisedNetworks: advertisedNetworks,
		LANInterface:       lanIface,
		SSH:                ssh,
	}
	if err := o.store.UpsertSubnetRouter(sr, csGUID); err != nil {
		return nil, nil, nil, err
	}
	if err := o.store.AppendRotation(&model.KeyRotation{
		EntityGUID: sr.PermanentGUID, EntityKind: model.KindSubnetRouter,
		OldPublicKey: sr.PermanentGUID, NewPublicKey: pub, NewPrivateKey: priv, Reason: "initial provisioning",
	}); err != nil {
		return nil, nil, nil, err
	}

	pairs := seedRoutingPatterns(sr.PermanentGUID, model.KindSubnetRouter, advertisedNetworks, wanIface)
	if err := o.store.ReplaceCommandPairs(sr.PermanentGUID, model.KindSubnetRouter, pairs); err != nil {
		return nil, nil, nil, err
	}
	if err := o.store.AppendCSPeerOrder(csGUID, sr.PermanentGUID, model.KindSubnetRouter); err != nil {
		return nil, nil, nil, err
	}

	plan := &RegenerationPlan{}
	plan.add(sr, hostname)
	plan.add(cs, cs.Hostname)
	return sr, pairs, plan, nil
}

// AddExitNode implements §4.8's add_exit_node: VPN IPv4 from
// [.100,.119], seeding MASQUERADE PostUp/PostDown over wanIface.
func (o *Orchestrator) AddExitNode(csGUID, hostname, wanIface, endpointHost string, endpointPort int, ssh model.SSHCoordinates) (*model.ExitNode, []model.CommandPair, *RegenerationPlan, error) {
	cs, err := o.store.FetchCoordinationServer(csGUID)
	if err != nil {
		return nil, nil, nil, err
	}

	addr, err := o.nextFreeVPN4(cs, model.KindExitNode)
	if err != nil {
		return nil, nil, nil, err
	}
	priv, pub, err := keys.GenerateKeypair()
	if err != nil {
		return nil, nil, nil, err
	}

	e := &model.ExitNode{
		Base: model.Base{
			PermanentGUID: pub, CurrentPublicKey: pub, CurrentPrivateKey: priv,
			Hostname: hostname, VPNIPv4: addr.String(),
			EndpointHost: endpointHost, EndpointPort: endpointPort,
		},
		WANInterface: wanIface,
		SSH:          ssh,
	}
	if err := o.store.UpsertExitNode(e, csGUID); err != nil {
		return nil, nil, nil, err
	}
	if err := o.store.AppendRotation(&model.KeyRotation{
		EntityGUID: e.PermanentGUID, EntityKind: model.KindExitNode,
		OldPublicKey: e.PermanentGUID, NewPublicKey: pub, NewPrivateKey: priv, Reason: "initial provisioning",
	}); err != nil {
		return nil, nil, nil, err
	}

	network, err := netutil.ParseCIDR(cs.VPNNetworkV4)
	if err != nil {
		return nil, nil, nil, err
	}
	pairs := seedRoutingPatterns(e.PermanentGUID, model.KindExitNode, []string{network.String()}, wanIface)
	if err := o.store.ReplaceCommandPairs(e.PermanentGUID, model.KindExitNode, pairs); err != nil {
		return nil, nil, nil, err
	}
	if err := o.store.AppendCSPeerOrder(csGUID, e.PermanentGUID, model.KindExitNode); err != nil {
		return nil, nil, nil, err
	}

	plan := &RegenerationPlan{}
	plan.add(e, hostname)
	plan.add(cs, cs.Hostname)
	return e, pairs, plan, nil
}

// seedRoutingPatterns builds the initial command_pair set a
// routing-capable entity (subnet router or exit node) needs: IPv4/IPv6
// forwarding enabled, and NAT MASQUERADE for each advertised network
// out wanIface, per §4.8's "seeds PostUp/PostDown from the canonical
// recognized patterns".
func seedRoutingPatterns(entityGUID string, kind model.Kind, networks []string, wanIface string) []model.CommandPair {
	reg := pattern.NewRegistry()
	var pairs []model.CommandPair
	order := 0

	addSingleton := func(name string, vars map[string]string) {
		p := reg.ByName(name)
		up, down := p.Emit(vars)
		pairs = append(pairs, model.CommandPair{
			EntityGUID: entityGUID, EntityKind: kind, PatternName: name,
			UpCommands: []string{up}, DownCommands: []string{down},
			Variables: vars, Scope: model.ScopeInterface, ExecutionOrder: order,
		})
		order++
	}

	addSingleton("enable_ipv4_forwarding", map[string]string{})
	addSingleton("enable_ipv6_forwarding", map[string]string{})
	for _, n := range networks {
		addSingleton("nat_masquerade_ipv4", map[string]string{"cidr4": n, "wan": wanIface})
	}
	addSingleton("mss_clamping", map[string]string{})
	return pairs
}

// AssignExit implements §4.8's assign_exit: stores the remote<->exit
// edge; forbids removing an assignment if the remote is exit_only
// (the operator must change access level first).
func (o *Orchestrator) AssignExit(csGUID, remoteGUID, exitGUID string) (*RegenerationPlan, error) {
	remotes, err := o.store.ListRemotes(csGUID)
	if err != nil {
		return nil, err
	}
	var remote *model.Remote
	for _, r := range remotes {
		if r.PermanentGUID == remoteGUID {
			remote = r
		}
	}
	if remote == nil {
		return nil, wgerr.New(wgerr.KindInvariant, wgerr.ErrOrphanedReference.Tag, "no such remote: "+remoteGUID)
	}
	if exitGUID == "" && remote.AccessLevel == model.AccessExitOnly {
		return nil, wgerr.New(wgerr.KindInput, wgerr.ErrMalformedConfig.Tag, "cannot clear exit assignment for an exit_only remote; change access level first")
	}

	if exitGUID != "" {
		exits, err := o.store.ListExitNodes(csGUID)
		if err != nil {
			return nil, err
		}
		found := false
		for _, e := range exits {
			if e.PermanentGUID == exitGUID {
				found = true
			}
		}
		if !found {
			return nil, wgerr.New(wgerr.KindInvariant, wgerr.ErrOrphanedReference.Tag, "no such exit node: "+exitGUID)
		}
	}

	remote.ExitNodeID = exitGUID
	if err := o.store.UpsertRemote(remote, csGUID); err != nil {
		return nil, err
	}

	plan := &RegenerationPlan{}
	plan.add(remote, remote.Hostname)
	return plan, nil
}

// RemoveEntity implements §4.8's remove_entity: deletes the row, logs
// a terminal rotation row (NewPublicKey/NewPrivateKey left empty per
// §3's lifecycle rule), and, for an exit node, reverts any assigned
// remotes to full_access rather than leaving them orphaned (see
// DESIGN.md's Open Question decision).
func (o *Orchestrator) RemoveEntity(csGUID, guid string, kind model.Kind, reason string) (*RegenerationPlan, error) {
	plan := &RegenerationPlan{}

	oldPub, err := o.currentPublicKey(csGUID, guid, kind)
	if err != nil {
		return nil, err
	}

	if kind == model.KindExitNode {
		touched, err := o.store.RevertExitOnlyRemotes(guid)
		if err != nil {
			return nil, err
		}
		for _, g := range touched {
			plan.Stale = append(plan.Stale, RegenerationTarget{GUID: g, Kind: model.KindRemote})
		}
	}

	if err := o.store.AppendRotation(&model.KeyRotation{
		EntityGUID: guid, EntityKind: kind, OldPublicKey: oldPub, Reason: reason,
	}); err != nil {
		return nil, err
	}
	if err := o.store.DeleteEntity(guid, kind); err != nil {
		return nil, err
	}

	cs, err := o.store.FetchCoordinationServer(csGUID)
	if err == nil {
		plan.add(cs, cs.Hostname)
	}
	return plan, nil
}

// RotateKeys implements §4.8's rotate_keys: generates a fresh keypair,
// appends a rotation row, and updates current_* only — permanent_guid
// never changes, preserving identity across rotation per §3.
func (o *Orchestrator) RotateKeys(csGUID, guid string, kind model.Kind, reason string) (*RegenerationPlan, error) {
	oldPub, err := o.currentPublicKey(csGUID, guid, kind)
	if err != nil {
		return nil, err
	}

	newPriv, newPub, err := keys.GenerateKeypair()
	if err != nil {
		return nil, err
	}

	if err := o.applyRotatedKeys(csGUID, guid, kind, newPriv, newPub); err != nil {
		return nil, err
	}
	if err := o.store.AppendRotation(&model.KeyRotation{
		EntityGUID: guid, EntityKind: kind,
		OldPublicKey: oldPub, NewPublicKey: newPub, NewPrivateKey: newPriv, Reason: reason,
	}); err != nil {
		return nil, err
	}

	plan := &RegenerationPlan{Stale: []RegenerationTarget{{GUID: guid, Kind: kind}}}
	if cs, err := o.store.FetchCoordinationServer(csGUID); err == nil {
		plan.add(cs, cs.Hostname)
	}
	return plan, nil
}

func (o *Orchestrator) currentPublicKey(csGUID, guid string, kind model.Kind) (string, error) {
	switch kind {
	case model.KindCoordinationServer:
		cs, err := o.store.FetchCoordinationServer(csGUID)
		if err != nil {
			return "", err
		}
		return cs.CurrentPublicKey, nil
	case model.KindSubnetRouter:
		srs, err := o.store.ListSubnetRouters(csGUID)
		if err != nil {
			return "", err
		}
		for _, sr := range srs {
			if sr.PermanentGUID == guid {
				return sr.CurrentPublicKey, nil
			}
		}
	case model.KindRemote:
		remotes, err := o.store.ListRemotes(csGUID)
		if err != nil {
			return "", err
		}
		for _, r := range remotes {
			if r.PermanentGUID == guid {
				return r.CurrentPublicKey, nil
			}
		}
	case model.KindExitNode:
		exits, err := o.store.ListExitNodes(csGUID)
		if err != nil {
			return "", err
		}
		for _, e := range exits {
			if e.PermanentGUID == guid {
				return e.CurrentPublicKey, nil
			}
		}
	}
	return "", wgerr.New(wgerr.KindInvariant, wgerr.ErrOrphanedReference.Tag, "no such entity: "+guid)
}

func (o *Orchestrator) applyRotatedKeys(csGUID, guid string, kind model.Kind, priv, pub string) error {
	switch kind {
	case model.KindCoordinationServer:
		cs, err := o.store.FetchCoordinationServer(csGUID)
		if err != nil {
			return err
		}
		cs.CurrentPrivateKey, cs.CurrentPublicKey = priv, pub
		return o.store.UpsertCoordinationServer(cs)
	case model.KindSubnetRouter:
		srs, err := o.store.ListSubnetRouters(csGUID)
		if err != nil {
			return err
		}
		for _, sr := range srs {
			if sr.PermanentGUID == guid {
				sr.CurrentPrivateKey, sr.CurrentPublicKey = priv, pub
				return o.store.UpsertSubnetRouter(sr, csGUID)
			}
		}
	case model.KindRemote:
		remotes, err := o.store.ListRemotes(csGUID)
		if err != nil {
			return err
		}
		for _, r := range remotes {
			if r.PermanentGUID == guid {
				r.CurrentPrivateKey, r.CurrentPublicKey = priv, pub
				return o.store.UpsertRemote(r, csGUID)
			}
		}
	case model.KindExitNode:
		exits, err := o.store.ListExitNodes(csGUID)
		if err != nil {
			return err
		}
		for _, e := range exits {
			if e.PermanentGUID == guid {
				e.CurrentPrivateKey, e.CurrentPublicKey = priv, pub
				return o.store.UpsertExitNode(e, csGUID)
			}
		}
	}
	return wgerr.New(wgerr.KindInvariant, wgerr.ErrOrphanedReference.Tag, "no such entity: "+guid)
}

// IntegrityCheck runs §4.3's invariants via the store and returns every
// violation found.
func (o *Orchestrator) IntegrityCheck(csGUID string) ([]store.Violation, error) {
	return o.store.IntegrityCheck(csGUID)
}
