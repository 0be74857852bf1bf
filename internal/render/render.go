// Package render assembles §4.6's three textual products from the
// structured store: the coordination-server config, one config per
// subnet router and exit node, and one config per remote. It is the
// glue between C6's generator (which only renders an already-resolved
// ConfigSpec) and C7/C8's access-level and pattern-library decisions —
// the piece that decides, for a given entity, what a ConfigSpec
// actually contains.
package render

import (
	"sort"
	"strconv"

	"github.com/graemester/wgfriend/internal/access"
	"github.com/graemester/wgfriend/internal/model"
	"github.com/graemester/wgfriend/internal/store"
	"github.com/graemester/wgfriend/internal/wgconf"
)

// DefaultExitDNS is used for a remote whose access level routes all
// traffic through an exit node and carries no DNS override, per
// §4.6's "1.1.1.1, 8.8.8.8 default when exit assigned".
var DefaultExitDNS = []string{"1.1.1.1", "8.8.8.8"}

func hostAddr(vpn4, vpn6 string) []string {
	var out []string
	if vpn4 != "" {
		out = append(out, vpn4+"/32")
	}
	if vpn6 != "" {
		out = append(out, vpn6+"/128")
	}
	return out
}

// csNetworks returns a CS's advertised VPN network(s), the AllowedIPs
// every non-CS entity grants its CS peer so traffic destined anywhere
// in the mesh routes back through it.
func csNetworks(cs *model.CoordinationServer) []string {
	var out []string
	if cs.VPNNetworkV4 != "" {
		out = append(out, cs.VPNNetworkV4)
	}
	if cs.VPNNetworkV6 != "" {
		out = append(out, cs.VPNNetworkV6)
	}
	return out
}

// CoordinationServer assembles the CS's own config: its interface plus
// one peer block for every subnet router, every non-exit_only remote,
// and every exit node, ordered by cs_peer_order when recorded.
func CoordinationServer(st *store.Store, csGUID string) (wgconf.ConfigSpec, error) {
	cs, err := st.FetchCoordinationServer(csGUID)
	if err != nil {
		return wgconf.ConfigSpec{}, err
	}
	srs, err := st.ListSubnetRouters(csGUID)
	if err != nil {
		return wgconf.ConfigSpec{}, err
	}
	remotes, err := st.ListRemotes(csGUID)
	if err != nil {
		return wgconf.ConfigSpec{}, err
	}
	exits, err := st.ListExitNodes(csGUID)
	if err != nil {
		return wgconf.ConfigSpec{}, err
	}
	comments, err := st.ListComments(csGUID)
	if err != nil {
		return wgconf.ConfigSpec{}, err
	}

	spec := wgconf.ConfigSpec{
		Interface: wgconf.InterfaceSpec{
			PrivateKey: cs.CurrentPrivateKey,
			Address:    hostAddr(cs.VPNIPv4, cs.VPNIPv6),
			ListenPort: cs.ListenPort,
			Comments:   toGenComments(comments),
		},
	}

	type peer struct {
		guid string
		spec wgconf.PeerSpec
	}
	var peers []peer

	for _, sr := range srs {
		allowed := append(hostAddr(sr.VPNIPv4, sr.VPNIPv6), sr.AdvertisedNetworks...)
		peers = append(peers, peer{sr.PermanentGUID, wgconf.PeerSpec{
			PublicKey: sr.CurrentPublicKey, Endpoint: "", AllowedIPs: allowed,
		}})
	}
	for _, r := range remotes {
		if r.AccessLevel == model.AccessExitOnly {
			continue
		}
		peers = append(peers, peer{r.PermanentGUID, wgconf.PeerSpec{
			PublicKey: r.CurrentPublicKey, AllowedIPs: hostAddr(r.VPNIPv4, r.VPNIPv6),
		}})
	}
	for _, e := range exits {
		peers = append(peers, peer{e.PermanentGUID, wgconf.PeerSpec{
			PublicKey: e.CurrentPublicKey, Endpoint: endpointOf(e.EndpointHost, e.EndpointPort),
			AllowedIPs: hostAddr(e.VPNIPv4, e.VPNIPv6),
		}})
	}

	order, err := st.ListCSPeerOrder(csGUID)
	if err != nil {
		return wgconf.ConfigSpec{}, err
	}
	orderIndex := make(map[string]int, len(order))
	for _, o := range order {
		orderIndex[o.EntityGUID] = o.DisplayOrder
	}
	sort.SliceStable(peers, func(i, j int) bool {
		oi, iok := orderIndex[peers[i].guid]
		oj, jok := orderIndex[peers[j].guid]
		if iok && jok {
			return oi < oj
		}
		return iok && !jok
	})

	for _, p := range peers {
		spec.Peers = append(spec.Peers, p.spec)
	}
	return spec, nil
}

// SubnetRouter assembles an SR's own config: its interface (with
// reconstructed PostUp/PostDown from the pattern library plus any
// restricted-IP firewall fragments contributed by remotes targeting
// it) and a single peer block pointing at the CS.
func SubnetRouter(st *store.Store, cs *model.CoordinationServer, sr *model.SubnetRouter) (wgconf.ConfigSpec, error) {
	pairs, err := st.ListCommandPairs(sr.PermanentGUID)
	if err != nil {
		return wgconf.ConfigSpec{}, err
	}
	singles, err := st.ListCommandSingletons(sr.PermanentGUID)
	if err != nil {
		return wgconf.ConfigSpec{}, err
	}
	rules, err := st.ListFirewallRulesForSubnetRouter(sr.PermanentGUID)
	if err != nil {
		return wgconf.ConfigSpec{}, err
	}
	comments, err := st.ListComments(sr.PermanentGUID)
	if err != nil {
		return wgconf.ConfigSpec{}, err
	}

	remotesByGUID, err := remoteIndex(st, cs.PermanentGUID)
	if err != nil {
		return wgconf.ConfigSpec{}, err
	}

	postUp, postDown := commandsFromPairsAndSingles(pairs, singles)
	for _, rule := range rules {
		r := remotesByGUID[rule.RemoteGUID]
		if r == nil {
			continue
		}
		frags, err := access.SynthesizeRestrictedIP(r.Hostname, r.VPNIPv4, []model.PeerFirewallRule{rule})
		if err != nil {
			return wgconf.ConfigSpec{}, err
		}
		postUp = append(postUp, frags.PostUp...)
		postDown = append(postDown, frags.PostDown...)
	}

	spec := wgconf.ConfigSpec{
		Interface: wgconf.InterfaceSpec{
			PrivateKey: sr.CurrentPrivateKey,
			Address:    hostAddr(sr.VPNIPv4, sr.VPNIPv6),
			PostUp:     postUp,
			PostDown:   postDown,
			Comments:   toGenComments(comments),
		},
		Peers: []wgconf.PeerSpec{{
			PublicKey:  cs.CurrentPublicKey,
			Endpoint:   endpointOf(cs.EndpointHost, cs.EndpointPort),
			AllowedIPs: csNetworks(cs),
		}},
	}
	return spec, nil
}

// ExitNode assembles an exit node's own config: MASQUERADE/forwarding
// PostUp/PostDown from the pattern library, one peer block per
// assigned remote, and a peer block for the CS.
func ExitNode(st *store.Store, cs *model.CoordinationServer, exit *model.ExitNode) (wgconf.ConfigSpec, error) {
	pairs, err := st.ListCommandPairs(exit.PermanentGUID)
	if err != nil {
		return wgconf.ConfigSpec{}, err
	}
	singles, err := st.ListCommandSingletons(exit.PermanentGUID)
	if err != nil {
		return wgconf.ConfigSpec{}, err
	}
	comments, err := st.ListComments(exit.PermanentGUID)
	if err != nil {
		return wgconf.ConfigSpec{}, err
	}
	remotes, err := st.ListRemotes(cs.PermanentGUID)
	if err != nil {
		return wgconf.ConfigSpec{}, err
	}

	postUp, postDown := commandsFromPairsAndSingles(pairs, singles)

	spec := wgconf.ConfigSpec{
		Interface: wgconf.InterfaceSpec{
			PrivateKey: exit.CurrentPrivateKey,
			Address:    hostAddr(exit.VPNIPv4, exit.VPNIPv6),
			PostUp:     postUp,
			PostDown:   postDown,
			Comments:   toGenComments(comments),
		},
	}
	for _, r := range remotes {
		if r.ExitNodeID != exit.PermanentGUID {
			continue
		}
		spec.Peers = append(spec.Peers, wgconf.PeerSpec{
			PublicKey:  r.CurrentPublicKey,
			AllowedIPs: hostAddr(r.VPNIPv4, r.VPNIPv6),
		})
	}
	spec.Peers = append(spec.Peers, wgconf.PeerSpec{
		PublicKey:  cs.CurrentPublicKey,
		Endpoint:   endpointOf(cs.EndpointHost, cs.EndpointPort),
		AllowedIPs: csNetworks(cs),
	})
	return spec, nil
}

// Remote assembles one remote's config per §4.6 rule 3: CS peer
// (AllowedIPs from internal/access) unless exit_only, plus an
// exit-node peer with default-route AllowedIPs if one is assigned.
func Remote(st *store.Store, cs *model.CoordinationServer, srs []model.SubnetRouter, r *model.Remote, dnsOverride []string) (wgconf.ConfigSpec, error) {
	rules, err := st.ListFirewallRulesForRemote(r.PermanentGUID)
	if err != nil {
		return wgconf.ConfigSpec{}, err
	}
	comments, err := st.ListComments(r.PermanentGUID)
	if err != nil {
		return wgconf.ConfigSpec{}, err
	}

	dns := dnsOverride
	if len(dns) == 0 && r.ExitNodeID != "" {
		dns = DefaultExitDNS
	}

	spec := wgconf.ConfigSpec{
		Interface: wgconf.InterfaceSpec{
			PrivateKey: r.CurrentPrivateKey,
			Address:    hostAddr(r.VPNIPv4, r.VPNIPv6),
			DNS:        dns,
			Comments:   toGenComments(comments),
		},
	}

	if r.AccessLevel != model.AccessExitOnly {
		allowed, err := access.AllowedIPsFor(r, cs, srs, rules)
		if err != nil {
			return wgconf.ConfigSpec{}, err
		}
		spec.Peers = append(spec.Peers, wgconf.PeerSpec{
			PublicKey:  cs.CurrentPublicKey,
			Endpoint:   endpointOf(cs.EndpointHost, cs.EndpointPort),
			AllowedIPs: allowed,
		})
	}

	if r.ExitNodeID != "" {
		exits, err := st.ListExitNodes(cs.PermanentGUID)
		if err != nil {
			return wgconf.ConfigSpec{}, err
		}
		for _, e := range exits {
			if e.PermanentGUID == r.ExitNodeID {
				spec.Peers = append(spec.Peers, wgconf.PeerSpec{
					PublicKey:  e.CurrentPublicKey,
					Endpoint:   endpointOf(e.EndpointHost, e.EndpointPort),
					AllowedIPs: access.ExitPeerAllowedIPs,
				})
				break
			}
		}
	}

	return spec, nil
}

func endpointOf(host string, port int) string {
	if host == "" {
		return ""
	}
	return host + ":" + strconv.Itoa(port)
}

func commandsFromPairsAndSingles(pairs []model.CommandPair, singles []model.CommandSingleton) (up, down []string) {
	for _, p := range pairs {
		up = append(up, p.UpCommands...)
		down = append(down, p.DownCommands...)
	}
	for _, s := range singles {
		if s.Direction == "down" {
			down = append(down, s.Text)
		} else {
			up = append(up, s.Text)
		}
	}
	return up, down
}

func toGenComments(comments []model.Comment) []wgconf.Comment {
	out := make([]wgconf.Comment, 0, len(comments))
	for _, c := range comments {
		out = append(out, wgconf.Comment{Text: c.Text, Position: c.Position, FieldKey: ""})
	}
	return out
}

func remoteIndex(st *store.Store, csGUID string) (map[string]*model.Remote, error) {
	remotes, err := st.ListRemotes(csGUID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*model.Remote, len(remotes))
	for _, r := range remotes {
		out[r.PermanentGUID] = r
	}
	return out, nil
}
