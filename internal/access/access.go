// Package access implements the access-level and firewall engine of
// §4.7: deriving a remote's CS-peer AllowedIPs from its access level,
// and synthesizing the restricted_ip engine's iptables PostUp/PostDown
// fragments on the subnet router it targets.
package access

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/graemester/wgfriend/internal/model"
	"github.com/graemester/wgfriend/internal/wgerr"
)

// AllowedIPsFor implements §4.7's table: given a remote, its
// coordination server's advertised VPN network, the subnet routers
// under that CS, and the remote's own peer_firewall_rules (consulted
// only by lan_only and restricted_ip), returns the CS peer's
// AllowedIPs list in canonical order. Returns (nil, nil) for
// exit_only — "no CS peer" is the caller's responsibility to act on,
// not an error.
//
// lan_only's "selected S_i" and restricted_ip's per-rule targets both
// read off rules: lan_only grants the full advertised network of every
// subnet router named by one of the remote's rules; restricted_ip
// grants exactly each rule's TargetIPCIDR.
func AllowedIPsFor(remote *model.Remote, cs *model.CoordinationServer, subnetRouters []model.SubnetRouter, rules []model.PeerFirewallRule) ([]string, error) {
	v4v6 := vpnNetworks(cs)

	switch remote.AccessLevel {
	case model.AccessFullAccess:
		out := append([]string{}, v4v6...)
		out = append(out, unionAdvertisedNetworks(subnetRouters)...)
		return out, nil

	case model.AccessVPNOnly:
		return v4v6, nil

	case model.AccessLANOnly:
		selected := make(map[string]bool)
		for _, r := range rules {
			selected[r.SubnetRouterGUID] = true
		}
		var srs []model.SubnetRouter
		for _, sr := range subnetRouters {
			if selected[sr.PermanentGUID] {
				srs = append(srs, sr)
			}
		}
		out := append([]string{}, v4v6...)
		out = append(out, unionAdvertisedNetworks(srs)...)
		return out, nil

	case model.AccessRestrictedIP:
		out := append([]string{}, v4v6...)
		seen := make(map[string]bool)
		for _, r := range rules {
			if r.TargetIPCIDR != "" && !seen[r.TargetIPCIDR] {
				seen[r.TargetIPCIDR] = true
				out = append(out, r.TargetIPCIDR)
			}
		}
		return out, nil

	case model.AccessCustom:
		if len(remote.CustomAllowedIPs) == 0 {
			return nil, wgerr.New(wgerr.KindInput, wgerr.ErrUnknownAccessLevel.Tag, "custom access level requires at least one AllowedIPs entry")
		}
		return append([]string{}, remote.CustomAllowedIPs...), nil

	case model.AccessExitOnly:
		return nil, nil

	default:
		return nil, wgerr.New(wgerr.KindInput, wgerr.ErrUnknownAccessLevel.Tag, "unrecognized access level: "+string(remote.AccessLevel))
	}
}

func vpnNetworks(cs *model.CoordinationServer) []string {
	var out []string
	if cs.VPNNetworkV4 != "" {
		out = append(out, cs.VPNNetworkV4)
	}
	if cs.VPNNetworkV6 != "" {
		out = append(out, cs.VPNNetworkV6)
	}
	return out
}

// unionAdvertisedNetworks concatenates every subnet router's advertised
// networks, deduplicated, in ascending subnet-router-hostname order so
// the result is stable across calls regardless of slice order.
func unionAdvertisedNetworks(subnetRouters []model.SubnetRouter) []string {
	ordered := append([]model.SubnetRouter{}, subnetRouters...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Hostname < ordered[j].Hostname })

	seen := make(map[string]bool)
	var out []string
	for _, sr := range ordered {
		for _, n := range sr.AdvertisedNetworks {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	return out
}

// ExitPeerAllowedIPs is the default-route AllowedIPs an exit-node peer
// gets on a remote's config, per §4.6 rule 3.
var ExitPeerAllowedIPs = []string{"0.0.0.0/0", "::/0"}

// FirewallFragments is the PostUp/PostDown text synthesized for all of
// one remote's PeerFirewallRules: a label comment, the ACCEPT lines and
// the shared DROP terminator, with matching -D lines for PostDown, ready
// to append to a subnet router's command set.
type FirewallFragments struct {
	PostUp   []string
	PostDown []string
}

// SynthesizeRestrictedIP implements §4.7's "Restricted-IP firewall
// synthesis": for remote hostname with VPN IPv4 remoteVPN4, emits one
// ACCEPT line per rule's port specs (or a portless ACCEPT when a rule
// has no AllowedPorts), followed by one DROP terminator, all labeled
// with the remote's hostname comment, and the matching -D lines for
// PostDown.
func SynthesizeRestrictedIP(hostname, remoteVPN4 string, rules []model.PeerFirewallRule) (FirewallFragments, error) {
	if remoteVPN4 == "" {
		return FirewallFragments{}, wgerr.New(wgerr.KindInput, wgerr.ErrAddressFamilyMismatch.Tag, "remote has no VPN IPv4 address to synthesize firewall rules from")
	}
	src := cidrHost(remoteVPN4)

	var frags FirewallFragments
	comment := fmt.Sprintf("# Peer-specific rule for: %s", hostname)
	frags.PostUp = append(frags.PostUp, comment)
	frags.PostDown = append(frags.PostDown, comment)

	for _, rule := range rules {
		if rule.TargetIPCIDR == "" {
			return FirewallFragments{}, wgerr.New(wgerr.KindInput, wgerr.ErrMalformedConfig.Tag, "peer firewall rule missing target_ip_cidr")
		}
		dst := cidrHost(rule.TargetIPCIDR)

		if len(rule.AllowedPorts) == 0 {
			frags.PostUp = append(frags.PostUp, acceptLine(src, dst, model.PortSpec{}))
			frags.PostDown = append(frags.PostDown, dropLine(acceptLine(src, dst, model.PortSpec{})))
			continue
		}
		for _, ps := range rule.AllowedPorts {
			frags.PostUp = append(frags.PostUp, acceptLine(src, dst, ps))
			frags.PostDown = append(frags.PostDown, dropLine(acceptLine(src, dst, ps)))
		}
	}

	terminator := fmt.Sprintf("iptables -I FORWARD -s %s -j DROP", src)
	frags.PostUp = append(frags.PostUp, terminator)
	frags.PostDown = append(frags.PostDown, dropLine(terminator))

	return frags, nil
}

func acceptLine(src, dst string, ps model.PortSpec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "iptables -I FORWARD -s %s -d %s", src, dst)
	switch {
	case ps.Protocol == "":
		// all-ports: no -p clause.
	case len(ps.Ports) == 1:
		fmt.Fprintf(&b, " -p %s --dport %d", ps.Protocol, ps.Ports[0])
	case len(ps.Ports) > 1:
		ports := make([]string, len(ps.Ports))
		for i, p := range ps.Ports {
			ports[i] = strconv.Itoa(p)
		}
		fmt.Fprintf(&b, " -p %s --match multiport --dports %s", ps.Protocol, strings.Join(ports, ","))
	}
	b.WriteString(" -j ACCEPT")
	return b.String()
}

// dropLine rewrites an "-I ... -j ACCEPT"-style insert command into the
// matching "-D ... -j ACCEPT" delete command WireGuard's PostDown runs
// to unwind it, per §4.7's "matching -D lines are emitted to PostDown".
func dropLine(insertLine string) string {
	return strings.Replace(insertLine, "-I FORWARD", "-D FORWARD", 1)
}

// cidrHost normalizes a bare IP into a /32 (or /128) CIDR the way
// WireGuard's AllowedIPs and iptables -s/-d both expect; a value that
// already carries a prefix is returned unchanged.
func cidrHost(addr string) string {
	if strings.Contains(addr, "/") {
		return addr
	}
	if strings.Contains(addr, ":") {
		return addr + "/128"
	}
	return addr + "/32"
}
