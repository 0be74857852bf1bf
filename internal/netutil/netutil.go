// Package netutil implements CIDR parsing, host membership, host
// iteration, and free-address allocation over a bounded range. No
// third-party IP-math library appears anywhere in the example corpus
// (every repo that touches CIDRs uses net/netip or net directly), so
// this package is built on the standard library per that house style.
package netutil

import (
	"net/netip"
	"strings"

	"github.com/graemester/wgfriend/internal/wgerr"
)

// ParseCIDR parses s into a netip.Prefix, normalized (masked) form.
// Failure is always MalformedConfig since a bad CIDR string only ever
// arrives from a config file or CLI flag.
func ParseCIDR(s string) (netip.Prefix, error) {
	p, err := netip.ParsePrefix(strings.TrimSpace(s))
	if err != nil {
		return netip.Prefix{}, wgerr.Wrap(wgerr.KindInput, wgerr.ErrMalformedConfig.Tag, "invalid CIDR "+s, err)
	}
	return p.Masked(), nil
}

// HostInNetwork reports whether addr falls within cidr. A family
// mismatch (e.g. an IPv4 address against an IPv6 network) is reported
// via ok=false rather than panicking, matching the AddressFamilyMismatch
// contract at call sites that need to distinguish "not a member" from
// "wrong family".
func HostInNetwork(addr netip.Addr, cidr netip.Prefix) bool {
	if addr.Is4() != cidr.Addr().Is4() {
		return false
	}
	return cidr.Contains(addr)
}

// AddressFamilyMatch reports whether addr and cidr share an address
// family, independent of membership.
func AddressFamilyMatch(addr netip.Addr, cidr netip.Prefix) bool {
	return addr.Is4() == cidr.Addr().Is4()
}

// IterateHosts calls fn for every host address in cidr in ascending
// numeric order, including network and broadcast addresses for IPv4
// (the mesh partition table in §3 allocates down to .1 and up to .254,
// so host/broadcast exclusion would be wrong here). Stops early if fn
// returns false.
func IterateHosts(cidr netip.Prefix, fn func(netip.Addr) bool) {
	addr := cidr.Masked().Addr()
	for cidr.Contains(addr) {
		if !fn(addr) {
			return
		}
		next := addr.Next()
		if !next.IsValid() {
			return
		}
		addr = next
	}
}

// NextFree returns the numerically smallest address in [lo, hi] that
// is a member of cidr and not present in used, or
// wgerr.ErrAddressSpaceExhausted if the range is full. lo and hi must
// share cidr's address family; a mismatch is AddressFamilyMismatch.
func NextFree(cidr netip.Prefix, used map[netip.Addr]bool, lo, hi netip.Addr) (netip.Addr, error) {
	if !AddressFamilyMatch(lo, cidr) || !AddressFamilyMatch(hi, cidr) {
		return netip.Addr{}, wgerr.New(wgerr.KindInput, wgerr.ErrAddressFamilyMismatch.Tag, "bounds do not match network family")
	}

	for addr := lo; addr == hi || addr.Less(hi); {
		if HostInNetwork(addr, cidr) && !used[addr] {
			return addr, nil
		}
		if addr == hi {
			break
		}
		next := addr.Next()
		if !next.IsValid() {
			break
		}
		addr = next
	}
	return netip.Addr{}, wgerr.New(wgerr.KindInvariant, wgerr.ErrAddressSpaceExhausted.Tag, "no free address in range")
}

// Kind mirrors model.Kind without importing internal/model, so netutil
// stays free of dependencies on the domain types. The orchestrator calls PartitionFor with model.Kind
// values, which share these exact string values by construction.
type Kind string

const (
	KindCoordinationServer Kind = "coordination_server"
	KindSubnetRouter       Kind = "subnet_router"
	KindRemote             Kind = "remote"
	KindExitNode           Kind = "exit_node"
)

// PartitionFor returns the inclusive [lo, hi] host bound for kind
// within network, encoding the §3 partition table so callers never
// hand-code the ranges:
//
//	coordination_server: .1        (single address, lo == hi)
//	subnet_router:        .20–.29  (max 10)
//	remote:               .30–.99
//	exit_node:            .100–.119 (max 20)
//
// .120–.254 is reserved for explicit operator overrides and has no
// partition entry — callers allocating there must supply the address
// directly rather than going through NextFree.
func PartitionFor(kind Kind, network netip.Prefix) (lo, hi netip.Addr, err error) {
	if !network.Addr().Is4() {
		return netip.Addr{}, netip.Addr{}, wgerr.New(wgerr.KindInput, wgerr.ErrAddressFamilyMismatch.Tag, "partition table is IPv4-only")
	}
	base := network.Masked().Addr().As4()

	offset := func(n byte) netip.Addr {
		o := base
		o[3] = n
		return netip.AddrFrom4(o)
	}

	switch kind {
	case KindCoordinationServer:
		return offset(1), offset(1), nil
	case KindSubnetRouter:
		return offset(20), offset(29), nil
	case KindRemote:
		return offset(30), offset(99), nil
	case KindExitNode:
		return offset(100), offset(119), nil
	default:
		return netip.Addr{}, netip.Addr{}, wgerr.New(wgerr.KindInput, wgerr.ErrUnknownAccessLevel.Tag, "no partition for kind "+string(kind))
	}
}
