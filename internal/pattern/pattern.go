// Package pattern implements the canonical PostUp/PostDown pattern
// library of §4.4: a registry of named recognizers/emitters for the
// shell fragments WireGuard configs commonly carry (forwarding
// sysctls, NAT MASQUERADE, bidirectional FORWARD, MSS clamping).
// Unrecognized fragments fall through to the "custom" singleton path
// in internal/model/internal/store, never to this package.
package pattern

import (
	"fmt"
	"strings"

	"github.com/google/shlex"

	"github.com/graemester/wgfriend/internal/wgerr"
)

// Pattern is one named canonical fragment shape.
type Pattern struct {
	Name      string
	Scope     string // model.CommandScope values, kept as string to avoid an import cycle
	Rationale string

	// Recognize inspects one up-command (and, where the pattern is a
	// pair, its candidate down-command) and either rejects (ok=false)
	// or returns the extracted variables.
	Recognize func(up, down string) (vars map[string]string, ok bool)

	// Emit renders the up/down command pair from vars. Down is the
	// exact inverse per §4.4 ("-A"->"-D", same tuple).
	Emit func(vars map[string]string) (up, down string)
}

// Registry holds the required patterns in recognition-priority order.
// Recognition order is deterministic and the first match wins, per
// §4.4's round-trip stability requirement.
type Registry struct {
	patterns []Pattern
}

// NewRegistry builds the registry with the seven required patterns
// from §4.4's table, in the fixed priority order.
func NewRegistry() *Registry {
	return &Registry{patterns: []Pattern{
		enableIPv4Forwarding(),
		enableIPv6Forwarding(),
		natMasqueradeIPv4(),
		natMasqueradeIPv6(),
		bidirectionalForwardIPv4(),
		bidirectionalForwardIPv6(),
		mssClamping(),
	}}
}

// Patterns returns the registry's patterns in priority order.
func (r *Registry) Patterns() []Pattern { return r.patterns }

// ByName returns the pattern named name, or nil if none matches.
func (r *Registry) ByName(name string) *Pattern {
	for i := range r.patterns {
		if r.patterns[i].Name == name {
			return &r.patterns[i]
		}
	}
	return nil
}

// RecognizeSingle tries every pattern's Recognize against a single
// up-command with no paired down-command (down=""), used for
// singleton-shaped fragments like the forwarding sysctls. Returns the
// matched pattern name and variables, or ok=false if nothing matched.
func (r *Registry) RecognizeSingle(up string) (name string, vars map[string]string, ok bool) {
	for _, p := range r.patterns {
		if v, matched := p.Recognize(up, ""); matched {
			return p.Name, v, true
		}
	}
	return "", nil, false
}

// RecognizePair tries every pattern's Recognize against an up/down
// command pair.
func (r *Registry) RecognizePair(up, down string) (name string, vars map[string]string, ok bool) {
	for _, p := range r.patterns {
		if v, matched := p.Recognize(up, down); matched {
			return p.Name, v, true
		}
	}
	return "", nil, false
}

// tokens splits a shell fragment with github.com/google/shlex rather
// than regex, so the recognizers compare argv-shaped tokens instead of
// pattern-matching whitespace-sensitive strings (quoting, multiple
// spaces, etc. all normalize away).
func tokens(s string) []string {
	toks, err := shlex.Split(strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	return toks
}

func tokensEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func enableIPv4Forwarding() Pattern {
	return Pattern{
		Name:      "enable_ipv4_forwarding",
		Scope:     "interface",
		Rationale: "enables IPv4 forwarding so this host can route mesh traffic",
		Recognize: func(up, _ string) (map[string]string, bool) {
			want := []string{"sysctl", "-w", "net.ipv4.ip_forward=1"}
			if tokensEqual(tokens(up), want) {
				return map[string]string{}, true
			}
			return nil, false
		},
		Emit: func(_ map[string]string) (string, string) {
			return "sysctl -w net.ipv4.ip_forward=1", "sysctl -w net.ipv4.ip_forward=0"
		},
	}
}

func enableIPv6Forwarding() Pattern {
	return Pattern{
		Name:      "enable_ipv6_forwarding",
		Scope:     "interface",
		Rationale: "enables IPv6 forwarding so this host can route mesh traffic",
		Recognize: func(up, _ string) (map[string]string, bool) {
			want := []string{"sysctl", "-w", "net.ipv6.conf.all.forwarding=1"}
			if tokensEqual(tokens(up), want) {
				return map[string]string{}, true
			}
			return nil, false
		},
		Emit: func(_ map[string]string) (string, string) {
			return "sysctl -w net.ipv6.conf.all.forwarding=1", "sysctl -w net.ipv6.conf.all.forwarding=0"
		},
	}
}

func natMasqueradeIPv4() Pattern {
	return Pattern{
		Name:      "nat_masquerade_ipv4",
		Scope:     "interface",
		Rationale: "masquerades egress traffic from the mesh network out the WAN interface",
		Recognize: func(up, _ string) (map[string]string, bool) {
			t := tokens(up)
			if len(t) == 11 && t[0] == "iptables" && t[1] == "-t" && t[2] == "nat" && t[3] == "-A" &&
				t[4] == "POSTROUTING" && t[5] == "-s" && t[7] == "-o" && t[9] == "-j" && t[10] == "MASQUERADE" {
				return map[string]string{"cidr4": t[6], "wan": t[8]}, true
			}
			return nil, false
		},
		Emit: func(vars map[string]string) (string, string) {
			up := fmt.Sprintf("iptables -t nat -A POSTROUTING -s %s -o %s -j MASQUERADE", vars["cidr4"], vars["wan"])
			down := fmt.Sprintf("iptables -t nat -D POSTROUTING -s %s -o %s -j MASQUERADE", vars["cidr4"], vars["wan"])
			return up, down
		},
	}
}

func natMasqueradeIPv6() Pattern {
	return Pattern{
		Name:      "nat_masquerade_ipv6",
		Scope:     "interface",
		Rationale: "masquerades IPv6 egress traffic from the mesh network out the WAN interface",
		Recognize: func(up, _ string) (map[string]string, bool) {
			t := tokens(up)
			if len(t) == 11 && t[0] == "ip6tables" && t[1] == "-t" && t[2] == "nat" && t[3] == "-A" &&
				t[4] == "POSTROUTING" && t[5] == "-s" && t[7] == "-o" && t[9] == "-j" && t[10] == "MASQUERADE" {
				return map[string]string{"cidr6": t[6], "wan": t[8]}, true
			}
			return nil, false
		},
		Emit: func(vars map[string]string) (string, string) {
			up := fmt.Sprintf("ip6tables -t nat -A POSTROUTING -s %s -o %s -j MASQUERADE", vars["cidr6"], vars["wan"])
			down := fmt.Sprintf("ip6tables -t nat -D POSTROUTING -s %s -o %s -j MASQUERADE", vars["cidr6"], vars["wan"])
			return up, down
		},
	}
}

// parseForwardRule matches a single "iptables -A FORWARD -i X -o Y -j
// ACCEPT" rule and extracts its interface pair.
func parseForwardRule(binary string, t []string) (iface, wan string, ok bool) {
	if len(t) == 9 && t[0] == binary && t[1] == "-A" && t[2] == "FORWARD" && t[3] == "-i" && t[5] == "-o" && t[8] == "ACCEPT" {
		return t[4], t[6], true
	}
	return "", "", false
}

// recognizeBidirectionalForward recognizes the semicolon-joined pair
// Emit produces: "iface -> wan" and its mirror "wan -> iface" as two
// discrete commands. tokens() folds a whole ";"-joined string into one
// shlex token run, so each side of the ";" is tokenized on its own
// before being matched against parseForwardRule.
func recognizeBidirectionalForward(binary string) func(up, down string) (map[string]string, bool) {
	return func(up, _ string) (map[string]string, bool) {
		parts := strings.Split(up, ";")
		if len(parts) != 2 {
			return nil, false
		}
		iface1, wan1, ok1 := parseForwardRule(binary, tokens(parts[0]))
		iface2, wan2, ok2 := parseForwardRule(binary, tokens(parts[1]))
		if !ok1 || !ok2 || iface1 != wan2 || wan1 != iface2 {
			return nil, false
		}
		return map[string]string{"iface": iface1, "wan": wan1}, true
	}
}

func bidirectionalForwardIPv4() Pattern {
	return Pattern{
		Name:      "bidirectional_forward_ipv4",
		Scope:     "interface",
		Rationale: "allows forwarded traffic between the mesh interface and the WAN interface in both directions",
		Recognize: recognizeBidirectionalForward("iptables"),
		Emit: func(vars map[string]string) (string, string) {
			iface, wan := vars["iface"], vars["wan"]
			up := fmt.Sprintf("iptables -A FORWARD -i %s -o %s -j ACCEPT; iptables -A FORWARD -i %s -o %s -j ACCEPT", iface, wan, wan, iface)
			down := fmt.Sprintf("iptables -D FORWARD -i %s -o %s -j ACCEPT; iptables -D FORWARD -i %s -o %s -j ACCEPT", iface, wan, wan, iface)
			return up, down
		},
	}
}

func bidirectionalForwardIPv6() Pattern {
	return Pattern{
		Name:      "bidirectional_forward_ipv6",
		Scope:     "interface",
		Rationale: "allows forwarded IPv6 traffic between the mesh interface and the WAN interface in both directions",
		Recognize: recognizeBidirectionalForward("ip6tables"),
		Emit: func(vars map[string]string) (string, string) {
			iface, wan := vars["iface"], vars["wan"]
			up := fmt.Sprintf("ip6tables -A FORWARD -i %s -o %s -j ACCEPT; ip6tables -A FORWARD -i %s -o %s -j ACCEPT", iface, wan, wan, iface)
			down := fmt.Sprintf("ip6tables -D FORWARD -i %s -o %s -j ACCEPT; ip6tables -D FORWARD -i %s -o %s -j ACCEPT", iface, wan, wan, iface)
			return up, down
		},
	}
}

func mssClamping() Pattern {
	want := []string{"iptables", "-t", "mangle", "-A", "FORWARD", "-p", "tcp", "--tcp-flags", "SYN,RST", "SYN", "-j", "TCPMSS", "--clamp-mss-to-pmtu"}
	return Pattern{
		Name:      "mss_clamping",
		Scope:     "interface",
		Rationale: "clamps TCP MSS to the path MTU to avoid fragmentation issues over the WireGuard tunnel",
		Recognize: func(up, _ string) (map[string]string, bool) {
			if tokensEqual(tokens(up), want) {
				return map[string]string{}, true
			}
			return nil, false
		},
		Emit: func(_ map[string]string) (string, string) {
			up := "iptables -t mangle -A FORWARD -p tcp --tcp-flags SYN,RST SYN -j TCPMSS --clamp-mss-to-pmtu"
			down := "iptables -t mangle -D FORWARD -p tcp --tcp-flags SYN,RST SYN -j TCPMSS --clamp-mss-to-pmtu"
			return up, down
		},
	}
}

// MustValidateScope reports whether scope is one of the three §4.4
// scopes, for callers constructing a CommandPair from recognized
// output.
func MustValidateScope(scope string) error {
	switch scope {
	case "interface", "peer-specific", "global":
		return nil
	default:
		return wgerr.New(wgerr.KindInput, wgerr.ErrMalformedConfig.Tag, "unknown pattern scope "+scope)
	}
}
