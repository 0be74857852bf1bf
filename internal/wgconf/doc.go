// Package wgconf implements the WireGuard .conf parser (C5) and
// generator (C6): bracket-delimited sectioning, Key=Value field
// parsing with the known-field sets of §4.5, comment attachment,
// config-type detection, and the textual generation rules of §4.6
// including field ordering, comment re-emission, and the chmod-600
// permissions contract.
//
// No example repo in the pack carries a dedicated INI/config-file
// parsing library, and WireGuard's dialect (multi-valued keys,
// positional comments, PostUp/PostDown repetition) does not match any
// general-purpose format closely enough to reuse one — so this package
// is built on bufio/strings directly, the same way
// AbuCTF-Anvil/internal/services/vpn/wireguard.go hand-rolls its
// template-based generation rather than reaching for a config library.
package wgconf

import "github.com/graemester/wgfriend/internal/model"

// KV is one ordered key/value pair within a section. Sections may
// repeat a key (Address, DNS, AllowedIPs, PostUp, PostDown); each
// occurrence is its own KV entry so source order is preserved.
type KV struct {
	Key   string
	Value string
}

// Comment is a single attached comment, positioned per §4.5 rule 4.
// FieldKey names the field it is "before" or "inline" with; empty for
// above/below/standalone comments.
type Comment struct {
	Text     string
	Position model.CommentPosition
	FieldKey string
}

// Section is one [Interface] or [Peer] block as parsed, before
// semantic interpretation into InterfaceBlock/PeerBlock.
type Section struct {
	Kind     string // "Interface" or "Peer"
	Fields   []KV   // known fields, in source order, duplicates preserved
	Unknown  []KV   // fields not in §4.5's known set for this section kind
	Comments []Comment
}

// Document is a fully parsed .conf file: one Interface section
// (required) and zero or more Peer sections, in source order.
type Document struct {
	Sections []Section
}

var interfaceKnownKeys = map[string]bool{
	"PrivateKey": true, "Address": true, "ListenPort": true, "DNS": true,
	"MTU": true, "PostUp": true, "PostDown": true, "Table": true, "FwMark": true,
}

var peerKnownKeys = map[string]bool{
	"PublicKey": true, "PresharedKey": true, "AllowedIPs": true, "Endpoint": true, "PersistentKeepalive": true,
}

var multiValuedKeys = map[string]bool{
	"Address": true, "DNS": true, "AllowedIPs": true,
}

var repeatableKeys = map[string]bool{
	"PostUp": true, "PostDown": true,
}
