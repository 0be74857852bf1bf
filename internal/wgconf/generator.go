package wgconf

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/graemester/wgfriend/internal/wgerr"
)

// InterfaceSpec is the fully-resolved content of one [Interface]
// section to render — everything internal/access, internal/pattern,
// and the orchestrator have already decided.
type InterfaceSpec struct {
	PrivateKey string
	Address    []string
	ListenPort int
	DNS        []string
	MTU        int
	Table      string
	FwMark     string
	PostUp     []string
	PostDown   []string
	Unknown    []KV
	Comments   []Comment
}

// PeerSpec is the fully-resolved content of one [Peer] section.
type PeerSpec struct {
	PublicKey           string
	PresharedKey        string
	Endpoint            string
	AllowedIPs          []string
	PersistentKeepalive int
	Unknown             []KV
	Comments            []Comment
}

// ConfigSpec is a complete document ready to render: one interface,
// an ordered list of peers.
type ConfigSpec struct {
	Interface InterfaceSpec
	Peers     []PeerSpec
}

// interfaceFieldOrder and peerFieldOrder are the canonical, stable
// field orders from §4.6's textual invariants.
var interfaceFieldOrder = []string{"PrivateKey", "Address", "ListenPort", "DNS", "MTU", "Table", "FwMark", "PostUp", "PostDown"}
var peerFieldOrder = []string{"PublicKey", "PresharedKey", "Endpoint", "AllowedIPs", "PersistentKeepalive"}

// Render produces the literal .conf text for spec, applying the
// canonical field order, re-emitting comments at their recorded
// positions, and preserving unknown fields verbatim.
func Render(spec ConfigSpec) string {
	var b strings.Builder
	b.WriteString("[Interface]\n")
	emitSectionLevelComments(&b, spec.Interface.Comments)
	emitInterfaceFields(&b, spec.Interface)

	for _, peer := range spec.Peers {
		b.WriteString("\n[Peer]\n")
		emitSectionLevelComments(&b, peer.Comments)
		emitPeerFields(&b, peer)
	}

	return b.String()
}

func emitSectionLevelComments(b *strings.Builder, comments []Comment) {
	for _, c := range comments {
		if c.FieldKey == "" {
			fmt.Fprintf(b, "# %s\n", c.Text)
		}
	}
}

func commentsFor(comments []Comment, key string, position string) []Comment {
	var out []Comment
	for _, c := range comments {
		if c.FieldKey == key && string(c.Position) == position {
			out = append(out, c)
		}
	}
	return out
}

func emitInterfaceFields(b *strings.Builder, iface InterfaceSpec) {
	for _, key := range interfaceFieldOrder {
		for _, c := range commentsFor(iface.Comments, key, "before") {
			fmt.Fprintf(b, "# %s\n", c.Text)
		}
		for _, c := range commentsFor(iface.Comments, key, "above") {
			fmt.Fprintf(b, "# %s\n", c.Text)
		}

		inline := firstInlineComment(iface.Comments, key)

		switch key {
		case "PrivateKey":
			if iface.PrivateKey != "" {
				writeField(b, "PrivateKey", iface.PrivateKey, inline)
			}
		case "Address":
			if len(iface.Address) > 0 {
				writeField(b, "Address", strings.Join(iface.Address, ", "), inline)
			}
		case "ListenPort":
			if iface.ListenPort != 0 {
				writeField(b, "ListenPort", strconv.Itoa(iface.ListenPort), inline)
			}
		case "DNS":
			if len(iface.DNS) > 0 {
				writeField(b, "DNS", strings.Join(iface.DNS, ", "), inline)
			}
		case "MTU":
			if iface.MTU != 0 {
				writeField(b, "MTU", strconv.Itoa(iface.MTU), inline)
			}
		case "Table":
			if iface.Table != "" {
				writeField(b, "Table", iface.Table, inline)
			}
		case "FwMark":
			if iface.FwMark != "" {
				writeField(b, "FwMark", iface.FwMark, inline)
			}
		case "PostUp":
			for _, line := range iface.PostUp {
				writeField(b, "PostUp", line, "")
			}
		case "PostDown":
			for _, line := range iface.PostDown {
				writeField(b, "PostDown", line, "")
			}
		}
	}
	for _, kv := range iface.Unknown {
		writeField(b, kv.Key, kv.Value, "")
	}
}

func emitPeerFields(b *strings.Builder, peer PeerSpec) {
	for _, key := range peerFieldOrder {
		for _, c := range commentsFor(peer.Comments, key, "before") {
			fmt.Fprintf(b, "# %s\n", c.Text)
		}
		inline := firstInlineComment(peer.Comments, key)

		switch key {
		case "PublicKey":
			if peer.PublicKey != "" {
				writeField(b, "PublicKey", peer.PublicKey, inline)
			}
		case "PresharedKey":
			if peer.PresharedKey != "" {
				writeField(b, "PresharedKey", peer.PresharedKey, inline)
			}
		case "Endpoint":
			if peer.Endpoint != "" {
				writeField(b, "Endpoint", peer.Endpoint, inline)
			}
		case "AllowedIPs":
			if len(peer.AllowedIPs) > 0 {
				writeField(b, "AllowedIPs", strings.Join(peer.AllowedIPs, ", "), inline)
			}
		case "PersistentKeepalive":
			if peer.PersistentKeepalive != 0 {
				writeField(b, "PersistentKeepalive", strconv.Itoa(peer.PersistentKeepalive), inline)
			}
		}
	}
	for _, kv := range peer.Unknown {
		writeField(b, kv.Key, kv.Value, "")
	}
}

func firstInlineComment(comments []Comment, key string) string {
	for _, c := range comments {
		if c.FieldKey == key && c.Position == "inline" {
			return c.Text
		}
	}
	return ""
}

func writeField(b *strings.Builder, key, value, inline string) {
	if inline != "" {
		fmt.Fprintf(b, "%s = %s  # %s\n", key, value, inline)
		return
	}
	fmt.Fprintf(b, "%s = %s\n", key, value)
}

// WriteFile renders spec and writes it to path, enforcing the §4.6
// "every file written to disk is chmod 600 before returning" contract
// regardless of the process umask.
func WriteFile(path string, spec ConfigSpec) error {
	content := Render(spec)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return wgerr.Wrap(wgerr.KindRemote, "ConfigWriteFailed", "write "+path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		return wgerr.Wrap(wgerr.KindRemote, "ConfigWriteFailed", "chmod "+path, err)
	}
	return nil
}
