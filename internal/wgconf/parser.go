package wgconf

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/graemester/wgfriend/internal/keys"
	"github.com/graemester/wgfriend/internal/model"
	"github.com/graemester/wgfriend/internal/wgerr"
)

// InterfaceBlock is the semantic interpretation of a parsed [Interface]
// section.
type InterfaceBlock struct {
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

// PeerBlock is the semantic interpretation of a parsed [Peer] section.
type PeerBlock struct {
	PublicKey           string
	PresharedKey        string
	AllowedIPs          []string
	Endpoint            string
	PersistentKeepalive int
	Unknown             []KV
	Comments            []Comment
}

// ParsedConfig is the parser's output: §4.5's "structured record: an
// Interface block plus an ordered list of Peer blocks".
type ParsedConfig struct {
	Interface InterfaceBlock
	Peers     []PeerBlock
	Warnings  []wgerr.Warning
}

// Parse parses text as a WireGuard .conf file per §4.5's rules.
func Parse(text string) (*ParsedConfig, error) {
	doc, warnings, err := splitSections(text)
	if err != nil {
		return nil, err
	}

	cfg := &ParsedConfig{Warnings: warnings}
	sawInterface := false

	for _, sec := range doc.Sections {
		switch sec.Kind {
		case "Interface":
			if sawInterface {
				return nil, wgerr.New(wgerr.KindInput, wgerr.ErrDuplicateField.Tag, "multiple [Interface] sections")
			}
			sawInterface = true
			iface, err := interpretInterface(sec)
			if err != nil {
				return nil, err
			}
			cfg.Interface = *iface
		case "Peer":
			peer, err := interpretPeer(sec)
			if err != nil {
				return nil, err
			}
			cfg.Peers = append(cfg.Peers, *peer)
		default:
			cfg.Warnings = append(cfg.Warnings, wgerr.Warning{Tag: wgerr.WarnUnknownField.Tag, Message: "unknown section [" + sec.Kind + "]"})
		}
	}

	if !sawInterface {
		return nil, wgerr.New(wgerr.KindInput, wgerr.ErrMalformedSection.Tag, "config has no [Interface] section")
	}

	if err := validateKeyConsistency(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateKeyConsistency checks key syntax only: the Interface's
// PrivateKey and every peer PublicKey must be well-formed keys, or it
// returns MalformedKey. It does not derive the Interface's public key
// and does not compare keys across peers or files, so it never returns
// KeyConsistencyError.
func validateKeyConsistency(cfg *ParsedConfig) error {
	if cfg.Interface.PrivateKey == "" {
		return nil
	}
	if !keys.ValidatePrivate(cfg.Interface.PrivateKey) {
		return wgerr.New(wgerr.KindInput, wgerr.ErrMalformedKey.Tag, "interface PrivateKey is not a valid key")
	}
	for _, p := range cfg.Peers {
		if p.PublicKey != "" && !keys.ValidatePublic(p.PublicKey) {
			return wgerr.New(wgerr.KindInput, wgerr.ErrMalformedKey.Tag, "peer PublicKey is not a valid key")
		}
	}
	return nil
}

// splitSections implements §4.5 rules 1-4: bracket sectioning, field
// parsing, multi-valued splitting, and comment attachment.
func splitSections(text string) (*Document, []wgerr.Warning, error) {
	lines := strings.Split(text, "\n")

	var doc Document
	var warnings []wgerr.Warning
	var cur *Section
	var pendingComments []Comment

	flushPendingAsStandalone := func() {
		if cur == nil {
			return
		}
		for _, c := range pendingComments {
			c.Position = model.PositionStandalone
			cur.Comments = append(cur.Comments, c)
		}
		pendingComments = nil
	}

	for _, raw := range lines {
		line := strings.TrimRight(raw, "\r")
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			continue

		case strings.HasPrefix(trimmed, "["):
			flushPendingAsStandalone()
			end := strings.Index(trimmed, "]")
			if end < 0 {
				return nil, nil, wgerr.New(wgerr.KindInput, wgerr.ErrMalformedSection.Tag, "unterminated section header: "+trimmed)
			}
			kind := strings.TrimSpace(trimmed[1:end])
			doc.Sections = append(doc.Sections, Section{Kind: kind})
			cur = &doc.Sections[len(doc.Sections)-1]

		case strings.HasPrefix(trimmed, "#"), strings.HasPrefix(trimmed, ";"):
			text := strings.TrimSpace(trimmed[1:])
			// Provisionally "above"; reclassified to "before" if a
			// field line follows directly, or left as a standalone
			// section-level comment otherwise (flushPendingAsStandalone).
			pendingComments = append(pendingComments, Comment{Text: text, Position: model.PositionAbove})

		default:
			if cur == nil {
				return nil, nil, wgerr.New(wgerr.KindInput, wgerr.ErrMalformedSection.Tag, "field line before any [Section]: "+trimmed)
			}
			key, value, inlineComment, err := parseFieldLine(trimmed)
			if err != nil {
				return nil, nil, err
			}

			for _, c := range pendingComments {
				c.Position = model.PositionBefore
				c.FieldKey = key
				cur.Comments = append(cur.Comments, c)
			}
			pendingComments = nil

			if inlineComment != "" {
				cur.Comments = append(cur.Comments, Comment{Text: inlineComment, Position: model.PositionInline, FieldKey: key})
			}

			known := (cur.Kind == "Interface" && interfaceKnownKeys[key]) || (cur.Kind == "Peer" && peerKnownKeys[key])
			if !known {
				cur.Unknown = append(cur.Unknown, KV{Key: key, Value: value})
				warnings = append(warnings, wgerr.Warning{Tag: wgerr.WarnUnknownField.Tag, Message: fmt.Sprintf("unknown field %s in [%s]", key, cur.Kind)})
				continue
			}

			if multiValuedKeys[key] {
				for _, v := range strings.Split(value, ",") {
					v = strings.TrimSpace(v)
					if v != "" {
						cur.Fields = append(cur.Fields, KV{Key: key, Value: v})
					}
				}
				continue
			}

			if !repeatableKeys[key] && fieldAlreadySet(cur.Fields, key) {
				return nil, nil, wgerr.New(wgerr.KindInput, wgerr.ErrDuplicateField.Tag, "duplicate field "+key+" in ["+cur.Kind+"]")
			}

			cur.Fields = append(cur.Fields, KV{Key: key, Value: value})
		}
	}
	flushPendingAsStandalone()

	return &doc, warnings, nil
}

func fieldAlreadySet(fields []KV, key string) bool {
	for _, f := range fields {
		if f.Key == key {
			return true
		}
	}
	return false
}

// parseFieldLine parses "Key = Value # trailing comment", tolerating
// whitespace around '=' per §4.5 rule 2.
func parseFieldLine(line string) (key, value, inlineComment string, err error) {
	body := line
	if idx := strings.Index(line, "#"); idx >= 0 {
		body = line[:idx]
		inlineComment = strings.TrimSpace(line[idx+1:])
	}

	eq := strings.Index(body, "=")
	if eq < 0 {
		return "", "", "", wgerr.New(wgerr.KindInput, wgerr.ErrMalformedSection.Tag, "malformed field line: "+line)
	}
	key = strings.TrimSpace(body[:eq])
	value = strings.TrimSpace(body[eq+1:])
	if key == "" {
		return "", "", "", wgerr.New(wgerr.KindInput, wgerr.ErrMalformedSection.Tag, "empty key in field line: "+line)
	}
	return key, value, inlineComment, nil
}

func interpretInterface(sec Section) (*InterfaceBlock, error) {
	iface := &InterfaceBlock{Unknown: sec.Unknown, Comments: sec.Comments}
	for _, f := range sec.Fields {
		switch f.Key {
		case "PrivateKey":
			iface.PrivateKey = f.Value
		case "Address":
			iface.Address = append(iface.Address, f.Value)
		case "DNS":
			iface.DNS = append(iface.DNS, f.Value)
		case "ListenPort":
			n, err := strconv.Atoi(f.Value)
			if err != nil {
				return nil, wgerr.Wrap(wgerr.KindInput, wgerr.ErrMalformedSection.Tag, "invalid ListenPort", err)
			}
			iface.ListenPort = n
		case "MTU":
			n, err := strconv.Atoi(f.Value)
			if err != nil {
				return nil, wgerr.Wrap(wgerr.KindInput, wgerr.ErrMalformedSection.Tag, "invalid MTU", err)
			}
			iface.MTU = n
		case "Table":
			iface.Table = f.Value
		case "FwMark":
			iface.FwMark = f.Value
		case "PostUp":
			iface.PostUp = append(iface.PostUp, f.Value)
		case "PostDown":
			iface.PostDown = append(iface.PostDown, f.Value)
		}
	}
	return iface, nil
}

func interpretPeer(sec Section) (*PeerBlock, error) {
	peer := &PeerBlock{Unknown: sec.Unknown, Comments: sec.Comments}
	for _, f := range sec.Fields {
		switch f.Key {
		case "PublicKey":
			peer.PublicKey = f.Value
		case "PresharedKey":
			peer.PresharedKey = f.Value
		case "AllowedIPs":
			peer.AllowedIPs = append(peer.AllowedIPs, f.Value)
		case "Endpoint":
			peer.Endpoint = f.Value
		case "PersistentKeepalive":
			n, err := strconv.Atoi(f.Value)
			if err != nil {
				return nil, wgerr.Wrap(wgerr.KindInput, wgerr.ErrMalformedSection.Tag, "invalid PersistentKeepalive", err)
			}
			peer.PersistentKeepalive = n
		}
	}
	return peer, nil
}
