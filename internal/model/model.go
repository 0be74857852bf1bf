// Package model defines the entity shapes of §3: the four
// WireGuard-speaking kinds unified behind the Entity interface, their
// supporting tables, and the extramural types that deliberately sit
// outside that interface. Following the teacher's preference for
// tagged structs over inheritance (AbuCTF-Anvil/internal/models/*.go
// are plain structs with a discriminant column, never embedded base
// classes with virtual dispatch), kinds are unified by interface, not
// by a shared concrete base type doing double duty as storage schema.
package model

import "time"

// Kind is the closed set of entity kinds from §3.
type Kind string

const (
	KindCoordinationServer Kind = "coordination_server"
	KindSubnetRouter       Kind = "subnet_router"
	KindRemote             Kind = "remote"
	KindExitNode           Kind = "exit_node"
	KindExtramuralSponsor  Kind = "extramural_sponsor"
	KindExtramuralConfig   Kind = "extramural_config"
	KindExtramuralServer   Kind = "extramural_server"
)

// AccessLevel is a remote's access level, §3.
type AccessLevel string

const (
	AccessFullAccess   AccessLevel = "full_access"
	AccessVPNOnly      AccessLevel = "vpn_only"
	AccessLANOnly      AccessLevel = "lan_only"
	AccessRestrictedIP AccessLevel = "restricted_ip"
	AccessExitOnly     AccessLevel = "exit_only"
	AccessCustom       AccessLevel = "custom"
)

// Base holds the attributes shared by all four WireGuard-speaking
// kinds per §3's shared-shape table.
type Base struct {
	PermanentGUID     string
	CurrentPublicKey  string
	CurrentPrivateKey string
	Hostname          string
	VPNIPv4           string
	VPNIPv6           string
	EndpointHost      string
	EndpointPort      int
	ListenPort        int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Entity is implemented by every WireGuard-speaking kind. It exposes
// just enough for kind-agnostic code (the store, the generator's
// common field layout, the orchestrator's identity checks) to operate
// without a type switch; kind-specific behavior stays on the concrete
// type.
type Entity interface {
	Kind() Kind
	Identity() *Base
}

// SSHCoordinates is the connection information C9 needs to reach a
// host's management interface. Authentication is key-based only: one
// of PrivateKeyPath or AgentSocket must be set, never a password.
type SSHCoordinates struct {
	Host             string
	Port             int
	User             string
	RemoteConfigPath string
	InterfaceName    string // default "wg0" when empty
	PrivateKeyPath   string
	AgentSocket      string
	Localhost        bool // §4.9 locality detection override
}

// CoordinationServer is the mesh's hub: the single entity every other
// kind peers with directly or indirectly.
type CoordinationServer struct {
	Base
	VPNNetworkV4 string
	VPNNetworkV6 string // optional, empty when unset
	SSH          SSHCoordinates
}

func (c *CoordinationServer) Kind() Kind    { return KindCoordinationServer }
func (c *CoordinationServer) Identity() *Base { return &c.Base }

// SubnetRouter advertises one or more LAN networks into the mesh.
type SubnetRouter struct {
	Base
	AdvertisedNetworks []string // ordered CIDR list
	LANInterface       string
	SSH                SSHCoordinates
}

func (s *SubnetRouter) Kind() Kind    { return KindSubnetRouter }
func (s *SubnetRouter) Identity() *Base { return &s.Base }

// Remote is an end-user device. AllowedIPs on its CS peer are derived
// from AccessLevel by internal/access, never stored directly except
// for CustomAllowedIPs under AccessCustom.
type Remote struct {
	Base
	AccessLevel       AccessLevel
	CustomAllowedIPs  []string // only meaningful when AccessLevel == AccessCustom
	DeviceType        string   // optional tag
	ExitNodeID        string   // optional, references an ExitNode's PermanentGUID
}

func (r *Remote) Kind() Kind    { return KindRemote }
func (r *Remote) Identity() *Base { return &r.Base }

// ExitNode provides egress for remotes assigned to it.
type ExitNode struct {
	Base
	WANInterface    string
	SSH             SSHCoordinates
	AssignedRemotes int // bidirectional count, maintained by the store
}

func (e *ExitNode) Kind() Kind    { return KindExitNode }
func (e *ExitNode) Identity() *Base { return &e.Base }

// CommentCategory and CommentPosition enumerate the supporting
// "comment" table's discriminant columns, §3.
type CommentCategory string

const (
	CommentHostname        CommentCategory = "hostname"
	CommentRole            CommentCategory = "role"
	CommentRationale       CommentCategory = "rationale"
	CommentPermanentGUIDRef CommentCategory = "permanent_guid_ref"
	CommentCustom          CommentCategory = "custom"
)

type CommentPosition string

const (
	PositionBefore     CommentPosition = "before"
	PositionAfter      CommentPosition = "after"
	PositionInline     CommentPosition = "inline"
	PositionAbove      CommentPosition = "above"
	PositionBelow      CommentPosition = "below"
	PositionStandalone CommentPosition = "standalone"
)

// Comment is attached to an entity by permanent_guid so it survives
// key rotation, per §3's lifecycle rule.
type Comment struct {
	ID           string
	EntityGUID   string
	EntityKind   Kind
	Category     CommentCategory
	Text         string
	Position     CommentPosition
	DisplayOrder int
}

// CommandScope is the pattern library's declared applicability, §4.4.
type CommandScope string

const (
	ScopeInterface    CommandScope = "interface"
	ScopePeerSpecific CommandScope = "peer-specific"
	ScopeGlobal       CommandScope = "global"
)

// CommandPair is a recognized (or custom) PostUp/PostDown pair bound
// to an entity, §3's command_pair/command_singleton table. PatternName
// is empty for the "custom" fallback that preserves the verbatim text.
type CommandPair struct {
	ID            string
	EntityGUID    string
	EntityKind    Kind
	PatternName   string
	UpCommands    []string
	DownCommands  []string
	Variables     map[string]string
	Scope         CommandScope
	ExecutionOrder int
}

// CommandSingleton is a one-sided (PostUp-only or PostDown-only)
// verbatim fragment that did not match any pattern's pair shape.
type CommandSingleton struct {
	ID             string
	EntityGUID     string
	EntityKind     Kind
	Direction      string // "up" or "down"
	Text           string
	ExecutionOrder int
}

// PortSpec is one port or port-list restriction within a
// PeerFirewallRule, §4.7.
type PortSpec struct {
	Protocol string // "tcp", "udp", or "" for all-ports
	Ports    []int  // single entry -> --dport, multiple -> --match multiport --dports
}

// PeerFirewallRule is a restricted_ip access-level rule: remote R may
// reach TargetIPCIDR on SubnetRouterGUID, subject to AllowedPorts. §4.7
// synthesizes iptables fragments from this.
type PeerFirewallRule struct {
	ID               string
	RemoteGUID       string
	SubnetRouterGUID string
	TargetIPCIDR     string
	AllowedPorts     []PortSpec
	PostUpLines      []string
	PostDownLines    []string
	Order            int
}

// CSPeerOrder preserves the peer section order observed at import so
// regenerated coordination-server files stay diff-stable, §3.
type CSPeerOrder struct {
	CSGUID       string
	EntityGUID   string
	EntityKind   Kind
	DisplayOrder int
}

// KeyRotation is one append-only row in key_rotation_history, §3. A
// removal is logged as a terminal rotation with NewPublicKey/
// NewPrivateKey left empty.
type KeyRotation struct {
	ID            string
	EntityGUID    string
	EntityKind    Kind
	OldPublicKey  string
	NewPublicKey  string
	NewPrivateKey string
	RotatedAt     time.Time
	Reason        string
}

// Sponsor, ExtramuralConfig, and ExtramuralServer implement §3's
// extramural domain and §4.10. They do not implement Entity: they are
// not WireGuard-speaking mesh members, they are records of third-party
// configs the operator also manages through this tool.
type Sponsor struct {
	ID   string
	Name string
}

// ExtramuralConfig binds one local peer identity to a sponsor; exactly
// one of its ExtramuralServer rows is active at a time, enforced by
// the store.
type ExtramuralConfig struct {
	ID                 string
	SponsorID          string
	LocalPrivateKey    string
	LocalPublicKey     string
	LocalVPNIPv4       string
	LocalVPNIPv6       string
	DNS                []string
	PendingRemoteUpdate bool
}

// ExtramuralServer is one candidate remote endpoint for an
// ExtramuralConfig.
type ExtramuralServer struct {
	ID               string
	ExtramuralConfigID string
	Label            string
	PublicKey        string
	PresharedKey     string
	Endpoint         string
	AllowedIPs       []string
	Active           bool
}
