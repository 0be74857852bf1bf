package main

import (
	"fmt"
	"net/netip"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/graemester/wgfriend/internal/keys"
	"github.com/graemester/wgfriend/internal/model"
	"github.com/graemester/wgfriend/internal/pattern"
	"github.com/graemester/wgfriend/internal/wgconf"
	"github.com/graemester/wgfriend/internal/wgerr"
)

// importCmd implements spec.md's "control flow at import" paragraph:
// the parser (C5) produces a candidate record, key primitives (C1)
// derive and validate its public key, the pattern library (C4) tags
// recognized PostUp/PostDown fragments, and the store (C3) commits
// with provenance. There is no single orchestrator entry point for
// this because a parsed .conf describes an entity that already has a
// permanent identity and address — the opposite situation from
// add-remote/add-subnet-router/add-exit-node, which allocate both
// fresh. Importing a brand-new coordination server bootstraps the
// store directly, since nothing else can be a CS's origin; importing
// a subnet-router/exit-node/client-shaped config persists the parsed
// keys and address as-is rather than routing through the allocator.
var importCmd = &cobra.Command{
	Use:   "import <config-path>",
	Short: "Infer an entity from an existing WireGuard .conf and add it to the store",
	Long: `import reads a .conf file, guesses what kind of entity it
describes from its peer count and routing rules (§4.5 rule 5), derives
and validates its keys, recognizes known PostUp/PostDown shell
fragments against the pattern library, and commits the result. Pass
--kind to override the guess, which is necessary for an exit node
(indistinguishable from a subnet router by shape alone) and useful
whenever the heuristic is wrong.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		parsed, err := wgconf.Parse(string(text))
		if err != nil {
			return err
		}

		hostname, _ := cmd.Flags().GetString("hostname")
		if hostname == "" {
			return wgerr.New(wgerr.KindInput, wgerr.ErrMalformedConfig.Tag, "--hostname is required")
		}

		kindOverride, _ := cmd.Flags().GetString("kind")
		kind, err := resolveImportKind(parsed, kindOverride)
		if err != nil {
			return err
		}

		pub, err := keys.DerivePublic(parsed.Interface.PrivateKey)
		if err != nil {
			return wgerr.Wrap(wgerr.KindInput, wgerr.ErrMalformedKey.Tag, "derive public key from imported private key", err)
		}

		app, err := newAppContext(appLogger)
		if err != nil {
			return err
		}
		defer app.Close()

		switch kind {
		case model.KindCoordinationServer:
			return importCoordinationServer(app, cmd, parsed, hostname, pub)
		case model.KindSubnetRouter:
			return importSubnetRouter(app, cmd, parsed, hostname, pub)
		case model.KindExitNode:
			return importExitNode(app, cmd, parsed, hostname, pub)
		default:
			return importRemote(app, cmd, parsed, hostname, pub)
		}
	},
}

func resolveImportKind(parsed *wgconf.ParsedConfig, override string) (model.Kind, error) {
	if override != "" {
		return parseKindArg(override)
	}
	switch wgconf.DetectConfigType(parsed) {
	case wgconf.ConfigTypeCoordinationServer:
		return model.KindCoordinationServer, nil
	case wgconf.ConfigTypeSubnetRouter:
		return model.KindSubnetRouter, nil
	default:
		return model.KindRemote, nil
	}
}

// hostAndNetwork splits an Address entry like "10.66.0.1/24" into its
// host address (kept as a bare IP, the form every Base.VPNIPv4/6 field
// wants) and its containing network in CIDR form.
func hostAndNetwork(addr string) (host string, network string, err error) {
	p, err := netip.ParsePrefix(strings.TrimSpace(addr))
	if err != nil {
		return "", "", wgerr.Wrap(wgerr.KindInput, wgerr.ErrMalformedConfig.Tag, "invalid Address "+addr, err)
	}
	return p.Addr().String(), p.Masked().String(), nil
}

func splitAddresses(addrs []string) (v4host, v4net, v6host, v6net string, err error) {
	for _, a := range addrs {
		host, network, err := hostAndNetwork(a)
		if err != nil {
			return "", "", "", "", err
		}
		if strings.Contains(host, ":") {
			v6host, v6net = host, network
		} else {
			v4host, v4net = host, network
		}
	}
	return v4host, v4net, v6host, v6net, nil
}

// recognizedCommands runs every PostUp/PostDown line through the
// pattern library, splitting out recognized pairs (matched by a
// PostUp line whose inverse PostDown line is also present) from
// everything left over, which becomes verbatim CommandSingleton rows
// per §4.4's "never to this package" fallback.
func recognizedCommands(postUp, postDown []string) ([]model.CommandPair, []model.CommandSingleton) {
	registry := pattern.NewRegistry()
	usedDown := make(map[int]bool)
	var pairs []model.CommandPair
	var singles []model.CommandSingleton

	for _, up := range postUp {
		matchedPair := false
		for di, down := range postDown {
			if usedDown[di] {
				continue
			}
			if name, vars, ok := registry.RecognizePair(up, down); ok {
				pairs = append(pairs, model.CommandPair{
					PatternName: name, UpCommands: []string{up}, DownCommands: []string{down},
					Variables: vars, Scope: model.ScopeInterface,
				})
				usedDown[di] = true
				matchedPair = true
				break
			}
		}
		if matchedPair {
			continue
		}
		if name, vars, ok := registry.RecognizeSingle(up); ok {
			pairs = append(pairs, model.CommandPair{
				PatternName: name, UpCommands: []string{up}, Variables: vars, Scope: model.ScopeInterface,
			})
			continue
		}
		singles = append(singles, model.CommandSingleton{Direction: "up", Text: up})
	}
	for di, down := range postDown {
		if usedDown[di] {
			continue
		}
		singles = append(singles, model.CommandSingleton{Direction: "down", Text: down})
	}
	return pairs, singles
}

func importCoordinationServer(app *appContext, cmd *cobra.Command, parsed *wgconf.ParsedConfig, hostname, pub string) error {
	endpointHost, _ := cmd.Flags().GetString("endpoint-host")
	endpointPort, _ := cmd.Flags().GetInt("endpoint-port")
	if endpointHost == "" {
		return wgerr.New(wgerr.KindInput, wgerr.ErrMalformedConfig.Tag, "--endpoint-host is required to import a coordination server")
	}

	v4host, v4net, v6host, v6net, err := splitAddresses(parsed.Interface.Address)
	if err != nil {
		return err
	}

	cs := &model.CoordinationServer{
		Base: model.Base{
			PermanentGUID: pub, CurrentPublicKey: pub, CurrentPrivateKey: parsed.Interface.PrivateKey,
			Hostname: hostname, VPNIPv4: v4host, VPNIPv6: v6host,
			EndpointHost: endpointHost, EndpointPort: endpointPort, ListenPort: parsed.Interface.ListenPort,
		},
		VPNNetworkV4: v4net, VPNNetworkV6: v6net,
	}
	if err := app.store.UpsertCoordinationServer(cs); err != nil {
		return err
	}
	if err := app.store.AppendRotation(&model.KeyRotation{
		EntityGUID: pub, EntityKind: model.KindCoordinationServer,
		OldPublicKey: pub, NewPublicKey: pub, NewPrivateKey: parsed.Interface.PrivateKey, Reason: "imported from existing config",
	}); err != nil {
		return err
	}
	app.logger.Info("coordination server imported", zap.String("hostname", hostname), zap.String("guid", pub))
	fmt.Printf("coordination server %s imported: guid=%s network=%s\n", hostname, pub, v4net)
	return nil
}

func importSubnetRouter(app *appContext, cmd *cobra.Command, parsed *wgconf.ParsedConfig, hostname, pub string) error {
	csGUID, _ := cmd.Flags().GetString("cs")
	if csGUID == "" {
		return wgerr.New(wgerr.KindInput, wgerr.ErrMalformedConfig.Tag, "--cs is required to import a subnet router")
	}
	cs, err := app.store.FetchCoordinationServer(csGUID)
	if err != nil {
		return err
	}

	v4host, _, v6host, _, err := splitAddresses(parsed.Interface.Address)
	if err != nil {
		return err
	}

	pairs, singles := recognizedCommands(parsed.Interface.PostUp, parsed.Interface.PostDown)

	advertise, _ := cmd.Flags().GetStringSlice("advertise")
	lanIface, _ := cmd.Flags().GetString("lan-iface")
	for _, p := range pairs {
		if p.PatternName == "nat_masquerade_ipv4" && len(advertise) == 0 {
			advertise = append(advertise, p.Variables["cidr4"])
		}
	}
	if len(advertise) == 0 {
		return wgerr.New(wgerr.KindInput, wgerr.ErrMalformedConfig.Tag, "--advertise is required, no nat_masquerade_ipv4 rule to infer it from")
	}

	sr := &model.SubnetRouter{
		Base: model.Base{
			PermanentGUID: pub, CurrentPublicKey: pub, CurrentPrivateKey: parsed.Interface.PrivateKey,
			Hostname: hostname, VPNIPv4: v4host, VPNIPv6: v6host,
		},
		AdvertisedNetworks: advertise,
		LANInterface:       lanIface,
		SSH:                sshFromFlags(cmd),
	}
	if err := app.store.UpsertSubnetRouter(sr, cs.PermanentGUID); err != nil {
		return err
	}
	if err := persistImportedCommandsAndRotation(app, cs.PermanentGUID, pub, model.KindSubnetRouter, pairs, singles, parsed.Interface.PrivateKey); err != nil {
		return err
	}
	app.logger.Info("subnet router imported", zap.String("hostname", hostname), zap.String("guid", pub))
	fmt.Printf("subnet router %s imported: guid=%s advertising %v, recognized %d pattern(s), %d custom fragment(s)\n",
		hostname, pub, advertise, len(pairs), len(singles))
	return nil
}

func importExitNode(app *appContext, cmd *cobra.Command, parsed *wgconf.ParsedConfig, hostname, pub string) error {
	csGUID, _ := cmd.Flags().GetString("cs")
	if csGUID == "" {
		return wgerr.New(wgerr.KindInput, wgerr.ErrMalformedConfig.Tag, "--cs is required to import an exit node")
	}
	cs, err := app.store.FetchCoordinationServer(csGUID)
	if err != nil {
		return err
	}
	endpointHost, _ := cmd.Flags().GetString("endpoint-host")
	endpointPort, _ := cmd.Flags().GetInt("endpoint-port")
	if endpointHost == "" {
		return wgerr.New(wgerr.KindInput, wgerr.ErrMalformedConfig.Tag, "--endpoint-host is required to import an exit node")
	}

	v4host, _, v6host, _, err := splitAddresses(parsed.Interface.Address)
	if err != nil {
		return err
	}
	pairs, singles := recognizedCommands(parsed.Interface.PostUp, parsed.Interface.PostDown)

	wanIface, _ := cmd.Flags().GetString("wan-iface")
	for _, p := range pairs {
		if p.PatternName == "nat_masquerade_ipv4" && wanIface == "" {
			wanIface = p.Variables["wan"]
		}
	}
	if wanIface == "" {
		return wgerr.New(wgerr.KindInput, wgerr.ErrMalformedConfig.Tag, "--wan-iface is required, no nat_masquerade_ipv4 rule to infer it from")
	}

	e := &model.ExitNode{
		Base: model.Base{
			PermanentGUID: pub, CurrentPublicKey: pub, CurrentPrivateKey: parsed.Interface.PrivateKey,
			Hostname: hostname, VPNIPv4: v4host, VPNIPv6: v6host,
			EndpointHost: endpointHost, EndpointPort: endpointPort,
		},
		WANInterface: wanIface,
		SSH:          sshFromFlags(cmd),
	}
	if err := app.store.UpsertExitNode(e, cs.PermanentGUID); err != nil {
		return err
	}
	if err := persistImportedCommandsAndRotation(app, cs.PermanentGUID, pub, model.KindExitNode, pairs, singles, parsed.Interface.PrivateKey); err != nil {
		return err
	}
	app.logger.Info("exit node imported", zap.String("hostname", hostname), zap.String("guid", pub))
	fmt.Printf("exit node %s imported: guid=%s wan=%s, recognized %d pattern(s), %d custom fragment(s)\n",
		hostname, pub, wanIface, len(pairs), len(singles))
	return nil
}

func importRemote(app *appContext, cmd *cobra.Command, parsed *wgconf.ParsedConfig, hostname, pub string) error {
	csGUID, _ := cmd.Flags().GetString("cs")
	if csGUID == "" {
		return wgerr.New(wgerr.KindInput, wgerr.ErrMalformedConfig.Tag, "--cs is required to import a remote")
	}
	cs, err := app.store.FetchCoordinationServer(csGUID)
	if err != nil {
		return err
	}

	v4host, _, v6host, _, err := splitAddresses(parsed.Interface.Address)
	if err != nil {
		return err
	}
	access, _ := cmd.Flags().GetString("access")
	if access == "" {
		access = string(model.AccessFullAccess)
	}

	r := &model.Remote{
		Base: model.Base{
			PermanentGUID: pub, CurrentPublicKey: pub, CurrentPrivateKey: parsed.Interface.PrivateKey,
			Hostname: hostname, VPNIPv4: v4host, VPNIPv6: v6host,
		},
		AccessLevel: model.AccessLevel(access),
	}
	if err := app.store.UpsertRemote(r, cs.PermanentGUID); err != nil {
		return err
	}
	if err := app.store.AppendRotation(&model.KeyRotation{
		EntityGUID: pub, EntityKind: model.KindRemote,
		OldPublicKey: pub, NewPublicKey: pub, NewPrivateKey: parsed.Interface.PrivateKey, Reason: "imported from existing config",
	}); err != nil {
		return err
	}
	if err := app.store.AppendCSPeerOrder(cs.PermanentGUID, pub, model.KindRemote); err != nil {
		return err
	}
	app.logger.Info("remote imported", zap.String("hostname", hostname), zap.String("guid", pub))
	fmt.Printf("remote %s imported: guid=%s access=%s\n", hostname, pub, access)
	return nil
}

func persistImportedCommandsAndRotation(app *appContext, csGUID, guid string, kind model.Kind, pairs []model.CommandPair, singles []model.CommandSingleton, priv string) error {
	if len(pairs) > 0 {
		if err := app.store.ReplaceCommandPairs(guid, kind, pairs); err != nil {
			return err
		}
	}
	if len(singles) > 0 {
		if err := app.store.ReplaceCommandSingletons(guid, kind, singles); err != nil {
			return err
		}
	}
	if err := app.store.AppendCSPeerOrder(csGUID, guid, kind); err != nil {
		return err
	}
	return app.store.AppendRotation(&model.KeyRotation{
		EntityGUID: guid, EntityKind: kind,
		OldPublicKey: guid, NewPublicKey: guid, NewPrivateKey: priv, Reason: "imported from existing config",
	})
}

func init() {
	importCmd.Flags().String("hostname", "", "hostname to assign the imported entity, required")
	importCmd.Flags().String("kind", "", "override the detected kind: coordination_server|subnet_router|exit_node|remote")
	importCmd.Flags().String("cs", "", "existing coordination server guid, required unless importing a coordination server")
	importCmd.Flags().String("endpoint-host", "", "this entity's public endpoint host, required for coordination_server/exit_node")
	importCmd.Flags().Int("endpoint-port", 51820, "this entity's public endpoint port")
	importCmd.Flags().StringSlice("advertise", nil, "subnet router's advertised networks, inferred from its NAT rule when omitted")
	importCmd.Flags().String("lan-iface", "", "subnet router's LAN-facing interface")
	importCmd.Flags().String("wan-iface", "", "WAN-facing interface, inferred from the NAT rule when omitted")
	importCmd.Flags().String("access", "", "remote's access level, default full_access")
	addSSHFlags(importCmd)
	rootCmd.AddCommand(importCmd)
}
