package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/graemester/wgfriend/internal/model"
	"github.com/graemester/wgfriend/internal/orchestrator"
)

func printPlan(plan *orchestrator.RegenerationPlan) {
	if plan == nil || len(plan.Stale) == 0 {
		return
	}
	fmt.Println("stale configs, regenerate and redeploy:")
	for _, t := range plan.Stale {
		fmt.Printf("  %s (%s) %s\n", t.Hostname, t.Kind, t.GUID)
	}
}

func sshFromFlags(cmd *cobra.Command) model.SSHCoordinates {
	host, _ := cmd.Flags().GetString("ssh-host")
	port, _ := cmd.Flags().GetInt("ssh-port")
	user, _ := cmd.Flags().GetString("ssh-user")
	keyPath, _ := cmd.Flags().GetString("ssh-key")
	localhost, _ := cmd.Flags().GetBool("ssh-localhost")
	return model.SSHCoordinates{
		Host: host, Port: port, User: user, PrivateKeyPath: keyPath, Localhost: localhost,
	}
}

func addSSHFlags(cmd *cobra.Command) {
	cmd.Flags().String("ssh-host", "", "management SSH host")
	cmd.Flags().Int("ssh-port", 22, "management SSH port")
	cmd.Flags().String("ssh-user", "", "management SSH user")
	cmd.Flags().String("ssh-key", "", "management SSH private key path")
	cmd.Flags().Bool("ssh-localhost", false, "treat this entity as running on this machine, §4.9 locality detection")
}

var addRemoteCmd = &cobra.Command{
	Use:   "add-remote <cs-guid> <hostname> <access-level>",
	Short: "Add a remote device to the mesh",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newAppContext(appLogger)
		if err != nil {
			return err
		}
		defer app.Close()

		exitGUID, _ := cmd.Flags().GetString("exit-node")
		deviceType, _ := cmd.Flags().GetString("device-type")
		allowedIPs, _ := cmd.Flags().GetStringSlice("allowed-ips")

		r, plan, err := app.orch.AddRemote(args[0], args[1], model.AccessLevel(args[2]), orchestrator.AddRemoteOptions{
			DeviceType:       deviceType,
			ExitNodeGUID:     exitGUID,
			CustomAllowedIPs: allowedIPs,
		})
		if err != nil {
			return err
		}
		app.logger.Info("remote added", zap.String("hostname", r.Hostname), zap.String("guid", r.PermanentGUID))
		fmt.Printf("remote %s added: guid=%s vpn4=%s\n", r.Hostname, r.PermanentGUID, r.VPNIPv4)
		printPlan(plan)
		return nil
	},
}

var addSubnetRouterCmd = &cobra.Command{
	Use:   "add-subnet-router <cs-guid> <hostname> <lan-iface> <wan-iface> <advertised-network...>",
	Short: "Add a subnet router advertising one or more LAN networks into the mesh",
	Args:  cobra.MinimumNArgs(5),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newAppContext(appLogger)
		if err != nil {
			return err
		}
		defer app.Close()

		sr, pairs, plan, err := app.orch.AddSubnetRouter(args[0], args[1], args[4:], args[2], args[3], sshFromFlags(cmd))
		if err != nil {
			return err
		}
		app.logger.Info("subnet router added", zap.String("hostname", sr.Hostname), zap.String("guid", sr.PermanentGUID))
		fmt.Printf("subnet router %s added: guid=%s vpn4=%s, seeded %d command pairs\n", sr.Hostname, sr.PermanentGUID, sr.VPNIPv4, len(pairs))
		printPlan(plan)
		return nil
	},
}

var addExitNodeCmd = &cobra.Command{
	Use:   "add-exit-node <cs-guid> <hostname> <wan-iface> <endpoint-host> <endpoint-port>",
	Short: "Add an exit node providing default-route egress for assigned remotes",
	Args:  cobra.ExactArgs(5),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newAppContext(appLogger)
		if err != nil {
			return err
		}
		defer app.Close()

		var port int
		if _, err := fmt.Sscanf(args[4], "%d", &port); err != nil {
			return fmt.Errorf("invalid endpoint port %q: %w", args[4], err)
		}

		e, pairs, plan, err := app.orch.AddExitNode(args[0], args[1], args[2], args[3], port, sshFromFlags(cmd))
		if err != nil {
			return err
		}
		app.logger.Info("exit node added", zap.String("hostname", e.Hostname), zap.String("guid", e.PermanentGUID))
		fmt.Printf("exit node %s added: guid=%s vpn4=%s, seeded %d command pairs\n", e.Hostname, e.PermanentGUID, e.VPNIPv4, len(pairs))
		printPlan(plan)
		return nil
	},
}

var assignExitCmd = &cobra.Command{
	Use:   "assign-exit <cs-guid> <remote-guid> <exit-guid>",
	Short: "Route a remote's default traffic through an exit node",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newAppContext(appLogger)
		if err != nil {
			return err
		}
		defer app.Close()

		plan, err := app.orch.AssignExit(args[0], args[1], args[2])
		if err != nil {
			return err
		}
		app.logger.Info("exit assigned", zap.String("remote", args[1]), zap.String("exit", args[2]))
		fmt.Println("exit assigned")
		printPlan(plan)
		return nil
	},
}

func parseKindArg(s string) (model.Kind, error) {
	switch model.Kind(s) {
	case model.KindCoordinationServer, model.KindSubnetRouter, model.KindRemote, model.KindExitNode:
		return model.Kind(s), nil
	default:
		return "", fmt.Errorf("unknown kind %q, expected one of coordination_server|subnet_router|remote|exit_node", s)
	}
}

var rotateCmd = &cobra.Command{
	Use:   "rotate <cs-guid> <kind> <guid> <reason>",
	Short: "Rotate an entity's keypair, preserving its permanent_guid",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := parseKindArg(args[1])
		if err != nil {
			return err
		}
		app, err := newAppContext(appLogger)
		if err != nil {
			return err
		}
		defer app.Close()

		plan, err := app.orch.RotateKeys(args[0], args[2], kind, args[3])
		if err != nil {
			return err
		}
		app.logger.Info("keys rotated", zap.String("guid", args[2]), zap.String("reason", args[3]))
		fmt.Println("keys rotated")
		printPlan(plan)
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <cs-guid> <kind> <guid> <reason>",
	Short: "Remove an entity from the mesh",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := parseKindArg(args[1])
		if err != nil {
			return err
		}
		yes, _ := cmd.Flags().GetBool("yes")
		ok, err := confirm(fmt.Sprintf("remove %s %s?", kind, args[2]), yes)
		if err != nil {
			return err
		}
		if !ok {
			return errOperatorCancelled
		}

		app, err := newAppContext(appLogger)
		if err != nil {
			return err
		}
		defer app.Close()

		plan, err := app.orch.RemoveEntity(args[0], args[2], kind, args[3])
		if err != nil {
			return err
		}
		app.logger.Warn("entity removed", zap.String("guid", args[2]), zap.String("kind", string(kind)), zap.String("reason", args[3]))
		fmt.Println("entity removed")
		printPlan(plan)
		return nil
	},
}

func init() {
	addRemoteCmd.Flags().String("exit-node", "", "exit node guid, required for access level exit_only")
	addRemoteCmd.Flags().String("device-type", "", "free-form device tag")
	addRemoteCmd.Flags().StringSlice("allowed-ips", nil, "custom AllowedIPs, required for access level custom")
	addSSHFlags(addSubnetRouterCmd)
	addSSHFlags(addExitNodeCmd)
	removeCmd.Flags().Bool("yes", false, "skip the confirmation prompt")

	rootCmd.AddCommand(addRemoteCmd, addSubnetRouterCmd, addExitNodeCmd, assignExitCmd, rotateCmd, removeCmd)
}
