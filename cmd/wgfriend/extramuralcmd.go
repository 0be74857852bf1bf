package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/graemester/wgfriend/internal/extramural"
)

var extramuralCmd = &cobra.Command{
	Use:   "extramural",
	Short: "Manage third-party commercial VPN configurations, §4.10",
	Long: `extramural tracks commercial VPN providers as a domain kept
deliberately separate from the mesh: it never appears in a
coordination-server, subnet-router, exit-node, or remote config.`,
}

var extramuralImportCmd = &cobra.Command{
	Use:   "import <sponsor-name> <config-path>",
	Short: "Import a provider-issued .conf, recording extra peers as candidate servers",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newAppContext(appLogger)
		if err != nil {
			return err
		}
		defer app.Close()

		text, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		cfg, servers, err := extramural.New(app.store).ImportProviderConfig(args[0], string(text))
		if err != nil {
			return err
		}
		fmt.Printf("imported extramural config %s (local vpn4=%s), %d server(s)\n", cfg.ID, cfg.LocalVPNIPv4, len(servers))
		for _, s := range servers {
			fmt.Printf("  %s active=%v\n", s.ID, s.Active)
		}
		return nil
	},
}

var extramuralSwitchCmd = &cobra.Command{
	Use:   "switch <config-id> <server-id>",
	Short: "Switch a config's active server",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newAppContext(appLogger)
		if err != nil {
			return err
		}
		defer app.Close()

		if err := extramural.New(app.store).SwitchActiveServer(args[0], args[1]); err != nil {
			return err
		}
		fmt.Println("active server switched")
		return nil
	},
}

var extramuralRotateKeyCmd = &cobra.Command{
	Use:   "rotate-key <config-id>",
	Short: "Rotate a config's local keypair and mark it pending_remote_update",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newAppContext(appLogger)
		if err != nil {
			return err
		}
		defer app.Close()

		cfg, err := extramural.New(app.store).RotateLocalKey(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("local key rotated, new public key %s; upload it to the provider, then run confirm\n", cfg.LocalPublicKey)
		return nil
	},
}

var extramuralConfirmCmd = &cobra.Command{
	Use:   "confirm <config-id>",
	Short: "Clear pending_remote_update once the provider has the new key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newAppContext(appLogger)
		if err != nil {
			return err
		}
		defer app.Close()

		if err := extramural.New(app.store).ConfirmRemoteUpdate(args[0]); err != nil {
			return err
		}
		fmt.Println("pending_remote_update cleared")
		return nil
	},
}

func init() {
	extramuralCmd.AddCommand(extramuralImportCmd, extramuralSwitchCmd, extramuralRotateKeyCmd, extramuralConfirmCmd)
	rootCmd.AddCommand(extramuralCmd)
}
