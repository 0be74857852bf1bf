package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/graemester/wgfriend/internal/deploy"
	"github.com/graemester/wgfriend/internal/model"
)

func sshCoordinatesFor(app *appContext, cs *model.CoordinationServer, kind model.Kind, hostname string) (model.SSHCoordinates, error) {
	switch kind {
	case model.KindCoordinationServer:
		return cs.SSH, nil
	case model.KindSubnetRouter:
		srs, err := app.store.ListSubnetRouters(cs.PermanentGUID)
		if err != nil {
			return model.SSHCoordinates{}, err
		}
		sr := findSubnetRouter(srs, hostname)
		if sr == nil {
			return model.SSHCoordinates{}, fmt.Errorf("no subnet router named %q", hostname)
		}
		return sr.SSH, nil
	case model.KindExitNode:
		exits, err := app.store.ListExitNodes(cs.PermanentGUID)
		if err != nil {
			return model.SSHCoordinates{}, err
		}
		e := findExitNode(exits, hostname)
		if e == nil {
			return model.SSHCoordinates{}, fmt.Errorf("no exit node named %q", hostname)
		}
		return e.SSH, nil
	default:
		return model.SSHCoordinates{}, fmt.Errorf("kind %q has no management SSH surface", kind)
	}
}

var deployCmd = &cobra.Command{
	Use:   "deploy <cs-guid> <kind> <hostname> <local-config-path>",
	Short: "Push a freshly generated .conf to a host and restart its interface",
	Long: `deploy runs §4.9's six-step sequence on a single host: locality
detection, pre-flight, backup, upload, restart (unless --no-restart),
and verify against wg show. Exit code follows §6: 0 on success, 6 when
the host ends in any other state (partial included); 5 needs at least
one other host to succeed, so it does not occur for a single host.`,
	Args: cobra.ExactArgs(4),
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

		cs, err := app.store.FetchCoordinationServer(args[0])
		if err != nil {
			return err
		}

		host, err := sshCoordinatesFor(app, cs, kind, args[2])
		if err != nil {
			return err
		}
		if override := sshFromFlags(cmd); override.Host != "" {
			host = override
		}

		expected, _ := cmd.Flags().GetInt("expected-peers")
		noRestart, _ := cmd.Flags().GetBool("no-restart")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		plan := deploy.Plan{
			Hostname:          args[2],
			Kind:              kind,
			Host:              host,
			LocalConfigPath:   args[3],
			ExpectedPeerCount: expected,
			Restart:           !noRestart,
			DryRun:            dryRun,
		}

		res := deploy.Deploy(context.Background(), deploy.NewSSHTransport(), plan)
		app.logger.Info("deploy finished", zap.String("hostname", res.Hostname), zap.String("state", string(res.State)))
		fmt.Printf("%s: %s\n", res.Hostname, res.State)
		for _, c := range res.Commands {
			fmt.Printf("  %s\n", c)
		}
		for _, w := range res.Warnings {
			fmt.Printf("  warning: %s\n", w)
		}
		if res.BackupPath != "" {
			fmt.Printf("  backup: %s\n", res.BackupPath)
		}
		if res.Err != nil {
			fmt.Printf("  error: %v\n", res.Err)
		}

		code := deploy.AggregateExitCode([]deploy.Result{res})
		setExitCode(code)
		if code != 0 {
			return fmt.Errorf("deployment to %s did not succeed", res.Hostname)
		}
		return nil
	},
}

func init() {
	addSSHFlags(deployCmd)
	deployCmd.Flags().Int("expected-peers", 0, "expected wg show peer count, 0 to skip the check")
	deployCmd.Flags().Bool("no-restart", false, "skip wg-quick down/up and the post-restart verify")
	deployCmd.Flags().Bool("dry-run", false, "print the command sequence without mutating the host")
	rootCmd.AddCommand(deployCmd)
}
