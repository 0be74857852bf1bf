package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var integrityCheckCmd = &cobra.Command{
	Use:   "integrity-check <cs-guid>",
	Short: "Verify invariant #2 and rotation-history continuity across every entity in the mesh",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newAppContext(appLogger)
		if err != nil {
			return err
		}
		defer app.Close()

		violations, err := app.orch.IntegrityCheck(args[0])
		if err != nil {
			return err
		}
		if len(violations) == 0 {
			fmt.Println("no violations")
			return nil
		}
		for _, v := range violations {
			fmt.Printf("%s (%s): %s\n", v.EntityGUID, v.EntityKind, v.Reason)
		}
		app.logger.Warn("integrity violations found", zap.Int("count", len(violations)))
		setExitCode(4)
		return fmt.Errorf("%d integrity violation(s) found", len(violations))
	},
}

func init() {
	rootCmd.AddCommand(integrityCheckCmd)
}
