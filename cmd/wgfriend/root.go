package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var appLogger *zap.Logger

var rootCmd = &cobra.Command{
	Use:   "wgfriend",
	Short: "Manage a WireGuard mesh's coordination server, subnet routers, exit nodes, and remotes",
	Long: `wgfriend is the operator CLI for a WireGuard mesh: one coordination
server, any number of subnet routers and exit nodes, and the remotes
that peer through them. Every subcommand loads the structured store and
runs one operation; the ones that change the mesh (add, assign, rotate,
remove) print the entities whose configs are now stale and need
regenerating and redeploying.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute builds the command tree, runs it, and returns the process
// exit code per §6. Cobra's own error is printed here rather than by
// cobra itself, since SilenceErrors lets this function control both
// the message and the code together.
func Execute(logger *zap.Logger) int {
	appLogger = logger
	overrideExitCode = nil
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if overrideExitCode != nil {
			return *overrideExitCode
		}
		return exitCode(err)
	}
	if overrideExitCode != nil {
		return *overrideExitCode
	}
	return 0
}

// overrideExitCode lets a subcommand report a code the generic
// Kind-based mapping can't express — deployment's 0/5/6 doesn't come
// from a *wgerr.Error at all.
var overrideExitCode *int

func setExitCode(c int) { overrideExitCode = &c }
