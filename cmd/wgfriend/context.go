package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/graemester/wgfriend/internal/config"
	"github.com/graemester/wgfriend/internal/orchestrator"
	"github.com/graemester/wgfriend/internal/store"
	"github.com/graemester/wgfriend/internal/wgerr"
)

// appContext is what every subcommand's RunE receives after the
// generic open-config/open-store preamble §0 describes: "loads config,
// opens the store, runs exactly one orchestrator/deployment call".
type appContext struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
	orch   *orchestrator.Orchestrator
}

// storePath honors §6's WG_FRIEND_DB override, which sits alongside
// but outside the WGFRIEND_-prefixed viper environment, then falls
// back to the config file's store.path, then to store.DefaultPath().
func storePath(cfg *config.Config) string {
	if p := os.Getenv("WG_FRIEND_DB"); p != "" {
		return p
	}
	if cfg.Store.Path != "" {
		return cfg.Store.Path
	}
	return store.DefaultPath()
}

func newAppContext(logger *zap.Logger) (*appContext, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, wgerr.Wrap(wgerr.KindInput, "ConfigLoadFailed", "load configuration", err)
	}
	st, err := store.Open(storePath(cfg))
	if err != nil {
		return nil, wgerr.Wrap(wgerr.KindInput, "StoreOpenFailed", "open store", err)
	}
	return &appContext{
		cfg:    cfg,
		logger: logger,
		store:  st,
		orch:   orchestrator.New(st),
	}, nil
}

func (a *appContext) Close() {
	if a != nil && a.store != nil {
		_ = a.store.Close()
	}
}

// exitCode implements §6's table. Deployment commands compute their
// own 0/5/6 from deploy.AggregateExitCode and never pass through here;
// everything else maps a *wgerr.Error's Kind to the remaining codes.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if err == errOperatorCancelled {
		return 3
	}
	we, ok := err.(*wgerr.Error)
	if !ok {
		return 1
	}
	switch we.Kind {
	case wgerr.KindInput:
		return 2
	case wgerr.KindInvariant:
		return 4
	default:
		return 1
	}
}

var errOperatorCancelled = fmt.Errorf("operator cancelled")

// confirm implements the "y/N" prompt §7's operator-cancelled exit
// code exists for. --yes on the calling command skips it entirely.
func confirm(prompt string, yes bool) (bool, error) {
	if yes {
		return true, nil
	}
	fmt.Fprintf(os.Stderr, "%s [y/N] ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false, nil
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}
