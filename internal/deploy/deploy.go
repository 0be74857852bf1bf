package deploy

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/graemester/wgfriend/internal/model"
	"github.com/graemester/wgfriend/internal/wgerr"
)

// State is a deploy result's terminal status, §4.9's closing
// paragraph.
type State string

const (
	StateSuccess           State = "success"
	StatePartial           State = "partial" // upload+restart ran, the wg show verify command did not
	StateFailedBeforeUpload State = "failed-before-upload"
	StateFailedAfterUpload  State = "failed-after-upload"
)

// Plan is one host's deployment request: the generated config to push
// and the expectations to verify against.
type Plan struct {
	Hostname          string
	Kind              model.Kind
	Host              model.SSHCoordinates
	LocalConfigPath   string // freshly generated .conf, already on local disk
	ExpectedPeerCount int
	Restart           bool // run wg-quick down/up and capture wg show
	DryRun            bool // plan only; no mutation
}

// Result is one host's outcome. BackupPath is set whenever a backup
// was taken (success or failure after upload) and is the rollback
// instruction the operator is given for the two failure states.
type Result struct {
	Hostname     string
	State        State
	BackupPath   string
	ActualPeers  int
	Commands     []string // steps taken, or the dry-run command list
	Warnings     []wgerr.Warning
	Err          error
}

// remotePath defaults per §6's "Deployment surface on remote hosts".
func remotePath(host model.SSHCoordinates) string {
	if host.RemoteConfigPath != "" {
		return host.RemoteConfigPath
	}
	return "/etc/wireguard/" + interfaceName(host) + ".conf"
}

func interfaceName(host model.SSHCoordinates) string {
	if host.InterfaceName != "" {
		return host.InterfaceName
	}
	return "wg0"
}

// transportFor implements §4.9 step 1, locality detection: a host
// flagged Localhost (or with an empty Host field, treated the same
// way) uses the elevated-privilege local helper; everything else goes
// over SSH.
func transportFor(host model.SSHCoordinates, ssh Transport) Transport {
	if host.Localhost || host.Host == "" {
		return NewLocalTransport(true)
	}
	return ssh
}

// Deploy runs the six-step sequence of §4.9 for one host: locality
// detection, pre-flight, backup, upload, optional restart, verify.
// Each host's steps are strictly sequential; DeployAll is what runs
// hosts concurrently.
func Deploy(ctx context.Context, ssh Transport, plan Plan) Result {
	res := Result{Hostname: plan.Hostname}
	t := transportFor(plan.Host, ssh)
	remote := remotePath(plan.Host)
	iface := interfaceName(plan.Host)

	preflightCmds := preflightCommands(plan.Kind, iface)
	res.Commands = append(res.Commands, preflightCmds...)
	for _, cmd := range preflightCmds {
		if _, stderr, code, err := t.Execute(ctx, plan.Host, cmd); err != nil || code != 0 {
			res.Warnings = append(res.Warnings, wgerr.Warning{Tag: wgerr.WarnForwardingDisabled.Tag, Message: fmt.Sprintf("pre-flight %q: %s", cmd, stderr)})
		}
	}

	backupCmd := fmt.Sprintf("cp %s %s", remote, backupPath(remote))
	res.Commands = append(res.Commands, backupCmd)

	if plan.DryRun {
		uploadCmd := fmt.Sprintf("put %s -> %s (mode 600)", plan.LocalConfigPath, remote)
		res.Commands = append(res.Commands, uploadCmd)
		if plan.Restart {
			res.Commands = append(res.Commands, restartCommand(iface), statusCommand(iface))
		}
		res.State = StateSuccess
		return res
	}

	if _, stderr, code, err := t.Execute(ctx, plan.Host, backupCmd); err != nil || code != 0 {
		res.Warnings = append(res.Warnings, wgerr.Warning{Tag: wgerr.WarnBackupMissing.Tag, Message: stderr})
	} else {
		res.BackupPath = backupPath(remote)
	}

	if err := t.Put(ctx, plan.Host, plan.LocalConfigPath, remote, 0o600); err != nil {
		res.Err = err
		if res.BackupPath != "" {
			res.State = StateFailedAfterUpload
		} else {
			res.State = StateFailedBeforeUpload
		}
		return res
	}

	if plan.Restart {
		restart := restartCommand(iface)
		res.Commands = append(res.Commands, restart)
		if _, stderr, code, err := t.Execute(ctx, plan.Host, restart); err != nil || code != 0 {
			res.Err = wgerr.New(wgerr.KindRemote, wgerr.ErrRemoteCommandFail.Tag, "restart failed: "+stderr)
			res.State = StateFailedAfterUpload
			return res
		}
	}

	status := statusCommand(iface)
	res.Commands = append(res.Commands, status)
	stdout, _, _, err := t.Execute(ctx, plan.Host, status)
	if err != nil {
		res.State = StatePartial
		res.Warnings = append(res.Warnings, wgerr.Warning{Tag: "VerificationUnavailable", Message: err.Error()})
		return res
	}

	res.ActualPeers = countPeers(stdout)
	if plan.ExpectedPeerCount > 0 && res.ActualPeers != plan.ExpectedPeerCount {
		res.Warnings = append(res.Warnings, wgerr.Warning{
			Tag:     "PeerCountMismatch",
			Message: fmt.Sprintf("expected %d peers, wg show reports %d (handshakes may still be pending)", plan.ExpectedPeerCount, res.ActualPeers),
		})
	}

	res.State = StateSuccess
	return res
}

// DeployAll fans out Deploy across hosts per §5's "per-host deployment
// MAY be issued in parallel for latency... failures on one host MUST
// NOT block others". Results are returned in the same order as plans.
func DeployAll(ctx context.Context, ssh Transport, plans []Plan) []Result {
	results := make([]Result, len(plans))
	var wg sync.WaitGroup
	for i, plan := range plans {
		wg.Add(1)
		go func(i int, plan Plan) {
			defer wg.Done()
			results[i] = Deploy(ctx, ssh, plan)
		}(i, plan)
	}
	wg.Wait()
	return results
}

// AggregateExitCode maps a batch of results to §6's CLI exit code
// contract: 5 for any partial/failed host when at least one other
// host succeeded, 6 when every host failed.
func AggregateExitCode(results []Result) int {
	succeeded, failed := 0, 0
	for _, r := range results {
		switch r.State {
		case StateSuccess:
			succeeded++
		default:
			failed++
		}
	}
	switch {
	case failed == 0:
		return 0
	case succeeded == 0:
		return 6
	default:
		return 5
	}
}

func preflightCommands(kind model.Kind, iface string) []string {
	switch kind {
	case model.KindSubnetRouter, model.KindExitNode:
		return []string{
			"sysctl -n net.ipv4.ip_forward",
			"sysctl -n net.ipv6.conf.all.forwarding",
		}
	default:
		return nil
	}
}

func backupPath(remote string) string {
	return fmt.Sprintf("%s.backup.%s", remote, time.Now().UTC().Format("20060102-150405"))
}

func restartCommand(iface string) string {
	return fmt.Sprintf("wg-quick down %s && wg-quick up %s", iface, iface)
}

func statusCommand(iface string) string {
	return fmt.Sprintf("wg show %s", iface)
}

// countPeers counts "peer:" lines in wg show's plain-text output.
func countPeers(wgShowOutput string) int {
	n := 0
	for _, line := range strings.Split(wgShowOutput, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "peer:") {
			n++
		}
	}
	return n
}

// StatOrZero returns a file's size, or 0 if it does not exist; used by
// callers building dry-run summaries without mutating state.
func StatOrZero(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
