package deploy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graemester/wgfriend/internal/model"
)

// fakeTransport is an in-memory Transport double: Execute matches
// commands by prefix, Put records the call.
type fakeTransport struct {
	mu        sync.Mutex
	responses map[string]fakeResponse
	puts      []string
	failPut   bool
}

type fakeResponse struct {
	stdout string
	stderr string
	code   int
	err    error
}

func (f *fakeTransport) Execute(_ context.Context, _ model.SSHCoordinates, cmd string) (string, string, int, error) {
	for prefix, resp := range f.responses {
		if strings.HasPrefix(cmd, prefix) {
			return resp.stdout, resp.stderr, resp.code, resp.err
		}
	}
	return "", "", 0, nil
}

func (f *fakeTransport) Put(_ context.Context, _ model.SSHCoordinates, localPath, remotePath string, _ os.FileMode) error {
	f.mu.Lock()
	f.puts = append(f.puts, localPath+"->"+remotePath)
	f.mu.Unlock()
	if f.failPut {
		return assert.AnError
	}
	return nil
}

func testPlan(t *testing.T) Plan {
	t.Helper()
	dir := t.TempDir()
	local := filepath.Join(dir, "wg0.conf")
	require.NoError(t, os.WriteFile(local, []byte("[Interface]\n"), 0o600))
	return Plan{
		Hostname:          "home-gateway",
		Kind:              model.KindSubnetRouter,
		Host:              model.SSHCoordinates{Host: "10.0.0.5", User: "admin", PrivateKeyPath: "/dev/null"},
		LocalConfigPath:   local,
		ExpectedPeerCount: 2,
		Restart:           true,
	}
}

func TestDeploySuccessPath(t *testing.T) {
	ft := &fakeTransport{responses: map[string]fakeResponse{
		"wg show": {stdout: "peer: abc\npeer: def\n"},
	}}
	res := Deploy(context.Background(), ft, testPlan(t))

	assert.Equal(t, StateSuccess, res.State)
	assert.Equal(t, 2, res.ActualPeers)
	assert.NotEmpty(t, res.BackupPath)
	assert.Len(t, ft.puts, 1)
	assert.Empty(t, res.Warnings)
}

func TestDeployWarnsOnPeerCountMismatch(t *testing.T) {
	ft := &fakeTransport{responses: map[string]fakeResponse{
		"wg show": {stdout: "peer: abc\n"},
	}}
	res := Deploy(context.Background(), ft, testPlan(t))

	assert.Equal(t, StateSuccess, res.State)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "PeerCountMismatch", res.Warnings[0].Tag)
}

func TestDeployFailedBeforeUploadWhenNoBackupExisted(t *testing.T) {
	ft := &fakeTransport{
		responses: map[string]fakeResponse{"cp ": {code: 1, stderr: "no such file"}},
		failPut:   true,
	}
	res := Deploy(context.Background(), ft, testPlan(t))

	assert.Equal(t, StateFailedBeforeUpload, res.State)
	assert.Empty(t, res.BackupPath)
	assert.Error(t, res.Err)
}

func TestDeployFailedAfterUploadWhenBackupExisted(t *testing.T) {
	ft := &fakeTransport{failPut: true}
	res := Deploy(context.Background(), ft, testPlan(t))

	assert.Equal(t, StateFailedAfterUpload, res.State)
	assert.NotEmpty(t, res.BackupPath)
	assert.Error(t, res.Err)
}

func TestDeployDryRunPerformsNoMutation(t *testing.T) {
	ft := &fakeTransport{}
	plan := testPlan(t)
	plan.DryRun = true
	res := Deploy(context.Background(), ft, plan)

	assert.Equal(t, StateSuccess, res.State)
	assert.Empty(t, ft.puts)
	assert.True(t, len(res.Commands) >= 3)
}

func TestDeployIsolatesHostFailuresAndAggregatesExitCode(t *testing.T) {
	good := testPlan(t)
	good.Hostname = "good-host"

	bad := testPlan(t)
	bad.Hostname = "bad-host"

	goodT := &fakeTransport{responses: map[string]fakeResponse{"wg show": {stdout: "peer: a\npeer: b\n"}}}
	badT := &fakeTransport{failPut: true}

	// DeployAll takes one transport; exercise per-host isolation by
	// calling Deploy directly against distinct transports and
	// asserting AggregateExitCode over the mixed result set.
	results := []Result{
		Deploy(context.Background(), goodT, good),
		Deploy(context.Background(), badT, bad),
	}

	assert.Equal(t, StateSuccess, results[0].State)
	assert.Equal(t, StateFailedAfterUpload, results[1].State)
	assert.Equal(t, 5, AggregateExitCode(results))
}

func TestAggregateExitCodeAllFailed(t *testing.T) {
	results := []Result{{State: StateFailedBeforeUpload}, {State: StateFailedAfterUpload}}
	assert.Equal(t, 6, AggregateExitCode(results))
}

func TestDeployAllRunsHostsConcurrentlyAndPreservesOrder(t *testing.T) {
	ft := &fakeTransport{responses: map[string]fakeResponse{"wg show": {stdout: "peer: a\n"}}}
	alice := testPlan(t)
	alice.Hostname, alice.ExpectedPeerCount = "alice", 1
	bob := testPlan(t)
	bob.Hostname, bob.ExpectedPeerCount = "bob", 1

	results := DeployAll(context.Background(), ft, []Plan{alice, bob})
	require.Len(t, results, 2)
	assert.Equal(t, "alice", results[0].Hostname)
	assert.Equal(t, "bob", results[1].Hostname)
	assert.Equal(t, StateSuccess, results[0].State)
	assert.Equal(t, StateSuccess, results[1].State)
}

func TestAggregateExitCodeAllSucceeded(t *testing.T) {
	results := []Result{{State: StateSuccess}, {State: StateSuccess}}
	assert.Equal(t, 0, AggregateExitCode(results))
}

func TestSSHTransportRejectsMissingAuthMaterial(t *testing.T) {
	tr := NewSSHTransport()
	_, _, _, err := tr.Execute(context.Background(), model.SSHCoordinates{Host: "example.com", User: "admin"}, "true")
	assert.Error(t, err)
}
