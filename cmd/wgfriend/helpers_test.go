package main

import (
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graemester/wgfriend/internal/model"
	"github.com/graemester/wgfriend/internal/wgconf"
	"github.com/graemester/wgfriend/internal/wgerr"
)

func TestExitCodeTable(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 3, exitCode(errOperatorCancelled))
	assert.Equal(t, 2, exitCode(wgerr.New(wgerr.KindInput, "Whatever", "bad input")))
	assert.Equal(t, 4, exitCode(wgerr.New(wgerr.KindInvariant, "Whatever", "broken invariant")))
	assert.Equal(t, 1, exitCode(wgerr.New(wgerr.KindRemote, "Whatever", "ssh failed")))
	assert.Equal(t, 1, exitCode(assert.AnError))
}

func TestConfirmSkipsPromptWhenYes(t *testing.T) {
	ok, err := confirm("remove this?", true)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestParseKindArg(t *testing.T) {
	k, err := parseKindArg("remote")
	require.NoError(t, err)
	assert.Equal(t, model.KindRemote, k)

	_, err = parseKindArg("bogus")
	assert.Error(t, err)
}

func TestHostAndNetwork(t *testing.T) {
	host, network, err := hostAndNetwork("10.66.0.5/24")
	require.NoError(t, err)
	assert.Equal(t, "10.66.0.5", host)
	assert.Equal(t, "10.66.0.0/24", network)

	_, _, err = hostAndNetwork("not-an-address")
	assert.Error(t, err)
}

func TestSplitAddressesSeparatesFamilies(t *testing.T) {
	v4host, v4net, v6host, v6net, err := splitAddresses([]string{"10.66.0.5/24", "fd00:66::5/64"})
	require.NoError(t, err)
	assert.Equal(t, "10.66.0.5", v4host)
	assert.Equal(t, "10.66.0.0/24", v4net)
	assert.Equal(t, "fd00:66::5", v6host)
	assert.Equal(t, "fd00:66::/64", v6net)
}

func TestSplitAddressesPropagatesParseError(t *testing.T) {
	_, _, _, _, err := splitAddresses([]string{"garbage"})
	assert.Error(t, err)
}

func TestResolveImportKindHonorsOverride(t *testing.T) {
	k, err := resolveImportKind(&wgconf.ParsedConfig{}, "exit_node")
	require.NoError(t, err)
	assert.Equal(t, model.KindExitNode, k)

	_, err = resolveImportKind(&wgconf.ParsedConfig{}, "not-a-kind")
	assert.Error(t, err)
}

func TestResolveImportKindFallsBackToDetection(t *testing.T) {
	threePeers := &wgconf.ParsedConfig{
		Interface: wgconf.InterfaceBlock{
			PrivateKey: "aGVsbG8td29ybGQtaGVsbG8td29ybGQtaGVsbG8tYQ==",
			Address:    []string{"10.66.0.1/24"},
			ListenPort: 51820,
		},
		Peers: []wgconf.PeerBlock{{PublicKey: "a"}, {PublicKey: "b"}, {PublicKey: "c"}},
	}
	k, err := resolveImportKind(threePeers, "")
	require.NoError(t, err)
	assert.Equal(t, model.KindCoordinationServer, k)

	clientShaped := &wgconf.ParsedConfig{
		Interface: wgconf.InterfaceBlock{
			PrivateKey: "aGVsbG8td29ybGQtaGVsbG8td29ybGQtaGVsbG8tYQ==",
			Address:    []string{"10.66.0.5/32"},
		},
		Peers: []wgconf.PeerBlock{{PublicKey: "x", Endpoint: "cs.example.com:51820", AllowedIPs: []string{"0.0.0.0/0"}}},
	}
	k, err = resolveImportKind(clientShaped, "")
	require.NoError(t, err)
	assert.Equal(t, model.KindRemote, k)
}

func TestRecognizedCommandsSplitsPairsSinglesAndLeftovers(t *testing.T) {
	postUp := []string{
		"iptables -t nat -A POSTROUTING -s 10.66.0.0/24 -o eth0 -j MASQUERADE",
		"echo custom-thing >> /tmp/log",
	}
	postDown := []string{
		"iptables -t nat -D POSTROUTING -s 10.66.0.0/24 -o eth0 -j MASQUERADE",
		"echo leftover-down",
	}

	pairs, singles := recognizedCommands(postUp, postDown)
	require.Len(t, pairs, 1)
	assert.Equal(t, "nat_masquerade_ipv4", pairs[0].PatternName)
	assert.Equal(t, "10.66.0.0/24", pairs[0].Variables["cidr4"])
	assert.Equal(t, "eth0", pairs[0].Variables["wan"])

	require.Len(t, singles, 2)
	var ups, downs []string
	for _, s := range singles {
		if s.Direction == "up" {
			ups = append(ups, s.Text)
		} else {
			downs = append(downs, s.Text)
		}
	}
	assert.Equal(t, []string{"echo custom-thing >> /tmp/log"}, ups)
	assert.Equal(t, []string{"echo leftover-down"}, downs)
}

func TestRecognizedCommandsLeavesNothingUnaccountedFor(t *testing.T) {
	postUp := []string{"sysctl -w net.ipv4.ip_forward=1"}
	pairs, singles := recognizedCommands(postUp, nil)
	require.Len(t, pairs, 1)
	assert.Equal(t, "enable_ipv4_forwarding", pairs[0].PatternName)
	assert.Empty(t, singles)
}

func TestSSHFromFlagsAndAddSSHFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "fixture"}
	addSSHFlags(cmd)
	require.NoError(t, cmd.Flags().Set("ssh-host", "host1"))
	require.NoError(t, cmd.Flags().Set("ssh-port", "2222"))
	require.NoError(t, cmd.Flags().Set("ssh-user", "deploy"))
	require.NoError(t, cmd.Flags().Set("ssh-localhost", "true"))

	ssh := sshFromFlags(cmd)
	assert.Equal(t, "host1", ssh.Host)
	assert.Equal(t, 2222, ssh.Port)
	assert.Equal(t, "deploy", ssh.User)
	assert.True(t, ssh.Localhost)
}

func TestToValuesDereferencesPointerSlice(t *testing.T) {
	srs := []*model.SubnetRouter{
		{Base: model.Base{Hostname: "sr1"}},
		{Base: model.Base{Hostname: "sr2"}},
	}
	out := toValues(srs)
	require.Len(t, out, 2)
	assert.Equal(t, "sr1", out[0].Hostname)
	assert.Equal(t, "sr2", out[1].Hostname)
}

func TestFindSubnetRouterAndExitNode(t *testing.T) {
	srs := []*model.SubnetRouter{{Base: model.Base{Hostname: "sr1"}}}
	assert.NotNil(t, findSubnetRouter(srs, "sr1"))
	assert.Nil(t, findSubnetRouter(srs, "missing"))

	exits := []*model.ExitNode{{Base: model.Base{Hostname: "exit1"}}}
	assert.NotNil(t, findExitNode(exits, "exit1"))
	assert.Nil(t, findExitNode(exits, "missing"))
}

func TestImportCommandLongDocumentsKindFlag(t *testing.T) {
	assert.True(t, strings.Contains(importCmd.Long, "--kind"))
}
