// Package deploy implements the §4.9 deployment engine: the SSH
// transport of §6's external interface, and the per-host backup →
// upload → restart → verify sequence that pushes generated configs to
// coordination servers, subnet routers, and exit nodes.
package deploy

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/graemester/wgfriend/internal/model"
	"github.com/graemester/wgfriend/internal/wgerr"
)

// dialTimeout bounds the SSH handshake, per §6's "timeouts are
// enforced".
const dialTimeout = 30 * time.Second

// Transport is the SSH interface of §6: execute a remote command, or
// copy a local file to a remote path. SSHTransport is the concrete
// default; tests substitute a fake.
type Transport interface {
	Execute(ctx context.Context, host model.SSHCoordinates, cmd string) (stdout, stderr string, exitCode int, err error)
	Put(ctx context.Context, host model.SSHCoordinates, localPath, remotePath string, mode os.FileMode) error
}

// SSHTransport dials a fresh connection per call. It never accepts a
// password auth method: every dial fails closed unless the host
// coordinates carry a private-key path or an agent socket, per §6's
// "authentication is key-based, passwords rejected by default".
type SSHTransport struct{}

func NewSSHTransport() *SSHTransport { return &SSHTransport{} }

func (t *SSHTransport) dial(ctx context.Context, host model.SSHCoordinates) (*ssh.Client, error) {
	auth, err := authMethod(host)
	if err != nil {
		return nil, err
	}

	port := host.Port
	if port == 0 {
		port = 22
	}
	cfg := &ssh.ClientConfig{
		User:            host.User,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         dialTimeout,
	}

	addr := fmt.Sprintf("%s:%d", host.Host, port)
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, wgerr.Wrap(wgerr.KindRemote, wgerr.ErrSSHTransport.Tag, "dial "+addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		return nil, wgerr.Wrap(wgerr.KindRemote, wgerr.ErrSSHAuthFailure.Tag, "handshake with "+addr, err)
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// authMethod builds the one allowed auth method from host, preferring
// an explicit private key over an agent socket when both are set.
func authMethod(host model.SSHCoordinates) (ssh.AuthMethod, error) {
	if host.PrivateKeyPath != "" {
		key, err := os.ReadFile(host.PrivateKeyPath)
		if err != nil {
			return nil, wgerr.Wrap(wgerr.KindRemote, wgerr.ErrSSHAuthFailure.Tag, "read private key "+host.PrivateKeyPath, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, wgerr.Wrap(wgerr.KindRemote, wgerr.ErrSSHAuthFailure.Tag, "parse private key "+host.PrivateKeyPath, err)
		}
		return ssh.PublicKeys(signer), nil
	}

	if host.AgentSocket != "" {
		conn, err := net.Dial("unix", host.AgentSocket)
		if err != nil {
			return nil, wgerr.Wrap(wgerr.KindRemote, wgerr.ErrSSHAuthFailure.Tag, "dial agent socket "+host.AgentSocket, err)
		}
		return ssh.PublicKeysCallback(agent.NewClient(conn).Signers), nil
	}

	return nil, wgerr.New(wgerr.KindRemote, wgerr.ErrSSHAuthFailure.Tag, "no key-based auth material configured (private key path or agent socket required; passwords are rejected)")
}

// Execute runs cmd in one session and returns its separated
// stdout/stderr plus exit code. A non-zero remote exit code is
// returned as an error carrying stderr, per §6.
func (t *SSHTransport) Execute(ctx context.Context, host model.SSHCoordinates, cmd string) (string, string, int, error) {
	client, err := t.dial(ctx, host)
	if err != nil {
		return "", "", -1, err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", "", -1, wgerr.Wrap(wgerr.KindRemote, wgerr.ErrSSHTransport.Tag, "open session", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case <-ctx.Done():
		session.Close()
		return stdout.String(), stderr.String(), -1, ctx.Err()
	case err := <-done:
		if err == nil {
			return stdout.String(), stderr.String(), 0, nil
		}
		if exitErr, ok := err.(*ssh.ExitError); ok {
			return stdout.String(), stderr.String(), exitErr.ExitStatus(),
				wgerr.New(wgerr.KindRemote, wgerr.ErrRemoteCommandFail.Tag, fmt.Sprintf("%q exited %d: %s", cmd, exitErr.ExitStatus(), stderr.String()))
		}
		return stdout.String(), stderr.String(), -1, wgerr.Wrap(wgerr.KindRemote, wgerr.ErrSSHTransport.Tag, "run "+cmd, err)
	}
}

// Put uploads localPath to remotePath over SFTP and sets mode in one
// call, grounded on the pack's sftp-carrying manifests rather than the
// "cat > file" trick: sftp handles binary-safe writes and permissions
// without a shell round-trip.
func (t *SSHTransport) Put(ctx context.Context, host model.SSHCoordinates, localPath, remotePath string, mode os.FileMode) error {
	client, err := t.dial(ctx, host)
	if err != nil {
		return err
	}
	defer client.Close()

	sc, err := sftp.NewClient(client)
	if err != nil {
		return wgerr.Wrap(wgerr.KindRemote, wgerr.ErrSSHTransport.Tag, "open sftp session", err)
	}
	defer sc.Close()

	local, err := os.Open(localPath)
	if err != nil {
		return wgerr.Wrap(wgerr.KindRemote, wgerr.ErrSSHTransport.Tag, "read local file "+localPath, err)
	}
	defer local.Close()

	remote, err := sc.Create(remotePath)
	if err != nil {
		return wgerr.Wrap(wgerr.KindRemote, wgerr.ErrSSHTransport.Tag, "create remote file "+remotePath, err)
	}
	defer remote.Close()

	if _, err := remote.ReadFrom(local); err != nil {
		return wgerr.Wrap(wgerr.KindRemote, wgerr.ErrSSHTransport.Tag, "upload "+remotePath, err)
	}
	if err := sc.Chmod(remotePath, mode); err != nil {
		return wgerr.Wrap(wgerr.KindRemote, wgerr.ErrSSHTransport.Tag, "chmod "+remotePath, err)
	}
	return nil
}
