package deploy

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"

	"github.com/graemester/wgfriend/internal/model"
	"github.com/graemester/wgfriend/internal/wgerr"
)

// LocalTransport satisfies Transport with direct filesystem I/O and an
// elevated-privilege helper, for §4.9's locality-detection branch: a
// target whose endpoint resolves to a local interface (or carries the
// Localhost flag) is managed without an SSH round-trip.
type LocalTransport struct {
	// Sudo prefixes Execute's command with "sudo" when true, the
	// elevated-privilege helper §4.9 calls for on a local host.
	Sudo bool
}

func NewLocalTransport(sudo bool) *LocalTransport { return &LocalTransport{Sudo: sudo} }

func (t *LocalTransport) Execute(ctx context.Context, _ model.SSHCoordinates, cmd string) (string, string, int, error) {
	name, args := "/bin/sh", []string{"-c", cmd}
	if t.Sudo {
		name, args = "sudo", []string{"/bin/sh", "-c", cmd}
	}
	c := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	if err == nil {
		return stdout.String(), stderr.String(), 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return stdout.String(), stderr.String(), exitErr.ExitCode(),
			wgerr.New(wgerr.KindRemote, wgerr.ErrRemoteCommandFail.Tag, cmd+": "+stderr.String())
	}
	return stdout.String(), stderr.String(), -1, wgerr.Wrap(wgerr.KindRemote, wgerr.ErrSSHTransport.Tag, "run "+cmd, err)
}

func (t *LocalTransport) Put(_ context.Context, _ model.SSHCoordinates, localPath, remotePath string, mode os.FileMode) error {
	src, err := os.Open(localPath)
	if err != nil {
		return wgerr.Wrap(wgerr.KindRemote, wgerr.ErrSSHTransport.Tag, "read "+localPath, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return wgerr.Wrap(wgerr.KindRemote, wgerr.ErrSSHTransport.Tag, "write "+remotePath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return wgerr.Wrap(wgerr.KindRemote, wgerr.ErrSSHTransport.Tag, "copy to "+remotePath, err)
	}
	return dst.Chmod(mode)
}
