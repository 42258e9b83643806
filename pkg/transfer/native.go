package transfer

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/poputchik/deploykit/pkg/errors"
	"github.com/poputchik/deploykit/pkg/logger"
	"github.com/poputchik/deploykit/pkg/sshclient"
)

// NativeSCP speaks the scp sink protocol over an x/crypto/ssh session, so no
// local scp binary is needed.
type NativeSCP struct {
	// SSH carries auth and host key settings; host, port and user come
	// from the target.
	SSH      sshclient.Config
	Progress Progress
}

var _ Uploader = &NativeSCP{}

func (n *NativeSCP) Name() string { return "native" }

// ClientConfigFor merges the target into the base ssh settings.
func (n *NativeSCP) ClientConfigFor(target Target) sshclient.Config {
	cfg := n.SSH
	cfg.Host = target.Host
	cfg.User = target.User
	if target.Port != 0 {
		cfg.Port = target.Port
	}
	return cfg
}

func (n *NativeSCP) Upload(ctx context.Context, localPath string, target Target) error {
	if err := target.Validate(); err != nil {
		return err
	}
	client, err := sshclient.Dial(ctx, n.ClientConfigFor(target))
	if err != nil {
		return err
	}
	defer client.Close()
	return n.UploadWith(ctx, client, localPath, target)
}

// UploadWith copies over an existing connection.
func (n *NativeSCP) UploadWith(ctx context.Context, client *ssh.Client, localPath string, target Target) error {
	f, err := os.Open(localPath)
	if err != nil {
		return errors.New(errors.CodeFileNotFound, "transfer", fmt.Sprintf("archive %s not found", localPath), err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return errors.New(errors.CodeIoError, "transfer", "failed to stat archive", err)
	}

	session, err := client.NewSession()
	if err != nil {
		return errors.New(errors.CodeNetworkError, "transfer", "failed to open ssh session", err)
	}
	defer session.Close()

	stdin, err := session.StdinPipe()
	if err != nil {
		return errors.New(errors.CodeInternalError, "transfer", "failed to open scp stdin", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return errors.New(errors.CodeInternalError, "transfer", "failed to open scp stdout", err)
	}

	cmd := "scp -t " + sshclient.Quote(target.RemoteDir)
	logger.Debugf("Starting remote %q on %s", cmd, target.Login())
	if err := session.Start(cmd); err != nil {
		return errors.New(errors.CodeTransferFailed, "transfer", "failed to start remote scp", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- n.send(bufio.NewReader(stdout), stdin, f, info)
	}()

	select {
	case <-ctx.Done():
		_ = session.Close()
		return errors.New(errors.CodeCancelled, "transfer", "upload cancelled", ctx.Err())
	case err := <-done:
		if err != nil {
			_ = session.Close()
			return errors.New(errors.CodeTransferFailed, "transfer", fmt.Sprintf("upload to %s failed", target.Destination()), err)
		}
	}

	if err := session.Wait(); err != nil {
		var exitErr *ssh.ExitError
		if stderrors.As(err, &exitErr) {
			return errors.New(errors.CodeTransferFailed, "transfer", fmt.Sprintf("remote scp exited with %d", exitErr.ExitStatus()), err)
		}
		var missing *ssh.ExitMissingError
		if !stderrors.As(err, &missing) {
			return errors.New(errors.CodeTransferFailed, "transfer", "remote scp failed", err)
		}
	}
	return nil
}

func (n *NativeSCP) send(acks *bufio.Reader, w io.WriteCloser, f io.Reader, info os.FileInfo) error {
	if err := readAck(acks); err != nil {
		return err
	}
	header := fmt.Sprintf("C%04o %d %s\n", info.Mode().Perm(), info.Size(), filepath.Base(info.Name()))
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	if err := readAck(acks); err != nil {
		return err
	}

	var src io.Reader = f
	if n.Progress != nil {
		src = &progressReader{r: f, total: info.Size(), fn: n.Progress}
	}
	if _, err := io.Copy(w, src); err != nil {
		return err
	}
	if _, err := w.Write([]byte{0}); err != nil {
		return err
	}
	if err := readAck(acks); err != nil {
		return err
	}
	return w.Close()
}

// readAck reads one scp status byte: 0 ok, 1 warning, 2 fatal.
func readAck(r *bufio.Reader) error {
	b, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("reading scp response: %w", err)
	}
	switch b {
	case 0:
		return nil
	case 1, 2:
		msg, _ := r.ReadString('\n')
		return fmt.Errorf("remote: %s", strings.TrimSpace(msg))
	default:
		return fmt.Errorf("unexpected scp response byte %#x", b)
	}
}

type progressReader struct {
	r     io.Reader
	sent  int64
	total int64
	fn    Progress
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		p.fn(p.sent, p.total)
	}
	return n, err
}
