// Package transfer copies the archive to the deployment server.
package transfer

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/poputchik/deploykit/pkg/errors"
	"github.com/poputchik/deploykit/pkg/prompt"
)

// Target is where the archive goes.
type Target struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	User      string `json:"user"`
	RemoteDir string `json:"remote_dir"`
}

func (t Target) Validate() error {
	if err := prompt.ValidateHost(t.Host); err != nil {
		return errors.New(errors.CodeInvalidParameter, "transfer", fmt.Sprintf("host %q: %v", t.Host, err), nil)
	}
	if err := prompt.ValidateUser(t.User); err != nil {
		return errors.New(errors.CodeInvalidParameter, "transfer", fmt.Sprintf("user %q: %v", t.User, err), nil)
	}
	if err := prompt.ValidateRemotePath(t.RemoteDir); err != nil {
		return errors.New(errors.CodeInvalidParameter, "transfer", fmt.Sprintf("remote path %q: %v", t.RemoteDir, err), nil)
	}
	if t.Port < 0 || t.Port > 65535 {
		return errors.New(errors.CodeInvalidParameter, "transfer", fmt.Sprintf("port %d out of range", t.Port), nil)
	}
	return nil
}

// Login is user@host with IPv6 literals bracketed.
func (t Target) Login() string {
	host := strings.Trim(t.Host, "[]")
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return t.User + "@" + host
}

// Destination is the scp-style user@host:dir/ argument.
func (t Target) Destination() string {
	dir := t.RemoteDir
	if !strings.HasSuffix(dir, "/") {
		dir += "/"
	}
	return t.Login() + ":" + dir
}

// RemoteFile is the path the archive lands at on the server.
func (t Target) RemoteFile(name string) string {
	return path.Join(t.RemoteDir, name)
}

// Uploader copies one local file into target.RemoteDir.
type Uploader interface {
	Name() string
	Upload(ctx context.Context, localPath string, target Target) error
}

// Progress is called with bytes sent so far and the total.
type Progress func(sent, total int64)
