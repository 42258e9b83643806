// Package sshclient dials the deployment server with golang.org/x/crypto/ssh.
package sshclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/poputchik/deploykit/pkg/errors"
	"github.com/poputchik/deploykit/pkg/logger"
)

const DefaultPort = 22

type Config struct {
	Host string
	Port int
	User string

	IdentityFile string
	// KnownHostsFile defaults to ~/.ssh/known_hosts.
	KnownHostsFile        string
	InsecureIgnoreHostKey bool
	Password              string
	// PasswordPrompt is asked for a password when the server offers password
	// auth and Password is empty.
	PasswordPrompt func(user, host string) (string, error)
	// UseAgent enables SSH_AUTH_SOCK based authentication.
	UseAgent bool

	Timeout  time.Duration
	Attempts int
}

// Address joins host and port, bracketing IPv6 literals.
func (c Config) Address() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(strings.Trim(c.Host, "[]"), strconv.Itoa(port))
}

// ClientConfig builds the x/crypto/ssh client configuration.
func (c Config) ClientConfig() (*ssh.ClientConfig, error) {
	hostKeyCallback, err := c.hostKeyCallback()
	if err != nil {
		return nil, err
	}
	auth, err := c.authMethods()
	if err != nil {
		return nil, err
	}
	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.Timeout,
	}, nil
}

func (c Config) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if c.InsecureIgnoreHostKey {
		logger.Warn("Host key verification is disabled")
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := c.KnownHostsFile
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.New(errors.CodeConfigurationInvalid, "sshclient", "cannot locate known_hosts; set a known hosts file or disable host key checking", err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, errors.New(errors.CodeConfigurationInvalid, "sshclient", fmt.Sprintf("failed to load known hosts %s", path), err)
	}
	return cb, nil
}

func (c Config) authMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if c.IdentityFile != "" {
		pem, err := os.ReadFile(c.IdentityFile)
		if err != nil {
			return nil, errors.New(errors.CodeFileNotFound, "sshclient", fmt.Sprintf("failed to read identity file %s", c.IdentityFile), err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			var missing *ssh.PassphraseMissingError
			if stderrors.As(err, &missing) {
				return nil, errors.New(errors.CodeConfigurationInvalid, "sshclient", "identity file is passphrase protected; load it into ssh-agent instead", err)
			}
			return nil, errors.New(errors.CodeConfigurationInvalid, "sshclient", "failed to parse identity file", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if c.UseAgent {
		if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
			if conn, err := net.Dial("unix", sock); err == nil {
				methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
			} else {
				logger.Debugf("ssh-agent unavailable: %v", err)
			}
		}
	}

	if c.Password != "" {
		methods = append(methods, ssh.Password(c.Password))
	} else if c.PasswordPrompt != nil {
		prompt := c.PasswordPrompt
		user, host := c.User, c.Host
		methods = append(methods, ssh.RetryableAuthMethod(ssh.PasswordCallback(func() (string, error) {
			return prompt(user, host)
		}), 3))
	}
	return methods, nil
}

// Dial connects to the server, retrying network failures with exponential
// backoff up to Attempts times. Authentication and host key failures are
// not retried.
func Dial(ctx context.Context, c Config) (*ssh.Client, error) {
	clientConfig, err := c.ClientConfig()
	if err != nil {
		return nil, err
	}

	attempts := c.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(attempts-1)),
		ctx,
	)

	addr := c.Address()
	var client *ssh.Client
	attempt := 0
	op := func() error {
		attempt++
		logger.Debugf("Dialing %s (attempt %d/%d)", addr, attempt, attempts)
		cl, err := dialOnce(ctx, addr, clientConfig)
		if err != nil {
			if !errors.IsRetryable(err) {
				return backoff.Permanent(err)
			}
			logger.Warnf("Connection to %s failed: %v", addr, err)
			return err
		}
		client = cl
		return nil
	}
	if err := backoff.Retry(op, policy); err != nil {
		var perm *backoff.PermanentError
		if stderrors.As(err, &perm) {
			err = perm.Err
		}
		if ctx.Err() != nil && errors.CodeOf(err) != errors.CodePermissionDenied {
			return nil, errors.New(errors.CodeCancelled, "sshclient", fmt.Sprintf("dial to %s cancelled", addr), err)
		}
		return nil, err
	}
	return client, nil
}

func dialOnce(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		var netErr net.Error
		if stderrors.As(err, &netErr) && netErr.Timeout() {
			return nil, errors.New(errors.CodeNetworkTimeout, "sshclient", fmt.Sprintf("timed out connecting to %s", addr), err)
		}
		return nil, errors.New(errors.CodeNetworkError, "sshclient", fmt.Sprintf("failed to connect to %s", addr), err)
	}
	if cfg.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(cfg.Timeout))
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		var keyErr *knownhosts.KeyError
		if stderrors.As(err, &keyErr) && len(keyErr.Want) > 0 || strings.Contains(err.Error(), "knownhosts: key mismatch") {
			return nil, errors.New(errors.CodePermissionDenied, "sshclient", fmt.Sprintf("host key mismatch for %s", addr), err)
		}
		if keyErr != nil || strings.Contains(err.Error(), "knownhosts: key is unknown") {
			return nil, errors.New(errors.CodePermissionDenied, "sshclient", fmt.Sprintf("host %s is not in known_hosts; connect once with ssh to trust it", addr), err)
		}
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, errors.New(errors.CodePermissionDenied, "sshclient", fmt.Sprintf("authentication to %s failed", addr), err)
		}
		return nil, errors.New(errors.CodeNetworkError, "sshclient", fmt.Sprintf("ssh handshake with %s failed", addr), err)
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// Run executes command on the server and returns its combined output.
func Run(ctx context.Context, client *ssh.Client, command string) (string, error) {
	session, err := client.NewSession()
	if err != nil {
		return "", errors.New(errors.CodeNetworkError, "sshclient", "failed to open session", err)
	}
	defer session.Close()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := session.CombinedOutput(command)
		done <- result{out, err}
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		return "", errors.New(errors.CodeCancelled, "sshclient", fmt.Sprintf("%q cancelled", command), ctx.Err())
	case r := <-done:
		if r.err != nil {
			rich := errors.New(errors.CodeRemoteCommandFailed, "sshclient", fmt.Sprintf("%q failed", command), r.err)
			var exitErr *ssh.ExitError
			if stderrors.As(r.err, &exitErr) {
				rich.With("exit_code", exitErr.ExitStatus())
			}
			return string(r.out), rich.With("output", strings.TrimSpace(string(r.out)))
		}
		return string(r.out), nil
	}
}

// Quote single-quotes s for a POSIX shell.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("/._-+=:,@%", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
