// Package sshtest runs an in-process SSH server that understands the SCP
// sink protocol and records remote commands.
package sshtest

import (
	"bufio"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"path"
	"strings"
	"sync"
	"testing"

	"github.com/gliderlabs/ssh"
	gossh "golang.org/x/crypto/ssh"
)

const Password = "fake_password"

type Options struct {
	// RequirePassword enables password auth with Password.
	RequirePassword bool
	// FailSCP makes the sink reject every file with this message.
	FailSCP string
	// Responses maps a command prefix to canned output and exit status.
	Responses map[string]Response
}

type Response struct {
	Output string
	Exit   int
}

// Server is the fake ssh server.
type Server struct {
	listener net.Listener
	server   *ssh.Server
	opts     Options
	Signer   gossh.Signer

	mu       sync.Mutex
	files    map[string][]byte
	modes    map[string]string
	commands []string
}

// NewServer starts a server on 127.0.0.1 and closes it when the test ends.
func NewServer(t testing.TB, opts Options) *Server {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("host key: %v", err)
	}
	signer, err := gossh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}

	s := &Server{
		listener: listener,
		opts:     opts,
		Signer:   signer,
		files:    map[string][]byte{},
		modes:    map[string]string{},
	}
	s.server = &ssh.Server{Handler: s.handle}
	if opts.RequirePassword {
		s.server.PasswordHandler = func(ctx ssh.Context, password string) bool {
			return password == Password
		}
	}
	s.server.AddHostKey(signer)

	go func() {
		_ = s.server.Serve(listener)
	}()
	t.Cleanup(func() { _ = s.server.Close() })
	return s
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// HostPort splits Addr.
func (s *Server) HostPort() (string, int) {
	addr := s.listener.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

// KnownHostsLine returns a known_hosts entry trusting this server.
func (s *Server) KnownHostsLine() string {
	return knownHostsLine(s.Addr(), s.Signer.PublicKey())
}

// File returns the content received for a remote path.
func (s *Server) File(p string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.files[p]
	return b, ok
}

func (s *Server) Mode(p string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modes[p]
}

// Commands returns the non-scp commands executed so far.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *Server) handle(sess ssh.Session) {
	raw := sess.RawCommand()
	if strings.HasPrefix(raw, "scp -t ") {
		dir := strings.Trim(strings.TrimPrefix(raw, "scp -t "), "'")
		s.sink(sess, dir)
		return
	}

	s.mu.Lock()
	s.commands = append(s.commands, raw)
	s.mu.Unlock()

	for prefix, resp := range s.opts.Responses {
		if strings.HasPrefix(raw, prefix) {
			_, _ = io.WriteString(sess, resp.Output)
			_ = sess.Exit(resp.Exit)
			return
		}
	}
	_ = sess.Exit(0)
}

func (s *Server) sink(sess ssh.Session, dir string) {
	r := bufio.NewReader(sess)
	ack := func() { _, _ = sess.Write([]byte{0}) }
	ack()
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			_ = sess.Exit(0)
			return
		}
		if !strings.HasPrefix(line, "C") {
			_, _ = fmt.Fprintf(sess, "\x01scp: unsupported record %q\n", line)
			_ = sess.Exit(1)
			return
		}
		var mode, name string
		var size int64
		if _, err := fmt.Sscanf(strings.TrimSpace(line), "C%s %d %s", &mode, &size, &name); err != nil {
			_, _ = fmt.Fprintf(sess, "\x01scp: bad header\n")
			_ = sess.Exit(1)
			return
		}
		if s.opts.FailSCP != "" {
			_, _ = fmt.Fprintf(sess, "\x01scp: %s\n", s.opts.FailSCP)
			_ = sess.Exit(1)
			return
		}
		ack()
		data := make([]byte, size)
		if _, err := io.ReadFull(r, data); err != nil {
			_ = sess.Exit(1)
			return
		}
		if b, err := r.ReadByte(); err != nil || b != 0 {
			_ = sess.Exit(1)
			return
		}
		s.mu.Lock()
		s.files[path.Join(dir, name)] = data
		s.modes[path.Join(dir, name)] = mode
		s.mu.Unlock()
		ack()
	}
}
