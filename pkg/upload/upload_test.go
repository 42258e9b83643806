package upload

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poputchik/deploykit/pkg/config"
	"github.com/poputchik/deploykit/pkg/errors"
	"github.com/poputchik/deploykit/pkg/history"
	"github.com/poputchik/deploykit/pkg/prompt"
	"github.com/poputchik/deploykit/pkg/runner"
	"github.com/poputchik/deploykit/pkg/sshclient/sshtest"
)

func botProject(t *testing.T) *config.Config {
	t.Helper()
	project := filepath.Join(t.TempDir(), "PoputchikBot")
	files := map[string]string{
		"bot.py":                          "print('bot')",
		"requirements.txt":                "aiogram\n",
		"deploy.sh":                       "#!/bin/sh\n",
		".env":                            "BOT_TOKEN=secret\n",
		".env.example":                    "BOT_TOKEN=\n",
		"bot.db":                          "sqlite",
		"venv/lib/site.py":                "",
		"__pycache__/bot.cpython-311.pyc": "bytecode",
	}
	for rel, content := range files {
		p := filepath.Join(project, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}

	cfg := config.DefaultConfig()
	cfg.ProjectDir = project
	cfg.ArchiveDir = t.TempDir()
	return cfg
}

func openHistory(t *testing.T) *history.BoltStore {
	t.Helper()
	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRunWithSCPCommand(t *testing.T) {
	color.NoColor = true
	cfg := botProject(t)
	fake := &runner.FakeCommandRunner{}
	store := openHistory(t)
	var out bytes.Buffer

	svc := NewService(cfg, prompt.Fixed{LabelServer: "203.0.113.7", LabelUser: "root"}, fake, store, &out)
	outcome, err := svc.Run(context.Background(), Request{})
	require.NoError(t, err)

	archivePath := filepath.Join(cfg.ArchiveDir, "PoputchikBot.tar.gz")
	assert.Equal(t, archivePath, outcome.Archive.Path)
	assert.FileExists(t, archivePath)
	assert.Equal(t, []string{"scp", archivePath, "root@203.0.113.7:/opt/"}, fake.LastCall())

	assert.ElementsMatch(t, []string{"bot.py", "requirements.txt", "deploy.sh", ".env.example"}, outcome.Archive.Files)

	text := out.String()
	assert.Contains(t, text, "ssh root@203.0.113.7")
	assert.Contains(t, text, "cd /opt\n")
	assert.Contains(t, text, "tar -xzf PoputchikBot.tar.gz")
	assert.Contains(t, text, "cp .env.example .env && nano .env")
	assert.Contains(t, text, "# set BOT_TOKEN\n")
	assert.Contains(t, text, "./deploy.sh")
	assert.Len(t, outcome.Remaining, 5)

	rec, err := store.Get(context.Background(), outcome.RecordID)
	require.NoError(t, err)
	assert.Equal(t, history.StatusSucceeded, rec.Status)
	assert.Equal(t, "203.0.113.7", rec.Host)
	assert.Equal(t, outcome.Archive.SHA256, rec.SHA256)
	assert.Equal(t, "scp", rec.Transport)
}

func TestRunRecordsFailedTransfer(t *testing.T) {
	cfg := botProject(t)
	fake := &runner.FakeCommandRunner{ErrStr: "exit status 1"}
	store := openHistory(t)
	var out bytes.Buffer

	svc := NewService(cfg, prompt.Fixed{}, fake, store, &out)
	outcome, err := svc.Run(context.Background(), Request{Server: "bot.example.com", User: "deploy", RemotePath: "/srv"})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeTransferFailed))
	assert.NotContains(t, out.String(), "Next steps")

	// The archive stays on disk for a manual retry.
	assert.FileExists(t, outcome.Archive.Path)

	records, err := store.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, history.StatusFailed, records[0].Status)
	assert.Equal(t, "/srv", records[0].RemoteDir)
	assert.Contains(t, records[0].Error, "exit status 1")
}

func TestRunRejectsBadAnswers(t *testing.T) {
	tests := []struct {
		name    string
		answers prompt.Fixed
		req     Request
	}{
		{"missing server", prompt.Fixed{LabelUser: "root"}, Request{}},
		{"bad server flag", prompt.Fixed{}, Request{Server: "bad host!", User: "root"}},
		{"relative path", prompt.Fixed{LabelServer: "1.2.3.4", LabelUser: "root", LabelRemotePath: "opt"}, Request{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := botProject(t)
			fake := &runner.FakeCommandRunner{}
			svc := NewService(cfg, tt.answers, fake, nil, &bytes.Buffer{})

			_, err := svc.Run(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.CodeInvalidParameter), err.Error())
			assert.Empty(t, fake.Calls)
			assert.NoFileExists(t, filepath.Join(cfg.ArchiveDir, "PoputchikBot.tar.gz"))
		})
	}
}

func TestRunFollowupNeedsNativeTransport(t *testing.T) {
	cfg := botProject(t)
	svc := NewService(cfg, prompt.Fixed{}, &runner.FakeCommandRunner{}, nil, &bytes.Buffer{})

	_, err := svc.Run(context.Background(), Request{RunFollowup: true})
	assert.True(t, errors.HasCode(err, errors.CodeInvalidParameter))
}

func TestRunNativeWithFollowup(t *testing.T) {
	color.NoColor = true
	server := sshtest.NewServer(t, sshtest.Options{RequirePassword: true})
	host, port := server.HostPort()

	cfg := botProject(t)
	cfg.Transport = config.TransportNative
	cfg.SSHPort = port
	cfg.SSHInsecure = true
	cfg.SSHPassword = sshtest.Password
	cfg.DialAttempts = 1
	cfg.DialTimeout = 2 * time.Second
	store := openHistory(t)
	var out bytes.Buffer

	svc := NewService(cfg, prompt.Fixed{}, nil, store, &out)
	outcome, err := svc.Run(context.Background(), Request{Server: host, User: "root", RemotePath: "/srv", RunFollowup: true})
	require.NoError(t, err)

	data, ok := server.File("/srv/PoputchikBot.tar.gz")
	require.True(t, ok)
	assert.Equal(t, outcome.Archive.Size, int64(len(data)))

	assert.Equal(t, []string{
		"cd /srv && tar -xzf PoputchikBot.tar.gz",
		"cd /srv/PoputchikBot && chmod +x deploy.sh",
	}, server.Commands())

	require.Len(t, outcome.Remaining, 3)
	text := out.String()
	assert.NotContains(t, text, "tar -xzf")
	assert.Contains(t, text, "ssh -p")
	assert.Contains(t, text, "./deploy.sh")

	rec, err := store.Get(context.Background(), outcome.RecordID)
	require.NoError(t, err)
	assert.Equal(t, "native", rec.Transport)
	assert.Equal(t, history.StatusSucceeded, rec.Status)
}

func TestRunFollowupFailureKeepsUpload(t *testing.T) {
	color.NoColor = true
	server := sshtest.NewServer(t, sshtest.Options{
		RequirePassword: true,
		Responses: map[string]sshtest.Response{
			"cd /srv && tar": {Output: "tar: command not found\n", Exit: 127},
		},
	})
	host, port := server.HostPort()

	cfg := botProject(t)
	cfg.Transport = config.TransportNative
	cfg.SSHPort = port
	cfg.SSHInsecure = true
	cfg.SSHPassword = sshtest.Password
	cfg.DialAttempts = 1
	cfg.DialTimeout = 2 * time.Second
	store := openHistory(t)
	var out bytes.Buffer

	svc := NewService(cfg, prompt.Fixed{}, nil, store, &out)
	outcome, err := svc.Run(context.Background(), Request{Server: host, User: "root", RemotePath: "/srv", RunFollowup: true})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeRemoteCommandFailed))
	require.NotNil(t, outcome)

	_, ok := server.File("/srv/PoputchikBot.tar.gz")
	assert.True(t, ok)
	assert.Equal(t, []string{"cd /srv && tar -xzf PoputchikBot.tar.gz"}, server.Commands())

	require.Len(t, outcome.Remaining, 5)
	text := out.String()
	assert.Contains(t, text, "tar -xzf PoputchikBot.tar.gz")
	assert.Contains(t, text, "chmod +x deploy.sh")
	assert.Contains(t, text, "./deploy.sh")

	rec, err := store.Get(context.Background(), outcome.RecordID)
	require.NoError(t, err)
	assert.Equal(t, history.StatusSucceeded, rec.Status)
}

func TestRunNativeAuthFailure(t *testing.T) {
	server := sshtest.NewServer(t, sshtest.Options{RequirePassword: true})
	host, port := server.HostPort()

	cfg := botProject(t)
	cfg.Transport = config.TransportNative
	cfg.SSHPort = port
	cfg.SSHInsecure = true
	cfg.SSHPassword = "wrong"
	cfg.DialAttempts = 1
	store := openHistory(t)

	svc := NewService(cfg, prompt.Fixed{}, nil, store, &bytes.Buffer{})
	_, err := svc.Run(context.Background(), Request{Server: host, User: "root"})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodePermissionDenied))

	records, err := store.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, history.StatusFailed, records[0].Status)
}
