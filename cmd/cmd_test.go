package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poputchik/deploykit/pkg/errors"
	"github.com/poputchik/deploykit/pkg/runner"
)

func execute(t *testing.T, opts *rootOptions, stdin string, args ...string) (string, error) {
	t.Helper()
	color.NoColor = true
	rootCmd := newRootCmd(opts, "test")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func useStore(t *testing.T) {
	t.Helper()
	t.Setenv("POPUTCHIK_STORE_PATH", filepath.Join(t.TempDir(), "history.db"))
}

func fakeOptions() (*rootOptions, *runner.FakeCommandRunner) {
	fake := &runner.FakeCommandRunner{}
	return &rootOptions{
		runner:   fake,
		lookPath: func(string) error { return nil },
	}, fake
}

func botProject(t *testing.T, files map[string]string) string {
	t.Helper()
	project := filepath.Join(t.TempDir(), "PoputchikBot")
	for rel, content := range files {
		p := filepath.Join(project, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return project
}

var defaultFiles = map[string]string{
	"bot.py":            "print('bot')",
	"requirements.txt":  "aiogram\n",
	"deploy.sh":         "#!/bin/sh\n",
	"handlers/order.py": "",
	".env":              "BOT_TOKEN=1:x\n",
	"venv/bin/python":   "",
}

func TestArchiveList(t *testing.T) {
	project := botProject(t, defaultFiles)
	opts, _ := fakeOptions()

	out, err := execute(t, opts, "", "-p", project, "archive", "--list")
	require.NoError(t, err)
	assert.Contains(t, out, "PoputchikBot/\n├── handlers/\n│   └── order.py\n")
	assert.Contains(t, out, "bot.py")
	assert.NotContains(t, out, "venv")
	assert.NotContains(t, out, "── .env")
	assert.Contains(t, out, "4 files, 2 paths excluded")
	assert.NoFileExists(t, filepath.Join(filepath.Dir(project), "PoputchikBot.tar.gz"))
}

func TestArchiveBuild(t *testing.T) {
	project := botProject(t, defaultFiles)
	outDir := t.TempDir()
	opts, _ := fakeOptions()

	out, err := execute(t, opts, "", "-p", project, "archive", "--archive-dir", outDir)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(outDir, "PoputchikBot.tar.gz"))
	assert.Contains(t, out, "files:  4 (2 excluded)")
	assert.Contains(t, out, "sha256: ")
}

func TestDockerfileCmd(t *testing.T) {
	project := botProject(t, defaultFiles)
	opts, _ := fakeOptions()

	_, err := execute(t, opts, "", "-p", project, "dockerfile")
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(project, "Dockerfile"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "FROM python:3.11-slim\n"))
	ignore, err := os.ReadFile(filepath.Join(project, ".dockerignore"))
	require.NoError(t, err)
	assert.Contains(t, string(ignore), "**/venv/\n")

	_, err = execute(t, opts, "", "-p", project, "dockerfile")
	assert.True(t, errors.HasCode(err, errors.CodeAlreadyExists))

	_, err = execute(t, opts, "", "-p", project, "dockerfile", "--force")
	require.NoError(t, err)

	out, err := execute(t, opts, "", "-p", project, "dockerfile", "--stdout")
	require.NoError(t, err)
	assert.Contains(t, out, `CMD ["python","bot.py"]`)
}

func TestBuildCmd(t *testing.T) {
	project := botProject(t, defaultFiles)
	opts, fake := fakeOptions()

	out, err := execute(t, opts, "", "-p", project, "build", "--tag", "poputchikbot:test", "--push")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(project, "Dockerfile"))
	require.Len(t, fake.Calls, 2)
	assert.Equal(t, []string{"docker", "build", "-q", "-f", filepath.Join(project, "Dockerfile"), "-t", "poputchikbot:test", project}, fake.Calls[0])
	assert.Equal(t, []string{"docker", "push", "poputchikbot:test"}, fake.Calls[1])
	assert.Contains(t, out, "Built poputchikbot:test")
	assert.Contains(t, out, "Pushed poputchikbot:test")
}

func TestBuildRejectsInvalidDockerfile(t *testing.T) {
	files := map[string]string{"Dockerfile": "FROM python:3.11-slim\nRUN pip install -r requirements.txt\n"}
	project := botProject(t, files)
	opts, fake := fakeOptions()

	_, err := execute(t, opts, "", "-p", project, "build")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeDockerfileSyntaxError))
	assert.Empty(t, fake.Calls)
}

func TestEnvcheckCmd(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.env")
	require.NoError(t, os.WriteFile(good, []byte(
		"BOT_TOKEN=123:abc\nCHANNEL_ID=-100\nDATABASE_URL=postgresql+asyncpg://bot:pw@db:5432/bot\nREDIS_URL=redis://redis:6379/0\n"), 0o600))
	bad := filepath.Join(dir, "bad.env")
	require.NoError(t, os.WriteFile(bad, []byte("CHANNEL_ID=abc\nREDIS_URL=redis://redis:6379/0\n"), 0o600))
	minimal := filepath.Join(dir, "minimal.env")
	require.NoError(t, os.WriteFile(minimal, []byte("BOT_TOKEN=123:abc\n"), 0o600))
	opts, _ := fakeOptions()

	out, err := execute(t, opts, "", "envcheck", good)
	require.NoError(t, err)
	assert.Contains(t, out, "is complete (4 settings)")
	assert.Contains(t, out, "empty    ADMIN_IDS\n")

	out, err = execute(t, opts, "", "envcheck", minimal)
	require.NoError(t, err)
	assert.Contains(t, out, "is complete (1 settings)")
	assert.Contains(t, out, "empty    CHANNEL_ID (bot uses 0)")
	assert.Contains(t, out, "empty    REDIS_URL (bot uses redis://localhost:6379/0)")

	out, err = execute(t, opts, "", "envcheck", bad)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeConfigurationInvalid))
	assert.Contains(t, out, "missing  BOT_TOKEN")
	assert.Contains(t, out, "invalid  CHANNEL_ID")
	assert.NotContains(t, out, "missing  DATABASE_URL")
}

func TestUploadCmdPromptsAndRecords(t *testing.T) {
	useStore(t)
	project := botProject(t, defaultFiles)
	outDir := t.TempDir()
	opts, fake := fakeOptions()

	out, err := execute(t, opts, "203.0.113.7\nroot\n\n", "-p", project, "upload", "--archive-dir", outDir)
	require.NoError(t, err)

	archivePath := filepath.Join(outDir, "PoputchikBot.tar.gz")
	assert.Equal(t, []string{"scp", archivePath, "root@203.0.113.7:/opt/"}, fake.LastCall())
	assert.Contains(t, out, "Server IP: ")
	assert.Contains(t, out, "Remote path [/opt]: ")
	assert.Contains(t, out, "tar -xzf PoputchikBot.tar.gz")
	assert.Contains(t, out, "./deploy.sh")

	out, err = execute(t, opts, "", "history", "-o", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "host: 203.0.113.7")
	assert.Contains(t, out, "status: succeeded")
}

func TestUploadCmdFlagsSkipPrompts(t *testing.T) {
	useStore(t)
	project := botProject(t, defaultFiles)
	opts, fake := fakeOptions()

	out, err := execute(t, opts, "", "-p", project, "upload",
		"--archive-dir", t.TempDir(), "-s", "bot.example.com", "-u", "deploy", "-r", "/srv/bots", "--port", "2222")
	require.NoError(t, err)
	assert.NotContains(t, out, "Server IP")
	call := fake.LastCall()
	require.NotEmpty(t, call)
	assert.Equal(t, []string{"scp", "-P", "2222"}, call[:3])
	assert.Equal(t, "deploy@bot.example.com:/srv/bots/", call[len(call)-1])
	assert.Contains(t, out, "ssh -p 2222 deploy@bot.example.com")
}

func TestUploadCmdNeedsScp(t *testing.T) {
	useStore(t)
	project := botProject(t, defaultFiles)
	fake := &runner.FakeCommandRunner{}
	opts := &rootOptions{
		runner: fake,
		lookPath: func(name string) error {
			return errors.New(errors.CodeFileNotFound, "cmd", name+" is not installed", nil)
		},
	}

	_, err := execute(t, opts, "", "-p", project, "upload", "-s", "1.2.3.4", "-u", "root")
	assert.True(t, errors.HasCode(err, errors.CodeFileNotFound))
	assert.Empty(t, fake.Calls)
}

func TestUploadCmdRejectsBadTransport(t *testing.T) {
	useStore(t)
	project := botProject(t, defaultFiles)
	opts, _ := fakeOptions()

	_, err := execute(t, opts, "", "-p", project, "upload", "--transport", "ftp")
	assert.True(t, errors.HasCode(err, errors.CodeConfigurationInvalid))
}

func TestHistoryCmd(t *testing.T) {
	useStore(t)
	opts, _ := fakeOptions()

	out, err := execute(t, opts, "", "history")
	require.NoError(t, err)
	assert.Contains(t, out, "WHEN")

	_, err = execute(t, opts, "", "history", "-o", "json")
	assert.True(t, errors.HasCode(err, errors.CodeInvalidParameter))
}
