package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poputchik/deploykit/pkg/errors"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "/opt", cfg.RemotePath)
	assert.Equal(t, TransportSCP, cfg.Transport)
	assert.Equal(t, []string{"python", "bot.py"}, cfg.Image.Command)
	assert.Equal(t, []string{"gcc", "libpq-dev"}, cfg.Image.SystemPackages)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "deploy.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
project_dir: /srv/PoputchikBot
remote_path: /home/bot
transport: native
ssh_port: 2222
dial_timeout: 3s
exclude:
  - logs/
image:
  base_image: python:3.12-slim
  tag: registry.local/bot:1
`), 0o644))

	envPath := filepath.Join(dir, "deploy.env")
	require.NoError(t, os.WriteFile(envPath, []byte("POPUTCHIK_SSH_PORT=2200\n"), 0o644))
	t.Setenv("POPUTCHIK_REMOTE_PATH", "/var/lib/bot")
	t.Cleanup(func() { os.Unsetenv("POPUTCHIK_SSH_PORT") })

	cfg, err := Load(yamlPath, envPath)
	require.NoError(t, err)

	assert.Equal(t, "/srv/PoputchikBot", cfg.ProjectDir)
	assert.Equal(t, "/var/lib/bot", cfg.RemotePath)
	assert.Equal(t, TransportNative, cfg.Transport)
	assert.Equal(t, 2200, cfg.SSHPort)
	assert.Equal(t, 3*time.Second, cfg.DialTimeout)
	assert.Equal(t, []string{"logs/"}, cfg.ExtraExcludes)
	assert.Equal(t, "python:3.12-slim", cfg.Image.BaseImage)
	assert.Equal(t, "registry.local/bot:1", cfg.Image.Tag)
	assert.Equal(t, "bot.py", cfg.Image.Command[1])
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFiles(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), "")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeFileNotFound))

	// A missing dotenv file is not an error.
	cfg, err := Load("", filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}

func TestLoadRejectsBadEnv(t *testing.T) {
	tests := map[string]string{
		"POPUTCHIK_SSH_PORT":      "twenty-two",
		"POPUTCHIK_DIAL_ATTEMPTS": "x",
		"POPUTCHIK_SSH_INSECURE":  "maybe",
		"POPUTCHIK_DIAL_TIMEOUT":  "soon",
		"POPUTCHIK_TIMEOUT":       "later",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			_, err := Load("", "")
			require.Error(t, err)
			assert.Equal(t, errors.CodeConfigurationInvalid, errors.CodeOf(err))
		})
	}
}

func TestEnvLists(t *testing.T) {
	t.Setenv("POPUTCHIK_EXCLUDE", "logs/, *.tmp media/")
	t.Setenv("POPUTCHIK_IMAGE_PACKAGES", "gcc,libpq-dev,postgresql-client")
	cfg, err := Load("", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"logs/", "*.tmp", "media/"}, cfg.ExtraExcludes)
	assert.Equal(t, []string{"gcc", "libpq-dev", "postgresql-client"}, cfg.Image.SystemPackages)
}

func TestEveryEnvTagIsRead(t *testing.T) {
	want := map[string]string{}
	var walk func(reflect.Type)
	walk = func(typ reflect.Type) {
		for i := 0; i < typ.NumField(); i++ {
			f := typ.Field(i)
			if f.Type.Kind() == reflect.Struct {
				walk(f.Type)
				continue
			}
			name, _, _ := strings.Cut(f.Tag.Get("env"), ",")
			if name != "" && f.Type.Kind() == reflect.String {
				want[f.Name] = "value-of-" + name
				t.Setenv(name, want[f.Name])
			}
		}
	}
	walk(reflect.TypeOf(Config{}))
	require.Len(t, want, 18)

	cfg := DefaultConfig()
	require.NoError(t, loadFromEnv(cfg))

	got := reflect.ValueOf(*cfg)
	image := got.FieldByName("Image")
	for field, value := range want {
		v := got.FieldByName(field)
		if !v.IsValid() {
			v = image.FieldByName(field)
		}
		assert.Equal(t, value, v.String(), field)
	}
}

func TestEnvTypedFields(t *testing.T) {
	t.Setenv("POPUTCHIK_SSH_PORT", "2222")
	t.Setenv("POPUTCHIK_DIAL_ATTEMPTS", "5")
	t.Setenv("POPUTCHIK_SSH_INSECURE", "true")
	t.Setenv("POPUTCHIK_DIAL_TIMEOUT", "3s")
	t.Setenv("POPUTCHIK_TIMEOUT", "90s")
	t.Setenv("POPUTCHIK_EXCLUDE", "media/")

	cfg := DefaultConfig()
	cfg.ExtraExcludes = []string{"logs/"}
	require.NoError(t, loadFromEnv(cfg))

	assert.Equal(t, 2222, cfg.SSHPort)
	assert.Equal(t, 5, cfg.DialAttempts)
	assert.True(t, cfg.SSHInsecure)
	assert.Equal(t, 3*time.Second, cfg.DialTimeout)
	assert.Equal(t, 90*time.Second, cfg.CommandTimeout)
	assert.Equal(t, []string{"logs/", "media/"}, cfg.ExtraExcludes)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty project", func(c *Config) { c.ProjectDir = " " }},
		{"bad transport", func(c *Config) { c.Transport = "ftp" }},
		{"bad port", func(c *Config) { c.SSHPort = 70000 }},
		{"zero attempts", func(c *Config) { c.DialAttempts = 0 }},
		{"zero dial timeout", func(c *Config) { c.DialTimeout = 0 }},
		{"zero timeout", func(c *Config) { c.CommandTimeout = 0 }},
		{"relative remote", func(c *Config) { c.RemotePath = "opt" }},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }},
		{"no store", func(c *Config) { c.StorePath = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, errors.CodeConfigurationInvalid, errors.CodeOf(err))
		})
	}
}

func TestResolveProject(t *testing.T) {
	parent := t.TempDir()
	project := filepath.Join(parent, "PoputchikBot")
	require.NoError(t, os.Mkdir(project, 0o755))

	cfg := DefaultConfig()
	cfg.ProjectDir = project
	dir, archiveDir, name, err := cfg.ResolveProject()
	require.NoError(t, err)
	assert.Equal(t, project, dir)
	assert.Equal(t, parent, archiveDir)
	assert.Equal(t, "PoputchikBot.tar.gz", name)

	cfg.ArchiveDir = filepath.Join(parent, "out")
	cfg.ArchiveName = "bot.tgz"
	_, archiveDir, name, err = cfg.ResolveProject()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(parent, "out"), archiveDir)
	assert.Equal(t, "bot.tgz", name)

	cfg.ProjectDir = filepath.Join(parent, "missing")
	_, _, _, err = cfg.ResolveProject()
	assert.True(t, errors.HasCode(err, errors.CodeFileNotFound))

	file := filepath.Join(parent, "file.txt")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	cfg.ProjectDir = file
	_, _, _, err = cfg.ResolveProject()
	assert.True(t, errors.HasCode(err, errors.CodeInvalidParameter))
}
