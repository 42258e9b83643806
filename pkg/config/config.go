package config

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/poputchik/deploykit/pkg/errors"
)

const (
	TransportSCP    = "scp"
	TransportNative = "native"

	DefaultRemotePath = "/opt"
)

// Config holds everything the deploy commands need. Values are resolved in
// order: defaults, YAML file, dotenv file, POPUTCHIK_* environment, flags.
type Config struct {
	ProjectDir      string   `yaml:"project_dir" env:"POPUTCHIK_PROJECT_DIR"`
	ArchiveDir      string   `yaml:"archive_dir" env:"POPUTCHIK_ARCHIVE_DIR"`
	ArchiveName     string   `yaml:"archive_name" env:"POPUTCHIK_ARCHIVE_NAME"`
	ExtraExcludes   []string `yaml:"exclude" env:"POPUTCHIK_EXCLUDE,append"`
	RemotePath      string   `yaml:"remote_path" env:"POPUTCHIK_REMOTE_PATH"`
	Server          string   `yaml:"server" env:"POPUTCHIK_SERVER"`
	User            string   `yaml:"user" env:"POPUTCHIK_USER"`
	DeployScript    string   `yaml:"deploy_script" env:"POPUTCHIK_DEPLOY_SCRIPT"`
	EnvTemplateFile string   `yaml:"env_template" env:"POPUTCHIK_ENV_TEMPLATE"`

	// Transfer
	Transport      string        `yaml:"transport" env:"POPUTCHIK_TRANSPORT"`
	SSHPort        int           `yaml:"ssh_port" env:"POPUTCHIK_SSH_PORT"`
	SSHIdentity    string        `yaml:"ssh_identity" env:"POPUTCHIK_SSH_IDENTITY"`
	SSHKnownHosts  string        `yaml:"ssh_known_hosts" env:"POPUTCHIK_SSH_KNOWN_HOSTS"`
	SSHInsecure    bool          `yaml:"ssh_insecure" env:"POPUTCHIK_SSH_INSECURE"`
	SSHPassword    string        `yaml:"-" env:"POPUTCHIK_SSH_PASSWORD"`
	DialTimeout    time.Duration `yaml:"dial_timeout" env:"POPUTCHIK_DIAL_TIMEOUT"`
	DialAttempts   int           `yaml:"dial_attempts" env:"POPUTCHIK_DIAL_ATTEMPTS"`
	CommandTimeout time.Duration `yaml:"timeout" env:"POPUTCHIK_TIMEOUT"`

	LogLevel  string `yaml:"log_level" env:"POPUTCHIK_LOG_LEVEL"`
	StorePath string `yaml:"store_path" env:"POPUTCHIK_STORE_PATH"`

	Image ImageConfig `yaml:"image"`
}

// ImageConfig describes the container image of the bot.
type ImageConfig struct {
	BaseImage      string            `yaml:"base_image" env:"POPUTCHIK_IMAGE_BASE"`
	SystemPackages []string          `yaml:"system_packages" env:"POPUTCHIK_IMAGE_PACKAGES"`
	Requirements   string            `yaml:"requirements" env:"POPUTCHIK_IMAGE_REQUIREMENTS"`
	WorkDir        string            `yaml:"workdir" env:"POPUTCHIK_IMAGE_WORKDIR"`
	Command        []string          `yaml:"command"`
	Env            map[string]string `yaml:"env"`
	Tag            string            `yaml:"tag" env:"POPUTCHIK_IMAGE_TAG"`
}

func DefaultConfig() *Config {
	return &Config{
		ProjectDir:      ".",
		RemotePath:      DefaultRemotePath,
		DeployScript:    "deploy.sh",
		EnvTemplateFile: ".env.example",
		Transport:       TransportSCP,
		SSHPort:         22,
		DialTimeout:     10 * time.Second,
		DialAttempts:    3,
		CommandTimeout:  10 * time.Minute,
		LogLevel:        "info",
		StorePath:       defaultStorePath(),
		Image: ImageConfig{
			BaseImage:      "python:3.11-slim",
			SystemPackages: []string{"gcc", "libpq-dev"},
			Requirements:   "requirements.txt",
			WorkDir:        "/app",
			Command:        []string{"python", "bot.py"},
			Env:            map[string]string{"PYTHONUNBUFFERED": "1"},
			Tag:            "poputchikbot:latest",
		},
	}
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "poputchik-deploy", "history.db")
}

// Load resolves configuration from the optional YAML file, the optional
// dotenv file and the environment. Flags are applied by the caller.
func Load(configFile, envFile string) (*Config, error) {
	cfg := DefaultConfig()

	if configFile != "" {
		if err := cfg.loadYAML(configFile); err != nil {
			return nil, err
		}
	}

	// godotenv never overrides variables already set in the environment.
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, errors.New(errors.CodeConfigurationInvalid, "config", fmt.Sprintf("failed to load env file %s", envFile), err)
		}
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.New(errors.CodeFileNotFound, "config", fmt.Sprintf("config file %s not found", path), err)
		}
		return errors.New(errors.CodeIoError, "config", fmt.Sprintf("failed to read config file %s", path), err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.New(errors.CodeConfigurationInvalid, "config", fmt.Sprintf("failed to parse config file %s", path), err)
	}
	return nil
}

func loadFromEnv(cfg *Config) error {
	return setFieldsFromEnv(reflect.ValueOf(cfg).Elem())
}

// setFieldsFromEnv fills every field carrying an env tag, recursing into
// nested structs. A tag option of ",append" adds list items instead of
// replacing them.
func setFieldsFromEnv(v reflect.Value) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)
		if !field.CanSet() {
			continue
		}
		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := setFieldsFromEnv(field); err != nil {
				return err
			}
			continue
		}

		tag := fieldType.Tag.Get("env")
		if tag == "" {
			continue
		}
		name, opt, _ := strings.Cut(tag, ",")
		value := os.Getenv(name)
		if value == "" {
			continue
		}
		if err := setFieldFromString(field, value, opt == "append"); err != nil {
			return errors.New(errors.CodeConfigurationInvalid, "config", fmt.Sprintf("%s %s", name, err), err).
				With("field", fieldType.Name)
		}
	}
	return nil
}

func setFieldFromString(field reflect.Value, value string, appendList bool) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("must be a boolean")
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("must be a duration")
			}
			field.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("must be an integer")
		}
		field.SetInt(n)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported list type %s", field.Type())
		}
		items := splitList(value)
		if appendList {
			items = append(append([]string(nil), field.Interface().([]string)...), items...)
		}
		field.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}

func splitList(v string) []string {
	return strings.FieldsFunc(v, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
}

func (c *Config) Validate() error {
	invalid := func(msg string) error {
		return errors.New(errors.CodeConfigurationInvalid, "config", msg, nil)
	}
	if strings.TrimSpace(c.ProjectDir) == "" {
		return invalid("project_dir is required")
	}
	if c.Transport != TransportSCP && c.Transport != TransportNative {
		return invalid(fmt.Sprintf("transport must be one of: %s, %s", TransportSCP, TransportNative))
	}
	if c.SSHPort <= 0 || c.SSHPort > 65535 {
		return invalid("ssh_port must be between 1 and 65535")
	}
	if c.DialAttempts <= 0 {
		return invalid("dial_attempts must be positive")
	}
	if c.DialTimeout <= 0 {
		return invalid("dial_timeout must be positive")
	}
	if c.CommandTimeout <= 0 {
		return invalid("timeout must be positive")
	}
	if c.RemotePath != "" && !path.IsAbs(c.RemotePath) {
		return invalid("remote_path must be an absolute path")
	}
	validLogLevels := []string{"debug", "info", "warn", "error"}
	valid := false
	for _, level := range validLogLevels {
		if c.LogLevel == level {
			valid = true
			break
		}
	}
	if !valid {
		return invalid("log_level must be one of: debug, info, warn, error")
	}
	if c.StorePath == "" {
		return invalid("store_path is required")
	}
	return nil
}

// ResolveProject returns the absolute project directory, the directory the
// archive is written to and the archive file name.
func (c *Config) ResolveProject() (projectDir, archiveDir, archiveName string, err error) {
	projectDir, err = filepath.Abs(c.ProjectDir)
	if err != nil {
		return "", "", "", errors.New(errors.CodeIoError, "config", "failed to resolve project directory", err)
	}
	info, err := os.Stat(projectDir)
	if err != nil {
		return "", "", "", errors.New(errors.CodeFileNotFound, "config", fmt.Sprintf("project directory %s not found", projectDir), err)
	}
	if !info.IsDir() {
		return "", "", "", errors.New(errors.CodeInvalidParameter, "config", fmt.Sprintf("%s is not a directory", projectDir), nil)
	}

	archiveDir = c.ArchiveDir
	if archiveDir == "" {
		archiveDir = filepath.Dir(projectDir)
	} else if archiveDir, err = filepath.Abs(archiveDir); err != nil {
		return "", "", "", errors.New(errors.CodeIoError, "config", "failed to resolve archive directory", err)
	}

	archiveName = c.ArchiveName
	if archiveName == "" {
		archiveName = filepath.Base(projectDir) + ".tar.gz"
	}
	return projectDir, archiveDir, archiveName, nil
}
