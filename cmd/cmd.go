// Package cmd wires the poputchik-deploy commands.
package cmd

import (
	"context"
	"time"

	cc "github.com/ivanpirog/coloredcobra"
	"github.com/spf13/cobra"

	"github.com/poputchik/deploykit/pkg/config"
	"github.com/poputchik/deploykit/pkg/logger"
	"github.com/poputchik/deploykit/pkg/runner"
)

type rootOptions struct {
	configFile string
	envFile    string
	logLevel   string
	timeout    time.Duration
	projectDir string

	// runner and lookPath are replaced in tests.
	runner   runner.CommandRunner
	lookPath func(name string) error
}

func NewRootCmd(version string) *cobra.Command {
	return newRootCmd(&rootOptions{}, version)
}

func newRootCmd(opts *rootOptions, version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "poputchik-deploy",
		Short: "Package and ship the PoputchikBot project to a server",
		Long: `poputchik-deploy packs the bot project into a tar.gz archive, copies it to a
server with scp and prints the commands to finish the deployment there. It also
renders and builds the bot's container image.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&opts.configFile, "config", "c", "", "YAML config file")
	pf.StringVar(&opts.envFile, "env-file", ".deploy.env", "dotenv file with POPUTCHIK_* settings (ignored when missing)")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.DurationVarP(&opts.timeout, "timeout", "t", 0, "timeout for the whole operation (default 10m)")
	pf.StringVarP(&opts.projectDir, "project", "p", "", "bot project directory (default current directory)")

	rootCmd.AddCommand(
		newUploadCmd(opts),
		newArchiveCmd(opts),
		newDockerfileCmd(opts),
		newBuildCmd(opts),
		newEnvcheckCmd(opts),
		newHistoryCmd(opts),
	)
	return rootCmd
}

// Execute runs the CLI and prints troubleshooting hints on failure.
func Execute(ctx context.Context, version string) error {
	rootCmd := NewRootCmd(version)
	cc.Init(&cc.Config{
		RootCmd:  rootCmd,
		Headings: cc.HiCyan + cc.Bold + cc.Underline,
		Commands: cc.HiYellow + cc.Bold,
		Example:  cc.Italic,
		ExecName: cc.Bold,
		Flags:    cc.Bold,
	})
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		printErrorHelp(err)
		return err
	}
	return nil
}

// load resolves configuration and applies the global flags on top.
func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(o.configFile, o.envFile)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.timeout > 0 {
		cfg.CommandTimeout = o.timeout
	}
	if o.projectDir != "" {
		cfg.ProjectDir = o.projectDir
	}
	logger.Init(cfg.LogLevel, cmd.OutOrStdout(), cmd.ErrOrStderr())
	return cfg, nil
}

func (o *rootOptions) context(cmd *cobra.Command, cfg *config.Config) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), cfg.CommandTimeout)
}
