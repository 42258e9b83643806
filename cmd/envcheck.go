package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/poputchik/deploykit/pkg/envcheck"
)

func newEnvcheckCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "envcheck [file]",
		Short: "Check a bot .env file for the settings the bot needs",
		Long: `The envcheck command reads a dotenv file (default <project>/.env) and reports
missing required settings, empty optional ones and malformed values. Run it on
the server after filling in the secrets, before ./deploy.sh.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load(cmd)
			if err != nil {
				return err
			}
			path := filepath.Join(cfg.ProjectDir, ".env")
			if len(args) == 1 {
				path = args[0]
			}

			report, err := envcheck.CheckFile(path, envcheck.BotKeys)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			bad := color.New(color.FgRed)
			warn := color.New(color.FgYellow)
			for _, k := range report.Missing {
				bad.Fprintf(out, "missing  %s\n", k)
			}
			for _, p := range report.Invalid {
				bad.Fprintf(out, "invalid  %s %s\n", p.Key, p.Message)
			}
			for _, k := range report.Empty {
				if key, ok := envcheck.Lookup(envcheck.BotKeys, k); ok && key.Default != "" {
					warn.Fprintf(out, "empty    %s (bot uses %s)\n", k, key.Default)
					continue
				}
				warn.Fprintf(out, "empty    %s\n", k)
			}
			if len(report.Unknown) > 0 {
				fmt.Fprintf(out, "unused   %s\n", strings.Join(report.Unknown, ", "))
			}
			if report.OK() {
				color.New(color.FgGreen).Fprintf(out, "%s is complete (%d settings)\n", path, report.Provided)
			}
			return report.Err()
		},
	}
}
