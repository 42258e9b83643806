package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/poputchik/deploykit/pkg/config"
	"github.com/poputchik/deploykit/pkg/history"
	"github.com/poputchik/deploykit/pkg/logger"
	"github.com/poputchik/deploykit/pkg/prompt"
	"github.com/poputchik/deploykit/pkg/upload"
)

type uploadOptions struct {
	req        upload.Request
	transport  string
	port       int
	identity   string
	knownHosts string
	insecure   bool
	archiveDir string
	excludes   []string
}

func newUploadCmd(root *rootOptions) *cobra.Command {
	opts := &uploadOptions{}
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Archive the bot project and copy it to a server",
		Long: `The upload command asks for the server IP, username and remote path (default
/opt), packs the project into <name>.tar.gz without virtualenvs, bytecode,
.env secrets and local databases, copies it with scp and prints the commands
to run on the server next. Values given as flags are not asked for.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load(cmd)
			if err != nil {
				return err
			}
			opts.apply(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			if cfg.Transport == config.TransportSCP {
				if err := root.requireTool("scp"); err != nil {
					return err
				}
			}

			ctx, cancel := root.context(cmd, cfg)
			defer cancel()

			var recorder upload.Recorder
			store, err := history.Open(cfg.StorePath)
			if err != nil {
				logger.Warnf("Upload history disabled: %v", err)
			} else {
				defer store.Close()
				recorder = store
			}

			svc := upload.NewService(cfg, newPrompter(cmd), root.initClients(cmd).Runner, recorder, cmd.OutOrStdout())
			if in, ok := terminalFile(cmd.InOrStdin()); ok {
				svc.PasswordPrompt = passwordPrompt(in, cmd.ErrOrStderr())
			}
			_, err = svc.Run(ctx, opts.req)
			return err
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.req.Server, "server", "s", "", "server IP or hostname")
	f.StringVarP(&opts.req.User, "user", "u", "", "ssh username")
	f.StringVarP(&opts.req.RemotePath, "remote-path", "r", "", "remote directory (default /opt)")
	f.BoolVar(&opts.req.RunFollowup, "run-followup", false, "extract the archive and chmod the deploy script over ssh (native transport only)")
	f.StringVar(&opts.transport, "transport", "", "copy with the scp binary (scp) or the built-in client (native)")
	f.IntVar(&opts.port, "port", 0, "ssh port (default 22)")
	f.StringVarP(&opts.identity, "identity", "i", "", "ssh private key file")
	f.StringVar(&opts.knownHosts, "known-hosts", "", "known_hosts file (default ~/.ssh/known_hosts)")
	f.BoolVar(&opts.insecure, "insecure", false, "do not verify the server host key")
	f.StringVar(&opts.archiveDir, "archive-dir", "", "where to write the archive (default the project's parent directory)")
	f.StringSliceVar(&opts.excludes, "exclude", nil, "extra gitignore-style exclude patterns")
	return cmd
}

// apply copies the flags that were set onto cfg.
func (o *uploadOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("transport") {
		cfg.Transport = o.transport
	}
	if f.Changed("port") {
		cfg.SSHPort = o.port
	}
	if f.Changed("identity") {
		cfg.SSHIdentity = o.identity
	}
	if f.Changed("known-hosts") {
		cfg.SSHKnownHosts = o.knownHosts
	}
	if f.Changed("insecure") {
		cfg.SSHInsecure = o.insecure
	}
	if f.Changed("archive-dir") {
		cfg.ArchiveDir = o.archiveDir
	}
	cfg.ExtraExcludes = append(cfg.ExtraExcludes, o.excludes...)
}

func terminalFile(r io.Reader) (*os.File, bool) {
	f, ok := r.(*os.File)
	return f, ok && isatty.IsTerminal(f.Fd())
}

// newPrompter uses promptui on a terminal and plain line reading otherwise.
func newPrompter(cmd *cobra.Command) prompt.Prompter {
	if in, ok := terminalFile(cmd.InOrStdin()); ok {
		return &prompt.Terminal{Stdin: in, Stdout: os.Stdout}
	}
	return prompt.NewLines(cmd.InOrStdin(), cmd.OutOrStdout())
}

func passwordPrompt(in *os.File, out io.Writer) func(user, host string) (string, error) {
	return func(user, host string) (string, error) {
		fmt.Fprintf(out, "%s@%s's password: ", user, host)
		b, err := term.ReadPassword(int(in.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}
