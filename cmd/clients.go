package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/poputchik/deploykit/pkg/docker"
	"github.com/poputchik/deploykit/pkg/errors"
	"github.com/poputchik/deploykit/pkg/runner"
)

// Clients holds the external tools a command drives.
type Clients struct {
	Runner runner.CommandRunner
	Docker docker.DockerClient
}

func (o *rootOptions) initClients(cmd *cobra.Command) *Clients {
	r := o.runner
	if r == nil {
		r = &runner.DefaultCommandRunner{
			Stdin:  cmd.InOrStdin(),
			Stdout: cmd.OutOrStdout(),
			Stderr: cmd.ErrOrStderr(),
		}
	}
	return &Clients{
		Runner: r,
		Docker: docker.NewDockerCmdRunner(r),
	}
}

// requireTool fails when an external binary the command shells out to is missing.
func (o *rootOptions) requireTool(name string) error {
	if o.lookPath != nil {
		return o.lookPath(name)
	}
	if name == "docker" {
		return docker.CheckDockerInstalled()
	}
	if err := runner.LookPath(name); err != nil {
		return errors.New(errors.CodeFileNotFound, "cmd", fmt.Sprintf("%s is not installed", name), err)
	}
	return nil
}
