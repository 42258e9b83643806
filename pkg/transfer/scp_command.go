package transfer

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/poputchik/deploykit/pkg/errors"
	"github.com/poputchik/deploykit/pkg/logger"
	"github.com/poputchik/deploykit/pkg/runner"
)

// SCPCommand runs the system scp binary attached to the operator's terminal,
// so password and host key prompts behave exactly like a manual scp.
type SCPCommand struct {
	Runner         runner.CommandRunner
	IdentityFile   string
	KnownHostsFile string
	Insecure       bool
}

var _ Uploader = &SCPCommand{}

func NewSCPCommand(r runner.CommandRunner) *SCPCommand {
	return &SCPCommand{Runner: r}
}

func (s *SCPCommand) Name() string { return "scp" }

// Args returns the scp command line for an upload.
func (s *SCPCommand) Args(localPath string, target Target) []string {
	args := []string{"scp"}
	if target.Port != 0 && target.Port != 22 {
		args = append(args, "-P", strconv.Itoa(target.Port))
	}
	if s.IdentityFile != "" {
		args = append(args, "-i", s.IdentityFile)
	}
	if s.KnownHostsFile != "" {
		args = append(args, "-o", "UserKnownHostsFile="+s.KnownHostsFile)
	}
	if s.Insecure {
		args = append(args, "-o", "StrictHostKeyChecking=no", "-o", "UserKnownHostsFile=/dev/null")
	}
	return append(args, localPath, target.Destination())
}

func (s *SCPCommand) Upload(ctx context.Context, localPath string, target Target) error {
	if err := target.Validate(); err != nil {
		return err
	}
	if _, err := os.Stat(localPath); err != nil {
		return errors.New(errors.CodeFileNotFound, "transfer", fmt.Sprintf("archive %s not found", localPath), err)
	}
	args := s.Args(localPath, target)
	logger.Debugf("Uploading with %v", args)
	if err := s.Runner.RunInteractive(ctx, args...); err != nil {
		if ctx.Err() != nil {
			return errors.New(errors.CodeCancelled, "transfer", "scp cancelled", err)
		}
		return errors.New(errors.CodeTransferFailed, "transfer", fmt.Sprintf("scp to %s failed", target.Destination()), err)
	}
	return nil
}
