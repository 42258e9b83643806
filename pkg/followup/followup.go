// Package followup lists the commands the operator runs on the server after
// an upload, and can run the safe ones over ssh.
package followup

import (
	"context"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/crypto/ssh"

	"github.com/poputchik/deploykit/pkg/errors"
	"github.com/poputchik/deploykit/pkg/logger"
	"github.com/poputchik/deploykit/pkg/sshclient"
	"github.com/poputchik/deploykit/pkg/transfer"
)

// Plan describes one uploaded archive.
type Plan struct {
	Target       transfer.Target
	ArchiveName  string
	ProjectName  string
	DeployScript string
	EnvTemplate  string
	SecretKeys   []string
}

type Step struct {
	Description string
	// Dir is the remote working directory; empty for local commands.
	Dir     string
	Command string
	// Automatable steps touch nothing but the uploaded tree.
	Automatable bool
	Note        string
}

// Steps returns the follow-up in execution order.
func Steps(p Plan) []Step {
	projectDir := path.Join(p.Target.RemoteDir, p.ProjectName)
	script := p.DeployScript
	if script == "" {
		script = "deploy.sh"
	}

	login := "ssh "
	if p.Target.Port != 0 && p.Target.Port != sshclient.DefaultPort {
		login += "-p " + strconv.Itoa(p.Target.Port) + " "
	}
	login += p.Target.Login()

	secretCmd := "nano .env"
	if p.EnvTemplate != "" {
		secretCmd = fmt.Sprintf("cp %s .env && nano .env", sshclient.Quote(p.EnvTemplate))
	}
	var note string
	if len(p.SecretKeys) > 0 {
		note = "set " + strings.Join(p.SecretKeys, ", ")
	}

	return []Step{
		{Description: "Connect to the server", Command: login},
		{Description: "Extract the archive", Dir: p.Target.RemoteDir, Command: "tar -xzf " + sshclient.Quote(p.ArchiveName), Automatable: true},
		{Description: "Create the secrets file", Dir: projectDir, Command: secretCmd, Note: note},
		{Description: "Make the deploy script executable", Dir: projectDir, Command: "chmod +x " + sshclient.Quote(script), Automatable: true},
		{Description: "Run the deploy script", Dir: projectDir, Command: "./" + script},
	}
}

// Render prints the steps as numbered shell commands.
func Render(w io.Writer, steps []Step) {
	title := color.New(color.FgGreen, color.Bold)
	cmd := color.New(color.FgCyan)
	dim := color.New(color.Faint)

	title.Fprintln(w, "Upload complete. Next steps on the server:")
	lastDir := ""
	for i, s := range steps {
		fmt.Fprintf(w, "%d. %s\n", i+1, s.Description)
		if s.Dir != "" && s.Dir != lastDir {
			cmd.Fprintf(w, "   cd %s\n", sshclient.Quote(s.Dir))
			lastDir = s.Dir
		}
		cmd.Fprintf(w, "   %s\n", s.Command)
		if s.Note != "" {
			dim.Fprintf(w, "   # %s\n", s.Note)
		}
	}
}

// Execute runs the automatable steps over client and returns the steps
// still left to the operator. When a step fails, the failed step and every
// step after it are returned along with the error.
func Execute(ctx context.Context, client *ssh.Client, steps []Step) ([]Step, error) {
	var manual []Step
	for i, s := range steps {
		if !s.Automatable {
			manual = append(manual, s)
			continue
		}
		command := s.Command
		if s.Dir != "" {
			command = "cd " + sshclient.Quote(s.Dir) + " && " + command
		}
		logger.Infof("Running on server: %s", command)
		out, err := sshclient.Run(ctx, client, command)
		if err != nil {
			manual = append(manual, steps[i:]...)
			return manual, errors.New(errors.CodeRemoteCommandFailed, "followup", fmt.Sprintf("step %q failed", s.Description), err)
		}
		if strings.TrimSpace(out) != "" {
			logger.Debugf("Output: %s", out)
		}
	}
	return manual, nil
}
