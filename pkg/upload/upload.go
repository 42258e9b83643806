// Package upload runs the operator-supervised upload of the bot project:
// ask for the server, pack the project, copy it, print what to do next.
package upload

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/briandowns/spinner"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/poputchik/deploykit/pkg/archive"
	"github.com/poputchik/deploykit/pkg/config"
	"github.com/poputchik/deploykit/pkg/envcheck"
	"github.com/poputchik/deploykit/pkg/errors"
	"github.com/poputchik/deploykit/pkg/followup"
	"github.com/poputchik/deploykit/pkg/history"
	"github.com/poputchik/deploykit/pkg/logger"
	"github.com/poputchik/deploykit/pkg/prompt"
	"github.com/poputchik/deploykit/pkg/runner"
	"github.com/poputchik/deploykit/pkg/sshclient"
	"github.com/poputchik/deploykit/pkg/transfer"
)

const (
	LabelServer     = "Server IP"
	LabelUser       = "Username"
	LabelRemotePath = "Remote path"
)

// Recorder persists upload attempts.
type Recorder interface {
	Add(ctx context.Context, rec history.Record) (history.Record, error)
}

// Request carries values given on the command line. Empty fields are asked for.
type Request struct {
	Server      string
	User        string
	RemotePath  string
	RunFollowup bool
}

type Outcome struct {
	Target  transfer.Target
	Archive *archive.Result
	// Remaining are the follow-up steps left to the operator.
	Remaining []followup.Step
	RecordID  string
}

type Service struct {
	Config   *config.Config
	Prompter prompt.Prompter
	Runner   runner.CommandRunner
	Recorder Recorder
	Out      io.Writer
	// PasswordPrompt is used by the native transport when no key or agent
	// identity is accepted.
	PasswordPrompt func(user, host string) (string, error)

	log zerolog.Logger
}

func NewService(cfg *config.Config, p prompt.Prompter, r runner.CommandRunner, rec Recorder, out io.Writer) *Service {
	return &Service{
		Config:   cfg,
		Prompter: p,
		Runner:   r,
		Recorder: rec,
		Out:      out,
		log:      logger.Component("upload"),
	}
}

// Run performs one upload. The archive is left on disk either way, and
// nothing is rolled back on the server if the copy fails halfway.
func (s *Service) Run(ctx context.Context, req Request) (*Outcome, error) {
	if req.RunFollowup && s.Config.Transport != config.TransportNative {
		return nil, errors.New(errors.CodeInvalidParameter, "upload",
			"--run-followup needs the native transport (set --transport native)", nil)
	}

	projectDir, archiveDir, archiveName, err := s.Config.ResolveProject()
	if err != nil {
		return nil, err
	}

	target, err := s.askTarget(req)
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("project", projectDir).Msg("Creating archive")
	result, err := archive.Build(ctx, archive.Options{
		ProjectDir:    projectDir,
		OutputPath:    filepath.Join(archiveDir, archiveName),
		Excludes:      s.Config.ExtraExcludes,
		UseIgnoreFile: true,
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Str("archive", result.Path).
		Int("files", len(result.Files)).
		Int("excluded", len(result.Excluded)).
		Str("size", humanize.IBytes(uint64(result.Size))).
		Msg("Archive ready")

	outcome := &Outcome{Target: target, Archive: result}
	steps := followup.Steps(followup.Plan{
		Target:       target,
		ArchiveName:  archiveName,
		ProjectName:  filepath.Base(projectDir),
		DeployScript: s.Config.DeployScript,
		EnvTemplate:  s.envTemplate(result.Files),
		SecretKeys:   requiredKeys(),
	})

	delivered, uploadErr := s.transfer(ctx, result.Path, target, steps, req.RunFollowup)
	// The archive is on the server even if a follow-up step failed.
	outcome.RecordID = s.record(ctx, target, result, uploadErr)
	if uploadErr != nil {
		return outcome, uploadErr
	}

	outcome.Remaining = delivered.remaining
	followup.Render(s.Out, delivered.remaining)
	return outcome, delivered.followupErr
}

func (s *Service) askTarget(req Request) (transfer.Target, error) {
	ask := func(given string, q prompt.Question) (string, error) {
		if given != "" {
			if q.Validate != nil {
				if err := q.Validate(given); err != nil {
					return "", errors.New(errors.CodeInvalidParameter, "upload", fmt.Sprintf("%s: %v", q.Label, err), err)
				}
			}
			return given, nil
		}
		return s.Prompter.Ask(q)
	}

	server, err := ask(firstNonEmpty(req.Server, s.Config.Server), prompt.Question{Label: LabelServer, Validate: prompt.ValidateHost})
	if err != nil {
		return transfer.Target{}, err
	}
	user, err := ask(firstNonEmpty(req.User, s.Config.User), prompt.Question{Label: LabelUser, Validate: prompt.ValidateUser})
	if err != nil {
		return transfer.Target{}, err
	}
	remote, err := ask(req.RemotePath, prompt.Question{
		Label:    LabelRemotePath,
		Default:  firstNonEmpty(s.Config.RemotePath, config.DefaultRemotePath),
		Validate: prompt.ValidateRemotePath,
	})
	if err != nil {
		return transfer.Target{}, err
	}

	target := transfer.Target{Host: server, Port: s.Config.SSHPort, User: user, RemoteDir: remote}
	return target, target.Validate()
}

// delivery is what is left after a successful upload.
type delivery struct {
	remaining   []followup.Step
	followupErr error
}

// transfer uploads the archive and optionally runs the follow-up. The
// returned error is set only when the archive did not reach the server.
func (s *Service) transfer(ctx context.Context, archivePath string, target transfer.Target, steps []followup.Step, runFollowup bool) (delivery, error) {
	s.log.Info().Str("destination", target.Destination()).Str("transport", s.Config.Transport).Msg("Uploading archive")

	if s.Config.Transport != config.TransportNative {
		scp := &transfer.SCPCommand{
			Runner:         s.Runner,
			IdentityFile:   s.Config.SSHIdentity,
			KnownHostsFile: s.Config.SSHKnownHosts,
			Insecure:       s.Config.SSHInsecure,
		}
		if err := scp.Upload(ctx, archivePath, target); err != nil {
			return delivery{}, err
		}
		return delivery{remaining: steps}, nil
	}

	sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(s.Out))
	native := &transfer.NativeSCP{
		SSH: sshclient.Config{
			IdentityFile:          s.Config.SSHIdentity,
			KnownHostsFile:        s.Config.SSHKnownHosts,
			InsecureIgnoreHostKey: s.Config.SSHInsecure,
			Password:              s.Config.SSHPassword,
			PasswordPrompt:        s.PasswordPrompt,
			UseAgent:              true,
			Timeout:               s.Config.DialTimeout,
			Attempts:              s.Config.DialAttempts,
		},
		Progress: func(sent, total int64) {
			sp.Suffix = fmt.Sprintf(" %s / %s", humanize.IBytes(uint64(sent)), humanize.IBytes(uint64(total)))
		},
	}

	client, err := sshclient.Dial(ctx, native.ClientConfigFor(target))
	if err != nil {
		return delivery{}, err
	}
	defer client.Close()

	sp.Start()
	err = native.UploadWith(ctx, client, archivePath, target)
	sp.Stop()
	if err != nil {
		return delivery{}, err
	}
	if !runFollowup {
		return delivery{remaining: steps}, nil
	}
	remaining, err := s.runFollowup(ctx, client, steps)
	return delivery{remaining: remaining, followupErr: err}, nil
}

func (s *Service) runFollowup(ctx context.Context, client *ssh.Client, steps []followup.Step) ([]followup.Step, error) {
	remaining, err := followup.Execute(ctx, client, steps)
	if err != nil {
		s.log.Error().Err(err).Msg("Follow-up stopped; finish the remaining steps by hand")
		return remaining, err
	}
	s.log.Info().Int("automated", len(steps)-len(remaining)).Msg("Ran follow-up steps on the server")
	return remaining, nil
}

func (s *Service) record(ctx context.Context, target transfer.Target, result *archive.Result, uploadErr error) string {
	if s.Recorder == nil {
		return ""
	}
	rec := history.Record{
		Host:      target.Host,
		User:      target.User,
		RemoteDir: target.RemoteDir,
		Archive:   result.Path,
		SHA256:    result.SHA256,
		Size:      result.Size,
		Transport: s.Config.Transport,
		Status:    history.StatusSucceeded,
	}
	if uploadErr != nil {
		rec.Status = history.StatusFailed
		rec.Error = uploadErr.Error()
	}
	// The history write must not be skipped because the upload context expired.
	stored, err := s.Recorder.Add(context.WithoutCancel(ctx), rec)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to record upload history")
		return ""
	}
	return stored.ID
}

// envTemplate returns the template name when it is part of the archive.
func (s *Service) envTemplate(files []string) string {
	name := s.Config.EnvTemplateFile
	if name == "" {
		return ""
	}
	for _, f := range files {
		if f == filepath.ToSlash(name) {
			return name
		}
	}
	return ""
}

func requiredKeys() []string {
	var keys []string
	for _, k := range envcheck.BotKeys {
		if k.Required {
			keys = append(keys, k.Name)
		}
	}
	return keys
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
