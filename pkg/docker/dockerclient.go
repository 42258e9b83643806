// Package docker drives the docker CLI for building the bot image.
package docker

import (
	"context"
	"fmt"
	"strings"

	"github.com/poputchik/deploykit/pkg/errors"
	"github.com/poputchik/deploykit/pkg/runner"
)

type DockerClient interface {
	Version(ctx context.Context) (string, error)
	Info(ctx context.Context) (string, error)
	Build(ctx context.Context, dockerfilePath, imageTag, contextPath string) (string, error)
	Push(ctx context.Context, imageTag string) (string, error)
}

type DockerCmdRunner struct {
	runner runner.CommandRunner
}

var _ DockerClient = &DockerCmdRunner{}

func NewDockerCmdRunner(runner runner.CommandRunner) DockerClient {
	return &DockerCmdRunner{
		runner: runner,
	}
}

func (d *DockerCmdRunner) Info(ctx context.Context) (string, error) {
	out, err := d.runner.RunCommand(ctx, "docker", "info", "--format", "{{.ServerVersion}}")
	if err != nil {
		return out, errors.New(errors.CodeNetworkError, "docker", "docker daemon is not reachable", err).
			With("output", strings.TrimSpace(out))
	}
	return strings.TrimSpace(out), nil
}

func (d *DockerCmdRunner) Version(ctx context.Context) (string, error) {
	out, err := d.runner.RunCommand(ctx, "docker", "version", "--format", "{{.Client.Version}}")
	return strings.TrimSpace(out), err
}

// Build runs a quiet docker build. Docker writes progress and failures to
// stderr, which is returned as the build log.
func (d *DockerCmdRunner) Build(ctx context.Context, dockerfilePath, imageTag, contextPath string) (string, error) {
	out, err := d.runner.RunCommandStderr(ctx, "docker", "build", "-q", "-f", dockerfilePath, "-t", imageTag, contextPath)
	if err != nil {
		return out, errors.New(errors.CodeImageBuildFailed, "docker", fmt.Sprintf("docker build of %s failed", imageTag), err).
			With("output", strings.TrimSpace(out))
	}
	return out, nil
}

func (d *DockerCmdRunner) Push(ctx context.Context, image string) (string, error) {
	out, err := d.runner.RunCommand(ctx, "docker", "push", image)
	if err != nil {
		return out, errors.New(errors.CodeNetworkError, "docker", fmt.Sprintf("docker push of %s failed", image), err).
			With("output", strings.TrimSpace(out))
	}
	return out, nil
}

func CheckDockerInstalled() error {
	if err := runner.LookPath("docker"); err != nil {
		return errors.New(errors.CodeFileNotFound, "docker", "docker executable not found in PATH. Please install Docker or ensure it's available in your PATH", err)
	}
	return nil
}
