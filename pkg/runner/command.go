package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/poputchik/deploykit/pkg/logger"
)

// CommandRunner is an interface for executing commands and getting the output/error
type CommandRunner interface {
	RunCommand(ctx context.Context, args ...string) (string, error)
	RunCommandStderr(ctx context.Context, args ...string) (string, error)
	// RunInteractive attaches the command to the operator's terminal so it
	// can ask for passwords or host key confirmation itself.
	RunInteractive(ctx context.Context, args ...string) error
}

type DefaultCommandRunner struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

var _ CommandRunner = &DefaultCommandRunner{}

func (d *DefaultCommandRunner) RunCommand(ctx context.Context, args ...string) (string, error) {
	if len(args) == 0 {
		return "", errors.New("no command given")
	}
	logger.Debugf("Running command: %s", args)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	out, err := cmd.CombinedOutput()
	logger.Debugf("Command output: %s", string(out))
	return string(out), err
}

// RunCommandStderr runs a command and returns only the stderr output
func (d *DefaultCommandRunner) RunCommandStderr(ctx context.Context, args ...string) (string, error) {
	if len(args) == 0 {
		return "", errors.New("no command given")
	}
	logger.Debugf("Running command (stderr only): %v", args)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	cmd.Stdout = io.Discard

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start command: %w", err)
	}

	stderrBytes, err := io.ReadAll(stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read stderr: %w", err)
	}

	cmdErr := cmd.Wait()

	stderrOutput := string(stderrBytes)
	logger.Debugf("Command stderr output: %s", stderrOutput)

	return stderrOutput, cmdErr
}

func (d *DefaultCommandRunner) RunInteractive(ctx context.Context, args ...string) error {
	if len(args) == 0 {
		return errors.New("no command given")
	}
	logger.Debugf("Running interactive command: %s", strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	if d.Stdin != nil {
		cmd.Stdin = d.Stdin
	}
	if d.Stdout != nil {
		cmd.Stdout = d.Stdout
	}
	if d.Stderr != nil {
		cmd.Stderr = d.Stderr
	}
	return cmd.Run()
}

// LookPath reports whether the named executable is on PATH.
func LookPath(name string) error {
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("%s executable not found in PATH: %w", name, err)
	}
	return nil
}

type FakeCommandRunner struct {
	Output string
	ErrStr string

	mu    sync.Mutex
	Calls [][]string
}

var _ CommandRunner = &FakeCommandRunner{}

func (f *FakeCommandRunner) record(args []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, append([]string(nil), args...))
}

// LastCall returns the arguments of the most recent invocation.
func (f *FakeCommandRunner) LastCall() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Calls) == 0 {
		return nil
	}
	return f.Calls[len(f.Calls)-1]
}

func (f *FakeCommandRunner) RunCommand(_ context.Context, args ...string) (string, error) {
	f.record(args)
	if f.ErrStr != "" {
		return f.Output, errors.New(f.ErrStr)
	}
	return f.Output, nil
}

func (f *FakeCommandRunner) RunCommandStderr(_ context.Context, args ...string) (string, error) {
	f.record(args)
	if f.ErrStr != "" {
		return f.ErrStr, errors.New(f.ErrStr)
	}
	return "", nil
}

func (f *FakeCommandRunner) RunInteractive(_ context.Context, args ...string) error {
	f.record(args)
	if f.ErrStr != "" {
		return errors.New(f.ErrStr)
	}
	return nil
}
