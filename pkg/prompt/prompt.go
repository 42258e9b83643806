// Package prompt asks the operator for the values the upload needs.
package prompt

import (
	"bufio"
	stderrors "errors"
	"fmt"
	"io"
	"strings"

	"github.com/manifoldco/promptui"

	"github.com/poputchik/deploykit/pkg/errors"
)

type Question struct {
	Label    string
	Default  string
	Validate func(string) error
}

type Prompter interface {
	Ask(q Question) (string, error)
}

// Terminal prompts with promptui; used when stdin is a TTY.
type Terminal struct {
	Stdin  io.ReadCloser
	Stdout io.WriteCloser
}

var _ Prompter = &Terminal{}

func (t *Terminal) Ask(q Question) (string, error) {
	p := promptui.Prompt{
		Label:   q.Label,
		Default: q.Default,
		Stdin:   t.Stdin,
		Stdout:  t.Stdout,
	}
	if q.Validate != nil {
		p.Validate = promptui.ValidateFunc(q.Validate)
	}
	answer, err := p.Run()
	if err != nil {
		if stderrors.Is(err, promptui.ErrInterrupt) || stderrors.Is(err, promptui.ErrEOF) || stderrors.Is(err, promptui.ErrAbort) {
			return "", errors.New(errors.CodeCancelled, "prompt", fmt.Sprintf("%s: aborted", q.Label), err)
		}
		return "", errors.New(errors.CodeIoError, "prompt", fmt.Sprintf("%s: failed to read answer", q.Label), err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		answer = q.Default
	}
	return answer, nil
}

// Lines reads one answer per line. It serves piped stdin and tests, where
// promptui's raw terminal mode is unavailable.
type Lines struct {
	in  *bufio.Reader
	out io.Writer
}

var _ Prompter = &Lines{}

func NewLines(in io.Reader, out io.Writer) *Lines {
	return &Lines{in: bufio.NewReader(in), out: out}
}

func (l *Lines) Ask(q Question) (string, error) {
	if q.Default != "" {
		fmt.Fprintf(l.out, "%s [%s]: ", q.Label, q.Default)
	} else {
		fmt.Fprintf(l.out, "%s: ", q.Label)
	}
	line, err := l.in.ReadString('\n')
	switch {
	case err == nil:
	case stderrors.Is(err, io.EOF):
		// Closed input takes the default like an empty answer does.
		if line == "" && q.Default == "" {
			return "", errors.New(errors.CodeCancelled, "prompt", fmt.Sprintf("%s: no answer", q.Label), err)
		}
	default:
		return "", errors.New(errors.CodeIoError, "prompt", fmt.Sprintf("%s: failed to read answer", q.Label), err)
	}
	answer := strings.TrimSpace(line)
	if answer == "" {
		answer = q.Default
	}
	if q.Validate != nil {
		if err := q.Validate(answer); err != nil {
			return "", errors.New(errors.CodeInvalidParameter, "prompt", fmt.Sprintf("%s: %v", q.Label, err), err)
		}
	}
	return answer, nil
}

// Fixed answers from a map keyed by label; unknown labels get the default.
type Fixed map[string]string

var _ Prompter = Fixed{}

func (f Fixed) Ask(q Question) (string, error) {
	answer, ok := f[q.Label]
	if !ok || answer == "" {
		answer = q.Default
	}
	if q.Validate != nil {
		if err := q.Validate(answer); err != nil {
			return "", errors.New(errors.CodeInvalidParameter, "prompt", fmt.Sprintf("%s: %v", q.Label, err), err)
		}
	}
	return answer, nil
}
