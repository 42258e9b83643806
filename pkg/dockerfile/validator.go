package dockerfile

import (
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/poputchik/deploykit/pkg/errors"
)

var knownInstructions = []string{
	"FROM", "RUN", "CMD", "LABEL", "EXPOSE", "ENV", "ADD", "COPY",
	"ENTRYPOINT", "VOLUME", "USER", "WORKDIR", "ARG", "ONBUILD",
	"STOPSIGNAL", "HEALTHCHECK", "SHELL", "MAINTAINER",
}

// Validator lints Dockerfile text mechanically.
type Validator struct {
	logger zerolog.Logger
}

func NewValidator(logger zerolog.Logger) *Validator {
	return &Validator{
		logger: logger.With().Str("component", "dockerfile_validator").Logger(),
	}
}

type Finding struct {
	Line        int    `json:"line"`
	Instruction string `json:"instruction,omitempty"`
	Message     string `json:"message"`
}

type Result struct {
	Errors   []Finding `json:"errors"`
	Warnings []Finding `json:"warnings"`
}

func (r *Result) Valid() bool { return len(r.Errors) == 0 }

// Err converts the errors into a single Rich error, or nil.
func (r *Result) Err() error {
	if r.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, f := range r.Errors {
		msgs = append(msgs, fmt.Sprintf("line %d: %s", f.Line, f.Message))
	}
	return errors.New(errors.CodeDockerfileSyntaxError, "dockerfile", strings.Join(msgs, "; "), nil).
		With("errors", len(r.Errors))
}

type instruction struct {
	name string
	text string
	line int
}

// Validate checks structure (FROM first, one start command) and the
// instructions this image relies on.
func (v *Validator) Validate(content string) *Result {
	result := &Result{}
	v.logger.Debug().Msg("Starting Dockerfile validation")

	if strings.TrimSpace(content) == "" {
		result.Errors = append(result.Errors, Finding{Message: "Dockerfile is empty"})
		return result
	}

	instructions := parse(content)
	for _, in := range instructions {
		v.checkInstruction(in, result)
	}
	v.checkStructure(instructions, result)

	v.logger.Debug().
		Bool("valid", result.Valid()).
		Int("errors", len(result.Errors)).
		Int("warnings", len(result.Warnings)).
		Msg("Dockerfile validation completed")
	return result
}

// parse joins continuation lines and drops comments.
func parse(content string) []instruction {
	var out []instruction
	var current strings.Builder
	start := 0
	for i, raw := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if current.Len() == 0 {
			start = i + 1
		} else {
			current.WriteString(" ")
		}
		if strings.HasSuffix(trimmed, "\\") {
			current.WriteString(strings.TrimSpace(strings.TrimSuffix(trimmed, "\\")))
			continue
		}
		current.WriteString(trimmed)
		text := current.String()
		current.Reset()
		fields := strings.Fields(text)
		out = append(out, instruction{name: strings.ToUpper(fields[0]), text: text, line: start})
	}
	if current.Len() > 0 {
		text := current.String()
		out = append(out, instruction{name: strings.ToUpper(strings.Fields(text)[0]), text: text, line: start})
	}
	return out
}

func (v *Validator) checkInstruction(in instruction, result *Result) {
	errorf := func(format string, args ...any) {
		result.Errors = append(result.Errors, Finding{Line: in.line, Instruction: in.name, Message: fmt.Sprintf(format, args...)})
	}
	warnf := func(format string, args ...any) {
		result.Warnings = append(result.Warnings, Finding{Line: in.line, Instruction: in.name, Message: fmt.Sprintf(format, args...)})
	}
	parts := strings.Fields(in.text)

	switch in.name {
	case "FROM":
		if len(parts) < 2 {
			errorf("FROM instruction requires an image name")
			return
		}
		image := parts[1]
		if strings.HasSuffix(image, ":latest") || !strings.Contains(image, ":") && !strings.Contains(image, "@") {
			warnf("base image %s is not pinned to a version tag", image)
		}
	case "RUN":
		if len(parts) < 2 {
			errorf("RUN instruction requires a command")
			return
		}
		if strings.Contains(in.text, "apt-get install") {
			if !strings.Contains(in.text, "apt-get update") {
				warnf("apt-get install should be preceded by apt-get update in the same RUN")
			}
			if !strings.Contains(in.text, "rm -rf /var/lib/apt/lists") {
				warnf("apt lists are not cleaned up after install")
			}
		}
		if strings.Contains(in.text, "pip install") && !strings.Contains(in.text, "--no-cache-dir") {
			warnf("pip install without --no-cache-dir keeps the wheel cache in the image")
		}
	case "COPY", "ADD":
		if len(parts) < 3 {
			errorf("%s instruction requires source and destination", in.name)
			return
		}
		for _, src := range parts[1 : len(parts)-1] {
			if src == ".env" || strings.HasSuffix(src, "/.env") {
				warnf("%s copies the secrets file into the image", in.name)
			}
		}
	case "WORKDIR":
		if len(parts) < 2 {
			errorf("WORKDIR instruction requires a directory path")
			return
		}
		if !strings.HasPrefix(parts[1], "/") && !strings.HasPrefix(parts[1], "$") {
			warnf("WORKDIR should use an absolute path")
		}
	case "CMD", "ENTRYPOINT":
		if len(parts) < 2 {
			errorf("%s instruction requires a command", in.name)
		}
	default:
		if !slices.Contains(knownInstructions, in.name) {
			errorf("unknown instruction: %s", in.name)
		}
	}
}

func (v *Validator) checkStructure(instructions []instruction, result *Result) {
	if len(instructions) == 0 {
		result.Errors = append(result.Errors, Finding{Message: "Dockerfile contains no instructions"})
		return
	}

	// Only ARG may precede the first FROM.
	for _, in := range instructions {
		if in.name == "ARG" {
			continue
		}
		if in.name != "FROM" {
			result.Errors = append(result.Errors, Finding{Line: in.line, Instruction: in.name, Message: "Dockerfile must start with FROM instruction"})
		}
		break
	}

	starts := 0
	for _, in := range instructions {
		if in.name == "CMD" || in.name == "ENTRYPOINT" {
			starts++
		}
	}
	if starts == 0 {
		result.Errors = append(result.Errors, Finding{Message: "no CMD or ENTRYPOINT; the container would not start the bot"})
	}
	cmds := 0
	for _, in := range instructions {
		if in.name == "CMD" {
			cmds++
		}
	}
	if cmds > 1 {
		result.Warnings = append(result.Warnings, Finding{Instruction: "CMD", Message: "multiple CMD instructions found, only the last one is effective"})
	}
}
