// Package dockerfile renders the container image description of the bot.
package dockerfile

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"github.com/poputchik/deploykit/pkg/errors"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

const (
	DockerfileName   = "Dockerfile"
	DockerignoreName = ".dockerignore"
)

// Spec is what the image needs: OS packages, Python requirements, the
// application files and the start command.
type Spec struct {
	BaseImage      string
	SystemPackages []string
	Requirements   string
	WorkDir        string
	Command        []string
	Env            map[string]string
}

func DefaultSpec() Spec {
	return Spec{
		BaseImage:      "python:3.11-slim",
		SystemPackages: []string{"gcc", "libpq-dev"},
		Requirements:   "requirements.txt",
		WorkDir:        "/app",
		Command:        []string{"python", "bot.py"},
		Env:            map[string]string{"PYTHONUNBUFFERED": "1"},
	}
}

func (s Spec) Validate() error {
	invalid := func(msg string) error {
		return errors.New(errors.CodeValidationFailed, "dockerfile", msg, nil)
	}
	if strings.TrimSpace(s.BaseImage) == "" || strings.ContainsAny(s.BaseImage, " \n") {
		return invalid("base image is required and must not contain spaces")
	}
	if strings.TrimSpace(s.Requirements) == "" || path.IsAbs(s.Requirements) {
		return invalid("requirements file must be a path relative to the project")
	}
	if !path.IsAbs(s.WorkDir) {
		return invalid("workdir must be absolute")
	}
	if len(s.Command) == 0 {
		return invalid("command is required")
	}
	for _, p := range s.SystemPackages {
		if p == "" || strings.ContainsAny(p, " \n;&|") {
			return invalid(fmt.Sprintf("invalid system package %q", p))
		}
	}
	for k := range s.Env {
		if k == "" || strings.ContainsAny(k, " =\n") {
			return invalid(fmt.Sprintf("invalid env name %q", k))
		}
	}
	return nil
}

// funcs extends the sprig text functions.
var funcs = template.FuncMap{
	"execForm": func(args []string) (string, error) {
		b, err := json.Marshal(args)
		return string(b), err
	},
}

func render(name string, data any) (string, error) {
	tmpl, err := template.New(name).Funcs(sprig.TxtFuncMap()).Funcs(funcs).ParseFS(templateFS, "templates/"+name)
	if err != nil {
		return "", errors.New(errors.CodeInternalError, "dockerfile", fmt.Sprintf("failed to parse template %s", name), err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", errors.New(errors.CodeInternalError, "dockerfile", fmt.Sprintf("failed to render template %s", name), err)
	}
	return buf.String(), nil
}

// Render returns Dockerfile text for spec.
func Render(spec Spec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}
	return render("Dockerfile.tmpl", spec)
}

// RenderIgnore returns .dockerignore text that keeps the same paths out of
// the build context as the upload archive keeps out of the tarball.
func RenderIgnore(patterns []string) (string, error) {
	converted := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p = dockerPattern(p); p != "" {
			converted = append(converted, p)
		}
	}
	return render("dockerignore.tmpl", struct{ Patterns []string }{converted})
}

// dockerPattern rewrites a gitignore line for .dockerignore. Docker anchors
// every pattern at the context root, while gitignore matches a pattern
// without an inner slash at any depth, so those get a **/ prefix.
func dockerPattern(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || strings.HasPrefix(p, "#") {
		return ""
	}
	negate := ""
	if strings.HasPrefix(p, "!") {
		negate, p = "!", p[1:]
	}
	switch {
	case strings.HasPrefix(p, "/"):
		p = strings.TrimPrefix(p, "/")
	case strings.HasPrefix(p, "**/"):
	case !strings.Contains(strings.TrimSuffix(p, "/"), "/"):
		p = "**/" + p
	}
	return negate + p
}

// Write renders both files into dir. An existing Dockerfile is kept unless
// overwrite is set; the returned bool reports whether files were written.
func Write(dir string, spec Spec, ignorePatterns []string, overwrite bool) (bool, error) {
	dockerfilePath := filepath.Join(dir, DockerfileName)
	if !overwrite {
		if _, err := os.Stat(dockerfilePath); err == nil {
			return false, errors.New(errors.CodeAlreadyExists, "dockerfile", fmt.Sprintf("%s already exists", dockerfilePath), nil)
		}
	}

	content, err := Render(spec)
	if err != nil {
		return false, err
	}
	ignore, err := RenderIgnore(ignorePatterns)
	if err != nil {
		return false, err
	}

	files := map[string]string{
		dockerfilePath:                       content,
		filepath.Join(dir, DockerignoreName): ignore,
	}
	for p, data := range files {
		if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
			return false, errors.New(errors.CodeIoError, "dockerfile", fmt.Sprintf("writing file %q", p), err)
		}
	}
	return true, nil
}
