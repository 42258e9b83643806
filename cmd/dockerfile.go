package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/poputchik/deploykit/pkg/archive"
	"github.com/poputchik/deploykit/pkg/config"
	"github.com/poputchik/deploykit/pkg/dockerfile"
	"github.com/poputchik/deploykit/pkg/errors"
	"github.com/poputchik/deploykit/pkg/logger"
)

func imageSpec(cfg *config.Config) dockerfile.Spec {
	return dockerfile.Spec{
		BaseImage:      cfg.Image.BaseImage,
		SystemPackages: cfg.Image.SystemPackages,
		Requirements:   cfg.Image.Requirements,
		WorkDir:        cfg.Image.WorkDir,
		Command:        cfg.Image.Command,
		Env:            cfg.Image.Env,
	}
}

// writeDockerfile renders the Dockerfile and a .dockerignore that mirrors the
// archive excludes into projectDir.
func writeDockerfile(cfg *config.Config, projectDir string, overwrite bool) error {
	matcher, err := archive.NewMatcher(projectDir, cfg.ExtraExcludes, true)
	if err != nil {
		return errors.New(errors.CodeIoError, "cmd", "failed to read exclude patterns", err)
	}
	if _, err := dockerfile.Write(projectDir, imageSpec(cfg), matcher.Patterns(), overwrite); err != nil {
		return err
	}
	logger.Infof("Wrote %s and %s in %s", dockerfile.DockerfileName, dockerfile.DockerignoreName, projectDir)
	return nil
}

func newDockerfileCmd(root *rootOptions) *cobra.Command {
	var force, stdout bool
	cmd := &cobra.Command{
		Use:   "dockerfile",
		Short: "Render the bot's Dockerfile and .dockerignore",
		Long: `The dockerfile command writes a Dockerfile that installs the compiler and
PostgreSQL client packages, installs requirements.txt, copies the project and
starts the bot, plus a .dockerignore with the same excludes as the upload archive.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load(cmd)
			if err != nil {
				return err
			}
			if stdout {
				content, err := dockerfile.Render(imageSpec(cfg))
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), content)
				return nil
			}
			projectDir, _, _, err := cfg.ResolveProject()
			if err != nil {
				return err
			}
			return writeDockerfile(cfg, projectDir, force)
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing Dockerfile")
	cmd.Flags().BoolVar(&stdout, "stdout", false, "print the Dockerfile instead of writing files")
	return cmd
}

func newBuildCmd(root *rootOptions) *cobra.Command {
	var (
		tag  string
		push bool
	)
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Validate the Dockerfile and build the bot image",
		Long: `The build command renders a Dockerfile when the project has none, lints it
and runs docker build with the project as context.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("tag") {
				cfg.Image.Tag = tag
			}
			if strings.TrimSpace(cfg.Image.Tag) == "" {
				return errors.New(errors.CodeMissingParameter, "cmd", "image tag is required", nil)
			}
			if err := root.requireTool("docker"); err != nil {
				return err
			}
			projectDir, _, _, err := cfg.ResolveProject()
			if err != nil {
				return err
			}

			dockerfilePath := filepath.Join(projectDir, dockerfile.DockerfileName)
			if _, err := os.Stat(dockerfilePath); os.IsNotExist(err) {
				logger.Infof("No Dockerfile in %s, rendering one", projectDir)
				if err := writeDockerfile(cfg, projectDir, false); err != nil {
					return err
				}
			}
			content, err := os.ReadFile(dockerfilePath)
			if err != nil {
				return errors.New(errors.CodeIoError, "cmd", fmt.Sprintf("failed to read %s", dockerfilePath), err)
			}

			result := dockerfile.NewValidator(logger.Component("build")).Validate(string(content))
			for _, w := range result.Warnings {
				logger.Warnf("Dockerfile line %d: %s", w.Line, w.Message)
			}
			if err := result.Err(); err != nil {
				return err
			}

			ctx, cancel := root.context(cmd, cfg)
			defer cancel()
			c := root.initClients(cmd)

			logger.Infof("Building %s", cfg.Image.Tag)
			if _, err := c.Docker.Build(ctx, dockerfilePath, cfg.Image.Tag, projectDir); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Built %s\n", cfg.Image.Tag)

			if push {
				logger.Infof("Pushing %s", cfg.Image.Tag)
				if _, err := c.Docker.Push(ctx, cfg.Image.Tag); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Pushed %s\n", cfg.Image.Tag)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tag, "tag", "", "image tag (default poputchikbot:latest)")
	cmd.Flags().BoolVar(&push, "push", false, "push the image after a successful build")
	return cmd
}
