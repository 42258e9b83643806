package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/poputchik/deploykit/pkg/archive"
	"github.com/poputchik/deploykit/pkg/filetree"
)

func newArchiveCmd(root *rootOptions) *cobra.Command {
	var (
		list       bool
		depth      int
		archiveDir string
		excludes   []string
	)
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Build the upload archive without copying it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("archive-dir") {
				cfg.ArchiveDir = archiveDir
			}
			cfg.ExtraExcludes = append(cfg.ExtraExcludes, excludes...)

			projectDir, outDir, name, err := cfg.ResolveProject()
			if err != nil {
				return err
			}
			ctx, cancel := root.context(cmd, cfg)
			defer cancel()

			opts := archive.Options{
				ProjectDir:    projectDir,
				OutputPath:    filepath.Join(outDir, name),
				Excludes:      cfg.ExtraExcludes,
				UseIgnoreFile: true,
			}
			out := cmd.OutOrStdout()

			if list {
				entries, excluded, err := archive.Collect(ctx, opts)
				if err != nil {
					return err
				}
				var files []string
				for _, e := range entries {
					if e.Info.Mode().IsRegular() {
						files = append(files, e.Rel)
					}
				}
				fmt.Fprint(out, filetree.FromPaths(filepath.Base(projectDir), files, depth))
				fmt.Fprintf(out, "%d files, %d paths excluded\n", len(files), len(excluded))
				return nil
			}

			result, err := archive.Build(ctx, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s\n  files:  %d (%d excluded)\n  size:   %s\n  sha256: %s\n",
				result.Path, len(result.Files), len(result.Excluded), humanize.IBytes(uint64(result.Size)), result.SHA256)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&list, "list", "l", false, "print the files that would be archived and exit")
	cmd.Flags().IntVar(&depth, "depth", -1, "limit --list output depth (-1 for unlimited)")
	cmd.Flags().StringVar(&archiveDir, "archive-dir", "", "where to write the archive (default the project's parent directory)")
	cmd.Flags().StringSliceVar(&excludes, "exclude", nil, "extra gitignore-style exclude patterns")
	return cmd
}
