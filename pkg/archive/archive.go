// Package archive builds the gzip tarball that is shipped to the server.
package archive

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/klauspost/compress/gzip"

	"github.com/poputchik/deploykit/pkg/errors"
	"github.com/poputchik/deploykit/pkg/logger"
)

type Options struct {
	// ProjectDir is archived under its own base name, the way
	// `tar -czf name.tar.gz name` lays it out.
	ProjectDir string
	// OutputPath is the archive file to create. It is skipped if it lives
	// inside ProjectDir.
	OutputPath    string
	Excludes      []string
	UseIgnoreFile bool
}

// Entry is one path selected for the archive.
type Entry struct {
	// Rel is slash separated and relative to the project directory.
	Rel  string
	Abs  string
	Info fs.FileInfo
}

type Result struct {
	Path     string
	Files    []string
	Excluded []string
	Size     int64
	SHA256   string
}

// Collect walks the project and returns the entries that survive the
// exclusion rules, along with the excluded paths.
func Collect(ctx context.Context, opts Options) ([]Entry, []string, error) {
	root, err := filepath.Abs(opts.ProjectDir)
	if err != nil {
		return nil, nil, errors.New(errors.CodeIoError, "archive", "failed to resolve project directory", err)
	}
	if info, err := os.Stat(root); err != nil {
		return nil, nil, errors.New(errors.CodeFileNotFound, "archive", fmt.Sprintf("project directory %s not found", root), err)
	} else if !info.IsDir() {
		return nil, nil, errors.New(errors.CodeInvalidParameter, "archive", fmt.Sprintf("%s is not a directory", root), nil)
	}

	matcher, err := NewMatcher(root, opts.Excludes, opts.UseIgnoreFile)
	if err != nil {
		return nil, nil, errors.New(errors.CodeIoError, "archive", "failed to read "+IgnoreFileName, err)
	}

	var output string
	if opts.OutputPath != "" {
		if output, err = filepath.Abs(opts.OutputPath); err != nil {
			return nil, nil, errors.New(errors.CodeIoError, "archive", "failed to resolve output path", err)
		}
	}

	var entries []Entry
	var excluded []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil || rel == "." {
			return nil
		}
		if p == output || (output != "" && p == output+".tmp") {
			return nil
		}
		if matcher.Excluded(rel, d.IsDir()) {
			excluded = append(excluded, filepath.ToSlash(rel))
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		mode := info.Mode()
		if !mode.IsRegular() && !mode.IsDir() && mode&fs.ModeSymlink == 0 {
			logger.Debugf("Skipping irregular file %s", rel)
			return nil
		}
		entries = append(entries, Entry{Rel: filepath.ToSlash(rel), Abs: p, Info: info})
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, errors.New(errors.CodeCancelled, "archive", "archive walk cancelled", err)
		}
		return nil, nil, errors.New(errors.CodeIoError, "archive", "failed to walk project directory", err)
	}
	return entries, excluded, nil
}

// Build writes the archive to opts.OutputPath. The file is written next to
// its destination and renamed into place, so a failed run never leaves a
// truncated archive behind.
func Build(ctx context.Context, opts Options) (*Result, error) {
	if opts.OutputPath == "" {
		return nil, errors.New(errors.CodeMissingParameter, "archive", "output path is required", nil)
	}
	entries, excluded, err := Collect(ctx, opts)
	if err != nil {
		return nil, err
	}

	root, _ := filepath.Abs(opts.ProjectDir)
	prefix := filepath.Base(root)

	if err := os.MkdirAll(filepath.Dir(opts.OutputPath), 0o755); err != nil {
		return nil, errors.New(errors.CodeIoError, "archive", "failed to create archive directory", err)
	}
	tmp := opts.OutputPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.New(errors.CodeIoError, "archive", fmt.Sprintf("failed to create %s", tmp), err)
	}
	defer os.Remove(tmp)

	hash := sha256.New()
	counter := &countingWriter{w: io.MultiWriter(f, hash)}
	gz := gzip.NewWriter(counter)
	tw := tar.NewWriter(gz)

	files, werr := writeEntries(ctx, tw, prefix, root, entries)
	if werr == nil {
		werr = tw.Close()
	}
	if werr == nil {
		werr = gz.Close()
	}
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		if ctx.Err() != nil {
			return nil, errors.New(errors.CodeCancelled, "archive", "archive build cancelled", werr)
		}
		return nil, errors.New(errors.CodeIoError, "archive", "failed to write archive", werr)
	}
	if err := os.Rename(tmp, opts.OutputPath); err != nil {
		return nil, errors.New(errors.CodeIoError, "archive", "failed to move archive into place", err)
	}

	logger.Debugf("Archived %d files (%d excluded) into %s", len(files), len(excluded), opts.OutputPath)
	return &Result{
		Path:     opts.OutputPath,
		Files:    files,
		Excluded: excluded,
		Size:     counter.n,
		SHA256:   hex.EncodeToString(hash.Sum(nil)),
	}, nil
}

// writeEntries streams entries into tw and returns the regular files written.
func writeEntries(ctx context.Context, tw *tar.Writer, prefix, root string, entries []Entry) ([]string, error) {
	// The root directory entry keeps the extracted tree owned by a directory.
	rootInfo, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	hdr, err := tar.FileInfoHeader(rootInfo, "")
	if err != nil {
		return nil, err
	}
	hdr.Name = prefix + "/"
	scrubOwner(hdr)
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		link := ""
		if e.Info.Mode()&fs.ModeSymlink != 0 {
			if link, err = os.Readlink(e.Abs); err != nil {
				return nil, err
			}
		}
		hdr, err := tar.FileInfoHeader(e.Info, link)
		if err != nil {
			return nil, err
		}
		hdr.Name = path.Join(prefix, e.Rel)
		if e.Info.IsDir() {
			hdr.Name += "/"
		}
		scrubOwner(hdr)
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, err
		}
		if !e.Info.Mode().IsRegular() {
			continue
		}
		if err := copyFile(tw, e.Abs); err != nil {
			return nil, err
		}
		files = append(files, e.Rel)
	}
	return files, nil
}

func copyFile(w io.Writer, p string) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

// scrubOwner drops local uid/gid names; the server extracts as its own user.
func scrubOwner(h *tar.Header) {
	h.Uid, h.Gid = 0, 0
	h.Uname, h.Gname = "", ""
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
