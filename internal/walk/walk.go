// Package walk discovers scanner artifacts in a directory tree.
package walk

import (
	"context"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/CZERTAINLY/recon-relay/internal/model"
)

// Artifact is a regular file recognized as a scanner output.
type Artifact struct {
	Scanner model.Scanner
	Path    string // prefixed by the name of a filesystem
}

// Detect returns the scanner producing files with a given name. The
// second value is false for files which are not scanner artifacts.
func Detect(name string) (model.Scanner, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xml":
		return model.ScannerNmap, true
	case ".json":
		return model.ScannerFscan, true
	case ".txt", ".log":
		return model.ScannerText, true
	default:
		return "", false
	}
}

// Dirs is a convenience wrapper around FS for directories on a disk.
func Dirs(ctx context.Context, dirs ...string) iter.Seq2[Artifact, error] {
	return func(yield func(Artifact, error) bool) {
		for _, dir := range dirs {
			for a, err := range FS(ctx, os.DirFS(dir), dir) {
				if !yield(a, err) {
					return
				}
			}
		}
	}
}

// FS recursively walks the filesystem rooted at root and returns an Artifact
// for every regular file Detect recognizes, or an error if file information
// retrieval fails. It does not follow symlinks. Files are yielded in lexical
// order.
func FS(ctx context.Context, root fs.FS, name string) iter.Seq2[Artifact, error] {
	if root == nil {
		slog.WarnContext(ctx, "root is nil: not iterating")
		return func(func(Artifact, error) bool) {}
	}

	return func(yield func(Artifact, error) bool) {
		fn := func(path string, d fs.DirEntry, err error) error {
			if ctx.Err() != nil {
				return fs.SkipAll
			}
			if err != nil {
				if !yield(Artifact{Path: filepath.Join(name, path)}, err) {
					return fs.SkipAll
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				if !yield(Artifact{Path: filepath.Join(name, path)}, err) {
					return fs.SkipAll
				}
				return nil
			}
			if !info.Mode().IsRegular() {
				return nil
			}
			scanner, ok := Detect(path)
			if !ok {
				slog.DebugContext(ctx, "skipping file", "path", filepath.Join(name, path))
				return nil
			}
			if !yield(Artifact{Scanner: scanner, Path: filepath.Join(name, path)}, nil) {
				return fs.SkipAll
			}
			return nil
		}
		_ = fs.WalkDir(root, ".", fn)
	}
}
