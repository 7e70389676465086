// Package fsutil provides small filesystem helpers shared by the template
// and project managers.
package fsutil

import (
	"io"
	"os"
	"path/filepath"

	"github.com/gravitational/trace"
)

// CopyTree recursively copies src to dst, preserving file modes. dst is
// created if it does not exist. Used for "cp -R" style template cloning
// (spec §4.E).
func CopyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return trace.Wrap(err)
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return trace.Wrap(err)
		}
		target := filepath.Join(dst, rel)

		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		if info.Mode()&os.ModeSymlink != 0 {
			link, err := os.Readlink(path)
			if err != nil {
				return trace.Wrap(err)
			}
			return os.Symlink(link, target)
		}
		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return trace.Wrap(err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return trace.Wrap(err)
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return trace.Wrap(err)
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return trace.Wrap(err)
}

// CountFiles walks dir and counts every non-directory entry (symlinks
// included, not followed), skipping the given
// directory names entirely (spec §4.I getStatus.fileCount).
func CountFiles(dir string, skipDirs ...string) (int, error) {
	skip := make(map[string]bool, len(skipDirs))
	for _, d := range skipDirs {
		skip[d] = true
	}

	count := 0
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return trace.Wrap(err)
		}
		if info.IsDir() {
			if path != dir && skip[info.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		count++
		return nil
	})
	return count, trace.Wrap(err)
}
