package lifecycle

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// Layout names the directory for each role in the pipeline.
type Layout struct {
	// Pending holds extracts awaiting processing, including re-queued tiles.
	Pending string
	// Buffer receives in-progress crops. Only workers write here.
	Buffer string
	// Completed holds finished extracts and the live index document.
	Completed string
	// Done receives source extracts once every tile cut from them is settled.
	Done string
	// Archive receives superseded index documents.
	Archive string
}

// WithDefaults fills Archive from Completed when unset.
func (l Layout) WithDefaults() Layout {
	if l.Archive == "" && l.Completed != "" {
		l.Archive = filepath.Join(l.Completed, "archive")
	}

	return l
}

// Validate checks that every role has a directory and no two roles share one.
func (l Layout) Validate() error {
	roles := []struct{ name, dir string }{
		{"pending", l.Pending},
		{"buffer", l.Buffer},
		{"completed", l.Completed},
		{"done", l.Done},
		{"archive", l.Archive},
	}

	seen := make(map[string]string, len(roles))

	for _, role := range roles {
		if role.dir == "" {
			return fmt.Errorf("%w: %s directory is not set", ErrInvalidLayout, role.name)
		}

		clean := filepath.Clean(role.dir)
		if other, dup := seen[clean]; dup {
			return fmt.Errorf("%w: %s and %s share %s", ErrInvalidLayout, other, role.name, clean)
		}

		seen[clean] = role.name
	}

	return nil
}

// Ensure creates every directory.
func (l Layout) Ensure() error {
	for _, dir := range []string{l.Pending, l.Buffer, l.Completed, l.Done, l.Archive} {
		err := os.MkdirAll(dir, dirPerm)
		if err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	return nil
}

// listFiles returns the regular, non-hidden files in dir sorted by name.
// Hidden files cover temporaries left by atomic writes.
func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	var files []string

	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		files = append(files, filepath.Join(dir, entry.Name()))
	}

	slices.Sort(files)

	return files, nil
}

// purge removes every entry in dir.
func purge(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("%w: list %s: %w", ErrFileMoveFailed, dir, err)
	}

	for _, entry := range entries {
		removeErr := os.RemoveAll(filepath.Join(dir, entry.Name()))
		if removeErr != nil {
			return 0, fmt.Errorf("%w: %w", ErrFileMoveFailed, removeErr)
		}
	}

	return len(entries), nil
}

// moveFile renames src into dir, falling back to copy and delete across
// file systems.
func moveFile(src, dir string) (string, error) {
	dst := filepath.Join(dir, filepath.Base(src))

	err := os.Rename(src, dst)
	if err == nil {
		return dst, nil
	}

	if !errors.Is(err, syscall.EXDEV) {
		return "", fmt.Errorf("%w: move %s: %w", ErrFileMoveFailed, src, err)
	}

	_, err = copyFile(src, dir)
	if err != nil {
		return "", err
	}

	removeErr := os.Remove(src)
	if removeErr != nil {
		return "", fmt.Errorf("%w: remove %s: %w", ErrFileMoveFailed, src, removeErr)
	}

	return dst, nil
}

// copyFile copies src into dir. The copy is written under a hidden temporary
// name and renamed into place, so readers never observe a partial file.
func copyFile(src, dir string) (string, error) {
	dst := filepath.Join(dir, filepath.Base(src))

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %w", ErrFileMoveFailed, src, err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(src)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("%w: copy %s: %w", ErrFileMoveFailed, src, err)
	}

	tmpPath := tmp.Name()

	_, copyErr := io.Copy(tmp, in)
	closeErr := tmp.Close()

	err = errors.Join(copyErr, closeErr)
	if err == nil {
		err = os.Chmod(tmpPath, filePerm)
	}

	if err == nil {
		err = os.Rename(tmpPath, dst)
	}

	if err != nil {
		os.Remove(tmpPath)

		return "", fmt.Errorf("%w: copy %s: %w", ErrFileMoveFailed, src, err)
	}

	return dst, nil
}

func removeFile(path string) error {
	err := os.Remove(path)
	if err != nil {
		return fmt.Errorf("%w: delete %s: %w", ErrFileMoveFailed, path, err)
	}

	return nil
}
