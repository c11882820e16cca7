// Package localfs performs the local filesystem writes vaultsync makes:
// atomic replacement of a file and timestamped backups before overwrite.
//
// Writes go to a temporary file in the destination directory, are synced,
// chmod-ed and then renamed over the target, so a reader sees either the old
// or the new content and never a partial file.
package localfs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// BackupTimeFormat is the timestamp layout used in backup file names.
const BackupTimeFormat = "20060102-150405"

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, path[2:]), nil
}

// ContractHome is the inverse of ExpandHome, used when recording paths.
func ContractHome(path string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	if path == home {
		return "~"
	}
	if rel, ok := strings.CutPrefix(path, home+string(filepath.Separator)); ok {
		return "~/" + filepath.ToSlash(rel)
	}
	return path
}

// EnsureDir creates dir with perm if it is missing. An existing directory
// keeps its mode unless it is more open than perm.
func EnsureDir(dir string, perm os.FileMode) error {
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(dir, perm); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
		return os.Chmod(dir, perm)
	case err != nil:
		return fmt.Errorf("stat %s: %w", dir, err)
	case !info.IsDir():
		return fmt.Errorf("%s exists and is not a directory", dir)
	}
	if info.Mode().Perm()&^perm != 0 {
		return os.Chmod(dir, info.Mode().Perm()&perm)
	}
	return nil
}

// EnsurePrivateDir is EnsureDir for the directory that holds a secret file.
// The home directory itself is never tightened.
func EnsurePrivateDir(dir string, perm os.FileMode) error {
	if home, err := os.UserHomeDir(); err == nil && filepath.Clean(dir) == filepath.Clean(home) {
		return nil
	}
	return EnsureDir(dir, perm)
}

// WriteFileAtomic replaces path with data and mode perm. The parent
// directory is created with dirPerm when missing; an existing one is left
// as it is (see EnsurePrivateDir).
func WriteFileAtomic(path string, data []byte, perm, dirPerm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		if err := EnsureDir(dir, dirPerm); err != nil {
			return err
		}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = tmp.Chmod(perm); err != nil {
		return fmt.Errorf("chmod temp file for %s: %w", path, err)
	}
	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// Backup copies path to path.bak-YYYYMMDD-HHMMSS (with a numeric suffix on
// collision) and returns the backup path. A missing path is not an error and
// returns "".
func Backup(path string, now time.Time) (string, error) {
	src, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("open %s for backup: %w", path, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return "", err
	}

	base := path + ".bak-" + now.Format(BackupTimeFormat)
	var dst *os.File
	var dstPath string
	for i := 0; ; i++ {
		dstPath = base
		if i > 0 {
			dstPath = fmt.Sprintf("%s.%d", base, i)
		}
		dst, err = os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrExist) || i > 100 {
			return "", fmt.Errorf("create backup of %s: %w", path, err)
		}
	}

	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(dstPath)
		return "", fmt.Errorf("copy backup of %s: %w", path, err)
	}
	if err := dst.Close(); err != nil {
		return "", err
	}
	return dstPath, nil
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ReadFileIfExists returns the content of path, or ok=false if it does not
// exist.
func ReadFileIfExists(path string) (data []byte, ok bool, err error) {
	data, err = os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}
