package files

import (
	"fmt"
	"os"
	"path/filepath"
)

// FindUp looks for a directory entry called name in dir and then in each of dir's ancestors.
// It returns the first path found, or "" if no ancestor has such an entry.
func FindUp(name, dir string) (string, error) {
	curDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", dir, err)
	}
	for {
		path := filepath.Join(curDir, name)
		_, err := os.Stat(path)
		if err == nil {
			return path, nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("checking %q: %w", path, err)
		}
		parent := filepath.Dir(curDir)
		if parent == curDir {
			return "", nil
		}
		curDir = parent
	}
}

// ResolveDir returns dir unchanged if it is absolute or exists relative to wd.
// Otherwise it searches upward from wd for it, so the host can be started from a subdirectory.
func ResolveDir(dir, wd string) (string, error) {
	if filepath.IsAbs(dir) {
		return dir, nil
	}
	if fi, err := os.Stat(filepath.Join(wd, dir)); err == nil && fi.IsDir() {
		return filepath.Join(wd, dir), nil
	}
	found, err := FindUp(dir, wd)
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", fmt.Errorf("no directory %q in %q or its parents", dir, wd)
	}
	return found, nil
}
