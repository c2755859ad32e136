// Package workspace manages filesystem scopes for agents: scoped working-
// directory acquisition that restores the previous directory on every exit
// path, a process-wide git-root cache, and the agent directory layout.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrNotARepository reports that no enclosing git repository was found.
var ErrNotARepository = errors.New("workspace: not inside a git repository")

// gitRoots caches workingDir → gitRoot process-wide. Repository roots do not
// move while the process runs.
var gitRoots sync.Map

// WithDirectory runs fn with the process working directory set to dir. The
// previous working directory is restored on all exit paths, including panics,
// so nested operations never leak cwd.
func WithDirectory(dir string, fn func() error) (err error) {
	prev, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("workspace: read working directory: %w", err)
	}
	if err := os.Chdir(dir); err != nil {
		return fmt.Errorf("workspace: enter %s: %w", dir, err)
	}
	defer func() {
		if restoreErr := os.Chdir(prev); restoreErr != nil && err == nil {
			err = fmt.Errorf("workspace: restore %s: %w", prev, restoreErr)
		}
	}()
	return fn()
}

// GitRoot returns the root of the git repository containing dir, walking up
// until a .git entry is found. Results are cached process-wide.
func GitRoot(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("workspace: resolve %s: %w", dir, err)
	}
	if cached, ok := gitRoots.Load(abs); ok {
		return cached.(string), nil
	}
	current := abs
	for {
		if _, err := os.Stat(filepath.Join(current, ".git")); err == nil {
			gitRoots.Store(abs, current)
			return current, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("%w: %s", ErrNotARepository, abs)
		}
		current = parent
	}
}

// EnsureDir creates dir (and parents) when absent and returns it.
func EnsureDir(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("workspace: create %s: %w", dir, err)
	}
	return dir, nil
}
