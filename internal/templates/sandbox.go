package templates

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Sandbox confines notice override files to one directory.
type Sandbox struct {
	root string
}

// NewSandbox roots a sandbox at dir, which must exist.
func NewSandbox(dir string) (*Sandbox, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("templates: sandbox root required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("templates: resolve root: %w", err)
	}
	abs, err = filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("templates: eval root symlinks: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("templates: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("templates: root %q is not a directory", abs)
	}
	return &Sandbox{root: abs}, nil
}

func (s *Sandbox) Root() string { return s.root }

// Resolve maps path to a location inside the root, following symlinks.
// Relative paths are taken from the root.
func (s *Sandbox) Resolve(path string) (string, error) {
	if s == nil {
		return "", errors.New("templates: sandbox is nil")
	}
	cleaned := filepath.Clean(path)
	if cleaned == "." || cleaned == "" {
		return s.root, nil
	}
	if !filepath.IsAbs(cleaned) {
		cleaned = filepath.Join(s.root, cleaned)
	}
	evaluated, err := filepath.EvalSymlinks(cleaned)
	if err != nil {
		// A missing target must still not look like it lives outside the root.
		if errors.Is(err, os.ErrNotExist) && !s.contains(cleaned) {
			return "", fmt.Errorf("templates: path %q escapes sandbox", path)
		}
		return "", fmt.Errorf("templates: resolve %q: %w", path, err)
	}
	if !s.contains(evaluated) {
		return "", fmt.Errorf("templates: path %q escapes sandbox", path)
	}
	return evaluated, nil
}

// Exists reports whether name resolves to a regular file inside the root.
func (s *Sandbox) Exists(name string) bool {
	resolved, err := s.Resolve(name)
	if err != nil {
		return false
	}
	info, err := os.Stat(resolved)
	return err == nil && info.Mode().IsRegular()
}

func (s *Sandbox) contains(candidate string) bool {
	root := s.root
	if runtime.GOOS == "windows" {
		root = strings.ToLower(root)
		candidate = strings.ToLower(candidate)
	}
	if root == candidate {
		return true
	}
	if !strings.HasSuffix(root, string(os.PathSeparator)) {
		root += string(os.PathSeparator)
	}
	return strings.HasPrefix(candidate, root)
}
