package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"sparkie/internal/domain"
)

// Sandbox confines file operations to one directory tree.
type Sandbox struct {
	root string // absolute, symlink-free
}

// NewSandbox creates a sandbox rooted at root. When create is set a missing
// root directory is created first.
func NewSandbox(root string, create bool) (*Sandbox, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root: %w", err)
	}
	if create {
		if err := os.MkdirAll(abs, 0o750); err != nil {
			return nil, fmt.Errorf("create sandbox root: %w", err)
		}
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("eval symlinks for sandbox root: %w", err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("stat sandbox root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("sandbox root %q is not a directory", resolved)
	}
	return &Sandbox{root: resolved}, nil
}

// Root returns the sandbox root directory.
func (s *Sandbox) Root() string { return s.root }

// Resolve maps a path relative to the root (absolute paths are taken as is)
// to a real path inside the sandbox. Symlinks are followed before the check,
// so a link pointing outside is rejected. A path that does not exist yet is
// checked through its nearest existing ancestor.
func (s *Sandbox) Resolve(path string) (string, error) {
	if path == "" || path == "." {
		return s.root, nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.root, path)
	}
	abs := filepath.Clean(path)

	resolved, err := resolveExisting(abs)
	if err != nil {
		return "", domain.NewDomainError("Sandbox.Resolve", domain.ErrPathOutsideSandbox, err.Error())
	}
	if !s.contains(resolved) {
		return "", domain.NewDomainError("Sandbox.Resolve", domain.ErrPathOutsideSandbox,
			fmt.Sprintf("%q resolves outside the sandbox", path))
	}
	return resolved, nil
}

// Rel returns resolved relative to the root, for display.
func (s *Sandbox) Rel(resolved string) string {
	rel, err := filepath.Rel(s.root, resolved)
	if err != nil {
		return resolved
	}
	return filepath.ToSlash(rel)
}

func (s *Sandbox) contains(path string) bool {
	return path == s.root || strings.HasPrefix(path, s.root+string(os.PathSeparator))
}

// resolveExisting evaluates symlinks in the longest existing prefix of path
// and re-attaches the missing tail.
func resolveExisting(path string) (string, error) {
	var tail []string
	cur := path
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			parts := append([]string{resolved}, tail...)
			return filepath.Join(parts...), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", err
		}
		tail = append([]string{filepath.Base(cur)}, tail...)
		cur = parent
	}
}
