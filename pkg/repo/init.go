package repo

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/odvcencio/grit/pkg/object"
)

// ErrRefNotFound is returned when a ref file does not exist.
var ErrRefNotFound = errors.New("ref not found")

const (
	refLockRetryDelay = 5 * time.Millisecond
	refLockWaitLimit  = 2 * time.Second

	symrefPrefix = "ref: "

	// maxSymrefDepth bounds symbolic ref chains so a cycle cannot loop forever.
	maxSymrefDepth = 5
)

// DefaultBranch is the branch HEAD points at in a fresh repository.
const DefaultBranch = "main"

// Init creates a new repository at path. It creates the .git/ directory
// structure: HEAD, config, objects/, refs/heads/ and refs/tags/. Returns an
// error if a .git/ directory already exists.
func Init(path string) (*Repo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("init: abs path: %w", err)
	}
	r := newRepo(abs)

	if _, err := os.Stat(r.GitDir); err == nil {
		return nil, fmt.Errorf("init: repository already exists at %s", r.GitDir)
	}

	dirs := []string{
		filepath.Join(r.GitDir, "objects"),
		filepath.Join(r.GitDir, "refs", "heads"),
		filepath.Join(r.GitDir, "refs", "tags"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("init: mkdir %s: %w", d, err)
		}
	}

	headPath := filepath.Join(r.GitDir, "HEAD")
	if err := os.WriteFile(headPath, []byte(symrefPrefix+"refs/heads/"+DefaultBranch+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("init: write HEAD: %w", err)
	}
	if err := r.writeCoreConfig(); err != nil {
		return nil, fmt.Errorf("init: %w", err)
	}
	return r, nil
}

// Open searches upward from path for a .git/ directory and opens the
// repository. Returns an error if no .git/ directory is found.
func Open(path string) (*Repo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("open: abs path: %w", err)
	}

	cur := abs
	for {
		info, err := os.Stat(filepath.Join(cur, ".git"))
		if err == nil && info.IsDir() {
			return newRepo(cur), nil
		}

		parent := filepath.Dir(cur)
		if parent == cur {
			return nil, fmt.Errorf("open: not a git repository (or any parent up to /)")
		}
		cur = parent
	}
}

// Head reads .git/HEAD. If HEAD is symbolic it returns the target ref name
// (e.g. "refs/heads/main"); otherwise it returns the detached id as text.
func (r *Repo) Head() (string, error) {
	data, err := os.ReadFile(filepath.Join(r.GitDir, "HEAD"))
	if err != nil {
		return "", fmt.Errorf("head: %w", err)
	}
	content := strings.TrimRight(string(data), "\n")
	return strings.TrimPrefix(content, symrefPrefix), nil
}

// ResolveRef resolves a ref name to an object id, following symbolic refs.
//
// Resolution order:
//  1. "HEAD" and names starting with "refs/" are read from .git/<name>.
//  2. Otherwise, try "refs/heads/<name>" then "refs/tags/<name>".
func (r *Repo) ResolveRef(name string) (object.Hash, error) {
	candidates := []string{name}
	if name != "HEAD" && !strings.HasPrefix(name, "refs/") {
		candidates = []string{"refs/heads/" + name, "refs/tags/" + name}
	}
	for _, c := range candidates {
		h, err := r.resolveRef(c, 0)
		if errors.Is(err, ErrRefNotFound) {
			continue
		}
		return h, err
	}
	return object.ZeroHash, fmt.Errorf("resolve ref %q: %w", name, ErrRefNotFound)
}

func (r *Repo) resolveRef(name string, depth int) (object.Hash, error) {
	if depth > maxSymrefDepth {
		return object.ZeroHash, fmt.Errorf("resolve ref %q: symbolic ref chain too deep", name)
	}
	data, err := os.ReadFile(r.refPath(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return object.ZeroHash, fmt.Errorf("resolve ref %q: %w", name, ErrRefNotFound)
		}
		return object.ZeroHash, fmt.Errorf("resolve ref %q: %w", name, err)
	}
	content := strings.TrimSpace(string(data))
	if target, ok := strings.CutPrefix(content, symrefPrefix); ok {
		return r.resolveRef(strings.TrimSpace(target), depth+1)
	}
	h, err := object.ParseHash(content)
	if err != nil {
		return object.ZeroHash, fmt.Errorf("resolve ref %q: %w", name, err)
	}
	return h, nil
}

// UpdateRef writes id to the named ref file under .git/ as "<hex>\n" using
// lockfile + rename, so readers see either the old or the new value.
// Parent directories are created as needed.
func (r *Repo) UpdateRef(name string, h object.Hash) error {
	if err := checkRefName(name); err != nil {
		return fmt.Errorf("update ref: %w", err)
	}
	if err := r.writeRefFile(name, h.String()+"\n"); err != nil {
		return fmt.Errorf("update ref %q: %w", name, err)
	}
	return nil
}

// WriteSymbolicRef points name at target, e.g. HEAD at refs/heads/main.
func (r *Repo) WriteSymbolicRef(name, target string) error {
	if err := checkRefName(name); err != nil {
		return fmt.Errorf("write symbolic ref: %w", err)
	}
	if !strings.HasPrefix(target, "refs/") {
		return fmt.Errorf("write symbolic ref %q: target %q must start with refs/", name, target)
	}
	if err := r.writeRefFile(name, symrefPrefix+target+"\n"); err != nil {
		return fmt.Errorf("write symbolic ref %q: %w", name, err)
	}
	return nil
}

func (r *Repo) refPath(name string) string {
	return filepath.Join(r.GitDir, filepath.FromSlash(name))
}

func checkRefName(name string) error {
	if name == "HEAD" {
		return nil
	}
	if !strings.HasPrefix(name, "refs/") {
		return fmt.Errorf("ref name %q must be HEAD or start with refs/", name)
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || part == "." || part == ".." || strings.HasSuffix(part, ".lock") {
			return fmt.Errorf("invalid ref name %q", name)
		}
	}
	return nil
}

func (r *Repo) writeRefFile(name, content string) error {
	refPath := r.refPath(name)
	if err := os.MkdirAll(filepath.Dir(refPath), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	lockPath := refPath + ".lock"
	lockFile, err := acquireRefLock(lockPath)
	if err != nil {
		return fmt.Errorf("lock: %w", err)
	}
	cleanupLock := true
	defer func() {
		if lockFile != nil {
			_ = lockFile.Close()
		}
		if cleanupLock {
			_ = os.Remove(lockPath)
		}
	}()

	if _, err := lockFile.WriteString(content); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := lockFile.Sync(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if err := lockFile.Close(); err != nil {
		lockFile = nil
		return fmt.Errorf("close: %w", err)
	}
	lockFile = nil

	if err := os.Rename(lockPath, refPath); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	cleanupLock = false
	return nil
}

func acquireRefLock(lockPath string) (*os.File, error) {
	deadline := time.Now().Add(refLockWaitLimit)
	for {
		f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, nil
		}
		if os.IsExist(err) {
			if time.Now().After(deadline) {
				return nil, fmt.Errorf("timeout waiting for lock %q", lockPath)
			}
			time.Sleep(refLockRetryDelay)
			continue
		}
		return nil, err
	}
}
