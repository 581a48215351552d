package repo

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/odvcencio/grit/pkg/object"
)

// CheckoutStats counts what CheckoutTree wrote.
type CheckoutStats struct {
	Files    int
	Dirs     int
	Symlinks int
	Gitlinks int
}

// CheckoutTree materialises the tree treeID into dir: subtrees become
// directories, blobs become files with 0644 or 0755 permissions, symlink
// entries become symlinks and gitlinks become empty directories. Existing
// files at the same paths are overwritten; nothing else is removed.
func (r *Repo) CheckoutTree(treeID object.Hash, dir string) (CheckoutStats, error) {
	var stats CheckoutStats
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return stats, fmt.Errorf("checkout: mkdir %q: %w", dir, err)
	}
	if err := r.checkoutTreeRec(treeID, dir, "", &stats); err != nil {
		return stats, fmt.Errorf("checkout: %w", err)
	}
	return stats, nil
}

// CheckoutCommit checks out the tree of commit commitID into the working
// directory.
func (r *Repo) CheckoutCommit(commitID object.Hash) (CheckoutStats, error) {
	c, err := r.Store.ReadCommit(commitID)
	if err != nil {
		return CheckoutStats{}, fmt.Errorf("checkout: cannot read commit %s: %w", commitID, err)
	}
	return r.CheckoutTree(c.TreeHash, r.RootDir)
}

func (r *Repo) checkoutTreeRec(treeID object.Hash, absDir, rel string, stats *CheckoutStats) error {
	tree, err := r.Store.ReadTree(treeID)
	if err != nil {
		return fmt.Errorf("read tree %s: %w", treeID, err)
	}

	for _, entry := range tree.Entries {
		if err := checkEntryName(entry.Name); err != nil {
			return err
		}
		absPath := filepath.Join(absDir, entry.Name)
		relPath := entry.Name
		if rel != "" {
			relPath = rel + "/" + entry.Name
		}

		switch entry.Mode {
		case object.TreeModeDir:
			if err := os.MkdirAll(absPath, 0o755); err != nil {
				return fmt.Errorf("mkdir %q: %w", relPath, err)
			}
			stats.Dirs++
			if err := r.checkoutTreeRec(entry.Hash, absPath, relPath, stats); err != nil {
				return err
			}
		case object.TreeModeGitlink:
			if err := os.MkdirAll(absPath, 0o755); err != nil {
				return fmt.Errorf("mkdir %q: %w", relPath, err)
			}
			stats.Gitlinks++
		case object.TreeModeSymlink:
			target, err := r.Store.ReadBlob(entry.Hash)
			if err != nil {
				return fmt.Errorf("read blob for %q: %w", relPath, err)
			}
			if err := removeIfExists(absPath); err != nil {
				return fmt.Errorf("replace %q: %w", relPath, err)
			}
			if err := os.Symlink(filepath.FromSlash(string(target)), absPath); err != nil {
				return fmt.Errorf("symlink %q: %w", relPath, err)
			}
			stats.Symlinks++
		default:
			data, err := r.Store.ReadBlob(entry.Hash)
			if err != nil {
				return fmt.Errorf("read blob for %q: %w", relPath, err)
			}
			if err := writeWorktreeFile(absPath, data, filePermFromMode(entry.Mode)); err != nil {
				return fmt.Errorf("write %q: %w", relPath, err)
			}
			stats.Files++
		}
	}
	return nil
}

// checkEntryName rejects names that would escape the checkout directory or
// write into repository metadata.
func checkEntryName(name string) error {
	if name == "" || name == "." || name == ".." || strings.EqualFold(name, ".git") ||
		strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("refusing to check out tree entry %q", name)
	}
	return nil
}

func writeWorktreeFile(absPath string, data []byte, perm os.FileMode) error {
	if err := removeIfExists(absPath); err != nil {
		return err
	}
	if err := os.WriteFile(absPath, data, perm); err != nil {
		return err
	}
	// WriteFile is subject to the umask; the tree mode is authoritative.
	return os.Chmod(absPath, perm)
}

func removeIfExists(absPath string) error {
	info, err := os.Lstat(absPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", absPath)
	}
	return os.Remove(absPath)
}
