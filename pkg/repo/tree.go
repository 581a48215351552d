package repo

import (
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/odvcencio/grit/pkg/object"
)

// WriteTree snapshots the working directory into tree objects and returns
// the root tree id.
func (r *Repo) WriteTree() (object.Hash, error) {
	return r.WriteTreeDir(r.RootDir)
}

// WriteTreeDir walks dir recursively, stores every file as a blob and every
// directory as a tree, bottom-up, and returns the root tree id. The .git
// directory and paths matched by .gitignore files are skipped. Symlinks are
// stored as blobs holding the link target. Directories with nothing to
// track produce no entry.
func (r *Repo) WriteTreeDir(dir string) (object.Hash, error) {
	ic, err := NewIgnoreChecker(dir)
	if err != nil {
		return object.ZeroHash, fmt.Errorf("write tree: %w", err)
	}
	h, _, err := r.writeTreeDir(dir, "", ic)
	if err != nil {
		return object.ZeroHash, fmt.Errorf("write tree: %w", err)
	}
	return h, nil
}

// writeTreeDir returns the tree id for root/rel and whether it has entries.
func (r *Repo) writeTreeDir(root, rel string, ic *IgnoreChecker) (object.Hash, bool, error) {
	if err := ic.LoadDir(rel); err != nil {
		return object.ZeroHash, false, err
	}
	abs := filepath.Join(root, filepath.FromSlash(rel))
	dirEntries, err := os.ReadDir(abs)
	if err != nil {
		return object.ZeroHash, false, err
	}

	var entries []object.TreeEntry
	for _, de := range dirEntries {
		name := de.Name()
		childRel := path.Join(rel, name)
		if ic.IsIgnored(childRel, de.IsDir()) {
			continue
		}

		info, err := os.Lstat(filepath.Join(abs, name))
		if err != nil {
			return object.ZeroHash, false, err
		}

		switch {
		case info.IsDir():
			subHash, nonEmpty, err := r.writeTreeDir(root, childRel, ic)
			if err != nil {
				return object.ZeroHash, false, err
			}
			if !nonEmpty {
				continue
			}
			entries = append(entries, object.TreeEntry{Mode: object.TreeModeDir, Name: name, Hash: subHash})
		case info.Mode().IsRegular() || info.Mode()&os.ModeSymlink != 0:
			blobHash, err := r.writeWorktreeBlob(filepath.Join(abs, name), info)
			if err != nil {
				return object.ZeroHash, false, err
			}
			entries = append(entries, object.TreeEntry{Mode: modeFromFileInfo(info), Name: name, Hash: blobHash})
		}
	}

	h, err := r.Store.WriteTree(&object.TreeObj{Entries: entries})
	if err != nil {
		return object.ZeroHash, false, fmt.Errorf("write tree %q: %w", rel, err)
	}
	return h, len(entries) > 0, nil
}

func (r *Repo) writeWorktreeBlob(absPath string, info os.FileInfo) (object.Hash, error) {
	var data []byte
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(absPath)
		if err != nil {
			return object.ZeroHash, err
		}
		data = []byte(filepath.ToSlash(target))
	} else {
		var err error
		data, err = os.ReadFile(absPath)
		if err != nil {
			return object.ZeroHash, err
		}
	}
	return r.Store.WriteBlob(data)
}

// TreeFileEntry is one non-tree entry of a flattened tree.
type TreeFileEntry struct {
	Path string // slash separated
	Mode string
	Hash object.Hash
}

// FlattenTree walks a tree object recursively, returning every blob,
// symlink and gitlink entry with its full path.
func (r *Repo) FlattenTree(h object.Hash) ([]TreeFileEntry, error) {
	return r.flattenTreeRec(h, "")
}

func (r *Repo) flattenTreeRec(h object.Hash, prefix string) ([]TreeFileEntry, error) {
	treeObj, err := r.Store.ReadTree(h)
	if err != nil {
		return nil, fmt.Errorf("flatten tree: read %s: %w", h, err)
	}

	var result []TreeFileEntry
	for _, entry := range treeObj.Entries {
		fullPath := path.Join(prefix, entry.Name)
		if entry.IsDir() {
			sub, err := r.flattenTreeRec(entry.Hash, fullPath)
			if err != nil {
				return nil, err
			}
			result = append(result, sub...)
			continue
		}
		result = append(result, TreeFileEntry{Path: fullPath, Mode: entry.Mode, Hash: entry.Hash})
	}
	return result, nil
}
