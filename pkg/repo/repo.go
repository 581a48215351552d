package repo

import (
	"path/filepath"

	"github.com/odvcencio/grit/pkg/object"
)

// Repo represents an opened repository.
type Repo struct {
	RootDir string        // working directory root
	GitDir  string        // .git/ directory
	Store   *object.Store // loose objects under .git/objects
}

func newRepo(root string) *Repo {
	gitDir := filepath.Join(root, ".git")
	return &Repo{
		RootDir: root,
		GitDir:  gitDir,
		Store:   object.NewStore(filepath.Join(gitDir, "objects")),
	}
}
