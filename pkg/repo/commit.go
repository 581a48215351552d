package repo

import (
	"errors"
	"fmt"
	"time"

	"github.com/odvcencio/grit/pkg/object"
)

// CommitTree writes a commit pointing at tree with the given parents. A zero
// committer defaults to the author. Every parent and the tree must already
// be in the store.
func (r *Repo) CommitTree(tree object.Hash, parents []object.Hash, message string, author, committer object.Signature) (object.Hash, error) {
	if !r.Store.Has(tree) {
		return object.ZeroHash, fmt.Errorf("commit tree: tree %s: %w", tree, object.ErrNotFound)
	}
	for _, p := range parents {
		if _, err := r.Store.ReadCommit(p); err != nil {
			return object.ZeroHash, fmt.Errorf("commit tree: parent %s: %w", p, err)
		}
	}
	if author.When.IsZero() {
		author.When = time.Now()
	}
	if committer.Name == "" && committer.Email == "" {
		committer = author
	}
	if committer.When.IsZero() {
		committer.When = author.When
	}

	h, err := r.Store.WriteCommit(&object.CommitObj{
		TreeHash:  tree,
		Parents:   parents,
		Author:    author,
		Committer: committer,
		Message:   message,
	})
	if err != nil {
		return object.ZeroHash, fmt.Errorf("commit tree: %w", err)
	}
	return h, nil
}

// Log walks first-parent history from start, newest first, returning at
// most limit commits. History ends quietly at a commit missing from the
// store.
func (r *Repo) Log(start object.Hash, limit int) ([]*object.CommitObj, error) {
	var commits []*object.CommitObj
	current := start

	for len(commits) < limit {
		c, err := r.Store.ReadCommit(current)
		if err != nil {
			if errors.Is(err, object.ErrNotFound) {
				break
			}
			return nil, fmt.Errorf("log: read commit %s: %w", current, err)
		}
		commits = append(commits, c)

		if len(c.Parents) == 0 {
			break
		}
		current = c.Parents[0]
	}
	return commits, nil
}
