package repo

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	gitignore "github.com/sabhiram/go-gitignore"
)

// ignoreFileName is read from every directory write-tree descends into.
const ignoreFileName = ".gitignore"

// defaultIgnoreRules always apply, whatever the user's ignore files say.
var defaultIgnoreRules = []string{".git"}

// IgnoreChecker answers whether a working tree path is ignored. Each
// directory may carry its own .gitignore whose patterns are relative to
// that directory, the way git scopes them.
type IgnoreChecker struct {
	root     string
	matchers map[string]*gitignore.GitIgnore // keyed by slash path relative to root, "" for root
}

// NewIgnoreChecker creates an IgnoreChecker for the working tree at root and
// loads root/.gitignore if it exists.
func NewIgnoreChecker(root string) (*IgnoreChecker, error) {
	ic := &IgnoreChecker{
		root:     root,
		matchers: make(map[string]*gitignore.GitIgnore),
	}
	if err := ic.LoadDir(""); err != nil {
		return nil, err
	}
	return ic, nil
}

// LoadDir loads the .gitignore of the directory at rel (slash separated,
// relative to root). Missing files are fine.
func (ic *IgnoreChecker) LoadDir(rel string) error {
	if _, ok := ic.matchers[rel]; ok {
		return nil
	}
	var defaults []string
	if rel == "" {
		defaults = defaultIgnoreRules
	}

	ignorePath := filepath.Join(ic.root, filepath.FromSlash(rel), ignoreFileName)
	_, err := os.Stat(ignorePath)
	switch {
	case err == nil:
		m, err := gitignore.CompileIgnoreFileAndLines(ignorePath, defaults...)
		if err != nil {
			return err
		}
		ic.matchers[rel] = m
	case errors.Is(err, fs.ErrNotExist):
		if len(defaults) > 0 {
			ic.matchers[rel] = gitignore.CompileIgnoreLines(defaults...)
		} else {
			ic.matchers[rel] = nil
		}
	default:
		return err
	}
	return nil
}

// IsIgnored reports whether the slash path rel is ignored by any loaded
// ignore file in one of its ancestor directories. Directories are also
// tested with a trailing slash so "build/" patterns match them.
func (ic *IgnoreChecker) IsIgnored(rel string, isDir bool) bool {
	dir := path.Dir(rel)
	for {
		if dir == "." {
			dir = ""
		}
		if m := ic.matchers[dir]; m != nil {
			sub := rel
			if dir != "" {
				sub = rel[len(dir)+1:]
			}
			if m.MatchesPath(sub) || (isDir && m.MatchesPath(sub+"/")) {
				return true
			}
		}
		if dir == "" {
			return false
		}
		dir = path.Dir(dir)
	}
}
