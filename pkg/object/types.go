package object

import (
	"fmt"
	"time"
)

// ObjectType identifies the kind of object stored.
type ObjectType string

const (
	TypeBlob   ObjectType = "blob"
	TypeTree   ObjectType = "tree"
	TypeCommit ObjectType = "commit"
	TypeTag    ObjectType = "tag"
)

// ParseObjectType maps a type keyword to an ObjectType.
func ParseObjectType(s string) (ObjectType, error) {
	switch t := ObjectType(s); t {
	case TypeBlob, TypeTree, TypeCommit, TypeTag:
		return t, nil
	default:
		return "", &FormatError{Msg: fmt.Sprintf("unknown object type %q", s)}
	}
}

const (
	// Tree mode constants in git's canonical form.
	TreeModeDir        = "40000"
	TreeModeFile       = "100644"
	TreeModeExecutable = "100755"
	TreeModeSymlink    = "120000"
	TreeModeGitlink    = "160000"
)

// Object is a typed byte payload. Its id is always derived from type and
// content, never assigned.
type Object struct {
	Type    ObjectType
	Content []byte
}

// Hash returns the content address of o.
func (o *Object) Hash() Hash {
	return HashObject(o.Type, o.Content)
}

// TreeEntry is one entry in a tree object.
type TreeEntry struct {
	Mode string
	Name string
	Hash Hash
}

// IsDir reports whether the entry points at a subtree.
func (e TreeEntry) IsDir() bool {
	return e.Mode == TreeModeDir
}

// Type returns the object type the entry refers to. Gitlinks refer to commits
// in another repository.
func (e TreeEntry) Type() ObjectType {
	switch e.Mode {
	case TreeModeDir:
		return TypeTree
	case TreeModeGitlink:
		return TypeCommit
	default:
		return TypeBlob
	}
}

// TreeObj holds a list of tree entries. Encoding always sorts by Name.
type TreeObj struct {
	Entries []TreeEntry
}

// Signature identifies the author or committer of a commit.
type Signature struct {
	Name  string
	Email string
	When  time.Time
}

// ExtraHeader is a commit header the codec does not interpret, such as
// gpgsig or encoding. Value may span several lines.
type ExtraHeader struct {
	Key   string
	Value string
}

// CommitObj represents a commit pointing to a tree with metadata.
type CommitObj struct {
	TreeHash     Hash
	Parents      []Hash
	Author       Signature
	Committer    Signature
	ExtraHeaders []ExtraHeader
	Message      string
}
