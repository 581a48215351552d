package object

import (
	"bytes"
	"fmt"
)

// ReachableSet returns every object id reachable from roots by following
// commit trees, commit parents, tree entries and tag targets. Gitlink entries
// are not followed. A referenced object missing from the store yields an
// error wrapping ErrNotFound.
func (s *Store) ReachableSet(roots []Hash) (map[Hash]struct{}, error) {
	out := make(map[Hash]struct{}, len(roots))
	stack := make([]Hash, 0, len(roots))
	for _, h := range roots {
		if !h.IsZero() {
			stack = append(stack, h)
		}
	}

	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := out[h]; ok {
			continue
		}

		obj, err := s.Read(h)
		if err != nil {
			return nil, fmt.Errorf("reachable set: %w", err)
		}
		out[h] = struct{}{}

		refs, err := referencedHashes(obj)
		if err != nil {
			return nil, fmt.Errorf("reachable set parse %s (%s): %w", h, obj.Type, err)
		}
		for _, ref := range refs {
			if _, ok := out[ref]; !ok {
				stack = append(stack, ref)
			}
		}
	}
	return out, nil
}

func referencedHashes(obj *Object) ([]Hash, error) {
	switch obj.Type {
	case TypeBlob:
		return nil, nil
	case TypeTag:
		target, err := tagTarget(obj.Content)
		if err != nil {
			return nil, err
		}
		return []Hash{target}, nil
	case TypeCommit:
		commit, err := UnmarshalCommit(obj.Content)
		if err != nil {
			return nil, err
		}
		refs := make([]Hash, 0, 1+len(commit.Parents))
		refs = append(refs, commit.TreeHash)
		refs = append(refs, commit.Parents...)
		return refs, nil
	case TypeTree:
		tree, err := UnmarshalTree(obj.Content)
		if err != nil {
			return nil, err
		}
		refs := make([]Hash, 0, len(tree.Entries))
		for _, e := range tree.Entries {
			if e.Mode == TreeModeGitlink {
				continue
			}
			refs = append(refs, e.Hash)
		}
		return refs, nil
	default:
		return nil, fmt.Errorf("unsupported object type %q", obj.Type)
	}
}

// tagTarget reads the "object" header of an annotated tag.
func tagTarget(data []byte) (Hash, error) {
	line, _, _ := bytes.Cut(data, []byte{'\n'})
	hex, ok := bytes.CutPrefix(line, []byte("object "))
	if !ok {
		return ZeroHash, formatErrorf("tag: missing object header")
	}
	return ParseHash(string(hex))
}
