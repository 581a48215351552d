package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/odvcencio/grit/pkg/object"
	"github.com/odvcencio/grit/pkg/repo"
	"github.com/spf13/cobra"
)

func newCatFileCmd() *cobra.Command {
	var pretty, showType, showSize bool

	cmd := &cobra.Command{
		Use:   "cat-file (-p | -t | -s) <object>",
		Short: "Show the content, type or size of an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n := 0
			for _, set := range []bool{pretty, showType, showSize} {
				if set {
					n++
				}
			}
			if n != 1 {
				return errors.New("exactly one of -p, -t or -s is required")
			}

			r, err := repo.Open(".")
			if err != nil {
				return err
			}
			h, err := resolveObject(r, args[0])
			if err != nil {
				return err
			}
			obj, err := r.Store.Read(h)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch {
			case showType:
				fmt.Fprintln(out, obj.Type)
			case showSize:
				fmt.Fprintln(out, len(obj.Content))
			case obj.Type == object.TypeTree:
				tr, err := object.UnmarshalTree(obj.Content)
				if err != nil {
					return err
				}
				printTree(out, tr, false)
			default:
				_, err := out.Write(obj.Content)
				return err
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&pretty, "pretty", "p", false, "pretty-print the object content")
	cmd.Flags().BoolVarP(&showType, "type", "t", false, "show the object type")
	cmd.Flags().BoolVarP(&showSize, "size", "s", false, "show the object size")
	return cmd
}

func newHashObjectCmd() *cobra.Command {
	var write bool

	cmd := &cobra.Command{
		Use:   "hash-object [-w] <file>",
		Short: "Compute a blob id, optionally storing the blob",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			h := object.HashObject(object.TypeBlob, data)
			if write {
				r, err := repo.Open(".")
				if err != nil {
					return err
				}
				if h, err = r.Store.WriteBlob(data); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), h)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&write, "write", "w", false, "write the blob into the object store")
	return cmd
}

func newLsTreeCmd() *cobra.Command {
	var nameOnly, recursive bool

	cmd := &cobra.Command{
		Use:   "ls-tree [-r] [--name-only] <tree-ish>",
		Short: "List the entries of a tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := repo.Open(".")
			if err != nil {
				return err
			}
			h, err := resolveObject(r, args[0])
			if err != nil {
				return err
			}
			obj, err := r.Store.Read(h)
			if err != nil {
				return err
			}
			if obj.Type == object.TypeCommit {
				c, err := object.UnmarshalCommit(obj.Content)
				if err != nil {
					return err
				}
				h = c.TreeHash
			} else if obj.Type != object.TypeTree {
				return fmt.Errorf("%s is a %s, not a tree", args[0], obj.Type)
			}

			if recursive {
				files, err := r.FlattenTree(h)
				if err != nil {
					return err
				}
				tr := &object.TreeObj{Entries: make([]object.TreeEntry, len(files))}
				for i, f := range files {
					tr.Entries[i] = object.TreeEntry{Mode: f.Mode, Name: f.Path, Hash: f.Hash}
				}
				printTree(cmd.OutOrStdout(), tr, nameOnly)
				return nil
			}

			tr, err := r.Store.ReadTree(h)
			if err != nil {
				return err
			}
			printTree(cmd.OutOrStdout(), tr, nameOnly)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "recurse into subtrees, listing only non-tree entries")
	cmd.Flags().BoolVar(&nameOnly, "name-only", false, "list only entry names")
	return cmd
}

func newWriteTreeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "write-tree",
		Short: "Store the working directory as a tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := repo.Open(".")
			if err != nil {
				return err
			}
			h, err := r.WriteTree()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), h)
			return nil
		},
	}
}

func newCommitTreeCmd(c *cli) *cobra.Command {
	var parents []string
	var message string

	cmd := &cobra.Command{
		Use:   "commit-tree <tree> [-p <parent>]... -m <message>",
		Short: "Create a commit object for a tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if message == "" {
				return errors.New("commit message is required (-m)")
			}
			author, err := c.identity()
			if err != nil {
				return err
			}

			r, err := repo.Open(".")
			if err != nil {
				return err
			}
			tree, err := resolveObject(r, args[0])
			if err != nil {
				return err
			}
			parentIDs := make([]object.Hash, 0, len(parents))
			for _, p := range parents {
				id, err := resolveObject(r, p)
				if err != nil {
					return err
				}
				parentIDs = append(parentIDs, id)
			}

			h, err := r.CommitTree(tree, parentIDs, ensureNewline(message), author, object.Signature{})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), h)
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&parents, "parent", "p", nil, "parent commit (repeatable)")
	cmd.Flags().StringVarP(&message, "message", "m", "", "commit message")
	return cmd
}

// identity builds the author signature from user.name and user.email.
func (c *cli) identity() (object.Signature, error) {
	name, email := c.settings.User.Name, c.settings.User.Email
	if name == "" || email == "" {
		return object.Signature{}, errors.New("user.name and user.email must be set (config file or GRIT_USER_NAME/GRIT_USER_EMAIL)")
	}
	return object.Signature{Name: name, Email: email}, nil
}

// resolveObject accepts a full object id or a ref name.
func resolveObject(r *repo.Repo, spec string) (object.Hash, error) {
	if h, err := object.ParseHash(spec); err == nil {
		return h, nil
	}
	h, err := r.ResolveRef(spec)
	if err != nil {
		return object.ZeroHash, fmt.Errorf("not a valid object name %q: %w", spec, err)
	}
	return h, nil
}

func printTree(out io.Writer, tr *object.TreeObj, nameOnly bool) {
	for _, e := range tr.Entries {
		if nameOnly {
			fmt.Fprintln(out, e.Name)
			continue
		}
		fmt.Fprintf(out, "%s %s %s\t%s\n", displayMode(e.Mode), e.Type(), e.Hash, e.Name)
	}
}

// displayMode pads tree modes to six digits the way git prints them.
func displayMode(mode string) string {
	for len(mode) < 6 {
		mode = "0" + mode
	}
	return mode
}

func ensureNewline(s string) string {
	if s == "" || s[len(s)-1] == '\n' {
		return s
	}
	return s + "\n"
}
