package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/odvcencio/grit/pkg/repo"
	"github.com/spf13/cobra"
)

func newShowRefCmd() *cobra.Command {
	var heads, tags bool

	cmd := &cobra.Command{
		Use:   "show-ref [--heads] [--tags]",
		Short: "List local refs and the ids they point at",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := repo.Open(".")
			if err != nil {
				return err
			}

			var prefixes []string
			if heads {
				prefixes = append(prefixes, "refs/heads/")
			}
			if tags {
				prefixes = append(prefixes, "refs/tags/")
			}
			if len(prefixes) == 0 {
				prefixes = []string{"refs/"}
			}

			out := cmd.OutOrStdout()
			for _, prefix := range prefixes {
				refs, err := r.ListRefs(prefix)
				if err != nil {
					return err
				}
				names := make([]string, 0, len(refs))
				for name := range refs {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					fmt.Fprintf(out, "%s %s\n", refs[name], name)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&heads, "heads", false, "only branches")
	cmd.Flags().BoolVar(&tags, "tags", false, "only tags")
	return cmd
}

func newReflogCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "reflog [ref]",
		Short: "Show ref update history",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := repo.Open(".")
			if err != nil {
				return err
			}

			// Default to the branch HEAD points at; a detached HEAD has its own log.
			ref := "HEAD"
			if len(args) == 1 {
				ref = args[0]
				if !strings.HasPrefix(ref, "refs/") && ref != "HEAD" {
					ref = "refs/heads/" + ref
				}
			} else if head, err := r.Head(); err == nil && strings.HasPrefix(head, "refs/") {
				ref = head
			}

			entries, err := r.ReadReflog(ref, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, e := range entries {
				ts := e.Committer.When.UTC().Format(time.RFC3339)
				fmt.Fprintf(out, "%s %s %s %s\n", e.NewHash.String()[:8], ts, e.Ref, e.Message)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum entries to show")
	return cmd
}

func newRemoteCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "remote [-v]",
		Short: "List configured remotes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := repo.Open(".")
			if err != nil {
				return err
			}
			cfg, err := r.ReadConfig()
			if err != nil {
				return err
			}
			names := make([]string, 0, len(cfg.Remotes))
			for name := range cfg.Remotes {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				if verbose {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", name, cfg.Remotes[name].URL)
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show remote URLs")

	cmd.AddCommand(&cobra.Command{
		Use:   "get-url <name>",
		Short: "Print the URL of a remote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := repo.Open(".")
			if err != nil {
				return err
			}
			u, err := r.RemoteURL(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), u)
			return nil
		},
	})
	return cmd
}
