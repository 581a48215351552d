package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/odvcencio/grit/pkg/object"
	"github.com/odvcencio/grit/pkg/repo"
	"github.com/spf13/cobra"
)

func newLogCmd() *cobra.Command {
	var oneline bool
	var limit int

	cmd := &cobra.Command{
		Use:   "log [ref]",
		Short: "Show first-parent commit history",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := repo.Open(".")
			if err != nil {
				return err
			}

			start := "HEAD"
			if len(args) > 0 {
				start = args[0]
			}
			headHash, err := resolveObject(r, start)
			if err != nil {
				return fmt.Errorf("cannot resolve %s: %w", start, err)
			}

			commits, err := r.Log(headHash, limit)
			if err != nil {
				return err
			}
			if len(commits) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no commits yet")
				return nil
			}

			branchName := ""
			if head, err := r.Head(); err == nil && strings.HasPrefix(head, "refs/heads/") {
				branchName = strings.TrimPrefix(head, "refs/heads/")
			}

			// Each commit after the first is the previous one's first parent.
			hashes := make([]object.Hash, len(commits))
			hashes[0] = headHash
			for i := 1; i < len(commits); i++ {
				hashes[i] = commits[i-1].Parents[0]
			}

			out := cmd.OutOrStdout()
			for i, c := range commits {
				h := hashes[i]
				decoration := ""
				if i == 0 && start == "HEAD" {
					decoration = buildDecoration(branchName)
				}
				subject, _, _ := strings.Cut(strings.TrimSpace(c.Message), "\n")

				if oneline {
					short := h.String()[:8]
					if decoration != "" {
						fmt.Fprintf(out, "%s %s %s\n", short, decoration, subject)
					} else {
						fmt.Fprintf(out, "%s %s\n", short, subject)
					}
					continue
				}
				if decoration != "" {
					fmt.Fprintf(out, "commit %s %s\n", h, decoration)
				} else {
					fmt.Fprintf(out, "commit %s\n", h)
				}
				fmt.Fprintf(out, "Author: %s <%s>\n", c.Author.Name, c.Author.Email)
				fmt.Fprintf(out, "Date:   %s\n", c.Author.When.Format(time.RFC1123Z))
				fmt.Fprintln(out)
				for _, line := range strings.Split(strings.TrimRight(c.Message, "\n"), "\n") {
					fmt.Fprintf(out, "    %s\n", line)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&oneline, "oneline", false, "compact one-line format")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of commits to show")
	return cmd
}

// buildDecoration returns "(HEAD -> main)" on a branch and "(HEAD)" when
// detached.
func buildDecoration(branchName string) string {
	if branchName != "" {
		return "(HEAD -> " + branchName + ")"
	}
	return "(HEAD)"
}
