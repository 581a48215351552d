package main

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/odvcencio/grit/pkg/clone"
	"github.com/odvcencio/grit/pkg/remote"
	"github.com/spf13/cobra"
)

func newCloneCmd(c *cli) *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "clone <url> [directory]",
		Short: "Clone a repository over smart HTTP",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			remoteURL, err := canonicalizeRemoteSpec(args[0])
			if err != nil {
				return err
			}
			var dest string
			if len(args) == 2 {
				dest = args[1]
			} else if dest, err = cloneDirName(remoteURL); err != nil {
				return err
			}

			var progress io.Writer
			if !quiet {
				progress = cmd.ErrOrStderr()
			}
			s := c.settings
			client, err := remote.NewClient(remoteURL, remote.ClientOptions{
				Timeout:     s.HTTP.Timeout,
				MaxAttempts: s.HTTP.MaxAttempts,
				UserAgent:   s.HTTP.UserAgent,
				Progress:    progress,
				Logger:      c.logger,
			})
			if err != nil {
				return err
			}

			if progress != nil {
				fmt.Fprintf(progress, "Cloning into '%s'...\n", dest)
			}
			cloner := &clone.Cloner{
				Transport: client,
				Logger:    c.logger,
				Progress:  progress,
				Options: clone.Options{
					RemoteName: s.Clone.RemoteName,
					URL:        remoteURL,
					AllRefs:    s.Clone.AllRefs,
				},
			}
			if id, err := c.identity(); err == nil {
				cloner.Options.Identity = id
			}

			res, err := cloner.Run(cmd.Context(), dest)
			if err != nil {
				return err
			}
			if !quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "cloned %s into %s: %d objects (%s), %d files, HEAD at %s (%s)\n",
					remoteURL, res.Repo.RootDir, res.Stats.Total(), humanize.Bytes(uint64(res.PackBytes)),
					res.Checkout.Files, res.HeadRef, res.HeadID)
			}
			return nil
		},
	}

	cmd.Flags().String("remote-name", "origin", "name of the remote to record")
	cmd.Flags().Bool("all-refs", false, "fetch every advertised ref instead of only the first")
	cmd.Flags().String("timeout", "", "overall HTTP timeout (e.g. 30s)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress progress output")
	return cmd
}
