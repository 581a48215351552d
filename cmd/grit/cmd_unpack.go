package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/odvcencio/grit/pkg/object"
	"github.com/odvcencio/grit/pkg/repo"
	"github.com/spf13/cobra"
)

func newUnpackObjectsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "unpack-objects <packfile>",
		Short: "Decode a pack file into loose objects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := repo.Open(".")
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return err
			}

			stats, err := object.Unpack(r.Store, f, c.logger)
			if err != nil {
				return fmt.Errorf("unpack %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "unpacked %d objects (%d deltas) from %s",
				stats.Total(), stats.Resolved, humanize.Bytes(uint64(info.Size())))
			if skipped := stats.SkippedTags + stats.SkippedOfsDeltas; skipped > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), ", %d skipped", skipped)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
}
