package main

import (
	"fmt"
	"path/filepath"

	"github.com/odvcencio/grit/pkg/repo"
	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [path]",
		Short: "Create an empty repository",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}

			r, err := repo.Init(path)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Initialized empty Git repository in %s\n", r.GitDir+string(filepath.Separator))
			return nil
		},
	}
}
