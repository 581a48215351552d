package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/odvcencio/grit/pkg/config"
	"github.com/spf13/cobra"
)

const version = "0.1.0-dev"

// cli carries what every command shares once flags are parsed.
type cli struct {
	configPath string
	verbose    bool

	settings *config.Settings
	logger   *slog.Logger
}

// flagKeys maps command flags onto setting keys so a flag given on the
// command line wins over the file and the environment.
var flagKeys = map[string]string{
	"remote-name": config.KeyCloneRemote,
	"all-refs":    config.KeyCloneAllRefs,
	"timeout":     config.KeyHTTPTimeout,
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "grit",
		Short:         "A minimal git client speaking smart HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load(cmd)
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "settings file (default $XDG_CONFIG_HOME/grit/config.toml)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log debug diagnostics to stderr")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newCatFileCmd())
	root.AddCommand(newHashObjectCmd())
	root.AddCommand(newLsTreeCmd())
	root.AddCommand(newWriteTreeCmd())
	root.AddCommand(newCommitTreeCmd(c))
	root.AddCommand(newLogCmd())
	root.AddCommand(newShowRefCmd())
	root.AddCommand(newReflogCmd())
	root.AddCommand(newRemoteCmd())
	root.AddCommand(newUnpackObjectsCmd(c))
	root.AddCommand(newCloneCmd(c))
	return root
}

func (c *cli) load(cmd *cobra.Command) error {
	level := slog.LevelWarn
	if c.verbose {
		level = slog.LevelDebug
	}
	c.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	loader := config.NewLoader()
	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := loader.BindFlag(key, f); err != nil {
				return err
			}
		}
	}
	s, err := loader.Load(c.configPath)
	if err != nil {
		return err
	}
	c.settings = s
	if s.File != "" {
		c.logger.Debug("loaded settings", "file", s.File)
	}
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "grit:", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "grit %s\n", version)
		},
	}
}
