// Package app holds the gitpulse worker commands. Local commands run tasks
// in-process against the configured database; remote commands talk to a
// running server over gRPC.
package app

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	defaultTimeout      = 30 * time.Minute
	defaultPollInterval = 500 * time.Millisecond
	defaultServerAddr   = "localhost:9090"
)

// NewRootCmd creates the command tree. Each call returns fresh commands
// with their own flag bindings.
func NewRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:          "gitpulse-worker",
		Short:        "Run gitpulse sync tasks from the command line",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	flags := root.PersistentFlags()
	flags.String("env-file", ".env", "Optional dotenv file read before the environment")
	flags.Duration("timeout", defaultTimeout, "Give up and cancel the task after this long")
	flags.Duration("poll-interval", defaultPollInterval, "How often task status is checked")
	flags.String("addr", defaultServerAddr, "gRPC address of a running server (remote commands)")
	bindFlags(v, flags, "env-file", "timeout", "poll-interval", "addr")

	root.AddCommand(
		newSyncCmd(v),
		newRefreshCmd(v),
		newSyncSelectedCmd(v),
		newConnectCmd(v),
		newTaskCmd(v),
		newCancelCmd(v),
		newActiveCmd(v),
	)
	return root
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet, names ...string) {
	for _, name := range names {
		if err := v.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
}
