// Package cmd defines the linkgate CLI commands.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "linkgate",
		Short: "Checks a built static site for broken links and fragments.",
		Long: `linkgate serves a built site from a local static file server, crawls it
from the root, and reports every broken link and broken #fragment reference.
It exits non-zero when anything is broken so it can gate a publish step.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")

	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

// Execute is the main entry point. It exits with status 1 on any error,
// including a report with broken links.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "linkgate: %v\n", err)
	os.Exit(1)
}
