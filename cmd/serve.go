package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/linkgate/internal/config"
	"github.com/JakeFAU/linkgate/internal/server"
)

// newServeCmd creates the 'serve' subcommand: the built-in static file
// server that 'check' supervises by default.
func newServeCmd() *cobra.Command {
	var (
		dir  string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves a built site on localhost",
		Long: `Serves the files under --dir on 127.0.0.1:--port and prints
"Listening on http://127.0.0.1:PORT" once the socket is bound. Paths without
an extension fall back to the matching .html file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return server.Serve(cmd.Context(), dir, port, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&dir, "dir", ".", "site directory to serve")
	cmd.Flags().IntVar(&port, "port", config.DefaultPort, "port to listen on")
	return cmd
}
