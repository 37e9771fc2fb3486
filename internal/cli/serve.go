package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bmad-assist/bmad-assist/internal/config"
	"github.com/bmad-assist/bmad-assist/internal/dashboard"
	"github.com/bmad-assist/bmad-assist/internal/events"
)

// newServeCmd creates the serve command for the dashboard server
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dashboard server",
		Long: `Start the bmad-assist dashboard server.

The dashboard provides REST endpoints, an SSE stream, and a websocket
mirror for:
  • Loop, story, and epic status
  • Live provider output
  • Config editing, export, and import
  • Pause and resume control

If the requested port is busy, successive ports are tried unless
--no-auto-port is set.

Example:
  bmad-assist serve               # Default host and port from config
  bmad-assist serve --port 3000   # Custom port`,
		RunE: func(cmd *cobra.Command, args []string) error {
			project := resolveProject()
			// The dashboard must come up even on a half-configured project.
			cfg := config.LoadOrDefault(project.Root)

			host, _ := cmd.Flags().GetString("host")
			port, _ := cmd.Flags().GetInt("port")
			noAutoPort, _ := cmd.Flags().GetBool("no-auto-port")

			opts := dashboard.Options{Host: host, Port: port}
			if noAutoPort {
				off := false
				opts.AutoPort = &off
			}

			pub := events.NewMemoryPublisher()
			defer pub.Close()
			server := dashboard.New(project, cfg, pub, opts)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				fmt.Fprintln(os.Stderr, "shutting down")
				cancel()
			}()

			return server.Start(ctx)
		},
	}

	cmd.Flags().String("host", "", "host to bind (default from config)")
	cmd.Flags().IntP("port", "p", 0, "port to listen on (default from config)")
	cmd.Flags().Bool("no-auto-port", false, "fail instead of probing successive ports")

	return cmd
}
