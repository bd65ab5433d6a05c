package commands

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/cloner/internal/web/server"
)

func newServeCommand(g *globals) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the duplication HTTP API",
		Long: `Serve POST /resources/{resource}/{id}/duplicate, GET /healthz and
GET /metrics until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := g.openApp(commandContext(cmd))
			if err != nil {
				return err
			}
			defer cleanup()

			config := server.DefaultConfig(a.Handler())
			config.Address = a.Config.Server.Address()
			if addr != "" {
				config.Address = addr
			}

			srv, err := server.New(config, a.Logger.Named("server"))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return srv.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: server.host:server.port)")
	return cmd
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
