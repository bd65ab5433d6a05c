package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/cloner/internal/web/auth"
)

func newTokenCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "token <subject>",
		Short: "Issue a bearer token for the HTTP API",
		Long: `Sign a token with server.auth.secret. Send it as
"Authorization: Bearer <token>", or as ?token=<token> on /events.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Server.Auth.Secret == "" {
				return errors.New("server.auth.secret is not configured")
			}

			token, err := auth.New(cfg.Server.Auth.Secret, cfg.Server.Auth.TokenTTL).Issue(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}
