package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jomardyan/FlexiFocus/internal/config"
	"github.com/jomardyan/FlexiFocus/internal/service"
)

func newTokenCmd(configPath *string) *cobra.Command {
	var client string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for a local client",
		Long: `Prints a bearer token signed with the configured secret. Paste it into
the popup or options page so they can reach the command channel.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			token, apiErr := service.NewTokenService(cfg.JWTSecret, cfg.TokenTTL()).Issue(client)
			if apiErr != nil {
				return fmt.Errorf("issue token: %s", apiErr.Message)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&client, "client", "popup", "client name recorded in the token subject")
	return cmd
}
