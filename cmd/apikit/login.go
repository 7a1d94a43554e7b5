package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alexjbarnes/apikit/oauth"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
)

func newLoginCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with the authorization code flow and store the tokens",
		Long: `Sign in through APIKIT_AUTH_URL using the authorization code grant with
PKCE. apikit prints a URL to open in a browser and waits for the
redirect on a loopback port, then stores the tokens for APIKIT_ACCOUNT.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if a.cfg.AuthURL == "" || a.cfg.TokenURL == "" || a.cfg.ClientID == "" {
				return errors.New("login needs APIKIT_AUTH_URL, APIKIT_TOKEN_URL and APIKIT_CLIENT_ID")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			cfg := &oauth2.Config{
				ClientID:     a.cfg.ClientID,
				ClientSecret: a.cfg.ClientSecret,
				Endpoint: oauth2.Endpoint{
					AuthURL:  a.cfg.AuthURL,
					TokenURL: a.cfg.TokenURL,
				},
				Scopes: a.cfg.Scopes,
			}

			tok, err := oauth.Login(ctx, cfg, func(authURL string) error {
				_, err := fmt.Fprintf(cmd.ErrOrStderr(), "Open this URL to sign in:\n\n  %s\n\n", authURL)
				return err
			}, a.logger)
			if err != nil {
				return err
			}

			a.manager.SetOAuth2Token(tok)

			return printStatus(cmd.OutOrStdout(), a)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "how long to wait for the browser sign in")

	return cmd
}
