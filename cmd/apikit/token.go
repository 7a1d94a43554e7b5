package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/alexjbarnes/apikit/internal/config"
	"github.com/alexjbarnes/apikit/oauth"
	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage stored tokens",
	}

	cmd.AddCommand(
		newTokenImportCmd(),
		newTokenStatusCmd(),
		newTokenRefreshCmd(),
		newTokenListCmd(),
	)

	return cmd
}

func newTokenImportCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Store a token endpoint response for the configured account",
		Long: `Read a token endpoint JSON response (access_token, expires_in and
optionally refresh_token, refresh_token_expires_in, id_token) from stdin
or --file and store it for APIKIT_ACCOUNT.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			var r io.Reader = cmd.InOrStdin()

			if file != "" {
				f, err := os.Open(file) //nolint:gosec // G304: path comes from the operator
				if err != nil {
					return fmt.Errorf("opening token file: %w", err)
				}
				defer f.Close()

				r = f
			}

			data, err := io.ReadAll(io.LimitReader(r, 1<<20))
			if err != nil {
				return fmt.Errorf("reading token response: %w", err)
			}

			before := a.manager.Snapshot()
			a.manager.Decode(data)

			if a.manager.Snapshot() == before {
				return errors.New("token response not recognised; need access_token and expires_in")
			}

			return printStatus(cmd.OutOrStdout(), a)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "read the token response from a file instead of stdin")

	return cmd
}

func newTokenStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored tokens for the configured account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			return printStatus(cmd.OutOrStdout(), a)
		},
	}
}

func newTokenRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Obtain a new access token now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if a.provider == nil {
				return errors.New("token refresh needs APIKIT_AUTH_MODE=refresh or client_credentials")
			}

			if a.provider.TokenState().Status == oauth.StatusMissing {
				return oauth.ErrNoToken
			}

			if _, err := a.provider.RefreshToken(cmd.Context()); err != nil {
				return &oauth.RenewError{Err: err}
			}

			fmt.Fprintln(cmd.OutOrStdout(), "access token refreshed")

			if a.cfg.AuthMode != config.AuthRefresh {
				return nil
			}

			return printStatus(cmd.OutOrStdout(), a)
		},
	}
}

func newTokenListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts with stored tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			keys, err := a.store.Secrets().Keys("")
			if err != nil {
				return err
			}

			seen := make(map[string]struct{})

			for _, k := range keys {
				if i := strings.LastIndex(k, ":"); i > 0 {
					seen[k[:i]] = struct{}{}
				}
			}

			accounts := make([]string, 0, len(seen))
			for acct := range seen {
				accounts = append(accounts, acct)
			}

			sort.Strings(accounts)

			for _, acct := range accounts {
				fmt.Fprintln(cmd.OutOrStdout(), acct)
			}

			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Delete the stored tokens for the configured account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			a.manager.Clear()

			fmt.Fprintf(cmd.OutOrStdout(), "logged out %s\n", a.cfg.Account)

			return nil
		},
	}
}

func printStatus(w io.Writer, a *app) error {
	snap := a.manager.Snapshot()
	state := snap.StateAt(time.Now())

	fmt.Fprintf(w, "account:  %s\n", a.cfg.Account)
	fmt.Fprintf(w, "state:    %s\n", state)
	fmt.Fprintf(w, "access:   %s\n", describeToken(snap.Access))
	fmt.Fprintf(w, "refresh:  %s\n", describeToken(snap.Refresh))

	if snap.IDToken == "" {
		return nil
	}

	claims, err := oauth.ParseIDClaims(snap.IDToken)
	if err != nil {
		fmt.Fprintf(w, "id token: unreadable (%v)\n", err)
		return nil
	}

	for _, name := range []string{"sub", "email", "name", "iss"} {
		if v, ok := claims[name]; ok {
			fmt.Fprintf(w, "%-9s %v\n", name+":", v)
		}
	}

	return nil
}

func describeToken(t *oauth.Token) string {
	if t == nil {
		return "none"
	}

	if t.ExpiresIn == oauth.UnboundedExpiry {
		return "never expires"
	}

	status := "valid"
	if !t.IsValid() {
		status = "expired"
	}

	return fmt.Sprintf("%s, expires %s", status, t.ExpiresAt().Format(time.RFC3339))
}
