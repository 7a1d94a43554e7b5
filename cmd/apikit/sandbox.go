package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alexjbarnes/apikit/internal/auth"
	"github.com/alexjbarnes/apikit/internal/logging"
	"github.com/alexjbarnes/apikit/internal/models"
	"github.com/alexjbarnes/apikit/internal/server"
	"github.com/spf13/cobra"
)

type sandboxOptions struct {
	addr         string
	accessTTL    time.Duration
	refreshTTL   time.Duration
	files        string
	clientID     string
	clientSecret string
	users        []string
	logLevel     string
}

func newSandboxCmd() *cobra.Command {
	var opts sandboxOptions

	cmd := &cobra.Command{
		Use:   "sandbox",
		Short: "Run a local OAuth server and protected API to try apikit against",
		Long: `Run a local OAuth 2.0 authorization server with a bearer-protected API.

Access tokens are short-lived and refresh tokens rotate, so the refresh
path runs often. POST /sandbox/revoke-access drops every access token to
exercise recovery from 401. The protected API serves:

  GET  /api/me             the caller's identity
  ANY  /api/echo           the request reflected as JSON
  ANY  /api/status/{code}  a response with the given status
  GET  /api/files/{name}   files from --files

The APIKIT_* settings for talking to it are printed on start.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()

			return runSandbox(cmd.Context(), opts, func(serverURL string) {
				printSandboxEnv(out, serverURL, opts)
			})
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", "127.0.0.1:8910", "listen address")
	cmd.Flags().DurationVar(&opts.accessTTL, "access-ttl", auth.DefaultAccessTTL, "access token lifetime")
	cmd.Flags().DurationVar(&opts.refreshTTL, "refresh-ttl", auth.DefaultRefreshTTL, "refresh token lifetime (0 never expires)")
	cmd.Flags().StringVar(&opts.files, "files", "", "directory served under /api/files/")
	cmd.Flags().StringVar(&opts.clientID, "client-id", "apikit-cli", "pre-registered client id")
	cmd.Flags().StringVar(&opts.clientSecret, "client-secret", "", "client secret; enables client_credentials")
	cmd.Flags().StringArrayVar(&opts.users, "user", []string{"alice:wonderland"}, `login as "username:password" (repeatable)`)
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	return cmd
}

// runSandbox serves until ctx is done. ready is called with the server
// URL once the listener is bound.
func runSandbox(ctx context.Context, opts sandboxOptions, ready func(serverURL string)) error {
	if _, err := logging.ParseLevel(opts.logLevel); err != nil {
		return err
	}

	logger := logging.NewLogger("development", opts.logLevel)

	users, err := parseUsers(opts.users)
	if err != nil {
		return err
	}

	if opts.accessTTL <= 0 {
		return errors.New("--access-ttl must be positive")
	}

	client := &models.OAuthClient{
		ClientID:     opts.clientID,
		ClientName:   "apikit",
		GrantTypes:   []string{"authorization_code", "refresh_token"},
		RedirectURIs: []string{"http://127.0.0.1", "http://localhost"},
	}

	if opts.clientSecret != "" {
		hash, err := auth.HashSecret(opts.clientSecret)
		if err != nil {
			return err
		}

		client.SecretHash = hash
		client.GrantTypes = append(client.GrantTypes, "client_credentials")
	}

	var files fs.FS
	if opts.files != "" {
		info, err := os.Stat(opts.files)
		if err != nil {
			return fmt.Errorf("files directory: %w", err)
		}

		if !info.IsDir() {
			return fmt.Errorf("files directory: %s is not a directory", opts.files)
		}

		files = os.DirFS(opts.files)
	}

	ln, err := net.Listen("tcp", opts.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", opts.addr, err)
	}

	serverURL := "http://" + ln.Addr().String()

	store := auth.NewStore(logger, auth.WithAccessTTL(opts.accessTTL), auth.WithRefreshTTL(opts.refreshTTL))
	defer store.Stop()

	store.RegisterPreConfiguredClient(client)

	srv := &http.Server{
		Handler: server.NewMux(server.MuxConfig{
			Store:     store,
			Signer:    auth.NewIDTokenSigner(serverURL, nil),
			Users:     users,
			Files:     files,
			Logger:    logger,
			ServerURL: serverURL,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down sandbox")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("sandbox listening",
		slog.String("url", serverURL),
		slog.Duration("access_ttl", opts.accessTTL),
		slog.Duration("refresh_ttl", opts.refreshTTL),
	)

	if ready != nil {
		ready(serverURL)
	}

	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// parseUsers turns "username:password" entries into credentials.
func parseUsers(entries []string) (auth.UserCredentials, error) {
	users := make(auth.UserCredentials, len(entries))

	for _, e := range entries {
		name, password, ok := strings.Cut(e, ":")
		if !ok || name == "" || password == "" {
			return nil, fmt.Errorf("invalid --user %q (want \"username:password\")", e)
		}

		users[name] = password
	}

	return users, nil
}

func printSandboxEnv(w io.Writer, serverURL string, opts sandboxOptions) {
	fmt.Fprintln(w, "# apikit settings for this sandbox")
	fmt.Fprintf(w, "APIKIT_TOKEN_URL=%s/oauth/token\n", serverURL)
	fmt.Fprintf(w, "APIKIT_AUTH_URL=%s/oauth/authorize\n", serverURL)
	fmt.Fprintf(w, "APIKIT_CLIENT_ID=%s\n", opts.clientID)

	if opts.clientSecret != "" {
		fmt.Fprintf(w, "APIKIT_CLIENT_SECRET=%s\n", opts.clientSecret)
	}

	fmt.Fprintln(w, "APIKIT_SCOPES=openid,offline_access")
	fmt.Fprintln(w, "APIKIT_RETRY_UNAUTHORIZED=true")
}
