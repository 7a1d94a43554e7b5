package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexjbarnes/apikit/oauth"
)

var Version = "dev"

// Exit codes for scripting.
const (
	ExitCodeError        = 1
	ExitCodeAuthRequired = 2
	ExitCodeAuthFailed   = 3
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := newRootCmd().ExecuteContext(ctx)

	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps authentication failures to dedicated exit codes.
func exitCode(err error) int {
	switch {
	case errors.Is(err, oauth.ErrNoToken), errors.Is(err, oauth.ErrNoSession):
		return ExitCodeAuthRequired
	case errors.Is(err, oauth.ErrFailedToRenew):
		return ExitCodeAuthFailed
	}

	return ExitCodeError
}
