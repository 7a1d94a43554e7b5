package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/alexjbarnes/apikit/api"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type sendOptions struct {
	endpoint string
	headers  []string
	data     string
	count    int
	include  bool
}

func newSendCmd() *cobra.Command {
	var opts sendOptions

	cmd := &cobra.Command{
		Use:   "send METHOD URL",
		Short: "Send a request and print the response body",
		Long: `Send a request through the pipeline and print the response body.

URL is absolute, or a path when --endpoint names an endpoint from
APIKIT_ENDPOINTS_FILE. With --count, the same request is sent that many
times concurrently and one status line is printed per request.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			return runSend(cmd, a, api.Method(strings.ToUpper(args[0])), args[1], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.endpoint, "endpoint", "e", "", "named endpoint to send to")
	cmd.Flags().StringArrayVarP(&opts.headers, "header", "H", nil, `request header as "Key: Value" (repeatable)`)
	cmd.Flags().StringVarP(&opts.data, "data", "d", "", "request body")
	cmd.Flags().IntVarP(&opts.count, "count", "n", 1, "number of concurrent requests")
	cmd.Flags().BoolVarP(&opts.include, "include", "i", false, "print status line and headers")

	return cmd
}

func runSend(cmd *cobra.Command, a *app, method api.Method, target string, opts sendOptions) error {
	req, err := a.request(method, target, opts.endpoint, opts.headers)
	if err != nil {
		return err
	}

	if opts.data != "" {
		req.SetBody([]byte(opts.data))
	}

	out := cmd.OutOrStdout()

	if opts.count <= 1 {
		resp, err := a.client.Send(cmd.Context(), req)

		var se *api.StatusError
		if errors.As(err, &se) {
			resp = se.Response
		}

		if resp != nil {
			writeResponse(out, resp, opts.include)
		}

		return err
	}

	return sendMany(cmd, a, req, opts.count)
}

// sendMany runs count copies of req on the client's worker pool and
// prints one line per request in submission order. A failed request does
// not cancel the others; the first error is returned.
func sendMany(cmd *cobra.Command, a *app, req *api.Request, count int) error {
	var g errgroup.Group

	ctx := cmd.Context()

	var (
		mu    sync.Mutex
		lines = make(map[int]string, count)
	)

	for i := range count {
		g.Go(func() error {
			op := a.client.Go(ctx, req, nil)

			resp, err := op.Wait()

			line := fmt.Sprintf("#%d %s", i+1, op.ID())
			if err != nil {
				line += " error: " + err.Error()
			} else {
				line += fmt.Sprintf(" %d (%d bytes)", resp.StatusCode, len(resp.Body))
			}

			mu.Lock()
			lines[i] = line
			mu.Unlock()

			return err
		})
	}

	err := g.Wait()

	keys := make([]int, 0, len(lines))
	for k := range lines {
		keys = append(keys, k)
	}

	sort.Ints(keys)

	for _, k := range keys {
		fmt.Fprintln(cmd.OutOrStdout(), lines[k])
	}

	return err
}

func writeResponse(w io.Writer, resp *api.Response, include bool) {
	if include {
		fmt.Fprintf(w, "%d %s\n", resp.StatusCode, resp.URL)

		keys := make([]string, 0, len(resp.Header))
		for k := range resp.Header {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		for _, k := range keys {
			fmt.Fprintf(w, "%s: %s\n", k, strings.Join(resp.Header[k], ", "))
		}

		fmt.Fprintln(w)
	}

	w.Write(resp.Body)

	if len(resp.Body) > 0 && resp.Body[len(resp.Body)-1] != '\n' {
		fmt.Fprintln(w)
	}
}
