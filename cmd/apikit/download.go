package main

import (
	"fmt"

	"github.com/alexjbarnes/apikit/api"
	"github.com/spf13/cobra"
)

func newDownloadCmd() *cobra.Command {
	var (
		endpoint string
		headers  []string
		dir      string
		name     string
	)

	cmd := &cobra.Command{
		Use:   "download URL",
		Short: "Download a response body to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			req, err := a.request(api.MethodGet, args[0], endpoint, headers)
			if err != nil {
				return err
			}

			if name == "" {
				name = fileNameFromURL(req.URL)
			}

			path, err := a.client.Download(cmd.Context(), req, dir, name)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), path)

			return nil
		},
	}

	cmd.Flags().StringVarP(&endpoint, "endpoint", "e", "", "named endpoint to download from")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, `request header as "Key: Value" (repeatable)`)
	cmd.Flags().StringVar(&dir, "dir", "", "destination directory (default: system temp dir)")
	cmd.Flags().StringVar(&name, "name", "", "file name (default: last URL path segment)")

	return cmd
}
