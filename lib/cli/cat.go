package cli

import (
	"net/url"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/go-i2p/go-swbn/lib/bundle/identity"
	"github.com/go-i2p/go-swbn/lib/bundle/reader"
	"github.com/go-i2p/go-swbn/lib/bundle/registry"
	"github.com/go-i2p/go-swbn/lib/config"
)

func newCatCommand(current func() config.ConfigDefaults) *cobra.Command {
	var rawID string
	cmd := &cobra.Command{
		Use:   "cat <bundle> <path>",
		Short: "Write the body of one response of a bundle to stdout",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := identity.Parse(rawID)
			if err != nil {
				return err
			}
			opts, err := registry.OptionsFromConfig(current())
			if err != nil {
				return err
			}
			reg, err := registry.New(opts)
			if err != nil {
				return err
			}
			defer reg.Close()

			request, err := reader.NewRequest(id.URL().String())
			if err != nil {
				return err
			}
			request.URL = request.URL.ResolveReference(&url.URL{Path: args[1]})
			resp, err := reg.Fetch(cmd.Context(), args[0], id, request)
			if err != nil {
				return err
			}
			log.WithFields(logger.Fields{
				"at":     "cat",
				"url":    request.URL.String(),
				"status": resp.StatusCode(),
				"length": resp.ContentLength(),
			}).Debug("serving response body")
			if err := resp.ReadBody(cmd.Context(), cmd.OutOrStdout()); err != nil {
				return err
			}
			if resp.StatusCode() >= 400 {
				return oops.Errorf("%s responded with status %d", request.URL, resp.StatusCode())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&rawID, "id", "", "Signed Web Bundle ID of the bundle")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
