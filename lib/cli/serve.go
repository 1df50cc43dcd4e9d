package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/go-i2p/logger"
	"github.com/spf13/cobra"

	"github.com/go-i2p/go-swbn/lib/bundle/registry"
	"github.com/go-i2p/go-swbn/lib/config"
	"github.com/go-i2p/go-swbn/lib/util"
	"github.com/go-i2p/go-swbn/lib/util/signals"
)

func newServeCommand(current func() config.ConfigDefaults) *cobra.Command {
	var address string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the configured bundles over local HTTP",
		Long: `Serve every bundle listed under serve.bundles at /<bundle id>/<path>.
SIGHUP logs cache statistics; SIGINT and SIGTERM shut down gracefully.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := current()
			if address != "" {
				cfg.Serve.Address = address
			}
			return serve(cmd, cfg)
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "listen address (overrides serve.address)")
	return cmd
}

func serve(cmd *cobra.Command, cfg config.ConfigDefaults) error {
	opts, err := registry.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	reg, err := registry.New(opts)
	if err != nil {
		return err
	}
	util.RegisterCloser("bundle registry", reg)

	handler, err := newBundleHandler(reg, cfg.Serve.Bundles)
	if err != nil {
		_ = util.CloseAll()
		return err
	}
	listener, err := net.Listen("tcp", cfg.Serve.Address)
	if err != nil {
		_ = util.CloseAll()
		return err
	}
	server := &http.Server{Handler: handler}

	signals.SetGracefulTimeout(cfg.Serve.ShutdownTimeout)
	preID := signals.RegisterPreShutdownHandler(func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Serve.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("HTTP server did not shut down cleanly")
		}
	})
	intID := signals.RegisterInterruptHandler(func() {
		if err := util.CloseAll(); err != nil {
			log.WithError(err).Warn("shutdown left resources open")
		}
		signals.StopHandle()
	})
	reloadID := signals.RegisterReloadHandler(func() {
		stats := reg.Stats()
		log.WithFields(logger.Fields{
			"at":        "serve",
			"entries":   stats.Entries,
			"pending":   stats.Pending,
			"ready":     stats.Ready,
			"evictions": stats.Evictions,
			"verified":  stats.Verified,
		}).Info("reader cache statistics")
	})
	defer func() {
		signals.DeregisterPreShutdownHandler(preID)
		signals.DeregisterInterruptHandler(intID)
		signals.DeregisterReloadHandler(reloadID)
	}()
	go signals.Handle()

	log.WithFields(logger.Fields{
		"at":      "serve",
		"address": listener.Addr().String(),
		"bundles": len(cfg.Serve.Bundles),
	}).Info("serving bundles")
	fmt.Fprintf(cmd.OutOrStdout(), "serving %d bundle(s) on http://%s/\n", len(cfg.Serve.Bundles), listener.Addr())

	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		_ = util.CloseAll()
		return err
	}
	return nil
}
