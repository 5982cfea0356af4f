/*
unmask — recover censored email domains from a list of known domains
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/x-stp/unmask/internal/metrics"
	"github.com/x-stp/unmask/internal/server"
	"github.com/x-stp/unmask/internal/source"
)

func (a *app) serveCmd() *cobra.Command {
	var (
		listen string
		watch  bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve match and compare queries over HTTP",
		Long: `Serves GET /v1/match?q=&full=, GET /v1/compare?a=&b=&ca=&cb= and GET /healthz.
Prometheus metrics are exposed on a separate listener when enabled in the configuration.
With --watch a file-backed candidate list is reloaded whenever the file changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("listen") {
				a.cfg.HTTP.Listen = listen
			}
			if cmd.Flags().Changed("watch") {
				a.cfg.Index.Watch = watch
			}
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "API listen address (overrides http.listen)")
	cmd.Flags().BoolVar(&watch, "watch", false, "Reload a file-backed candidate list when it changes")
	return cmd
}

// serve runs the API server, the metrics server and the optional file watcher until ctx
// is done or one of them fails.
func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	idx, release, err := a.buildIndex(ctx, "serve")
	if err != nil {
		return err
	}
	defer release()

	srv := server.New(idx, server.Options{
		Addr:            cfg.HTTP.Listen,
		RateLimit:       cfg.HTTP.RateLimit,
		Burst:           cfg.HTTP.Burst,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
		Logger:          a.logger.Named("api"),
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(ctx)
	})
	g.Go(func() error {
		return metrics.Serve(ctx, cfg.Metrics.Listen, a.logger.Named("metrics"))
	})

	if cfg.Index.Watch {
		if source.Classify(cfg.Index.Source) == source.KindFile {
			w, err := source.NewWatcher(cfg.Index.Source, idx, cfg.Index.ReloadDelay, a.logger.Named("watcher"))
			if err != nil {
				return err
			}
			g.Go(func() error {
				return w.Run(ctx)
			})
		} else {
			a.logger.Warn("watch ignored, source is not a file", zap.String("source", cfg.Index.Source))
		}
	}

	if err := g.Wait(); err != nil {
		a.logger.Error("servers stopped with error", zap.Error(err))
		return err
	}
	a.logger.Info("servers stopped gracefully")
	return nil
}
