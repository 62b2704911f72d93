package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	rostermcp "github.com/hurttlocker/roster/internal/mcp"
	"github.com/hurttlocker/roster/internal/metrics"
)

func (a *app) mcpCommand() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve roster tools over MCP (stdio)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			var m *metrics.Metrics
			if metricsAddr != "" {
				reg := prometheus.NewRegistry()
				var err error
				if m, err = metrics.New(reg); err != nil {
					return err
				}
				stop := a.serveMetrics(ctx, metricsAddr, reg)
				defer stop()
			}

			rt, err := a.openRuntime(m)
			if err != nil {
				return err
			}
			defer rt.Close()

			srv := rostermcp.NewServer(rostermcp.ServerConfig{
				Store:      rt.store,
				Registry:   rt.registry,
				Reconciler: rt.reconciler,
				Engine:     rt.engine,
				Version:    version,
				Logger:     a.logger,
			})
			a.logger.Info().Str("db", rt.store.GetDBPath()).Msg("mcp server listening on stdio")
			return server.ServeStdio(srv)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9464")
	return cmd
}

// serveMetrics exposes reg on addr until the returned stop func is called.
func (a *app) serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()
	a.logger.Info().Str("addr", addr).Msg("serving metrics")

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}
