package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/reoring/apimeta/internal/logging"
	"github.com/reoring/apimeta/internal/metrics"
	"github.com/reoring/apimeta/internal/publish"
	"github.com/reoring/apimeta/internal/server"
)

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	var (
		m        *metrics.Collector
		gatherer prometheus.Gatherer
	)
	if a.cfg.Metrics.Enabled {
		m = metrics.New()
		gatherer = prometheus.DefaultGatherer
	}

	start := time.Now()
	schema, err := a.loadSchema(ctx)
	if err != nil {
		return err
	}
	if m != nil {
		m.SchemaFetchDuration.Observe(time.Since(start).Seconds())
	}

	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	pub := publish.New(&publish.Config{
		Enabled: a.cfg.Kafka.Enabled,
		Brokers: a.cfg.Kafka.Brokers,
		Topic:   a.cfg.Kafka.Topic,
	}, m)
	defer pub.Close()

	srv := server.New(server.Options{
		Schema:       schema,
		Store:        st,
		Publisher:    pub,
		Metrics:      m,
		Gatherer:     gatherer,
		MetricsPath:  a.cfg.Metrics.Path,
		MaxBodyBytes: a.cfg.Server.MaxBodyBytes,
		Logger:       logging.WithComponent("server"),
	})
	httpSrv := &http.Server{
		Addr:         a.cfg.Server.Addr(),
		Handler:      srv.Router(),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().Str("addr", httpSrv.Addr).Str("schema", schema.URL()).Msg("listening")
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
