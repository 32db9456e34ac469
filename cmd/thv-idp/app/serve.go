// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"

	"github.com/stacklok/toolhive-idp/pkg/authserver/runner"
	"github.com/stacklok/toolhive-idp/pkg/authserver/server/telemetry"
	"github.com/stacklok/toolhive-idp/pkg/logger"
	"github.com/stacklok/toolhive-idp/pkg/versions"
)

const (
	defaultListenAddr        = ":8080"
	defaultReadHeaderTimeout = 10 * time.Second
	defaultReadTimeout       = 30 * time.Second
	defaultWriteTimeout      = 30 * time.Second
	defaultIdleTimeout       = 120 * time.Second
	defaultMaxHeaderBytes    = 1 << 20
	defaultShutdownTimeout   = 15 * time.Second
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the authorization server",
		Long: `Start the authorization server with the configuration given by --config.

Signing keys, HMAC secrets and client secrets are read from the files and
environment variables the configuration names. Without signing keys or HMAC
secrets ephemeral ones are generated and tokens do not survive a restart.`,
		RunE: runServe,
	}

	cmd.Flags().String("listen", defaultListenAddr, "Address to listen on")
	bindFlag(cmd.Flags(), "listen")
	cmd.Flags().String("otlp-endpoint", "", "OTLP/HTTP endpoint (host:port) to export traces to")
	bindFlag(cmd.Flags(), "otlp-endpoint")
	cmd.Flags().Bool("otlp-insecure", false, "Export traces over plain HTTP")
	bindFlag(cmd.Flags(), "otlp-insecure")
	cmd.Flags().Float64("trace-sampling-rate", 1, "Fraction of requests to trace")
	bindFlag(cmd.Flags(), "trace-sampling-rate")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadRunConfig()
	if err != nil {
		return err
	}

	otel.SetLogger(logger.NewLogr())
	shutdownTracing, err := telemetry.InstallTracerProvider(ctx, telemetry.TracingConfig{
		Endpoint:     viper.GetString("otlp-endpoint"),
		Insecure:     viper.GetBool("otlp-insecure"),
		SamplingRate: viper.GetFloat64("trace-sampling-rate"),
		ServiceName:  "thv-idp",
		Version:      versions.GetVersionInfo().Version,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warnw("failed to flush traces", "error", err)
		}
	}()

	idp, err := runner.NewEmbeddedAuthServer(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := idp.Close(); err != nil {
			logger.Warnw("failed to close authorization server", "error", err)
		}
	}()

	listener, err := net.Listen("tcp", viper.GetString("listen"))
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	return serveHTTP(ctx, listener, idp.Handler())
}

// serveHTTP serves handler on listener until ctx is cancelled, then shuts
// down gracefully.
func serveHTTP(ctx context.Context, listener net.Listener, handler http.Handler) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		ReadTimeout:       defaultReadTimeout,
		WriteTimeout:      defaultWriteTimeout,
		IdleTimeout:       defaultIdleTimeout,
		MaxHeaderBytes:    defaultMaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(errCh)
	}()
	logger.Infow("authorization server listening", "address", listener.Addr().String())

	select {
	case <-ctx.Done():
		logger.Infow("shutting down authorization server")
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	return nil
}
