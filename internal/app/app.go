// Package app wires up and runs the application services.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/skobkin/erwait-web/internal/config"
	"github.com/skobkin/erwait-web/internal/httpserver"
	"github.com/skobkin/erwait-web/internal/sampler"
	"github.com/skobkin/erwait-web/internal/sink"
)

const shutdownTimeout = 10 * time.Second

// Run bootstraps the application lifecycle.
func Run(ctx context.Context, baseLogger *slog.Logger, cfg config.Config) error {
	appLogger := baseLogger.With("component", "app")

	location, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("resolve timezone: %w", err)
	}

	reader, err := sampler.NewReader(cfg.SourceURL, cfg.FetchTimeout, location, baseLogger.With("component", "sampler_reader"))
	if err != nil {
		return fmt.Errorf("init reader: %w", err)
	}

	appender, err := buildSink(cfg, baseLogger)
	if err != nil {
		return fmt.Errorf("init sink: %w", err)
	}
	appLogger.Info("sink configured", "sink", cfg.Sink)

	samplerManager, err := sampler.NewManager(cfg.SampleInterval, reader, appender, cfg.HistoryMaxPoints, baseLogger.With("component", "sampler"))
	if err != nil {
		return fmt.Errorf("init sampler manager: %w", err)
	}

	samplerCtx, samplerCancel := context.WithCancel(ctx)
	defer samplerCancel()

	samplerErrCh := make(chan error, 1)
	go func() {
		samplerErrCh <- samplerManager.Run(samplerCtx)
	}()

	srv := httpserver.New(cfg, baseLogger.With("component", "http"), samplerManager)

	appLogger.Info("starting HTTP server", "listen_addr", cfg.ListenAddr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	for {
		select {
		case err := <-errCh:
			samplerCancel()
			if err != nil {
				return err
			}
			if samplerErrCh != nil {
				if samplerErr := <-samplerErrCh; samplerErr != nil && !errors.Is(samplerErr, context.Canceled) {
					return samplerErr
				}
			}
			return nil
		case err := <-samplerErrCh:
			samplerErrCh = nil
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
		case <-ctx.Done():
			appLogger.Info("shutdown initiated", "reason", ctx.Err())

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("http shutdown: %w", err)
			}

			if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}

			samplerCancel()
			if samplerErrCh != nil {
				if samplerErr := <-samplerErrCh; samplerErr != nil && !errors.Is(samplerErr, context.Canceled) {
					return samplerErr
				}
			}

			appLogger.Info("shutdown complete")
			return nil
		}
	}
}

func buildSink(cfg config.Config, baseLogger *slog.Logger) (sink.Sink, error) {
	switch cfg.Sink {
	case config.SinkFile:
		return sink.NewFileSink(cfg.FilePath, baseLogger)
	case config.SinkSheets:
		tokens, err := sink.NewRefreshTokenSource(
			cfg.Sheets.TokenURL,
			cfg.Sheets.ClientID,
			cfg.Sheets.ClientSecret,
			cfg.Sheets.RefreshToken,
			cfg.FetchTimeout,
		)
		if err != nil {
			return nil, err
		}
		return sink.NewSheetsSink(cfg.Sheets.AppendURL, tokens, cfg.FetchTimeout, baseLogger)
	case config.SinkNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported sink %q", cfg.Sink)
	}
}
