package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/INLOpen/nexusms/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// createLogger creates a slog.Logger based on the provided configuration.
func createLogger(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, nil, fmt.Errorf("invalid log level: %s", cfg.Level)
	}

	var output io.Writer
	var closer io.Closer
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	case "file":
		if cfg.File == "" {
			return nil, nil, fmt.Errorf("log output is 'file' but no file path is specified")
		}
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", cfg.File, err)
		}
		output = file
		closer = file
	case "none":
		output = io.Discard
	default:
		return nil, nil, fmt.Errorf("invalid log output: %s", cfg.Output)
	}

	logger := slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level}))
	return logger, closer, nil
}

// initTracerProvider creates an OpenTelemetry TracerProvider exporting to an
// OTLP collector. With tracing disabled the provider records nothing.
func initTracerProvider(cfg config.TracingConfig, logger *slog.Logger) (*sdktrace.TracerProvider, func(), error) {
	if !cfg.Enabled {
		logger.Debug("Distributed tracing is disabled.")
		return sdktrace.NewTracerProvider(), func() {}, nil
	}

	logger.Info("Initializing distributed tracing...", "protocol", cfg.Protocol, "endpoint", cfg.Endpoint)

	ctx := context.Background()
	var exporter sdktrace.SpanExporter
	var err error
	switch strings.ToLower(cfg.Protocol) {
	case "http":
		exporter, err = otlptrace.New(ctx, otlptracehttp.NewClient(otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure()))
	case "grpc":
		exporter, err = otlptrace.New(ctx, otlptracegrpc.NewClient(otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithInsecure()))
	default:
		return nil, nil, fmt.Errorf("unsupported tracing protocol: %q", cfg.Protocol)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "nexusms"
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	cleanup := func() {
		logger.Info("Shutting down tracer provider...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down tracer provider", "error", err)
		}
	}
	return tp, cleanup, nil
}
