package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"poolrewards/observability/logging"
	telemetry "poolrewards/observability/otel"
	rewardsdconfig "poolrewards/services/rewardsd/config"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to rewardsd config")
	flag.Parse()

	cfg, err := rewardsdconfig.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	env := strings.TrimSpace(os.Getenv("POOLREWARDS_ENV"))
	logger := logging.Setup("rewardsd", env, logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetryConfig(cfg, env))
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	n, err := buildNode(cfg, logger)
	if err != nil {
		log.Fatalf("build node: %v", err)
	}
	defer n.Close()

	handler, err := n.handler(cfg, logger)
	if err != nil {
		log.Fatalf("build router: %v", err)
	}
	server := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      otelhttp.NewHandler(handler, "rewardsd"),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.BlockInterval > 0 {
		go produceBlocks(ctx, n, cfg.BlockInterval, logger)
	}

	serverErr := make(chan error, 2)
	go func() {
		logger.Info("rewardsd listening", slog.String("addr", cfg.ListenAddress), slog.Bool("tls", cfg.TLS.Enabled()))
		var err error
		if cfg.TLS.Enabled() {
			err = server.ListenAndServeTLS(cfg.TLS.CertPath, cfg.TLS.KeyPath)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if cfg.GRPCAddress != "" {
		listener, err := net.Listen("tcp", cfg.GRPCAddress)
		if err != nil {
			log.Fatalf("listen on %s: %v", cfg.GRPCAddress, err)
		}
		grpcServer, hs := newHealthServer()
		go watchHealth(ctx, hs, n.controller, n.pauses, 5*time.Second)
		go func() {
			logger.Info("rewardsd health listening", slog.String("addr", cfg.GRPCAddress))
			if err := grpcServer.Serve(listener); err != nil {
				serverErr <- err
			}
		}()
		defer grpcServer.GracefulStop()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("server failed", slog.Any("error", err))
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", slog.Any("error", err))
	}
}

func telemetryConfig(cfg rewardsdconfig.Config, env string) telemetry.Config {
	out := telemetry.Config{
		ServiceName: cfg.Observability.ServiceName,
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	}
	if endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); endpoint != "" {
		out.Endpoint = endpoint
	}
	if headers := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")); len(headers) > 0 {
		out.Headers = headers
	}
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			out.Insecure = parsed
		}
	}
	return out
}

// produceBlocks advances the chain by one block per interval.
func produceBlocks(ctx context.Context, n *node, every time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := n.controller.AdvanceBlocks(1); err != nil {
				logger.Error("advance block failed", slog.Any("error", err))
			}
		}
	}
}
