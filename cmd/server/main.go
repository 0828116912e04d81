// Package main provides the entry point for the research analysis service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/helixir/research-analysis-service/internal/app"
	"github.com/helixir/research-analysis-service/internal/broadcast"
	"github.com/helixir/research-analysis-service/internal/config"
	"github.com/helixir/research-analysis-service/internal/intake"
	"github.com/helixir/research-analysis-service/internal/observability"
	"github.com/helixir/research-analysis-service/internal/outbox"
	httpserver "github.com/helixir/research-analysis-service/internal/server/http"
)

// healthService is the gRPC health service name reported for the pipeline.
const healthService = "research.analysis.v1.AnalysisService"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	serverLogger := logger.With().Str("component", "server").Logger()
	serverLogger.Info().Msg("research-analysis-service starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Assemble the pipeline, report store and archive.
	svc, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("assemble service: %w", err)
	}
	defer svc.Close()

	// Create HTTP REST API server.
	httpCfg := httpserver.Config{
		Address:            cfg.Server.HTTPAddress(),
		ReadTimeout:        cfg.Server.ReadTimeout,
		WriteTimeout:       cfg.Server.WriteTimeout, // zero keeps SSE streams open
		IdleTimeout:        2 * time.Minute,
		ShutdownTimeout:    cfg.Server.ShutdownTimeout,
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
	}
	httpOpts := []httpserver.Option{httpserver.WithReports(svc.Reports)}
	if svc.DB != nil {
		httpOpts = append(httpOpts, httpserver.WithHealthChecker(svc.DB))
	}
	httpSrv := httpserver.NewServer(httpCfg, svc.Orchestrator, svc.Events, logger, httpOpts...)

	// The gRPC listener serves health checks and reflection for mesh probes.
	grpcServer := grpc.NewServer(
		grpc.MaxConcurrentStreams(100),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     15 * time.Minute,
			MaxConnectionAge:      30 * time.Minute,
			MaxConnectionAgeGrace: 5 * time.Minute,
			Time:                  5 * time.Minute,
			Timeout:               1 * time.Minute,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Minute,
			PermitWithoutStream: true,
		}),
	)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	grpcAddr := cfg.Server.GRPCAddress()
	grpcListener, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("listen on gRPC port: %w", err)
	}

	// Set up Prometheus metrics handler on a separate port if configured.
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress(),
			Handler:      metricsMux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: 30 * time.Second,
		}
	}

	// Channel to collect server errors.
	errCh := make(chan error, 5)

	// Start gRPC server in background.
	go func() {
		serverLogger.Info().
			Str("address", grpcAddr).
			Msg("gRPC health server starting")
		if err := grpcServer.Serve(grpcListener); err != nil {
			errCh <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	// Start HTTP REST API server in background.
	go func() {
		serverLogger.Info().
			Str("address", httpCfg.Address).
			Msg("HTTP REST API server starting")
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Start metrics server if configured.
	if metricsServer != nil {
		go func() {
			serverLogger.Info().
				Str("address", metricsServer.Addr).
				Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	// Kafka request intake and event forwarding. The forwarder outlives the
	// signal context so the terminal events of cancelled jobs are published.
	intakeCtx, intakeCancel := context.WithCancel(ctx)
	defer intakeCancel()
	kafka := startKafka(intakeCtx, context.WithoutCancel(ctx), cfg.Kafka, svc, logger, errCh)

	readyLog := serverLogger.Info().
		Str("grpc_address", grpcAddr).
		Str("http_address", httpCfg.Address)
	if metricsServer != nil {
		readyLog = readyLog.Str("metrics_address", metricsServer.Addr)
	}
	readyLog.Msg("research-analysis-service is ready")

	// Wait for shutdown signal or server error.
	var runErr error
	select {
	case <-ctx.Done():
		serverLogger.Info().Msg("received shutdown signal")
	case runErr = <-errCh:
		serverLogger.Error().Err(runErr).Msg("server error")
	}

	// Graceful shutdown.
	serverLogger.Info().Msg("shutting down research-analysis-service")
	healthServer.SetServingStatus(healthService, healthpb.HealthCheckResponse_NOT_SERVING)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new requests before draining the pipeline.
	intakeCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		serverLogger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// Cancel running jobs. Their terminal events still reach the forwarder.
	if err := svc.Orchestrator.Shutdown(shutdownCtx); err != nil {
		serverLogger.Error().Err(err).Msg("pipeline shutdown error")
	}
	kafka.stop(shutdownCtx)

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			serverLogger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	// Gracefully stop gRPC server with timeout.
	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		serverLogger.Info().Msg("gRPC server stopped gracefully")
	case <-shutdownCtx.Done():
		serverLogger.Warn().Msg("gRPC server forced shutdown due to timeout")
		grpcServer.Stop()
	}

	serverLogger.Info().Msg("research-analysis-service shutdown complete")
	return runErr
}

// kafkaWorkers runs the request listener and the event forwarder.
type kafkaWorkers struct {
	listener  *intake.Listener
	forwarder *outbox.Forwarder
	events    *broadcast.Subscription
	wg        sync.WaitGroup
	logger    zerolog.Logger
}

// startKafka starts the request listener and the event forwarder that the
// configuration enables. The listener stops with intakeCtx. The forwarder
// runs until stop closes its subscription or forwardCtx ends.
func startKafka(intakeCtx, forwardCtx context.Context, cfg config.KafkaConfig, svc *app.App, logger zerolog.Logger, errCh chan<- error) *kafkaWorkers {
	k := &kafkaWorkers{logger: logger}
	if !cfg.Enabled {
		return k
	}

	if cfg.RequestsTopic != "" {
		reader := intake.NewReader(intake.Config{
			Brokers: cfg.Brokers,
			Topic:   cfg.RequestsTopic,
			GroupID: cfg.GroupID,
		}, logger)
		k.listener = intake.NewListener(reader, svc.Orchestrator, nil, logger)
		k.wg.Add(1)
		go func() {
			defer k.wg.Done()
			if err := k.listener.Run(intakeCtx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("request listener error: %w", err)
			}
		}()
	}

	if cfg.EventsTopic != "" {
		writer := outbox.NewKafkaWriter(outbox.WriterConfig{
			Brokers:      cfg.Brokers,
			Topic:        cfg.EventsTopic,
			BatchSize:    cfg.BatchSize,
			BatchTimeout: cfg.BatchTimeout,
		}, logger)
		k.events = svc.Events.SubscribeAll()
		k.forwarder = outbox.NewForwarder(k.events, writer, outbox.NewEmitter(outbox.EmitterConfig{}), logger)
		k.wg.Add(1)
		go func() {
			defer k.wg.Done()
			if err := k.forwarder.Run(forwardCtx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("event forwarder error: %w", err)
			}
		}()
	}

	return k
}

// stop waits for the listener, drains the forwarder and closes both
// Kafka clients. It gives up when ctx ends.
func (k *kafkaWorkers) stop(ctx context.Context) {
	if k.events != nil {
		k.events.Close()
	}

	done := make(chan struct{})
	go func() {
		k.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		k.logger.Warn().Msg("kafka workers did not stop before the shutdown timeout")
	}

	if k.listener != nil {
		if err := k.listener.Close(); err != nil {
			k.logger.Error().Err(err).Msg("failed to close request reader")
		}
	}
	if k.forwarder != nil {
		if err := k.forwarder.Close(); err != nil {
			k.logger.Error().Err(err).Msg("failed to close event writer")
		}
	}
}
