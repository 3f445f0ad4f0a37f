// Command detector serves anomaly predictions for request approval durations.
//
// At startup the detector loads the model artifact written by the trainer and
// exits with status 1 if it is missing or invalid. It then serves:
//   - POST /detect-anomaly - Label and score {"times": [...]}
//   - GET /healthz - Liveness check
//   - GET /readyz - Readiness check
//   - GET /metrics - Prometheus metrics endpoint
//
// When -grpc-listen is set, the standard gRPC health service and server
// reflection are exposed on that address.
//
// Usage:
//
//	detector -listen=:5001 -artifact=anomaly_detection_model.json -artifact-dir=/models
//
// Environment variables:
//
//	LISTEN         - HTTP listen address (default: :5001)
//	GRPC_LISTEN    - gRPC health listen address (default: disabled)
//	ARTIFACT       - Model artifact name (default: anomaly_detection_model.json)
//	STORAGE        - Artifact storage backend: file, redis, s3 (default: file)
//	ARTIFACT_DIR   - Artifact directory for file storage (default: .)
//	CORS_ORIGINS   - Allowed CORS origins (default: *)
//	CACHE_SIZE     - Score cache entries, 0 disables (default: 1024)
//	CONFIG_FILE    - YAML config file
//	LOG_LEVEL      - Logging level: debug, info, warn, error (default: info)
//	LOG_FORMAT     - Logging format: text, json (default: text)
package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/HatiCode/latencyguard/cmd/detector/config"
	"github.com/HatiCode/latencyguard/cmd/detector/metrics"
	"github.com/HatiCode/latencyguard/cmd/detector/router"
	"github.com/HatiCode/latencyguard/pkg/httpx"
	"github.com/HatiCode/latencyguard/pkg/logger"
	"github.com/HatiCode/latencyguard/pkg/storage"
	"github.com/HatiCode/latencyguard/pkg/tls"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	cfg := config.ParseFlags()

	log := logger.New(logger.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
	slog.SetDefault(log)

	log.Info("starting latencyguard detector",
		"version", version,
		"listen", cfg.Listen,
		"artifact", cfg.Artifact,
		"storage", cfg.Storage.Backend,
	)

	m := metrics.New(prometheus.DefaultRegisterer, "isolation_forest")

	detector, err := New(cfg.CacheSize, log, m)
	if err != nil {
		log.Error("failed to create detector", "error", err)
		os.Exit(1)
	}

	if err := loadModel(cfg, detector); err != nil {
		log.Error("failed to load model", "error", err)
		os.Exit(1)
	}

	handler := router.SetupRoutes(detector, router.Options{
		MaxBodyBytes: cfg.MaxBodyBytes,
		CORSOrigins:  cfg.CORSOrigins,
	}, m, log)
	httpServer := httpx.NewServer(cfg.Listen, handler, log)

	serverErr := make(chan error, 2)
	go func() {
		if cfg.TLS.Enabled {
			tlsConfig, err := tls.NewServerTLSConfig(cfg.TLS)
			if err != nil {
				serverErr <- err
				return
			}
			httpServer.SetTLSConfig(tlsConfig)
			serverErr <- httpServer.StartTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
			return
		}
		serverErr <- httpServer.Start()
	}()

	var grpcServer *grpc.Server
	var healthServer *health.Server
	if cfg.GRPCListen != "" {
		lis, err := net.Listen("tcp", cfg.GRPCListen)
		if err != nil {
			log.Error("failed to listen for grpc", "address", cfg.GRPCListen, "error", err)
			os.Exit(1)
		}
		grpcServer, healthServer = newGRPCServer()
		go func() {
			log.Info("grpc health server listening", "address", cfg.GRPCListen)
			serverErr <- grpcServer.Serve(lis)
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		if err != nil {
			log.Error("server failed", "error", err)
		}
	}

	log.Info("shutting down")
	m.SetModelLoaded(false)

	if grpcServer != nil {
		healthServer.Shutdown()
		grpcServer.GracefulStop()
	}

	if err := httpServer.Stop(10 * time.Second); err != nil {
		log.Error("server shutdown failed", "error", err)
		os.Exit(1)
	}

	log.Info("shutdown complete")
}

// loadModel opens the configured artifact store and loads the model into d.
func loadModel(cfg *config.Config, d *Detector) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				slog.Warn("failed to close artifact store", "error", err)
			}
		}()
	}

	return d.Load(ctx, store, cfg.Artifact)
}

// newGRPCServer creates a gRPC server exposing the health service, already
// SERVING, and server reflection. The model must be loaded before calling.
func newGRPCServer() (*grpc.Server, *health.Server) {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	reflection.Register(grpcServer)

	return grpcServer, healthServer
}
