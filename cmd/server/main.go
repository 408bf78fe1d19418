package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	grpcapi "github.com/clintrovert/gitpulse/internal/api/grpc"
	"github.com/clintrovert/gitpulse/internal/api/rest"
	"github.com/clintrovert/gitpulse/internal/app"
	"github.com/clintrovert/gitpulse/pkg/config"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Initialize logger
	logger, err := app.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to create logger: %v", err))
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	components, err := app.Build(ctx, cfg, promRegistry, logger)
	if err != nil {
		logger.Fatal("failed to build components", zap.Error(err))
	}
	orch := components.Orchestrator

	// Setup REST API
	router := rest.NewRouter(
		rest.NewHandler(orch, logger.Named("rest")),
		rest.WithHealth(components.Store),
		rest.WithMetrics(promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})),
	)

	restAddr := fmt.Sprintf(":%s", cfg.HTTPPort)
	restServer := &http.Server{
		Addr:              restAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Setup gRPC
	grpcAddr := fmt.Sprintf(":%s", cfg.GRPCPort)
	grpcListener, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		logger.Fatal("failed to listen on gRPC port", zap.Error(err))
	}

	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(grpcapi.UnaryLoggingInterceptor(logger.Named("grpc"))))
	grpcServer := grpcapi.NewServer(orch, logger.Named("grpc"))
	grpcServer.Register(grpcSrv)

	orch.Start(ctx)
	go orch.RunPeriodicRefresh(ctx, cfg.PeriodicRefreshInterval)

	go func() {
		logger.Info("starting REST API server", zap.String("address", restAddr))
		if err := restServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to start REST server", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("starting gRPC server", zap.String("address", grpcAddr))
		if err := grpcSrv.Serve(grpcListener); err != nil {
			logger.Fatal("failed to start gRPC server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting work before the workers go away
	grpcServer.Shutdown()
	if err := restServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("REST server shutdown", zap.Error(err))
	}
	grpcSrv.GracefulStop()

	cancel()
	if err := components.Close(); err != nil {
		logger.Warn("failed to close components", zap.Error(err))
	}

	logger.Info("shutdown complete")
}
