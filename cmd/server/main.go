package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/rl1809/keyvault/internal/adapter/handler"
	"github.com/rl1809/keyvault/internal/bootstrap"
	"github.com/rl1809/keyvault/internal/config"
	"github.com/rl1809/keyvault/internal/core/service"
	"github.com/rl1809/keyvault/internal/pkg/logger"
	"github.com/rl1809/keyvault/internal/pkg/tracing"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.Init(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.OTLPEndpoint, "keyvault")
	if err != nil {
		return err
	}

	store, err := bootstrap.OpenStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	queue, err := bootstrap.OpenQueue(ctx, cfg, log)
	if err != nil {
		return err
	}

	notifier, err := bootstrap.NewNotifier(cfg, log)
	if err != nil {
		queue.Close()
		return err
	}

	checkoutService := service.NewCheckoutService(store, log)
	fulfillmentService := service.NewFulfillmentService(checkoutService, queue, notifier, service.FulfillmentOptions{
		CheckoutTimeout: cfg.CheckoutTimeout,
		MaxAttempts:     cfg.RetryMaxAttempts,
		InitialInterval: cfg.RetryInitialInterval,
		MaxDeliveries:   cfg.MaxDeliveries,
	}, log)

	// Initialize gRPC server
	grpcServer := grpc.NewServer()
	handler.RegisterCheckoutServer(grpcServer, handler.NewGRPCHandler(checkoutService, log))

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		queue.Close()
		return err
	}

	// Initialize HTTP server
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.NewRouter(handler.NewHTTPHandler(checkoutService, fulfillmentService, log)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("gRPC server listening", slog.String("addr", cfg.GRPCAddr))
		return grpcServer.Serve(lis)
	})

	g.Go(func() error {
		log.Info("HTTP server listening", slog.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		log.Info("started workers", slog.Int("count", cfg.WorkerCount))
		return fulfillmentService.Run(workerCtx, cfg.WorkerCount)
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP shutdown", slog.Any("error", err))
		}
		log.Info("HTTP server stopped")

		grpcServer.GracefulStop()
		log.Info("gRPC server stopped")

		// closing the queue lets workers drain what is buffered and exit
		if err := queue.Close(); err != nil {
			log.Error("close queue", slog.Any("error", err))
		}
		time.AfterFunc(shutdownTimeout, stopWorkers)

		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Error("tracing shutdown", slog.Any("error", err))
		}
		return nil
	})

	err = g.Wait()
	log.Info("workers stopped")
	return err
}
