// Command nanorpcd serves the demo Calculator over nanorpc.
//
//	nanorpcd -config nanorpcd.toml
//
// With an [etcd] section the Calculator is announced under its interface name, so
// clients can reach it through client.DialService.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"nanorpc/config"
	"nanorpc/discovery"
	"nanorpc/log"
	"nanorpc/middleware"
	"nanorpc/server"
)

func main() {
	configPath := flag.String("config", "", "path to the TOML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "nanorpcd:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	logger, err := log.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithLimits(cfg.Limits()),
		server.WithMiddleware(middleware.Recover(logger), middleware.Logging(logger)),
	}
	if cfg.Etcd.Enabled() {
		etcd, err := discovery.NewEtcd(cfg.Etcd.Endpoints,
			discovery.WithPrefix(cfg.Etcd.Prefix),
			discovery.WithTTL(cfg.Etcd.TTLSeconds),
			discovery.WithLogger(logger))
		if err != nil {
			return err
		}
		defer func() {
			if err := etcd.Close(); err != nil {
				logger.Warn("close etcd", zap.Error(err))
			}
		}()
		opts = append(opts, server.WithAnnouncer(etcd, cfg.Endpoint()))
	}

	srv := server.New(opts...)
	if err := registerCalculator(srv, logger); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe(cfg.Network, cfg.Address) }()
	logger.Info("nanorpcd started", zap.String("network", cfg.Network), zap.String("address", cfg.Address))

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-serveErr; err != nil && !errors.Is(err, server.ErrServerClosed) {
		return err
	}
	return nil
}
